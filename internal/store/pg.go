// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// pg.go — PostgreSQL snapshot catalog: one row per snapshot, upsert on
// name, schema bootstrapped idempotently on open.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgTable = "amber_snapshots"

// Postgres catalogs snapshots in a table, for fleets of emulator
// instances sharing state through one database.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing pool and ensures the snapshot table
// exists. The store does not own the pool.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
name       TEXT PRIMARY KEY,
payload    BYTEA NOT NULL,
meta       BYTEA NOT NULL DEFAULT ''::bytea,
updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, pgTable)
	if _, err := p.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("pg store: ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Put(ctx context.Context, name string, e Entry) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	sql := fmt.Sprintf(`INSERT INTO %s (name, payload, meta, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, meta = EXCLUDED.meta, updated_at = now()`, pgTable)
	if _, err := p.pool.Exec(ctx, sql, name, e.Payload, e.Meta); err != nil {
		return fmt.Errorf("pg put %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, name string) (Entry, error) {
	var e Entry
	sql := fmt.Sprintf("SELECT payload, meta FROM %s WHERE name = $1", pgTable)
	err := p.pool.QueryRow(ctx, sql, name).Scan(&e.Payload, &e.Meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("pg get %s: %w", name, err)
	}
	return e, nil
}

func (p *Postgres) List(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf("SELECT name FROM %s ORDER BY name", pgTable)
	rows, err := p.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("pg list: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("pg list scan: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg list rows: %w", err)
	}
	return names, nil
}

func (p *Postgres) Delete(ctx context.Context, name string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE name = $1", pgTable)
	tag, err := p.pool.Exec(ctx, sql, name)
	if err != nil {
		return fmt.Errorf("pg delete %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() error { return nil }
