// Package store provides the snapshot storage backends behind the vault:
// one interface, five implementations (memory, directory, bbolt, Redis,
// PostgreSQL) plus a tiered combinator.
package store

import (
	"context"
	"errors"
	"regexp"
)

// Entry is one stored snapshot: the sealed payload and its encoded
// metadata, kept together so every backend stores both or neither.
type Entry struct {
	Payload []byte
	Meta    []byte
}

// Store is the backend contract. Implementations must tolerate concurrent
// calls; a snapshot name is the unit of atomicity. Put rejects names that
// ValidName rejects; Get and Delete of an absent name return ErrNotFound.
type Store interface {
	Put(ctx context.Context, name string, e Entry) error
	Get(ctx context.Context, name string) (Entry, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// Sentinels callers branch on with errors.Is. The vault translates them
// into its public error space.
var (
	ErrNotFound = errors.New("store: snapshot not found")
	ErrClosed   = errors.New("store: closed")
	ErrBadName  = errors.New("store: invalid snapshot name")
)

// nameRe bounds names to something every backend can use directly: file
// stem, bolt key, Redis key segment, table key.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether name is storable on every backend.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}
