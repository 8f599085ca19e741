// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// bolt.go — single-file snapshot archive on bbolt: payloads and metadata in
// separate buckets, one write transaction per Put so a snapshot is stored
// whole or not at all.

package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"
)

var (
	boltPayloadBucket = []byte("snapshots")
	boltMetaBucket    = []byte("meta")
	boltOptions       = &bbolt.Options{Timeout: 5 * time.Second, NoGrowSync: true}
)

// Bolt is a single-file archive of snapshots. It suits a machine profile
// carrying its whole save-state history in one portable file.
type Bolt struct {
	db     *bbolt.DB
	closed atomic.Bool
}

var _ Store = (*Bolt)(nil)

// NewBolt opens or creates the archive file at path.
func NewBolt(path string) (*Bolt, error) {
	opts := *boltOptions
	db, err := bbolt.Open(path, 0o600, &opts)
	if err != nil {
		return nil, fmt.Errorf("bolt store: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltPayloadBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltMetaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt store: initializing buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) ensureOpen() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (b *Bolt) Put(_ context.Context, name string, e Entry) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(boltPayloadBucket).Put([]byte(name), e.Payload); err != nil {
			return err
		}
		return tx.Bucket(boltMetaBucket).Put([]byte(name), e.Meta)
	})
	if err != nil {
		return fmt.Errorf("bolt put %s: %w", name, err)
	}
	return nil
}

func (b *Bolt) Get(_ context.Context, name string) (Entry, error) {
	if err := b.ensureOpen(); err != nil {
		return Entry{}, err
	}
	var e Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		p := tx.Bucket(boltPayloadBucket).Get([]byte(name))
		if p == nil {
			return ErrNotFound
		}
		// Bucket slices die with the transaction; copy out.
		e.Payload = append([]byte(nil), p...)
		if m := tx.Bucket(boltMetaBucket).Get([]byte(name)); m != nil {
			e.Meta = append([]byte(nil), m...)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return Entry{}, err
	}
	if err != nil {
		return Entry{}, fmt.Errorf("bolt get %s: %w", name, err)
	}
	return e, nil
}

func (b *Bolt) List(_ context.Context) ([]string, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	var names []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltPayloadBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt list: %w", err)
	}
	return names, nil
}

func (b *Bolt) Delete(_ context.Context, name string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(boltPayloadBucket).Get([]byte(name)) == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(boltPayloadBucket).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(boltMetaBucket).Delete([]byte(name))
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("bolt delete %s: %w", name, err)
	}
	return nil
}

func (b *Bolt) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
