// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// tiered.go — memory front over a durable back: writes go through to the
// back, reads promote back-tier hits into the front.

package store

import (
	"context"
	"errors"
	"sync/atomic"
)

// Tiered combines a bounded Memory front with a durable back store. Saves
// land in both; loads served from memory skip the back entirely, which is
// what makes rapid save/load cycling cheap during play.
type Tiered struct {
	front *Memory
	back  Store

	frontHits   atomic.Int64
	frontMisses atomic.Int64
}

var _ Store = (*Tiered)(nil)

// NewTiered builds the combinator. maxFront bounds the memory tier
// (0 = unbounded).
func NewTiered(back Store, maxFront int) *Tiered {
	return &Tiered{
		front: NewMemory(MemoryOptions{MaxEntries: maxFront}),
		back:  back,
	}
}

// Put writes the back tier first: the durable copy is the one that
// matters, and the front only caches what the back accepted.
func (t *Tiered) Put(ctx context.Context, name string, e Entry) error {
	if err := t.back.Put(ctx, name, e); err != nil {
		return err
	}
	return t.front.Put(ctx, name, e)
}

func (t *Tiered) Get(ctx context.Context, name string) (Entry, error) {
	e, err := t.front.Get(ctx, name)
	if err == nil {
		t.frontHits.Add(1)
		return e, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Entry{}, err
	}
	t.frontMisses.Add(1)
	e, err = t.back.Get(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	// Promotion is advisory; a full front must not fail the read.
	_ = t.front.Put(ctx, name, e)
	return e, nil
}

func (t *Tiered) List(ctx context.Context) ([]string, error) {
	return t.back.List(ctx)
}

func (t *Tiered) Delete(ctx context.Context, name string) error {
	ferr := t.front.Delete(ctx, name)
	if ferr != nil && !errors.Is(ferr, ErrNotFound) {
		return ferr
	}
	return t.back.Delete(ctx, name)
}

// Stats reports front-tier effectiveness.
func (t *Tiered) Stats() (hits, misses int64) {
	return t.frontHits.Load(), t.frontMisses.Load()
}

func (t *Tiered) Close() error {
	ferr := t.front.Close()
	berr := t.back.Close()
	if berr != nil {
		return berr
	}
	return ferr
}
