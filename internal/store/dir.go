// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// dir.go — filesystem snapshot store: one container file plus one metadata
// sidecar per snapshot, written atomically via temp file and rename.

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	payloadExt = ".amber"
	metaExt    = ".meta"
)

// Dir stores snapshots as files in one directory: <name>.amber for the
// payload, <name>.meta for the sidecar. Names are validated so they can
// never escape the directory.
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns the store.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("dir store: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) paths(name string) (payload, meta string, err error) {
	if !ValidName(name) {
		return "", "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(d.root, name+payloadExt), filepath.Join(d.root, name+metaExt), nil
}

// writeAtomic lands data at path through a temp file in the same
// directory, so a crash never leaves a half-written snapshot behind.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".amber-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func (d *Dir) Put(_ context.Context, name string, e Entry) error {
	payload, meta, err := d.paths(name)
	if err != nil {
		return err
	}
	if err := writeAtomic(payload, e.Payload); err != nil {
		return fmt.Errorf("dir put %s: %w", name, err)
	}
	if err := writeAtomic(meta, e.Meta); err != nil {
		return fmt.Errorf("dir put %s meta: %w", name, err)
	}
	return nil
}

func (d *Dir) Get(_ context.Context, name string) (Entry, error) {
	payload, meta, err := d.paths(name)
	if err != nil {
		return Entry{}, err
	}
	pb, err := os.ReadFile(payload)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("dir get %s: %w", name, err)
	}
	mb, err := os.ReadFile(meta)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Entry{}, fmt.Errorf("dir get %s meta: %w", name, err)
	}
	return Entry{Payload: pb, Meta: mb}, nil
}

func (d *Dir) List(_ context.Context) ([]string, error) {
	ents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("dir list: %w", err)
	}
	var names []string
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		if n, ok := strings.CutSuffix(ent.Name(), payloadExt); ok {
			names = append(names, n)
		}
	}
	return names, nil
}

func (d *Dir) Delete(_ context.Context, name string) error {
	payload, meta, err := d.paths(name)
	if err != nil {
		return err
	}
	if err := os.Remove(payload); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("dir delete %s: %w", name, err)
	}
	// The sidecar may legitimately be gone already.
	if err := os.Remove(meta); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("dir delete %s meta: %w", name, err)
	}
	return nil
}

func (d *Dir) Close() error { return nil }
