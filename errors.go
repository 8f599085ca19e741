// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// errors.go — sentinel error variables returned by the public amber API,
// covering stream decoding, identity resolution, polymorphic registration,
// containers, and snapshot storage.

// Package amber provides save-state serialization for hardware emulators:
// one archive contract over a compact binary encoding and a portable,
// versioned XML encoding, with identity tracking for shared and cyclic
// object graphs, polymorphic reconstruction, and pluggable snapshot storage.
package amber

import "errors"

// Stream errors
var (
	ErrTagMismatch     = errors.New("amber: tag mismatch")
	ErrTruncated       = errors.New("amber: truncated stream")
	ErrBadValue        = errors.New("amber: malformed value")
	ErrUnresolvedID    = errors.New("amber: unresolved object id")
	ErrUnknownType     = errors.New("amber: unknown polymorphic type")
	ErrNotSerializable = errors.New("amber: value cannot be serialized")
)

// Lifecycle errors. ErrClosed is shared by every closable handle in the
// package: archives, vaults, rewind buffers, and stores.
var (
	ErrDirection = errors.New("amber: operation not valid for this archive pass")
	ErrClosed    = errors.New("amber: use after close")
)

// Registry errors
var (
	ErrDuplicateType = errors.New("amber: polymorphic type already registered")
)

// Container errors
var (
	ErrBadHeader = errors.New("amber: bad container header")
	ErrChecksum  = errors.New("amber: checksum mismatch")
)

// Snapshot store errors
var (
	ErrNotFound         = errors.New("amber: snapshot not found")
	ErrBadName          = errors.New("amber: invalid snapshot name")
	ErrStoreUnavailable = errors.New("amber: snapshot store unavailable")
)

// Config errors
var (
	ErrInvalidConfig = errors.New("amber: invalid configuration")
)
