// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// shared.go — Shared[T], the shared-ownership handle: copies of one handle
// see one underlying value, and a load pass reconstructs that sharing from
// the stream's identity IDs.

package amber

import (
	"reflect"
	"sync/atomic"
)

// Shared is a handle to a value owned jointly by every copy of the handle.
// The zero Shared is nil. Handles obtained from NewShared or Share (or
// reconstructed from one stream ID during a load) point at the same value,
// and Refs reports how many handles do.
//
// Pass *Shared[T] to Archive.Serialize, or use SerializeShared: the first
// occurrence in a pass carries the value, later occurrences reattach to it.
type Shared[T any] struct {
	val  *T
	refs *atomic.Int32
}

// NewShared wraps v in a fresh handle with a reference count of one.
func NewShared[T any](v T) Shared[T] {
	s := Shared[T]{val: &v, refs: new(atomic.Int32)}
	s.refs.Store(1)
	return s
}

// Get returns the underlying value, or nil for the zero handle.
func (s Shared[T]) Get() *T { return s.val }

// IsNil reports whether the handle is empty.
func (s Shared[T]) IsNil() bool { return s.val == nil }

// Refs returns the number of handles currently attached to the value.
func (s Shared[T]) Refs() int {
	if s.refs == nil {
		return 0
	}
	return int(s.refs.Load())
}

// Share returns a new handle to the same value and bumps the count.
func (s Shared[T]) Share() Shared[T] {
	if s.val != nil {
		s.refs.Add(1)
	}
	return s
}

// SerializeShared writes or reads a shared handle under tag. It is
// Archive.Serialize spelled as a free function so the extra reconstruction
// arguments keep their type relationship with the handle.
func SerializeShared[T any](a *Archive, tag string, s *Shared[T], extra ...any) {
	if a.err != nil {
		return
	}
	a.serializeValue(tag, s, false, extra)
}

// sharedHandle is how the archive manipulates a *Shared[T] without knowing
// T. sharedBox values stored in the claim table are Shared[T] copies, so
// adopting one is a struct copy plus a count bump.
type sharedHandle interface {
	sharedNil() bool
	sharedTarget() any
	sharedAlloc() any
	sharedBox() any
	sharedAdopt(box any) bool
	sharedClear()
}

func (s *Shared[T]) sharedNil() bool { return s.val == nil }

func (s *Shared[T]) sharedTarget() any { return s.val }

// sharedAlloc points the handle at a fresh zero T and returns the typed
// pointer for identity registration.
func (s *Shared[T]) sharedAlloc() any {
	s.val = new(T)
	s.refs = new(atomic.Int32)
	s.refs.Store(1)
	return s.val
}

func (s *Shared[T]) sharedBox() any { return *s }

func (s *Shared[T]) sharedAdopt(box any) bool {
	b, ok := box.(Shared[T])
	if !ok {
		return false
	}
	*s = b
	s.refs.Add(1)
	return true
}

func (s *Shared[T]) sharedClear() { *s = Shared[T]{} }

// serializeShared is the dispatch target for handle-typed values.
func (a *Archive) serializeShared(tag string, sh sharedHandle, extra []any) {
	if a.IsLoader() {
		a.sharedLoad(tag, sh, extra)
	} else {
		a.sharedSave(tag, sh)
	}
}

// sharedSave reuses the plain pointer layout: the handle's target is the
// identity key, so a raw pointer and a shared handle to one object agree
// on the ID.
func (a *Archive) sharedSave(tag string, sh sharedHandle) {
	if sh.sharedNil() {
		a.refSave(tag, 0)
		return
	}
	target := sh.sharedTarget()
	if id := a.getID(target); id != 0 {
		a.refSave(tag, id)
		return
	}
	if !a.enter(tag) {
		return
	}
	a.emitID(attrID, a.generateID(target))
	a.saveContent(reflect.ValueOf(target))
	a.leave()
}

func (a *Archive) sharedLoad(tag string, sh sharedHandle, extra []any) {
	if a.xr != nil {
		if !a.enter(tag) {
			return
		}
		if id, ok := a.readIDAttr(attrIDRef); ok {
			a.sharedAttach(tag, sh, id)
		} else if a.err == nil {
			if id, ok := a.readIDAttr(attrID); ok {
				a.sharedConstruct(tag, sh, id, extra)
			} else if a.err == nil {
				a.failf("%w: %q carries neither id nor id_ref", ErrBadValue, tag)
			}
		}
		a.leave()
		return
	}
	id, ok := a.readIDBin(tag)
	if !ok {
		return
	}
	if id == 0 {
		sh.sharedClear()
		return
	}
	if _, seen := a.getPointer(id); seen {
		a.sharedAttach(tag, sh, id)
		return
	}
	a.sharedConstruct(tag, sh, id, extra)
}

// sharedAttach reattaches a later occurrence to the handle that claimed
// the ID. A back-reference into an object loaded through a plain pointer
// has no ownership to join and fails.
func (a *Archive) sharedAttach(tag string, sh sharedHandle, id uint32) {
	if id == 0 {
		sh.sharedClear()
		return
	}
	target, ok := a.getPointer(id)
	if !ok {
		a.failf("%w: id %d referenced by %q has no owner", ErrUnresolvedID, id, tag)
		return
	}
	box, ok := a.claimShared(target)
	if !ok {
		a.failf("%w: id %d under %q was not loaded through a shared handle", ErrBadValue, id, tag)
		return
	}
	if !sh.sharedAdopt(box) {
		a.failf("%w: shared id %d under %q holds %s", ErrBadValue, id, tag, reflect.TypeOf(box))
	}
}

// sharedConstruct is the first occurrence: allocate, claim the ID and the
// ownership before content loads so cycles through shared handles resolve,
// then fill the value in place.
func (a *Archive) sharedConstruct(tag string, sh sharedHandle, id uint32, extra []any) {
	target := sh.sharedAlloc()
	if err := a.addPointer(id, target); err != nil {
		a.fail(err)
		return
	}
	a.registerShared(target, sh.sharedBox())
	a.withArgs(extra, func() {
		a.loadContent(tag, reflect.ValueOf(target))
	})
}
