// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// polymorphic.go — discriminator registry for interface-typed values: a save
// pass maps the concrete type to a stable name, a load pass maps the name
// back to a constructor.

package amber

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
)

// Registry holds, per base interface type, the two directions of the
// polymorphic mapping: discriminator name to constructor for loading, and
// concrete type to name for saving. Registration happens at startup;
// lookups during a pass take the read lock only.
type Registry struct {
	mu    sync.RWMutex
	ctors map[reflect.Type]map[string]func() any
	names map[reflect.Type]map[reflect.Type]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[reflect.Type]map[string]func() any),
		names: make(map[reflect.Type]map[reflect.Type]string),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry used by archives that
// were not given one through WithRegistry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// RegisterPolymorphic binds name to the concrete type produced by ctor,
// under the base interface type B. ctor must return a non-nil pointer
// implementing Serializable; loads construct through it, saves write name
// whenever a B holding that concrete type is serialized. Registering a
// name or a concrete type twice under one base fails with
// ErrDuplicateType.
func RegisterPolymorphic[B any](r *Registry, name string, ctor func() B) error {
	base := reflect.TypeOf((*B)(nil)).Elem()
	if base.Kind() != reflect.Interface {
		return fmt.Errorf("%w: %s is not an interface type", ErrNotSerializable, base)
	}
	if name == "" {
		return fmt.Errorf("%w: empty discriminator for %s", ErrNotSerializable, base)
	}
	probe := any(ctor())
	cv := reflect.ValueOf(probe)
	if !cv.IsValid() || cv.Kind() != reflect.Pointer || cv.IsNil() {
		return fmt.Errorf("%w: constructor for %q must return a non-nil pointer", ErrNotSerializable, name)
	}
	if _, ok := probe.(Serializable); !ok {
		return fmt.Errorf("%w: %s does not implement Serializable", ErrNotSerializable, cv.Type())
	}
	return r.register(base, name, cv.Type(), func() any { return any(ctor()) })
}

func (r *Registry) register(base reflect.Type, name string, concrete reflect.Type, ctor func() any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[base][name]; ok {
		return fmt.Errorf("%w: %q already registered under %s", ErrDuplicateType, name, base)
	}
	if prev, ok := r.names[base][concrete]; ok {
		return fmt.Errorf("%w: %s already registered under %s as %q", ErrDuplicateType, concrete, base, prev)
	}
	if r.ctors[base] == nil {
		r.ctors[base] = make(map[string]func() any)
		r.names[base] = make(map[reflect.Type]string)
	}
	r.ctors[base][name] = ctor
	r.names[base][concrete] = name
	return nil
}

// nameFor resolves the save-side mapping.
func (r *Registry) nameFor(base, concrete reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[base][concrete]
	return name, ok
}

// ctorFor resolves the load-side mapping.
func (r *Registry) ctorFor(base reflect.Type, name string) (func() any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[base][name]
	return ctor, ok
}

// SerializePolymorphic writes or reads an interface-typed value under tag.
// v must be *B with B an interface; the stream carries a type
// discriminator ahead of the fields, and loading constructs the concrete
// type through the archive's registry. Identity tracking applies: an
// object reachable both through a B and through its concrete pointer type
// resolves to one ID.
//
// Serialize routes pointer-to-interface values here, so calling this
// directly is only clearer, not different.
func (a *Archive) SerializePolymorphic(tag string, v any) {
	if a.err != nil {
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Interface {
		a.failf("%w: SerializePolymorphic needs a pointer to an interface, got %T", ErrNotSerializable, v)
		return
	}
	if a.IsLoader() {
		a.polyLoad(tag, rv.Elem(), nil)
	} else {
		a.polySave(tag, rv.Elem())
	}
}

func (a *Archive) polySave(tag string, iv reflect.Value) {
	if iv.IsNil() {
		a.refSave(tag, 0)
		return
	}
	// Unbox: identity and registry lookups work on the concrete pointer.
	concrete := iv.Interface()
	cv := reflect.ValueOf(concrete)
	if cv.Kind() != reflect.Pointer {
		a.failf("%w: %s under %q is not a pointer", ErrNotSerializable, cv.Type(), tag)
		return
	}
	if id := a.getID(concrete); id != 0 {
		a.refSave(tag, id)
		return
	}
	name, ok := a.reg.nameFor(iv.Type(), cv.Type())
	if !ok {
		a.failf("%w: %s not registered under %s", ErrUnknownType, cv.Type(), iv.Type())
		return
	}
	s, ok := concrete.(Serializable)
	if !ok {
		a.failf("%w: %s does not implement Serializable", ErrNotSerializable, cv.Type())
		return
	}
	if !a.enter(tag) {
		return
	}
	a.emitID(attrID, a.generateID(concrete))
	ver := stateVersion(s)
	if a.xw != nil {
		a.xw.attr(attrType, name)
		if ver != 1 {
			a.xw.attr(attrVersion, strconv.Itoa(ver))
		}
	} else {
		a.bw.w.PutString(name)
	}
	s.SerializeState(a, ver)
	a.leave()
}

func (a *Archive) polyLoad(tag string, iv reflect.Value, extra []any) {
	if a.xr != nil {
		if !a.enter(tag) {
			return
		}
		if id, ok := a.readIDAttr(attrIDRef); ok {
			a.assignRef(tag, iv, id)
		} else if a.err == nil {
			if id, ok := a.readIDAttr(attrID); ok {
				name, ok := a.xr.attr(attrType)
				if !ok {
					a.failf("%w: %q carries no type discriminator", ErrBadValue, tag)
				} else {
					a.polyConstruct(tag, iv, id, name, extra)
				}
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
		iv.SetZero()
		return
	}
	if stored, seen := a.getPointer(id); seen {
		a.assignStored(tag, iv, stored)
		return
	}
	name, err := a.br.r.String()
	if err != nil {
		a.failf("%w: type discriminator for %q", ErrTruncated, tag)
		return
	}
	a.polyConstruct(tag, iv, id, name, extra)
}

// polyConstruct reconstructs a first occurrence: look up the constructor,
// register the pointer before the fields load, fill in place, then assign
// to the interface.
func (a *Archive) polyConstruct(tag string, iv reflect.Value, id uint32, name string, extra []any) {
	ctor, ok := a.reg.ctorFor(iv.Type(), name)
	if !ok {
		a.failf("%w: discriminator %q under %q for %s", ErrUnknownType, name, tag, iv.Type())
		return
	}
	concrete := ctor()
	if err := a.addPointer(id, concrete); err != nil {
		a.fail(err)
		return
	}
	s := concrete.(Serializable)
	ver := a.takeVersion(s)
	a.withArgs(extra, func() {
		s.SerializeState(a, ver)
	})
	if a.err == nil {
		a.assignStored(tag, iv, concrete)
	}
}
