package amber

import "fmt"

// Identity tables. Multiply-referenced objects are assigned dense integer
// IDs starting at 1; ID 0 is reserved for the null reference. The identity
// key is an `any` boxing a typed pointer, which compares by (pointer,
// concrete type): nested structs can place an outer and an inner value at
// the same address, and the type half keeps their IDs distinct. Interface
// references are unboxed to their concrete pointer before keying (see
// serialize.go), so an object reached through several interface types
// still resolves to a single ID.

// generateID assigns a fresh ID to an unseen identity key on a save pass.
func (a *Archive) generateID(key any) uint32 {
	a.nextID++
	a.ids[key] = a.nextID
	return a.nextID
}

// getID returns the ID previously assigned to key, or 0 if unseen.
func (a *Archive) getID(key any) uint32 {
	return a.ids[key]
}

// addPointer records the reconstructed pointer for an ID on a load pass.
// Registration happens when reconstruction of the object begins, before
// its content loads, so cyclic references back into the object resolve.
func (a *Archive) addPointer(id uint32, p any) error {
	if _, dup := a.ptrs[id]; dup {
		return fmt.Errorf("%w: duplicate id %d in stream", ErrBadValue, id)
	}
	a.ptrs[id] = p
	return nil
}

// getPointer resolves an ID to the pointer registered for it.
func (a *Archive) getPointer(id uint32) (any, bool) {
	p, ok := a.ptrs[id]
	return p, ok
}

// claimShared returns the shared-ownership box previously claimed for the
// raw target pointer p. The wire format carries only integer IDs, so this
// table is what turns "same ID" back into language-level sharing.
func (a *Archive) claimShared(p any) (any, bool) {
	box, ok := a.shared[p]
	return box, ok
}

// registerShared records the first claiming box for raw target pointer p.
func (a *Archive) registerShared(p, box any) {
	a.shared[p] = box
}
