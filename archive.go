// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// archive.go — the Archive type: one save or load pass bound to a direction
// and a backend (binary or portable), with the sticky error latch, capability
// probes, section demarcation, and pass lifecycle.

package amber

import (
	"fmt"

	"github.com/AndrewDonelson/amber/internal/tagtree"
)

// Serializable is the client contract. One routine serves both directions:
// it issues a fixed, order-stable sequence of archive calls that either
// write the receiver's fields or overwrite them, branching on the archive's
// probes and on version where layouts changed between versions.
//
// On save, version is the type's current version (StateVersion, or 1).
// On load from a portable stream, version is the version stored in the
// stream, so old streams can default missing newer fields.
type Serializable interface {
	SerializeState(a *Archive, version int)
}

// Versioned is implemented by serializable types whose layout has changed
// since their first release. StateVersion returns the current version;
// types without the method are at version 1.
type Versioned interface {
	StateVersion() int
}

// Format identifies one of the two stream encodings.
type Format uint8

const (
	// FormatBinary is the compact, non-portable encoding used for frequent
	// in-process captures. Streams are only valid for same-build round trips.
	FormatBinary Format = iota + 1
	// FormatPortable is the versioned XML encoding used for durable save
	// files expected to outlive software upgrades.
	FormatPortable
)

// String returns "binary" or "portable".
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatPortable:
		return "portable"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Archive
// ────────────────────────────────────────────────────────────────────────────

// Archive is one save or load pass over an object graph. An Archive lives
// for exactly one pass: create it, run the root type's SerializeState
// through the operations in serialize.go, collect Bytes (save side), then
// Close. Archives are not safe for concurrent use.
//
// Errors are sticky: the first failure latches, every later operation is a
// no-op, and Err/Close report it. A failed load leaves the destination
// graph unspecified; the caller must discard it.
type Archive struct {
	logger Logger
	reg    *Registry

	// Exactly one of these four is non-nil and fixes direction and backend.
	bw *binSaver
	br *binLoader
	xw *xmlSaver
	xr *xmlLoader

	err    error
	closed bool

	// Save-side identity: identity key → dense ID from 1 (0 means null).
	ids    map[any]uint32
	nextID uint32

	// Load-side identity: ID → reconstructed pointer, plus the
	// shared-ownership table keyed by raw target pointer.
	ptrs   map[uint32]any
	shared map[any]any

	// Extra load-only arguments, innermost SerializeWithID call on top.
	argStack [][]any
}

// Option configures an Archive at construction.
type Option func(*Archive)

// WithRegistry sets the polymorphic registry for this pass. Defaults to
// DefaultRegistry().
func WithRegistry(r *Registry) Option {
	return func(a *Archive) { a.reg = r }
}

// WithLogger sets the logger used for pass diagnostics.
func WithLogger(l Logger) Option {
	return func(a *Archive) { a.logger = l }
}

func newArchive(opts []Option) *Archive {
	a := &Archive{
		logger: noopLogger{},
		reg:    DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewBinarySaver starts a binary save pass.
func NewBinarySaver(opts ...Option) *Archive {
	a := newArchive(opts)
	a.bw = newBinSaver()
	a.ids = make(map[any]uint32)
	return a
}

// NewBinaryLoader starts a binary load pass over data. The data must come
// from a binary save pass of the same build; the encoding carries no
// version information.
func NewBinaryLoader(data []byte, opts ...Option) *Archive {
	a := newArchive(opts)
	a.br = newBinLoader(data)
	a.ptrs = make(map[uint32]any)
	a.shared = make(map[any]any)
	return a
}

// NewPortableSaver starts a portable save pass.
func NewPortableSaver(opts ...Option) *Archive {
	a := newArchive(opts)
	a.xw = newXMLSaver()
	a.ids = make(map[any]uint32)
	return a
}

// NewPortableLoader starts a portable load pass over an XML document
// produced by a portable save pass. The document is parsed up front;
// a malformed document or an unsupported format marker is reported here.
func NewPortableLoader(data []byte, opts ...Option) (*Archive, error) {
	root, err := tagtree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if root.Name != rootTag {
		return nil, fmt.Errorf("%w: root element %q, want %q", ErrBadHeader, root.Name, rootTag)
	}
	if f, ok := root.Attr(formatAttr); !ok || f != formatMarker {
		return nil, fmt.Errorf("%w: unsupported stream format %q", ErrBadHeader, f)
	}
	a := newArchive(opts)
	a.xr = newXMLLoader(root)
	a.ptrs = make(map[uint32]any)
	a.shared = make(map[any]any)
	return a, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Capability probes
// ────────────────────────────────────────────────────────────────────────────

// IsLoader reports whether this pass reconstructs a graph rather than
// capturing one.
func (a *Archive) IsLoader() bool { return a.br != nil || a.xr != nil }

func (a *Archive) portable() bool { return a.xw != nil || a.xr != nil }

// Format returns the backend encoding of this pass.
func (a *Archive) Format() Format {
	if a.portable() {
		return FormatPortable
	}
	return FormatBinary
}

// NeedVersion reports whether the stream carries per-type version
// integers. False on the binary backend.
func (a *Archive) NeedVersion() bool { return a.portable() }

// TranslateEnumToString reports whether enums are stored by name rather
// than by numeric value.
func (a *Archive) TranslateEnumToString() bool { return a.portable() }

// CanHaveOptionalAttributes reports whether Attribute values may be
// omitted when equal to a documented default and probed with HasAttribute
// on load.
func (a *Archive) CanHaveOptionalAttributes() bool { return a.portable() }

// HasAttribute reports whether the current element carries the named
// attribute. Only meaningful on a portable load pass.
func (a *Archive) HasAttribute(name string) bool {
	if a.xr == nil {
		return false
	}
	_, ok := a.xr.attr(name)
	return ok
}

// CanCountChildren reports whether the size of a repeated substructure can
// be inferred from the stream instead of being stored explicitly. True on
// both directions of the portable backend: save routines branch on it to
// skip the explicit count the binary backend needs.
func (a *Archive) CanCountChildren() bool { return a.portable() }

// CountChildren returns the number of child elements of the current
// element on a portable load pass. Zero elsewhere; a save pass never needs
// the count because it is implicit in what it writes.
func (a *Archive) CountChildren() int {
	if a.xr == nil {
		return 0
	}
	return a.xr.countChildren()
}

// ────────────────────────────────────────────────────────────────────────────
// Sections
// ────────────────────────────────────────────────────────────────────────────

// BeginSection opens a skippable region on a binary save pass. The region
// length is back-patched when EndSection runs. Sections nest.
func (a *Archive) BeginSection() {
	if a.err != nil {
		return
	}
	if a.bw == nil {
		a.fail(fmt.Errorf("%w: BeginSection requires a binary save pass", ErrDirection))
		return
	}
	a.bw.beginSection()
}

// EndSection closes the innermost open section.
func (a *Archive) EndSection() {
	if a.err != nil {
		return
	}
	if a.bw == nil {
		a.fail(fmt.Errorf("%w: EndSection requires a binary save pass", ErrDirection))
		return
	}
	if err := a.bw.endSection(); err != nil {
		a.fail(err)
	}
}

// SkipSection consumes a section marker on a binary load pass. With
// skip=true the cursor advances past the region without decoding it;
// with skip=false the caller proceeds to decode the region's content.
func (a *Archive) SkipSection(skip bool) {
	if a.err != nil {
		return
	}
	if a.br == nil {
		a.fail(fmt.Errorf("%w: SkipSection requires a binary load pass", ErrDirection))
		return
	}
	if err := a.br.skipSection(skip); err != nil {
		a.fail(err)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Errors and lifecycle
// ────────────────────────────────────────────────────────────────────────────

// Err returns the first error latched on this pass, if any.
func (a *Archive) Err() error { return a.err }

// Fail latches an external failure on the pass. Client SerializeState
// routines use it to abort when their own invariants are violated. The
// first latched error wins; Fail(nil) is a no-op.
func (a *Archive) Fail(err error) {
	if err == nil {
		return
	}
	a.fail(err)
}

func (a *Archive) fail(err error) {
	if a.err != nil {
		return
	}
	a.err = err
	a.logger.Error("archive pass failed", "format", a.Format().String(), "loader", a.IsLoader(), "error", err)
}

func (a *Archive) failf(format string, args ...any) {
	a.fail(fmt.Errorf(format, args...))
}

// Bytes finalizes a save pass and returns the encoded stream. It fails on
// a load pass, after Close, when sections or tags are left open, or when
// the pass has already failed.
func (a *Archive) Bytes() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.closed {
		return nil, ErrClosed
	}
	switch {
	case a.bw != nil:
		if n := a.bw.openSections(); n != 0 {
			a.failf("%w: %d sections still open", ErrDirection, n)
			return nil, a.err
		}
		return a.bw.bytes(), nil
	case a.xw != nil:
		if n := a.xw.openTags(); n != 0 {
			a.failf("%w: %d tags still open", ErrDirection, n)
			return nil, a.err
		}
		return a.xw.bytes()
	default:
		return nil, fmt.Errorf("%w: Bytes requires a save pass", ErrDirection)
	}
}

// Close ends the pass and releases the identity tables on every exit
// path, including failure. Close is idempotent and returns the latched
// error.
func (a *Archive) Close() error {
	if a.closed {
		return a.err
	}
	a.closed = true
	a.ids = nil
	a.ptrs = nil
	a.shared = nil
	a.argStack = nil
	return a.err
}

// LoadArgs returns the extra load-only arguments supplied by the
// innermost enclosing SerializeWithID call, for reconstruction inputs
// that legitimately live outside the stream (environment handles, owner
// references). Empty outside such a call and on save passes.
func (a *Archive) LoadArgs() []any {
	if len(a.argStack) == 0 {
		return nil
	}
	return a.argStack[len(a.argStack)-1]
}
