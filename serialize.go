package amber

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

// Stream vocabulary shared by both directions.
const (
	attrID       = "id"
	attrIDRef    = "id_ref"
	attrVersion  = "version"
	attrType     = "type"
	attrEncoding = "encoding"

	encBase64   = "base64"
	encGzBase64 = "gz-base64"

	itemTag  = "item"
	keyTag   = "key"
	valueTag = "value"
)

// Blobs at or above this size are zlib-compressed before base64 encoding
// on the portable backend.
const blobCompressThreshold = 256

// ────────────────────────────────────────────────────────────────────────────
// Operations
// ────────────────────────────────────────────────────────────────────────────

// Serialize writes or reads the value behind v under tag. v must be a
// non-nil pointer:
//
//   - *T for scalars and for types implementing Serializable;
//   - **T for identity-tracked pointers: the first occurrence in a pass
//     carries the content, later occurrences carry only a reference, and
//     nil round-trips as the null ID;
//   - *B with B an interface for polymorphic values (see
//     SerializePolymorphic);
//   - *[]T, *[N]T, *map[K]V for containers; []byte and [N]byte are
//     stored as blobs;
//   - *Shared[T] for shared-ownership handles.
//
// Pointed-to types must implement Serializable or be scalar. A pointer
// receiver is required on SerializeState; a value receiver silently loses
// every load.
func (a *Archive) Serialize(tag string, v any) {
	if a.err != nil {
		return
	}
	a.serializeValue(tag, v, false, nil)
}

// SerializeWithID is Serialize for a value that later calls may reference:
// it registers the value's identity on save and resolves it on load. The
// extra arguments are load-only reconstruction inputs exposed through
// LoadArgs during the nested load; they are ignored on save and never
// written to the stream.
func (a *Archive) SerializeWithID(tag string, v any, extra ...any) {
	if a.err != nil {
		return
	}
	a.serializeValue(tag, v, true, extra)
}

// SerializePointerID writes or reads a back-reference only. v must be a
// pointer to a pointer whose target was serialized with an ID earlier in
// the pass; an unassigned target on save or an unknown ID on load is a
// hard failure.
func (a *Archive) SerializePointerID(tag string, v any) {
	if a.err != nil {
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Pointer {
		a.failf("%w: SerializePointerID needs a pointer to a pointer, got %T", ErrNotSerializable, v)
		return
	}
	if a.IsLoader() {
		a.pointerIDLoad(tag, rv.Elem())
	} else {
		a.pointerIDSave(tag, rv.Elem())
	}
}

// SerializeBlob writes or reads an opaque byte region. The binary backend
// copies it verbatim; the portable backend stores base64 text, switching
// to zlib+base64 above a size threshold. On load the stored length must
// equal len(data): a blob is a fixed memory region, not a resizable
// buffer (use Serialize with *[]byte for that).
func (a *Archive) SerializeBlob(tag string, data []byte) {
	if a.err != nil {
		return
	}
	if !a.IsLoader() {
		a.blobSave(tag, data)
		return
	}
	p, ok := a.blobRead(tag)
	if !ok {
		return
	}
	if len(p) != len(data) {
		a.failf("%w: blob %q holds %d bytes, want %d", ErrBadValue, tag, len(p), len(data))
		return
	}
	copy(data, p)
}

// Attribute writes or reads a scalar in the lighter attribute
// representation where the backend has one. On the portable backend the
// value becomes an attribute of the enclosing element; on the binary
// backend it is a plain value. The positional contract is unchanged:
// save and load must issue matching Attribute calls, except that a
// portable load may probe HasAttribute first and skip a defaulted one.
func (a *Archive) Attribute(tag string, v any) {
	if a.err != nil {
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		a.failf("%w: attribute %q needs a non-nil pointer, got %T", ErrNotSerializable, tag, v)
		return
	}
	elem := rv.Elem()
	if !isScalarKind(elem.Kind()) {
		a.failf("%w: attribute %q must be scalar, got %s", ErrNotSerializable, tag, elem.Type())
		return
	}
	switch {
	case a.xw != nil:
		a.xw.attr(tag, formatScalar(elem))
	case a.xr != nil:
		txt, ok := a.xr.attr(tag)
		if !ok {
			a.failf("%w: missing attribute %q", ErrTagMismatch, tag)
			return
		}
		if err := parseScalar(txt, elem); err != nil {
			a.fail(err)
		}
	case a.bw != nil:
		a.putScalarBin(elem)
	default:
		a.getScalarBin(tag, elem)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Dispatch
// ────────────────────────────────────────────────────────────────────────────

func (a *Archive) serializeValue(tag string, v any, withID bool, extra []any) {
	if v == nil {
		a.failf("%w: nil value for %q", ErrNotSerializable, tag)
		return
	}
	if sh, ok := v.(sharedHandle); ok {
		a.serializeShared(tag, sh, extra)
		return
	}
	if s, ok := v.(Serializable); ok {
		if a.IsLoader() {
			a.classLoad(tag, s, withID, extra)
		} else {
			a.classSave(tag, s, withID)
		}
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		a.failf("%w: %T for %q (need a non-nil pointer)", ErrNotSerializable, v, tag)
		return
	}
	elem := rv.Elem()
	switch elem.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		if a.IsLoader() {
			a.scalarLoad(tag, elem, withID, v)
		} else {
			a.scalarSave(tag, elem, withID, v)
		}
	case reflect.Pointer:
		if a.IsLoader() {
			a.pointerLoad(tag, elem, extra)
		} else {
			a.pointerSave(tag, elem)
		}
	case reflect.Interface:
		if a.IsLoader() {
			a.polyLoad(tag, elem, extra)
		} else {
			a.polySave(tag, elem)
		}
	case reflect.Slice:
		if elem.Type().Elem().Kind() == reflect.Uint8 {
			if a.IsLoader() {
				a.byteSliceLoad(tag, elem)
			} else {
				a.blobSave(tag, elem.Bytes())
			}
			return
		}
		if a.IsLoader() {
			a.listLoad(tag, elem, withID, v)
		} else {
			a.listSave(tag, elem, withID, v)
		}
	case reflect.Array:
		if elem.Type().Elem().Kind() == reflect.Uint8 {
			if a.IsLoader() {
				a.byteArrayLoad(tag, elem)
			} else {
				a.blobSave(tag, byteArrayBytes(elem))
			}
			return
		}
		if a.IsLoader() {
			a.arrayLoad(tag, elem)
		} else {
			a.arraySave(tag, elem)
		}
	case reflect.Map:
		if a.IsLoader() {
			a.mapLoad(tag, elem, withID, v)
		} else {
			a.mapSave(tag, elem, withID, v)
		}
	default:
		a.failf("%w: %s for %q (implement Serializable)", ErrNotSerializable, elem.Type(), tag)
	}
}

// enter opens tag for the current operation. Portable loads assert the
// tag name; a mismatch latches and enter reports false, in which case the
// operation must not call leave.
func (a *Archive) enter(tag string) bool {
	if a.err != nil {
		return false
	}
	switch {
	case a.xw != nil:
		a.xw.beginTag(tag)
	case a.xr != nil:
		if err := a.xr.beginTag(tag); err != nil {
			a.fail(err)
			return false
		}
	}
	return true
}

// leave closes the tag opened by a successful enter. It runs even when an
// error latched mid-operation, keeping the tag stack balanced.
func (a *Archive) leave() {
	switch {
	case a.xw != nil:
		a.xw.endTag()
	case a.xr != nil:
		a.xr.endTag()
	}
}

// withArgs exposes extra through LoadArgs for the duration of fn.
func (a *Archive) withArgs(extra []any, fn func()) {
	if len(extra) == 0 {
		fn()
		return
	}
	a.argStack = append(a.argStack, extra)
	fn()
	a.argStack = a.argStack[:len(a.argStack)-1]
}

func stateVersion(v any) int {
	if vv, ok := v.(Versioned); ok {
		return vv.StateVersion()
	}
	return 1
}

// takeVersion determines the version supplied to a nested SerializeState
// on load: the stream's stored version on the portable backend (absent
// attribute means 1), the type's current version on the binary backend.
func (a *Archive) takeVersion(s any) int {
	if a.xr == nil {
		return stateVersion(s)
	}
	txt, ok := a.xr.attr(attrVersion)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(txt)
	if err != nil || n < 1 {
		a.failf("%w: version attribute %q", ErrBadValue, txt)
		return 1
	}
	return n
}

// ────────────────────────────────────────────────────────────────────────────
// IDs on the stream
// ────────────────────────────────────────────────────────────────────────────

func (a *Archive) emitID(name string, id uint32) {
	if a.xw != nil {
		a.xw.attr(name, strconv.FormatUint(uint64(id), 10))
		return
	}
	a.bw.w.PutUvarint(uint64(id))
}

// readIDAttr reads a numeric id attribute on the portable backend.
// ok is false when the attribute is absent or malformed; only the
// malformed case latches an error.
func (a *Archive) readIDAttr(name string) (uint32, bool) {
	txt, ok := a.xr.attr(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(txt, 10, 32)
	if err != nil {
		a.failf("%w: %s attribute %q", ErrBadValue, name, txt)
		return 0, false
	}
	return uint32(n), true
}

func (a *Archive) readIDBin(tag string) (uint32, bool) {
	n, err := a.br.r.Uvarint()
	if err != nil {
		a.failf("%w: id for %q", ErrTruncated, tag)
		return 0, false
	}
	if n > math.MaxUint32 {
		a.failf("%w: id %d out of range", ErrBadValue, n)
		return 0, false
	}
	return uint32(n), true
}

// refSave emits a reference-only occurrence: an id_ref attribute on the
// portable backend, a bare uvarint on the binary backend. ID 0 is null.
func (a *Archive) refSave(tag string, id uint32) {
	if !a.enter(tag) {
		return
	}
	a.emitID(attrIDRef, id)
	a.leave()
}

// ────────────────────────────────────────────────────────────────────────────
// Scalars
// ────────────────────────────────────────────────────────────────────────────

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	}
	return false
}

// formatScalar renders a scalar in canonical text: decimal integers,
// shortest round-trip floats, true/false booleans.
func formatScalar(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	default:
		return rv.String()
	}
}

func parseScalar(text string, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Bool:
		switch text {
		case "true":
			rv.SetBool(true)
		case "false":
			rv.SetBool(false)
		default:
			return fmt.Errorf("%w: %q as bool", ErrBadValue, text)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, rv.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %q as %s", ErrBadValue, text, rv.Type())
		}
		rv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, rv.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %q as %s", ErrBadValue, text, rv.Type())
		}
		rv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, rv.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %q as %s", ErrBadValue, text, rv.Type())
		}
		rv.SetFloat(f)
	default:
		rv.SetString(text)
	}
	return nil
}

func (a *Archive) putScalarBin(rv reflect.Value) {
	w := a.bw.w
	switch rv.Kind() {
	case reflect.Bool:
		w.PutBool(rv.Bool())
	case reflect.Int8:
		w.PutU8(uint8(rv.Int()))
	case reflect.Int16:
		w.PutU16(uint16(rv.Int()))
	case reflect.Int32:
		w.PutU32(uint32(rv.Int()))
	case reflect.Int, reflect.Int64:
		w.PutU64(uint64(rv.Int()))
	case reflect.Uint8:
		w.PutU8(uint8(rv.Uint()))
	case reflect.Uint16:
		w.PutU16(uint16(rv.Uint()))
	case reflect.Uint32:
		w.PutU32(uint32(rv.Uint()))
	case reflect.Uint, reflect.Uint64:
		w.PutU64(rv.Uint())
	case reflect.Float32:
		w.PutF32(float32(rv.Float()))
	case reflect.Float64:
		w.PutF64(rv.Float())
	default:
		w.PutString(rv.String())
	}
}

func (a *Archive) getScalarBin(tag string, rv reflect.Value) {
	r := a.br.r
	var err error
	switch rv.Kind() {
	case reflect.Bool:
		var v bool
		if v, err = r.Bool(); err == nil {
			rv.SetBool(v)
		}
	case reflect.Int8:
		var v uint8
		if v, err = r.U8(); err == nil {
			rv.SetInt(int64(int8(v)))
		}
	case reflect.Int16:
		var v uint16
		if v, err = r.U16(); err == nil {
			rv.SetInt(int64(int16(v)))
		}
	case reflect.Int32:
		var v uint32
		if v, err = r.U32(); err == nil {
			rv.SetInt(int64(int32(v)))
		}
	case reflect.Int, reflect.Int64:
		var v uint64
		if v, err = r.U64(); err == nil {
			rv.SetInt(int64(v))
		}
	case reflect.Uint8:
		var v uint8
		if v, err = r.U8(); err == nil {
			rv.SetUint(uint64(v))
		}
	case reflect.Uint16:
		var v uint16
		if v, err = r.U16(); err == nil {
			rv.SetUint(uint64(v))
		}
	case reflect.Uint32:
		var v uint32
		if v, err = r.U32(); err == nil {
			rv.SetUint(uint64(v))
		}
	case reflect.Uint, reflect.Uint64:
		var v uint64
		if v, err = r.U64(); err == nil {
			rv.SetUint(v)
		}
	case reflect.Float32:
		var v float32
		if v, err = r.F32(); err == nil {
			rv.SetFloat(float64(v))
		}
	case reflect.Float64:
		var v float64
		if v, err = r.F64(); err == nil {
			rv.SetFloat(v)
		}
	default:
		var v string
		if v, err = r.String(); err == nil {
			rv.SetString(v)
		}
	}
	if err != nil {
		a.failf("%w: reading %q", ErrTruncated, tag)
	}
}

func (a *Archive) scalarSave(tag string, rv reflect.Value, withID bool, key any) {
	if a.xw != nil {
		if !a.enter(tag) {
			return
		}
		if withID {
			a.emitID(attrID, a.generateID(key))
		}
		a.xw.setData(formatScalar(rv))
		a.leave()
		return
	}
	if withID {
		a.bw.w.PutUvarint(uint64(a.generateID(key)))
	}
	a.putScalarBin(rv)
}

func (a *Archive) scalarLoad(tag string, rv reflect.Value, withID bool, target any) {
	if a.xr != nil {
		if !a.enter(tag) {
			return
		}
		if withID {
			if id, ok := a.readIDAttr(attrID); ok && id != 0 {
				if err := a.addPointer(id, target); err != nil {
					a.fail(err)
				}
			}
		}
		if a.err == nil {
			if err := parseScalar(a.xr.data(), rv); err != nil {
				a.fail(err)
			}
		}
		a.leave()
		return
	}
	if withID {
		id, ok := a.readIDBin(tag)
		if !ok {
			return
		}
		if err := a.addPointer(id, target); err != nil {
			a.fail(err)
			return
		}
	}
	a.getScalarBin(tag, rv)
}

// ────────────────────────────────────────────────────────────────────────────
// Serializable values
// ────────────────────────────────────────────────────────────────────────────

func (a *Archive) classSave(tag string, s Serializable, withID bool) {
	if !a.enter(tag) {
		return
	}
	if withID {
		if id := a.getID(s); id != 0 {
			a.failf("%w: object for %q already has id %d; serialize owners before references", ErrBadValue, tag, id)
			a.leave()
			return
		}
		a.emitID(attrID, a.generateID(s))
	}
	ver := stateVersion(s)
	if a.xw != nil && ver != 1 {
		a.xw.attr(attrVersion, strconv.Itoa(ver))
	}
	s.SerializeState(a, ver)
	a.leave()
}

func (a *Archive) classLoad(tag string, s Serializable, withID bool, extra []any) {
	if !a.enter(tag) {
		return
	}
	if withID {
		var id uint32
		var ok bool
		if a.xr != nil {
			id, ok = a.readIDAttr(attrID)
			if !ok && a.err == nil {
				a.failf("%w: %q carries no id", ErrBadValue, tag)
			}
		} else {
			id, ok = a.readIDBin(tag)
		}
		if !ok || a.err != nil {
			a.leave()
			return
		}
		if id != 0 {
			if err := a.addPointer(id, s); err != nil {
				a.fail(err)
				a.leave()
				return
			}
		}
	}
	ver := a.takeVersion(s)
	a.withArgs(extra, func() {
		s.SerializeState(a, ver)
	})
	a.leave()
}

// ────────────────────────────────────────────────────────────────────────────
// Identity-tracked pointers
// ────────────────────────────────────────────────────────────────────────────

func (a *Archive) pointerSave(tag string, p reflect.Value) {
	if p.IsNil() {
		a.refSave(tag, 0)
		return
	}
	key := p.Interface()
	if id := a.getID(key); id != 0 {
		a.refSave(tag, id)
		return
	}
	if !a.enter(tag) {
		return
	}
	a.emitID(attrID, a.generateID(key))
	a.saveContent(p)
	a.leave()
}

func (a *Archive) pointerLoad(tag string, p reflect.Value, extra []any) {
	if a.xr != nil {
		if !a.enter(tag) {
			return
		}
		if id, ok := a.readIDAttr(attrIDRef); ok {
			a.assignRef(tag, p, id)
		} else if a.err == nil {
			if id, ok := a.readIDAttr(attrID); ok {
				a.constructInto(tag, p, id, extra)
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
		p.SetZero()
		return
	}
	if stored, seen := a.getPointer(id); seen {
		a.assignStored(tag, p, stored)
		return
	}
	a.constructInto(tag, p, id, extra)
}

// assignRef resolves a back-reference: ID 0 is the null pointer, any
// other ID must already be in the pointer table.
func (a *Archive) assignRef(tag string, p reflect.Value, id uint32) {
	if id == 0 {
		p.SetZero()
		return
	}
	stored, ok := a.getPointer(id)
	if !ok {
		a.failf("%w: id %d referenced by %q has no owner", ErrUnresolvedID, id, tag)
		return
	}
	a.assignStored(tag, p, stored)
}

func (a *Archive) assignStored(tag string, p reflect.Value, stored any) {
	sv := reflect.ValueOf(stored)
	if !sv.Type().AssignableTo(p.Type()) {
		a.failf("%w: id under %q resolves to %s, want %s", ErrBadValue, tag, sv.Type(), p.Type())
		return
	}
	p.Set(sv)
}

// constructInto reconstructs a first-occurrence object: allocate, register
// the pointer before loading content so cycles back into the object
// resolve, then load the content in place.
func (a *Archive) constructInto(tag string, p reflect.Value, id uint32, extra []any) {
	el := reflect.New(p.Type().Elem())
	if err := a.addPointer(id, el.Interface()); err != nil {
		a.fail(err)
		return
	}
	a.withArgs(extra, func() {
		a.loadContent(tag, el)
	})
	if a.err == nil {
		p.Set(el)
	}
}

// saveContent serializes a pointee inside the already-open tag.
func (a *Archive) saveContent(p reflect.Value) {
	if s, ok := p.Interface().(Serializable); ok {
		ver := stateVersion(s)
		if a.xw != nil && ver != 1 {
			a.xw.attr(attrVersion, strconv.Itoa(ver))
		}
		s.SerializeState(a, ver)
		return
	}
	elem := p.Elem()
	if !isScalarKind(elem.Kind()) {
		a.failf("%w: pointee %s must implement Serializable or be scalar", ErrNotSerializable, elem.Type())
		return
	}
	if a.xw != nil {
		a.xw.setData(formatScalar(elem))
		return
	}
	a.putScalarBin(elem)
}

func (a *Archive) loadContent(tag string, p reflect.Value) {
	if s, ok := p.Interface().(Serializable); ok {
		ver := a.takeVersion(s)
		s.SerializeState(a, ver)
		return
	}
	elem := p.Elem()
	if !isScalarKind(elem.Kind()) {
		a.failf("%w: pointee %s must implement Serializable or be scalar", ErrNotSerializable, elem.Type())
		return
	}
	if a.xr != nil {
		if err := parseScalar(a.xr.data(), elem); err != nil {
			a.fail(err)
		}
		return
	}
	a.getScalarBin(tag, elem)
}

func (a *Archive) pointerIDSave(tag string, p reflect.Value) {
	if p.IsNil() {
		a.refSave(tag, 0)
		return
	}
	id := a.getID(p.Interface())
	if id == 0 {
		a.failf("%w: target of %q has not been assigned an id", ErrUnresolvedID, tag)
		return
	}
	a.refSave(tag, id)
}

func (a *Archive) pointerIDLoad(tag string, p reflect.Value) {
	if a.xr != nil {
		if !a.enter(tag) {
			return
		}
		if id, ok := a.readIDAttr(attrIDRef); ok {
			a.assignRef(tag, p, id)
		} else if a.err == nil {
			a.failf("%w: %q carries no id_ref", ErrBadValue, tag)
		}
		a.leave()
		return
	}
	id, ok := a.readIDBin(tag)
	if !ok {
		return
	}
	a.assignRef(tag, p, id)
}

// ────────────────────────────────────────────────────────────────────────────
// Containers
// ────────────────────────────────────────────────────────────────────────────

func (a *Archive) listSave(tag string, list reflect.Value, withID bool, key any) {
	if !a.enter(tag) {
		return
	}
	if withID {
		a.emitID(attrID, a.generateID(key))
	}
	n := list.Len()
	if a.bw != nil {
		a.bw.w.PutUvarint(uint64(n))
	}
	for i := 0; i < n && a.err == nil; i++ {
		a.serializeValue(itemTag, list.Index(i).Addr().Interface(), false, nil)
	}
	a.leave()
}

func (a *Archive) listLoad(tag string, list reflect.Value, withID bool, target any) {
	if !a.enter(tag) {
		return
	}
	if withID {
		a.loadOwnID(tag, target)
	}
	n, ok := a.elementCount(tag)
	if !ok {
		a.leave()
		return
	}
	list.Set(reflect.MakeSlice(list.Type(), n, n))
	for i := 0; i < n && a.err == nil; i++ {
		a.serializeValue(itemTag, list.Index(i).Addr().Interface(), false, nil)
	}
	a.leave()
}

func (a *Archive) arraySave(tag string, arr reflect.Value) {
	if !a.enter(tag) {
		return
	}
	n := arr.Len()
	for i := 0; i < n && a.err == nil; i++ {
		a.serializeValue(itemTag, arr.Index(i).Addr().Interface(), false, nil)
	}
	a.leave()
}

func (a *Archive) arrayLoad(tag string, arr reflect.Value) {
	if !a.enter(tag) {
		return
	}
	n := arr.Len()
	if a.xr != nil {
		if have := a.xr.countChildren(); have != n {
			a.failf("%w: array %q has %d elements in stream, want %d", ErrBadValue, tag, have, n)
			a.leave()
			return
		}
	}
	for i := 0; i < n && a.err == nil; i++ {
		a.serializeValue(itemTag, arr.Index(i).Addr().Interface(), false, nil)
	}
	a.leave()
}

func (a *Archive) mapSave(tag string, m reflect.Value, withID bool, key any) {
	keys, ok := a.sortedKeys(tag, m)
	if !ok {
		return
	}
	if !a.enter(tag) {
		return
	}
	if withID {
		a.emitID(attrID, a.generateID(key))
	}
	if a.bw != nil {
		a.bw.w.PutUvarint(uint64(len(keys)))
	}
	keyType := m.Type().Key()
	elemType := m.Type().Elem()
	for _, k := range keys {
		if a.err != nil {
			break
		}
		if !a.enter(itemTag) {
			break
		}
		kp := reflect.New(keyType)
		kp.Elem().Set(k)
		a.serializeValue(keyTag, kp.Interface(), false, nil)
		vp := reflect.New(elemType)
		vp.Elem().Set(m.MapIndex(k))
		a.serializeValue(valueTag, vp.Interface(), false, nil)
		a.leave()
	}
	a.leave()
}

func (a *Archive) mapLoad(tag string, m reflect.Value, withID bool, target any) {
	if !a.enter(tag) {
		return
	}
	if withID {
		a.loadOwnID(tag, target)
	}
	n, ok := a.elementCount(tag)
	if !ok {
		a.leave()
		return
	}
	out := reflect.MakeMapWithSize(m.Type(), n)
	keyType := m.Type().Key()
	elemType := m.Type().Elem()
	for i := 0; i < n && a.err == nil; i++ {
		if !a.enter(itemTag) {
			break
		}
		kp := reflect.New(keyType)
		a.serializeValue(keyTag, kp.Interface(), false, nil)
		vp := reflect.New(elemType)
		a.serializeValue(valueTag, vp.Interface(), false, nil)
		a.leave()
		if a.err == nil {
			out.SetMapIndex(kp.Elem(), vp.Elem())
		}
	}
	if a.err == nil {
		m.Set(out)
	}
	a.leave()
}

// sortedKeys returns the map keys in deterministic order. Map keys are
// restricted to string and integer kinds.
func (a *Archive) sortedKeys(tag string, m reflect.Value) ([]reflect.Value, bool) {
	keys := m.MapKeys()
	switch m.Type().Key().Kind() {
	case reflect.String:
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Int() < keys[j].Int() })
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Uint() < keys[j].Uint() })
	default:
		a.failf("%w: map %q key type %s", ErrNotSerializable, tag, m.Type().Key())
		return nil, false
	}
	return keys, true
}

// loadOwnID consumes the id a SerializeWithID save attached to a
// container and registers the container's own address under it.
func (a *Archive) loadOwnID(tag string, target any) {
	var id uint32
	var ok bool
	if a.xr != nil {
		id, ok = a.readIDAttr(attrID)
	} else {
		id, ok = a.readIDBin(tag)
	}
	if !ok || id == 0 {
		return
	}
	if err := a.addPointer(id, target); err != nil {
		a.fail(err)
	}
}

// elementCount yields how many elements the stream holds for the entered
// container tag: inferred from child elements on the portable backend,
// an explicit uvarint on the binary backend.
func (a *Archive) elementCount(tag string) (int, bool) {
	if a.xr != nil {
		return a.xr.countChildren(), true
	}
	n, err := a.br.r.Uvarint()
	if err != nil {
		a.failf("%w: element count for %q", ErrTruncated, tag)
		return 0, false
	}
	if n > uint64(a.br.r.Remaining()) {
		a.failf("%w: %q claims %d elements", ErrTruncated, tag, n)
		return 0, false
	}
	return int(n), true
}

// ────────────────────────────────────────────────────────────────────────────
// Blobs
// ────────────────────────────────────────────────────────────────────────────

func (a *Archive) blobSave(tag string, data []byte) {
	if a.bw != nil {
		a.bw.w.PutUvarint(uint64(len(data)))
		a.bw.w.PutBytes(data)
		return
	}
	if !a.enter(tag) {
		return
	}
	enc := encBase64
	out := data
	if len(data) >= blobCompressThreshold {
		if z, err := deflate(data); err == nil && len(z) < len(data) {
			enc = encGzBase64
			out = z
		}
	}
	a.xw.attr(attrEncoding, enc)
	a.xw.setData(base64.StdEncoding.EncodeToString(out))
	a.leave()
}

// blobRead decodes a blob occurrence and returns its payload. The
// returned slice is freshly allocated on the portable backend and aliases
// the input buffer on the binary backend.
func (a *Archive) blobRead(tag string) ([]byte, bool) {
	if a.br != nil {
		n, err := a.br.r.Uvarint()
		if err != nil {
			a.failf("%w: blob length for %q", ErrTruncated, tag)
			return nil, false
		}
		if n > uint64(a.br.r.Remaining()) {
			a.failf("%w: blob %q claims %d bytes", ErrTruncated, tag, n)
			return nil, false
		}
		p, err := a.br.r.Bytes(int(n))
		if err != nil {
			a.failf("%w: blob %q", ErrTruncated, tag)
			return nil, false
		}
		return p, true
	}
	if !a.enter(tag) {
		return nil, false
	}
	defer a.leave()
	enc, ok := a.xr.attr(attrEncoding)
	if !ok {
		a.failf("%w: blob %q has no encoding attribute", ErrBadValue, tag)
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(a.xr.data())
	if err != nil {
		a.failf("%w: blob %q: %v", ErrBadValue, tag, err)
		return nil, false
	}
	switch enc {
	case encBase64:
		return raw, true
	case encGzBase64:
		p, err := inflate(raw)
		if err != nil {
			a.failf("%w: blob %q: %v", ErrBadValue, tag, err)
			return nil, false
		}
		return p, true
	default:
		a.failf("%w: blob %q encoding %q", ErrBadValue, tag, enc)
		return nil, false
	}
}

func (a *Archive) byteSliceLoad(tag string, rv reflect.Value) {
	p, ok := a.blobRead(tag)
	if !ok {
		return
	}
	out := reflect.MakeSlice(rv.Type(), len(p), len(p))
	reflect.Copy(out, reflect.ValueOf(p))
	rv.Set(out)
}

func (a *Archive) byteArrayLoad(tag string, rv reflect.Value) {
	p, ok := a.blobRead(tag)
	if !ok {
		return
	}
	if len(p) != rv.Len() {
		a.failf("%w: blob %q holds %d bytes, want %d", ErrBadValue, tag, len(p), rv.Len())
		return
	}
	reflect.Copy(rv, reflect.ValueOf(p))
}

func byteArrayBytes(arr reflect.Value) []byte {
	return arr.Slice(0, arr.Len()).Bytes()
}

func deflate(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(p []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
