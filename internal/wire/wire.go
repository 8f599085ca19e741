// Package wire implements the raw buffer primitives behind the binary
// archive backend: a growable little-endian writer with random-access
// back-patching, and a bounds-checked reader over a byte slice.
package wire

import (
	"encoding/binary"
	"io"
	"math"
)

// Writer is an append-only byte buffer. Reserve/PatchU32 support the
// length back-patching used by skippable sections.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a small initial allocation.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written bytes. The slice aliases the internal buffer.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) PutU16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) PutU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) PutU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) PutF32(v float32) {
	w.PutU32(math.Float32bits(v))
}

func (w *Writer) PutF64(v float64) {
	w.PutU64(math.Float64bits(v))
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

// PutUvarint appends v in unsigned LEB128 form.
func (w *Writer) PutUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

// PutVarint appends v in zig-zag LEB128 form.
func (w *Writer) PutVarint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

func (w *Writer) PutBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// PutString appends a uvarint length prefix followed by the string bytes.
func (w *Writer) PutString(s string) {
	w.PutUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// Reserve appends n zero bytes and returns the offset of the first one.
func (w *Writer) Reserve(n int) int {
	off := len(w.buf)
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
	return off
}

// PatchU32 overwrites the four bytes at off with v. off must come from
// an earlier Reserve.
func (w *Writer) PatchU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[off:off+4], v)
}

// Reader reads back what a Writer produced. Every method reports
// io.ErrUnexpectedEOF when the buffer is exhausted early; callers
// translate that into their own truncation error.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over data. The Reader does not copy data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) U8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) U16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	return math.Float64frombits(v), err
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.pos += n
	return v, nil
}

func (r *Reader) Varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.pos += n
	return v, nil
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

// String reads a uvarint length prefix and that many bytes.
func (r *Reader) String() (string, error) {
	n, err := r.Uvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(r.Remaining()) {
		return "", io.ErrUnexpectedEOF
	}
	p, err := r.Bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.Remaining() < n {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}
