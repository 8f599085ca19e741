// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// binary.go — the binary backend: fixed-width little-endian primitives over
// a growable buffer, uvarint lengths and IDs, and length-prefixed sections
// back-patched at EndSection. Streams carry no version information and are
// only valid for same-build round trips.

package amber

import (
	"fmt"

	"github.com/AndrewDonelson/amber/internal/wire"
)

type binSaver struct {
	w        *wire.Writer
	sections []int
}

func newBinSaver() *binSaver {
	return &binSaver{w: wire.NewWriter()}
}

// beginSection reserves a four-byte length placeholder and records its
// offset for the matching endSection.
func (b *binSaver) beginSection() {
	b.sections = append(b.sections, b.w.Reserve(4))
}

// endSection back-patches the innermost placeholder with the byte span
// written since its beginSection.
func (b *binSaver) endSection() error {
	if len(b.sections) == 0 {
		return fmt.Errorf("%w: EndSection without a matching BeginSection", ErrDirection)
	}
	off := b.sections[len(b.sections)-1]
	b.sections = b.sections[:len(b.sections)-1]
	b.w.PatchU32(off, uint32(b.w.Len()-off-4))
	return nil
}

func (b *binSaver) openSections() int { return len(b.sections) }

func (b *binSaver) bytes() []byte { return b.w.Bytes() }

type binLoader struct {
	r *wire.Reader
}

func newBinLoader(data []byte) *binLoader {
	return &binLoader{r: wire.NewReader(data)}
}

// skipSection consumes the section length; when skip is set the cursor
// advances past the region without decoding it.
func (b *binLoader) skipSection(skip bool) error {
	n, err := b.r.U32()
	if err != nil {
		return fmt.Errorf("%w: section length", ErrTruncated)
	}
	if !skip {
		return nil
	}
	if err := b.r.Skip(int(n)); err != nil {
		return fmt.Errorf("%w: skipping section of %d bytes", ErrTruncated, n)
	}
	return nil
}
