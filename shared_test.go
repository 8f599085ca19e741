package amber_test

import (
	"testing"

	"github.com/AndrewDonelson/amber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Model helpers ────────────────────────────────────────────────────────────

type clockLine struct {
	Hz uint32
}

func (c *clockLine) SerializeState(a *amber.Archive, version int) {
	a.Serialize("hz", &c.Hz)
}

// Two chips jointly own one clock line.
type chipPair struct {
	Left  amber.Shared[clockLine]
	Right amber.Shared[clockLine]
}

func (p *chipPair) SerializeState(a *amber.Archive, version int) {
	amber.SerializeShared(a, "left", &p.Left)
	amber.SerializeShared(a, "right", &p.Right)
}

// ── Handle behavior ──────────────────────────────────────────────────────────

func TestShared_HandleBasics(t *testing.T) {
	var zero amber.Shared[clockLine]
	assert.True(t, zero.IsNil())
	assert.Nil(t, zero.Get())
	assert.Zero(t, zero.Refs())

	s := amber.NewShared(clockLine{Hz: 3579545})
	assert.False(t, s.IsNil())
	assert.Equal(t, 1, s.Refs())

	s2 := s.Share()
	assert.Same(t, s.Get(), s2.Get())
	assert.Equal(t, 2, s.Refs())
	assert.Equal(t, 2, s2.Refs())
}

// ── Round trips ──────────────────────────────────────────────────────────────

func TestShared_RoundTrip_SharedOwnership(t *testing.T) {
	line := amber.NewShared(clockLine{Hz: 3579545})
	in := chipPair{Left: line, Right: line.Share()}

	roundTrip(t,
		func(a *amber.Archive) { a.Serialize("pair", &in) },
		func(a *amber.Archive) {
			var out chipPair
			a.Serialize("pair", &out)
			require.False(t, out.Left.IsNil())
			assert.Same(t, out.Left.Get(), out.Right.Get())
			assert.Equal(t, 2, out.Left.Refs())
			assert.Equal(t, 2, out.Right.Refs())
			assert.Equal(t, uint32(3579545), out.Left.Get().Hz)
		})
}

func TestShared_RoundTrip_Independent(t *testing.T) {
	in := chipPair{
		Left:  amber.NewShared(clockLine{Hz: 100}),
		Right: amber.NewShared(clockLine{Hz: 200}),
	}

	roundTrip(t,
		func(a *amber.Archive) { a.Serialize("pair", &in) },
		func(a *amber.Archive) {
			var out chipPair
			a.Serialize("pair", &out)
			assert.NotSame(t, out.Left.Get(), out.Right.Get())
			assert.Equal(t, 1, out.Left.Refs())
			assert.Equal(t, 1, out.Right.Refs())
		})
}

func TestShared_RoundTrip_Nil(t *testing.T) {
	in := chipPair{Left: amber.NewShared(clockLine{Hz: 7})}

	roundTrip(t,
		func(a *amber.Archive) { a.Serialize("pair", &in) },
		func(a *amber.Archive) {
			out := chipPair{Right: amber.NewShared(clockLine{})}
			a.Serialize("pair", &out)
			assert.False(t, out.Left.IsNil())
			assert.True(t, out.Right.IsNil())
		})
}

// A raw pointer and a shared handle to the same object agree on identity:
// the pointer resolves to the handle's value.
func TestShared_RawPointerConverges(t *testing.T) {
	line := amber.NewShared(clockLine{Hz: 123})
	raw := line.Get()

	roundTrip(t,
		func(a *amber.Archive) {
			var l amber.Shared[clockLine] = line
			amber.SerializeShared(a, "line", &l)
			a.Serialize("raw", &raw)
		},
		func(a *amber.Archive) {
			var outLine amber.Shared[clockLine]
			var outRaw *clockLine
			amber.SerializeShared(a, "line", &outLine)
			a.Serialize("raw", &outRaw)
			assert.Same(t, outLine.Get(), outRaw)
		})
}

// The reverse order cannot reconstruct ownership: the object was loaded
// through a plain pointer, so a shared handle has nothing to join.
func TestShared_BackRefIntoPlainPointer_Fails(t *testing.T) {
	line := amber.NewShared(clockLine{Hz: 9})
	raw := line.Get()

	saver := amber.NewBinarySaver()
	saver.Serialize("raw", &raw)
	var l amber.Shared[clockLine] = line
	amber.SerializeShared(saver, "line", &l)
	data, err := saver.Bytes()
	require.NoError(t, err)

	loader := amber.NewBinaryLoader(data)
	var outRaw *clockLine
	var outLine amber.Shared[clockLine]
	loader.Serialize("raw", &outRaw)
	amber.SerializeShared(loader, "line", &outLine)
	assert.ErrorIs(t, loader.Err(), amber.ErrBadValue)
}
