package amber_test

import (
	"testing"

	"github.com/AndrewDonelson/amber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer_Binary_RoundTrip(t *testing.T) {
	saver := amber.NewBinarySaver()
	cpu := cpuState{PC: 0xABCD, Cycles: 1}
	saver.Serialize("cpu", &cpu)
	payload, err := saver.Bytes()
	require.NoError(t, err)

	sealed := amber.SealBinary(payload)
	opened, err := amber.OpenBinary(sealed)
	require.NoError(t, err)
	require.Equal(t, payload, opened)

	loader := amber.NewBinaryLoader(opened)
	var out cpuState
	loader.Serialize("cpu", &out)
	require.NoError(t, loader.Close())
	assert.Equal(t, cpu, out)
}

func TestContainer_Binary_DetectsCorruption(t *testing.T) {
	sealed := amber.SealBinary([]byte{1, 2, 3, 4})
	sealed[7] ^= 0x01
	_, err := amber.OpenBinary(sealed)
	assert.ErrorIs(t, err, amber.ErrChecksum)
}

func TestContainer_Binary_BadMagic(t *testing.T) {
	sealed := amber.SealBinary([]byte{1, 2, 3})
	sealed[0] = 'X'
	_, err := amber.OpenBinary(sealed)
	assert.ErrorIs(t, err, amber.ErrBadHeader)
}

func TestContainer_Binary_TooShort(t *testing.T) {
	_, err := amber.OpenBinary([]byte("AMBS"))
	assert.ErrorIs(t, err, amber.ErrBadHeader)
}

func TestContainer_Binary_EmptyPayload(t *testing.T) {
	sealed := amber.SealBinary(nil)
	opened, err := amber.OpenBinary(sealed)
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestContainer_Portable_RoundTrip(t *testing.T) {
	saver := amber.NewPortableSaver()
	name := "gradius2"
	saver.Serialize("cart", &name)
	doc, err := saver.Bytes()
	require.NoError(t, err)

	sealed, err := amber.SealPortable(doc)
	require.NoError(t, err)
	assert.Less(t, len(sealed), len(doc)+64)

	opened, err := amber.OpenPortable(sealed)
	require.NoError(t, err)
	assert.Equal(t, doc, opened)
}

// Uncompressed documents pass through, so hand-edited saves still load.
func TestContainer_Portable_PlainPassthrough(t *testing.T) {
	doc := []byte(`<?xml version="1.0" ?><serial format="1"><v>1</v></serial>`)
	opened, err := amber.OpenPortable(doc)
	require.NoError(t, err)
	assert.Equal(t, doc, opened)
}

func TestContainer_Portable_TruncatedGzip(t *testing.T) {
	sealed, err := amber.SealPortable([]byte("<serial/>"))
	require.NoError(t, err)
	_, err = amber.OpenPortable(sealed[:6])
	assert.ErrorIs(t, err, amber.ErrBadHeader)
}
