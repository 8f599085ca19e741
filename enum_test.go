package amber_test

import (
	"strings"
	"testing"

	"github.com/AndrewDonelson/amber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type screenMode uint8

const (
	modeText screenMode = iota
	modeGraphic1
	modeGraphic2
	modeMulticolor
)

var screenModeNames = amber.NewEnumTable(map[screenMode]string{
	modeText:       "TEXT",
	modeGraphic1:   "GRAPHIC1",
	modeGraphic2:   "GRAPHIC2",
	modeMulticolor: "MULTICOLOR",
})

func TestSerializeEnum_RoundTrip(t *testing.T) {
	in := modeGraphic2

	roundTrip(t,
		func(a *amber.Archive) { amber.SerializeEnum(a, "mode", &in, screenModeNames) },
		func(a *amber.Archive) {
			var out screenMode
			amber.SerializeEnum(a, "mode", &out, screenModeNames)
			assert.Equal(t, modeGraphic2, out)
		})
}

// Portable documents carry the symbolic name, so they stay readable and
// stable if the numeric values are ever reordered.
func TestSerializeEnum_PortableStoresName(t *testing.T) {
	in := modeMulticolor

	a := amber.NewPortableSaver()
	amber.SerializeEnum(a, "mode", &in, screenModeNames)
	data, err := a.Bytes()
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(data), "<mode>MULTICOLOR</mode>"))
	assert.False(t, strings.Contains(string(data), "<mode>3</mode>"))
}

func TestSerializeEnum_UnknownName(t *testing.T) {
	doc := []byte(`<?xml version="1.0" ?>
<serial format="1" creator="amber test">
  <mode>GRAPHIC9</mode>
</serial>
`)

	a, err := amber.NewPortableLoader(doc)
	require.NoError(t, err)

	var out screenMode
	amber.SerializeEnum(a, "mode", &out, screenModeNames)
	assert.ErrorIs(t, a.Err(), amber.ErrBadValue)
}

func TestSerializeEnum_UnnamedValue(t *testing.T) {
	in := screenMode(99)

	a := amber.NewPortableSaver()
	amber.SerializeEnum(a, "mode", &in, screenModeNames)
	assert.ErrorIs(t, a.Err(), amber.ErrBadValue)
}

// The binary backend stores the integer in the enum's own width.
func TestSerializeEnum_BinaryStoresInteger(t *testing.T) {
	in := modeGraphic1

	a := amber.NewBinarySaver()
	amber.SerializeEnum(a, "mode", &in, screenModeNames)
	data, err := a.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)
}
