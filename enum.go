package amber

// Enum constrains SerializeEnum to named integer types.
type Enum interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// EnumTable maps an enum's values to the stable names stored in portable
// streams. Build one per enum type at package init and reuse it.
type EnumTable[E Enum] struct {
	toName map[E]string
	toVal  map[string]E
}

// NewEnumTable builds the two-way table from a value-to-name map.
func NewEnumTable[E Enum](names map[E]string) EnumTable[E] {
	t := EnumTable[E]{
		toName: make(map[E]string, len(names)),
		toVal:  make(map[string]E, len(names)),
	}
	for v, n := range names {
		t.toName[v] = n
		t.toVal[n] = v
	}
	return t
}

// SerializeEnum writes or reads an enum value under tag. Backends that
// translate enums to strings store the table name; the binary backend
// stores the underlying integer in its natural width. A value missing
// from the table, or a stored name missing from it, is a hard failure.
func SerializeEnum[E Enum](a *Archive, tag string, v *E, table EnumTable[E]) {
	if a.err != nil {
		return
	}
	if !a.TranslateEnumToString() {
		a.serializeValue(tag, v, false, nil)
		return
	}
	if a.IsLoader() {
		var name string
		a.serializeValue(tag, &name, false, nil)
		if a.err != nil {
			return
		}
		val, ok := table.toVal[name]
		if !ok {
			a.failf("%w: enum name %q under %q", ErrBadValue, name, tag)
			return
		}
		*v = val
		return
	}
	name, ok := table.toName[*v]
	if !ok {
		a.failf("%w: enum value %v under %q has no name", ErrBadValue, *v, tag)
		return
	}
	a.serializeValue(tag, &name, false, nil)
}
