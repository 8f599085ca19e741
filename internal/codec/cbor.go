package codec

import "github.com/fxamacker/cbor/v2"

// CBOR is a deterministic binary codec (RFC 8949 canonical form), useful
// when metadata must hash identically across processes.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds a CBOR codec with canonical encoding options.
func NewCBOR() (*CBOR, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CBOR{enc: em, dec: dm}, nil
}

// Marshal serializes v to canonical CBOR bytes.
func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Unmarshal deserializes CBOR bytes into v.
func (c *CBOR) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

// Name returns "cbor".
func (*CBOR) Name() string { return "cbor" }
