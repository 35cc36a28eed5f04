package codec

import "fmt"

// rawCodec passes []byte straight through, matching the source's
// RawSerialisation: the common case for a method that already deals
// in bytes and wants zero encode/decode overhead.
type rawCodec struct{}

func (rawCodec) Encode(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("codec: raw encode expects []byte, got %T", v)
	}
	return b, nil
}

func (rawCodec) Decode(b []byte, v any) error {
	out, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("codec: raw decode expects *[]byte, got %T", v)
	}
	*out = b
	return nil
}
