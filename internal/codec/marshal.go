package codec

import (
	"bytes"
	"encoding/gob"
)

// marshalCodec stands in for Python's marshal tag: a fast, Go-native
// binary encoding of arbitrary registered types, rather than a
// byte-for-byte reimplementation of CPython's marshal format (which
// is explicitly a CPython implementation detail, not a portable wire
// format).
type marshalCodec struct{}

func (marshalCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (marshalCodec) Decode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
