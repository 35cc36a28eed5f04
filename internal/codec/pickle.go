package codec

import "errors"

// ErrPickleUnsupported is returned by every pickleCodec operation.
// Python's pickle format encodes opcodes tied to CPython's object
// model (memoization by object identity, reduce protocols, class
// resolution by import path) that have no meaningful Go counterpart;
// rather than emit a format that merely looks like pickle, methods
// tagged Pickle fail closed with a clear error on every call: their
// arguments can never be decoded nor their results encoded.
var ErrPickleUnsupported = errors.New("codec: pickle is not supported; choose raw, json, marshal, or msgpack")

type pickleCodec struct{}

func (pickleCodec) Encode(v any) ([]byte, error) { return nil, ErrPickleUnsupported }
func (pickleCodec) Decode(b []byte, v any) error { return ErrPickleUnsupported }
