// Package codec implements a tagged-variant serializer: a method's
// codec tag selects how its arguments and return value cross the
// wire, independent of the RPC channel that carries the bytes. Each
// tag wires to a concrete, off-the-shelf codec rather than hand-rolling
// one, the same way the message framing this package sits beside
// leans on existing encodings rather than a bespoke format wherever
// one fits.
package codec

import "fmt"

// Kind names one of the serialization tags a method may declare.
type Kind string

const (
	Raw     Kind = "raw"
	JSON    Kind = "json"
	Marshal Kind = "marshal" // stands in for Python's marshal; backed by encoding/gob
	MsgPack Kind = "msgpack"
	Pickle  Kind = "pickle" // explicitly unsupported, see pickle.go
)

// Codec encodes and decodes Go values for one wire representation.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte, v any) error
}

var registry = map[Kind]Codec{
	Raw:     rawCodec{},
	JSON:    jsonCodec{},
	Marshal: marshalCodec{},
	MsgPack: msgpackCodec{},
	Pickle:  pickleCodec{},
}

// For looks up the Codec registered for kind.
func For(kind Kind) (Codec, error) {
	c, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("codec: unknown kind %q", kind)
	}
	return c, nil
}
