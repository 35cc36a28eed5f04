package codec

import "github.com/vmihailenco/msgpack/v5"

type msgpackCodec struct{}

func (msgpackCodec) Encode(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (msgpackCodec) Decode(b []byte, v any) error { return msgpack.Unmarshal(b, v) }
