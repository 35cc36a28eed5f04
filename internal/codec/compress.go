package codec

import "github.com/klauspost/compress/zstd"

// Compressor is the optional wire compression layer the `tcp_compression`
// config key selects for the TCP fallback transport. It sits below
// Codec, not beside it: a message is still Encode'd by its codec
// first, then Compress'd for the wire.
type Compressor interface {
	Compress(b []byte) ([]byte, error)
	Decompress(b []byte) ([]byte, error)
}

// zstdCompressor wraps github.com/klauspost/compress/zstd, which gives
// good compression ratios at the latency this transport can afford.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor builds a reusable encoder/decoder pair. Both sides
// of zstd.Encoder/Decoder are safe for concurrent Compress/Decompress
// calls per the klauspost/compress docs.
func NewZstdCompressor() (Compressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (c *zstdCompressor) Compress(b []byte) ([]byte, error) {
	return c.enc.EncodeAll(b, make([]byte, 0, len(b))), nil
}

func (c *zstdCompressor) Decompress(b []byte) ([]byte, error) {
	return c.dec.DecodeAll(b, nil)
}
