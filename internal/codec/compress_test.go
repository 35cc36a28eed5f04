package codec

import "testing"

func TestZstdCompressorRoundTrip(t *testing.T) {
	c, err := NewZstdCompressor()
	if err != nil {
		t.Fatalf("NewZstdCompressor: %v", err)
	}

	original := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")
	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(decompressed) != string(original) {
		t.Fatalf("round trip mismatch: got %q", decompressed)
	}
}

func TestZstdCompressorEmptyInput(t *testing.T) {
	c, err := NewZstdCompressor()
	if err != nil {
		t.Fatalf("NewZstdCompressor: %v", err)
	}
	compressed, err := c.Compress(nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(decompressed) != 0 {
		t.Fatalf("expected empty round trip, got %q", decompressed)
	}
}
