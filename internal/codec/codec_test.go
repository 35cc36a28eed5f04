package codec

import "testing"

type sample struct {
	A int
	B string
}

func TestRawRoundTrip(t *testing.T) {
	c, _ := For(Raw)
	enc, err := c.Encode([]byte("blah"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out []byte
	if err := c.Decode(enc, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out) != "blah" {
		t.Fatalf("got %q", out)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c, _ := For(JSON)
	enc, err := c.Encode(sample{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out sample
	if err := c.Decode(enc, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != (sample{A: 1, B: "x"}) {
		t.Fatalf("got %+v", out)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	c, _ := For(Marshal)
	enc, err := c.Encode(sample{A: 7, B: "y"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out sample
	if err := c.Decode(enc, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != (sample{A: 7, B: "y"}) {
		t.Fatalf("got %+v", out)
	}
}

func TestMsgPackRoundTrip(t *testing.T) {
	c, _ := For(MsgPack)
	enc, err := c.Encode(sample{A: 3, B: "z"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out sample
	if err := c.Decode(enc, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != (sample{A: 3, B: "z"}) {
		t.Fatalf("got %+v", out)
	}
}

func TestPickleUnsupported(t *testing.T) {
	c, _ := For(Pickle)
	if _, err := c.Encode("anything"); err != ErrPickleUnsupported {
		t.Fatalf("expected ErrPickleUnsupported, got %v", err)
	}
}

func TestForUnknownKind(t *testing.T) {
	if _, err := For(Kind("nonsense")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
