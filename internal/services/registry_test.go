package services

import "testing"

func TestEchoAndMathAreRegistered(t *testing.T) {
	sections := Sections()
	want := map[string]bool{"echo": false, "math": false}
	for _, s := range sections {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected section %q to be registered, got %v", name, sections)
		}
	}
}

func TestEchoMethodTableEchoesRawBytes(t *testing.T) {
	b, ok := Lookup("echo")
	if !ok {
		t.Fatal("expected echo section to be registered")
	}
	methods := b()
	out, err := methods["echo"].Handler([]byte("blah"))
	if err != nil {
		t.Fatalf("echo handler: %v", err)
	}
	if string(out.([]byte)) != "blah" {
		t.Fatalf("got %q", out)
	}
}

func TestMathAddSumsArgs(t *testing.T) {
	b, ok := Lookup("math")
	if !ok {
		t.Fatal("expected math section to be registered")
	}
	methods := b()
	out, err := methods["add"].Handler([]any{1.0, 2.0, 3.5})
	if err != nil {
		t.Fatalf("add handler: %v", err)
	}
	if out.(float64) != 6.5 {
		t.Fatalf("got %v", out)
	}
}

func TestLookupUnknownSection(t *testing.T) {
	if _, ok := Lookup("does-not-exist"); ok {
		t.Fatal("expected unknown section to be absent")
	}
}
