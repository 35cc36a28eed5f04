package shmseg

import "testing"

func TestFakeSegmentReadWrite(t *testing.T) {
	seg, err := OpenFake("test-rw", 64, CreateOverwrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer UnlinkFake("test-rw")

	data := []byte{1, 2, 3, 4, 5}
	if err := seg.WriteAt(8, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	read := make([]byte, len(data))
	if err := seg.ReadAt(8, read); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	for i, v := range data {
		if read[i] != v {
			t.Fatalf("unexpected byte at %d: %d != %d", i, read[i], v)
		}
	}
}

func TestFakeSegmentAtomic(t *testing.T) {
	seg, err := OpenFake("test-atomic", 16, CreateOverwrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer UnlinkFake("test-atomic")

	if err := seg.AtomicStore32(4, 10); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	val, err := seg.AtomicLoad32(4)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if val != 10 {
		t.Fatalf("expected 10, got %d", val)
	}
	newVal, err := seg.AtomicAdd32(4, 5)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if newVal != 15 {
		t.Fatalf("expected 15, got %d", newVal)
	}

	ok, err := seg.AtomicCAS32(4, 15, 100)
	if err != nil || !ok {
		t.Fatalf("cas(15->100) = %v, %v", ok, err)
	}
	ok, err = seg.AtomicCAS32(4, 15, 200)
	if err != nil || ok {
		t.Fatalf("cas(15->200) on stale value should fail: %v, %v", ok, err)
	}
}

func TestFakeSegmentMisaligned(t *testing.T) {
	seg, err := OpenFake("test-misalign", 16, CreateOverwrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer UnlinkFake("test-misalign")

	if _, err := seg.AtomicLoad32(2); err != ErrMisaligned {
		t.Fatalf("expected misaligned error, got %v", err)
	}
}

func TestFakeSegmentSharedAcrossHandles(t *testing.T) {
	a, err := OpenFake("test-shared", 16, CreateOverwrite)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer UnlinkFake("test-shared")

	b, err := OpenFake("test-shared", 0, ConnectExisting)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}

	if err := a.SetByte(0, 0x42); err != nil {
		t.Fatalf("set byte: %v", err)
	}
	got, err := b.Byte(0)
	if err != nil {
		t.Fatalf("get byte: %v", err)
	}
	if got != 0x42 {
		t.Fatalf("expected handles to observe the same storage, got %x", got)
	}
}

func TestFakeSegmentCreateExclusive(t *testing.T) {
	_, err := OpenFake("test-excl", 16, CreateExclusive)
	if err != nil {
		t.Fatalf("first create should succeed: %v", err)
	}
	defer UnlinkFake("test-excl")

	if _, err := OpenFake("test-excl", 16, CreateExclusive); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestFakeSegmentConnectMissing(t *testing.T) {
	if _, err := OpenFake("test-missing-xyz", 0, ConnectExisting); err != ErrNoSuchSegment {
		t.Fatalf("expected ErrNoSuchSegment, got %v", err)
	}
}
