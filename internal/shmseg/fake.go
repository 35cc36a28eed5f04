// Adapted from kernel/threads/sab/hal_memory.go's InMemoryProvider: a
// process-local stand-in for the mmap-backed
// segment, used by tests (and by the non-unix build) so the handoff
// protocol and lock algorithm can be exercised without real shared
// memory. FakeSegment additionally simulates cross-process sharing
// within a single test binary via a package-level named registry, so a
// "client" and "server" in the same test can open the same name.
package shmseg

import (
	"sync"
	"sync/atomic"
)

var (
	fakeRegistryMu sync.Mutex
	fakeRegistry   = map[string]*fakeData{}
)

type fakeData struct {
	mu   sync.Mutex
	data []byte
}

// FakeSegment is an in-process Segment backed by a shared byte slice
// keyed by name, so independently-constructed FakeSegments for the
// same name observe each other's writes the way two processes sharing
// a real mmap would.
type FakeSegment struct {
	name string
	d    *fakeData
}

// OpenFake creates, connects, or recreates a fake segment under name.
func OpenFake(name string, size uint32, mode CreateMode) (*FakeSegment, error) {
	fakeRegistryMu.Lock()
	defer fakeRegistryMu.Unlock()

	existing, ok := fakeRegistry[name]
	switch mode {
	case CreateExclusive:
		if ok {
			return nil, ErrAlreadyExists
		}
	case ConnectExisting:
		if !ok {
			return nil, ErrNoSuchSegment
		}
	case CreateOverwrite:
		ok = false
	}

	if !ok {
		if size == 0 {
			return nil, ErrOutOfBounds
		}
		existing = &fakeData{data: make([]byte, size)}
		fakeRegistry[name] = existing
	}
	return &FakeSegment{name: name, d: existing}, nil
}

// UnlinkFake removes the fake segment's backing storage.
func UnlinkFake(name string) {
	fakeRegistryMu.Lock()
	defer fakeRegistryMu.Unlock()
	delete(fakeRegistry, name)
}

// RenameFake moves a fake segment's backing storage to a new name, the
// in-process analogue of Rename.
func RenameFake(oldName, newName string) error {
	fakeRegistryMu.Lock()
	defer fakeRegistryMu.Unlock()
	d, ok := fakeRegistry[oldName]
	if !ok {
		return ErrNoSuchSegment
	}
	delete(fakeRegistry, oldName)
	fakeRegistry[newName] = d
	return nil
}

func (f *FakeSegment) Name() string { return f.name }

func (f *FakeSegment) Size() uint32 {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	return uint32(len(f.d.data))
}

func (f *FakeSegment) ReadAt(offset uint32, dest []byte) error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if uint64(offset)+uint64(len(dest)) > uint64(len(f.d.data)) {
		return ErrOutOfBounds
	}
	copy(dest, f.d.data[offset:offset+uint32(len(dest))])
	return nil
}

func (f *FakeSegment) WriteAt(offset uint32, src []byte) error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if uint64(offset)+uint64(len(src)) > uint64(len(f.d.data)) {
		return ErrOutOfBounds
	}
	copy(f.d.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (f *FakeSegment) ptr32(offset uint32) (*uint32, error) {
	if uint64(offset)+4 > uint64(len(f.d.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return (*uint32)(ptrAt(f.d.data, offset)), nil
}

func (f *FakeSegment) AtomicLoad32(offset uint32) (uint32, error) {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	p, err := f.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

func (f *FakeSegment) AtomicStore32(offset uint32, val uint32) error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	p, err := f.ptr32(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, val)
	return nil
}

func (f *FakeSegment) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	p, err := f.ptr32(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32(p, old, new), nil
}

func (f *FakeSegment) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	p, err := f.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32(p, delta), nil
}

func (f *FakeSegment) Byte(offset uint32) (byte, error) {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if uint64(offset) >= uint64(len(f.d.data)) {
		return 0, ErrOutOfBounds
	}
	return f.d.data[offset], nil
}

func (f *FakeSegment) SetByte(offset uint32, b byte) error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if uint64(offset) >= uint64(len(f.d.data)) {
		return ErrOutOfBounds
	}
	f.d.data[offset] = b
	return nil
}

func (f *FakeSegment) Close() error { return nil }
