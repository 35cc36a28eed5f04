//go:build unix

// Adapted from kernel/threads/sab/hal_native.go: a memory-mapped,
// POSIX shared-memory-backed MemoryProvider. Here it is
// generalized from a single fixed-path SAB region into named,
// independently creatable/connectable/unlinkable regions, since a
// local RPC framework needs one such region per channel buffer plus
// two more per channel lock.
package shmseg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// shmDir is the directory POSIX shared-memory-backed segments are
// created under. /dev/shm is the conventional tmpfs mount on Linux;
// falling back to TempDir keeps the framework usable in sandboxes that
// don't provide /dev/shm.
func shmDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// pathFor maps a shmrpc resource name to the backing file path.
func pathFor(name string) string {
	return filepath.Join(shmDir(), "shmrpc_"+name)
}

// NativeSegment is a Segment backed by an mmap'd, named file in shared
// memory.
type NativeSegment struct {
	name string
	file *os.File
	data []byte
}

// Open creates, connects to, or recreates a named shared-memory
// segment per mode, sizing it to size bytes when creation is required.
func Open(name string, size uint32, mode CreateMode) (*NativeSegment, error) {
	path := pathFor(name)

	switch mode {
	case CreateExclusive:
		if _, err := os.Stat(path); err == nil {
			return nil, ErrAlreadyExists
		}
		return create(name, path, size)

	case ConnectExisting:
		if _, err := os.Stat(path); err != nil {
			return nil, ErrNoSuchSegment
		}
		return connect(name, path)

	case CreateOverwrite:
		_ = os.Remove(path)
		return create(name, path, size)

	default: // CreateOrConnect
		if _, err := os.Stat(path); err == nil {
			return connect(name, path)
		}
		return create(name, path, size)
	}
}

func create(name, path string, size uint32) (*NativeSegment, error) {
	if size == 0 {
		return nil, errors.New("shmseg: size required when creating")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmseg: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shmseg: truncate %s: %w", path, err)
	}
	return mapFile(name, f, size)
}

func connect(name, path string) (*NativeSegment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmseg: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shmseg: stat %s: %w", path, err)
	}
	return mapFile(name, f, uint32(info.Size()))
}

func mapFile(name string, f *os.File, size uint32) (*NativeSegment, error) {
	if size == 0 {
		_ = f.Close()
		return nil, errors.New("shmseg: zero-size segment")
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shmseg: mmap: %w", err)
	}
	return &NativeSegment{name: name, file: f, data: data}, nil
}

// Unlink removes the backing file for name, if present. Used when a
// channel or lock is torn down.
func Unlink(name string) error {
	err := os.Remove(pathFor(name))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Rename repoints a segment's backing file from oldName to newName
// without a fresh truncate+mmap, so a retiring connection's buffer can
// be handed to a new one under a different canonical name. The caller
// must not hold either name mapped at the time of the call.
func Rename(oldName, newName string) error {
	return os.Rename(pathFor(oldName), pathFor(newName))
}

func (s *NativeSegment) Name() string { return s.name }
func (s *NativeSegment) Size() uint32 { return uint32(len(s.data)) }

func (s *NativeSegment) ReadAt(offset uint32, dest []byte) error {
	if uint64(offset)+uint64(len(dest)) > uint64(len(s.data)) {
		return ErrOutOfBounds
	}
	copy(dest, s.data[offset:offset+uint32(len(dest))])
	return nil
}

func (s *NativeSegment) WriteAt(offset uint32, src []byte) error {
	if uint64(offset)+uint64(len(src)) > uint64(len(s.data)) {
		return ErrOutOfBounds
	}
	copy(s.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (s *NativeSegment) ptr32(offset uint32) (*uint32, error) {
	if uint64(offset)+4 > uint64(len(s.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return (*uint32)(unsafe.Pointer(&s.data[offset])), nil
}

func (s *NativeSegment) AtomicLoad32(offset uint32) (uint32, error) {
	p, err := s.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

func (s *NativeSegment) AtomicStore32(offset uint32, val uint32) error {
	p, err := s.ptr32(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, val)
	return nil
}

func (s *NativeSegment) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	p, err := s.ptr32(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32(p, old, new), nil
}

func (s *NativeSegment) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	p, err := s.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32(p, delta), nil
}

// Byte and SetByte deliberately do not use atomic instructions: the
// handoff tag's visibility across processes is established by the
// paired lock operations around it, not by the tag access itself.
func (s *NativeSegment) Byte(offset uint32) (byte, error) {
	if uint64(offset) >= uint64(len(s.data)) {
		return 0, ErrOutOfBounds
	}
	return s.data[offset], nil
}

func (s *NativeSegment) SetByte(offset uint32, b byte) error {
	if uint64(offset) >= uint64(len(s.data)) {
		return ErrOutOfBounds
	}
	s.data[offset] = b
	return nil
}

func (s *NativeSegment) Close() error {
	var err error
	if s.data != nil {
		if e := syscall.Munmap(s.data); e != nil {
			err = e
		}
		s.data = nil
	}
	if s.file != nil {
		if e := s.file.Close(); e != nil && err == nil {
			err = e
		}
		s.file = nil
	}
	return err
}
