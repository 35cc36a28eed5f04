//go:build !unix

package shmseg

import (
	"errors"
	"runtime"
)

// NativeSegment is unavailable outside POSIX platforms; shmrpc's
// shared-memory transport is Unix-only by design, matching the same
// platform split kernel/threads/sab draws between hal_native.go and a
// non-native build.
type NativeSegment struct{}

func Open(name string, size uint32, mode CreateMode) (*NativeSegment, error) {
	return nil, errors.New("shmseg: native shared memory is not supported on " + runtime.GOOS)
}

func Unlink(name string) error { return nil }

func Rename(oldName, newName string) error {
	return errors.New("shmseg: native shared memory is not supported on " + runtime.GOOS)
}

func (s *NativeSegment) Name() string                                   { return "" }
func (s *NativeSegment) Size() uint32                                   { return 0 }
func (s *NativeSegment) ReadAt(offset uint32, dest []byte) error        { return ErrOutOfBounds }
func (s *NativeSegment) WriteAt(offset uint32, src []byte) error        { return ErrOutOfBounds }
func (s *NativeSegment) AtomicLoad32(offset uint32) (uint32, error)     { return 0, ErrOutOfBounds }
func (s *NativeSegment) AtomicStore32(offset uint32, val uint32) error  { return ErrOutOfBounds }
func (s *NativeSegment) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	return false, ErrOutOfBounds
}
func (s *NativeSegment) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	return 0, ErrOutOfBounds
}
func (s *NativeSegment) Byte(offset uint32) (byte, error)    { return 0, ErrOutOfBounds }
func (s *NativeSegment) SetByte(offset uint32, b byte) error { return ErrOutOfBounds }
func (s *NativeSegment) Close() error                        { return nil }
