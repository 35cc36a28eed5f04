// Package shmseg provides the shared-memory segment abstraction every
// other package in shmrpc builds on: a named, byte-addressable region
// with atomic 32-bit load/store/add, backed either by a real POSIX
// shared-memory mapping (Linux/BSD, via mmap of a /dev/shm-resident
// file) or by a plain heap buffer for tests and non-Unix builds.
//
// Adapted from kernel/threads/sab's HAL: its MemoryProvider abstracted
// a browser SharedArrayBuffer vs. a local mmap; here the same
// interface abstracts a real POSIX shared-memory mapping vs. an
// in-process fake, which is all a single-host RPC framework needs.
package shmseg

import "errors"

// ErrOutOfBounds is returned when an access would read or write past
// the end of the segment.
var ErrOutOfBounds = errors.New("shmseg: offset out of bounds")

// ErrMisaligned is returned by the Atomic* methods when offset is not
// a multiple of 4.
var ErrMisaligned = errors.New("shmseg: offset is not 4-byte aligned")

// Segment abstracts a named block of memory shared across processes.
type Segment interface {
	// Name is the well-known OS-namespace name this segment was
	// created or connected under.
	Name() string
	// Size returns the current size of the segment in bytes.
	Size() uint32
	// ReadAt copies len(dest) bytes starting at offset into dest.
	ReadAt(offset uint32, dest []byte) error
	// WriteAt copies src into the segment starting at offset.
	WriteAt(offset uint32, src []byte) error
	// AtomicLoad32 atomically loads a uint32 at offset.
	AtomicLoad32(offset uint32) (uint32, error)
	// AtomicStore32 atomically stores val at offset.
	AtomicStore32(offset uint32, val uint32) error
	// AtomicCAS32 attempts offset: old -> new, reporting success.
	AtomicCAS32(offset uint32, old, new uint32) (bool, error)
	// AtomicAdd32 atomically adds delta to the value at offset and
	// returns the new value.
	AtomicAdd32(offset uint32, delta uint32) (uint32, error)
	// Byte reads a single byte (used for the one-byte handoff tag).
	Byte(offset uint32) (byte, error)
	// SetByte writes a single byte. It is a plain store, not an atomic
	// one: visibility to other processes comes from the paired lock
	// operations around it.
	SetByte(offset uint32, b byte) error
	// Close unmaps (but does not unlink) the segment.
	Close() error
}

// CreateMode selects the semantics of opening a named OS resource: a
// fresh resource may be required, an existing one may be required, or
// either may be acceptable.
type CreateMode int

const (
	// CreateOrConnect creates the resource if absent, or connects to
	// whatever already exists under that name.
	CreateOrConnect CreateMode = iota
	// ConnectExisting fails if the name is not already present.
	ConnectExisting
	// CreateOverwrite unlinks any prior resource under the same name
	// before creating a fresh one.
	CreateOverwrite
	// CreateExclusive fails if the name already exists.
	CreateExclusive
)

var (
	// ErrAlreadyExists is returned by CreateExclusive when the name is
	// already present.
	ErrAlreadyExists = errors.New("shmseg: already exists")
	// ErrNoSuchSegment is returned by ConnectExisting when the name is
	// absent.
	ErrNoSuchSegment = errors.New("shmseg: no such segment")
)
