package shmseg

import "unsafe"

// ptrAt returns a pointer to data[offset], used by FakeSegment to share
// the same atomic-pointer arithmetic the native mmap segment uses.
func ptrAt(data []byte, offset uint32) unsafe.Pointer {
	return unsafe.Pointer(&data[offset])
}
