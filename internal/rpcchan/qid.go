package rpcchan

import "sync"

// QidAllocator hands out per-process monotonic qids, scoped by port,
// so a single pid can hold multiple concurrent connections to the
// same service: qid is a per-process monotonic integer distinguishing
// concurrent connections from the same pid.
// Adapted from SHMClient.py's module-level _DQIds dict, reimplemented
// as an explicit registry value guarded by one lock rather than a
// package global.
type QidAllocator struct {
	mu   sync.Mutex
	next map[int]int
}

// NewQidAllocator constructs an empty allocator. One instance should be
// shared by every client connection a process makes.
func NewQidAllocator() *QidAllocator {
	return &QidAllocator{next: map[int]int{}}
}

// Next returns the next qid for port, starting at 1.
func (a *QidAllocator) Next(port int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[port]++
	return a.next[port]
}
