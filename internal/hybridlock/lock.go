// Package hybridlock implements a hybrid spin-then-block semaphore: a
// handful of CAS attempts against an atomic counter living in a
// shared-memory segment, falling back to a kernel-blocking wait when
// the spin phase doesn't find a permit.
//
// The spin phase follows kernel/threads/foundation/epoch.go's
// EnhancedEpoch.WaitForChange, which already does exactly this shape
// of "load, compare, yield, retry, then register for async wake" over
// a SAB-resident counter. The block phase substitutes a named FIFO for
// the POSIX named semaphore (sem_open) the source implementation
// relies on, since sem_open has no cgo-free Go binding; see DESIGN.md.
package hybridlock

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shmrpc/shmrpc/internal/rpcerr"
	"github.com/shmrpc/shmrpc/internal/shmseg"
)

const (
	offsetCounter   = 0  // int32 semaphore value
	offsetDestroyed = 4  // 0/1
	offsetWaiters   = 8  // count of blocked waiters
	segmentSize     = 16 // rounded up, 4-byte aligned fields only
)

// DefaultSpinAttempts is the bound on the spin phase's CAS attempts
// before falling back to the kernel-blocking wait; a typical
// implementation bound is in the 1000-10,000 range.
const DefaultSpinAttempts = 4000

// Lock is a named, destroy-propagating hybrid semaphore backed by a
// shared-memory segment plus a kernel-blocking fallback. Holders are
// not reference-counted: Destroy from any one holder unlinks the named
// resources regardless of how many others still have the lock open.
type Lock struct {
	name         string
	seg          shmseg.Segment
	kernel       kernelSem
	spinAttempts int
	fake         bool
}

// Option configures a Lock at creation time.
type Option func(*Lock)

// WithSpinAttempts overrides DefaultSpinAttempts.
func WithSpinAttempts(n int) Option {
	return func(l *Lock) { l.spinAttempts = n }
}

// WithFakeSegment selects the in-process FakeSegment backend instead of
// a real mmap'd region, for tests and non-Unix builds.
func WithFakeSegment() Option {
	return func(l *Lock) { l.fake = true }
}

// New creates, connects to, or recreates the named lock per mode, with
// initial counter value initial (1 = unlocked/available, 0 = locked).
func New(name string, initial int32, mode shmseg.CreateMode, opts ...Option) (*Lock, error) {
	l := &Lock{name: name, spinAttempts: DefaultSpinAttempts}
	for _, opt := range opts {
		opt(l)
	}

	var seg shmseg.Segment
	var err error
	if l.fake {
		seg, err = shmseg.OpenFake(name, segmentSize, mode)
	} else {
		seg, err = shmseg.Open(name, segmentSize, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rpcerr.ErrResourceExhausted, name, err)
	}
	l.seg = seg

	if mode == shmseg.CreateOrConnect || mode == shmseg.CreateOverwrite || mode == shmseg.CreateExclusive {
		if err := seg.AtomicStore32(offsetCounter, uint32(initial)); err != nil {
			return nil, err
		}
		if err := seg.AtomicStore32(offsetDestroyed, 0); err != nil {
			return nil, err
		}
		if err := seg.AtomicStore32(offsetWaiters, 0); err != nil {
			return nil, err
		}
	}

	kernel, err := openKernelSem(name, l.fake)
	if err != nil {
		return nil, fmt.Errorf("%w: kernel semaphore for %s: %v", rpcerr.ErrResourceExhausted, name, err)
	}
	l.kernel = kernel

	return l, nil
}

// Value returns the current counter value.
func (l *Lock) Value() (int32, error) {
	v, err := l.seg.AtomicLoad32(offsetCounter)
	return int32(v), err
}

// Destroyed reports whether any holder has called Destroy.
func (l *Lock) Destroyed() bool {
	v, err := l.seg.AtomicLoad32(offsetDestroyed)
	return err == nil && v != 0
}

// Destroy marks the lock destroyed, wakes every blocked waiter, and
// unlinks the named OS resources. Idempotent from the caller's
// perspective: the destroyed flag itself is only ever set once.
func (l *Lock) Destroy() error {
	_, _ = l.seg.AtomicCAS32(offsetDestroyed, 0, 1)
	l.kernel.postAll()
	_ = l.kernel.close()
	_ = l.seg.Close()
	if l.fake {
		shmseg.UnlinkFake(l.name)
	} else {
		_ = shmseg.Unlink(l.name)
	}
	return l.kernel.unlink()
}

// Close releases local resources (unmaps) without tearing down the
// named OS resources other processes may still hold.
func (l *Lock) Close() error {
	_ = l.kernel.close()
	return l.seg.Close()
}

// Lock acquires one permit, spinning briefly (if spin is true) before
// falling back to a kernel-blocking wait. timeout <= 0 means wait
// forever; it is a hard bound across both phases combined, not a
// separate bound per phase.
func (l *Lock) Lock(ctx context.Context, timeout time.Duration, spin bool) error {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if spin {
		for i := 0; i < l.spinAttempts; i++ {
			if l.Destroyed() {
				return rpcerr.ErrDestroyed
			}
			cur, err := l.seg.AtomicLoad32(offsetCounter)
			if err != nil {
				return err
			}
			if int32(cur) >= 1 {
				ok, err := l.seg.AtomicCAS32(offsetCounter, cur, cur-1)
				if err != nil {
					return err
				}
				if ok {
					return nil
				}
			}
			runtime.Gosched()
		}
	}

	return l.blockingLock(ctx, deadline)
}

func (l *Lock) blockingLock(ctx context.Context, deadline time.Time) error {
	if _, err := l.seg.AtomicAdd32(offsetWaiters, 1); err != nil {
		return err
	}
	defer l.seg.AtomicAdd32(offsetWaiters, ^uint32(0)) // -1

	for {
		if l.Destroyed() {
			return rpcerr.ErrDestroyed
		}

		cur, err := l.seg.AtomicLoad32(offsetCounter)
		if err != nil {
			return err
		}
		if int32(cur) >= 1 {
			ok, err := l.seg.AtomicCAS32(offsetCounter, cur, cur-1)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			continue
		}

		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return rpcerr.ErrTimeout
			}
		}

		woke, err := l.kernel.wait(ctx, remaining, deadline.IsZero())
		if err != nil {
			return err
		}
		if !woke {
			return rpcerr.ErrTimeout
		}
		if l.Destroyed() {
			return rpcerr.ErrDestroyed
		}
		// Loop back to retry the CAS; the post only promises "a permit
		// may now be available", not that this waiter specifically won it.
	}
}

// Unlock releases one permit and, if there are blocked waiters, posts
// the kernel semaphore once. The counter increment happens-before the
// post so a woken waiter always observes the new value.
func (l *Lock) Unlock() error {
	if _, err := l.seg.AtomicAdd32(offsetCounter, 1); err != nil {
		return err
	}
	waiters, err := l.seg.AtomicLoad32(offsetWaiters)
	if err != nil {
		return err
	}
	if waiters > 0 {
		l.kernel.post()
	}
	return nil
}
