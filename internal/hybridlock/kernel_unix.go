//go:build unix

// The kernel-blocking fallback. POSIX named semaphores (sem_open) have
// no binding in the Go standard library without cgo, so the block
// phase is built from a named FIFO instead: post() is a non-blocking
// single-byte write, wait() is a deadline-bounded single-byte read.
// Both ends are named in the filesystem exactly like the segment
// itself, preserving the "named" + "kernel-blocking" + "post wakes
// one waiter" properties of a real semaphore. This substitution is
// recorded in DESIGN.md.
package hybridlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

type fifoSem struct {
	path string
	f    *os.File
}

func fifoPath(name string) string {
	dir := "/dev/shm"
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "shmrpc_sem_"+name)
}

func openKernelSem(name string, fake bool) (kernelSem, error) {
	if fake {
		return newFakeSem(name), nil
	}

	path := fifoPath(name)
	if err := unix.Mkfifo(path, 0o600); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	// O_RDWR avoids the usual FIFO rule that open(O_RDONLY) blocks
	// until a writer appears (and vice versa): this end is always
	// both, so posts and waits never depend on peer open order.
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open fifo %s: %w", path, err)
	}
	return &fifoSem{path: path, f: f}, nil
}

func (s *fifoSem) post() {
	_, _ = s.f.Write([]byte{1})
}

func (s *fifoSem) postAll() {
	// A handful of posts is enough to unblock every waiter parked on
	// this fifo; each wait() only consumes one byte.
	buf := make([]byte, 64)
	_, _ = s.f.Write(buf)
}

func (s *fifoSem) wait(ctx context.Context, remaining time.Duration, noDeadline bool) (bool, error) {
	if noDeadline {
		_ = s.f.SetReadDeadline(time.Time{})
	} else {
		_ = s.f.SetReadDeadline(time.Now().Add(remaining))
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		var b [1]byte
		n, err := s.f.Read(b[:])
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if os.IsTimeout(r.err) {
				return false, nil
			}
			return false, r.err
		}
		return r.n > 0, nil
	case <-ctx.Done():
		_ = s.f.SetReadDeadline(time.Now())
		<-done
		return false, ctx.Err()
	}
}

func (s *fifoSem) close() error {
	return s.f.Close()
}

func (s *fifoSem) unlink() error {
	err := os.Remove(s.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
