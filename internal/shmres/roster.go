package shmres

import (
	"os"

	"github.com/shmrpc/shmrpc/internal/shmseg"
)

// rosterSlots bounds how many concurrently-live worker processes one
// service's roster can track. Generous relative to any realistic
// max_proc_num; a fixed-size segment avoids the roster itself needing
// the grow/INVALID dance the connection buffers do.
const rosterSlots = 256

const rosterSlotSize = 4 // one int32 pid per slot, 0 = empty

// roster tracks which worker pids are currently registered as serving
// a given port, backed by a shared-memory segment so a client process
// can discover live workers without talking to the supervisor
// directly. This implements check_for_missing_pids/get_server_pids;
// the slot-table shape follows the same "fixed array of pids,
// liveness checked by signal probe" approach MultiProcessManager.py
// already uses for its own LPIDs bookkeeping.
type roster struct {
	seg shmseg.Segment
}

func openRoster(port int, fake bool) (*roster, error) {
	name := rosterName(port)
	size := uint32(rosterSlots * rosterSlotSize)

	var seg shmseg.Segment
	var err error
	if fake {
		seg, err = shmseg.OpenFake(name, size, shmseg.CreateOrConnect)
	} else {
		seg, err = shmseg.Open(name, size, shmseg.CreateOrConnect)
	}
	if err != nil {
		return nil, err
	}
	return &roster{seg: seg}, nil
}

// register adds pid to the first empty slot. Idempotent: a pid already
// present is left alone.
func (r *roster) register(pid int) error {
	target := uint32(pid)
	firstEmpty := uint32(0)
	haveEmpty := false

	for i := uint32(0); i < rosterSlots; i++ {
		off := i * rosterSlotSize
		v, err := r.seg.AtomicLoad32(off)
		if err != nil {
			return err
		}
		if v == target {
			return nil
		}
		if v == 0 && !haveEmpty {
			firstEmpty, haveEmpty = off, true
		}
	}
	if !haveEmpty {
		return errRosterFull
	}
	_, err := r.seg.AtomicCAS32(firstEmpty, 0, target)
	return err
}

// unregister clears pid's slot, if present.
func (r *roster) unregister(pid int) error {
	target := uint32(pid)
	for i := uint32(0); i < rosterSlots; i++ {
		off := i * rosterSlotSize
		v, err := r.seg.AtomicLoad32(off)
		if err != nil {
			return err
		}
		if v == target {
			_, err := r.seg.AtomicCAS32(off, target, 0)
			return err
		}
	}
	return nil
}

// pruneDead clears any registered pid that is no longer alive.
func (r *roster) pruneDead() error {
	for i := uint32(0); i < rosterSlots; i++ {
		off := i * rosterSlotSize
		v, err := r.seg.AtomicLoad32(off)
		if err != nil {
			return err
		}
		if v == 0 {
			continue
		}
		if !pidAlive(int(v)) {
			_, _ = r.seg.AtomicCAS32(off, v, 0)
		}
	}
	return nil
}

// live returns every currently-registered, live pid.
func (r *roster) live() ([]int, error) {
	var out []int
	for i := uint32(0); i < rosterSlots; i++ {
		off := i * rosterSlotSize
		v, err := r.seg.AtomicLoad32(off)
		if err != nil {
			return nil, err
		}
		if v != 0 {
			out = append(out, int(v))
		}
	}
	return out, nil
}

func (r *roster) Close() error { return r.seg.Close() }

// pidAlive reports whether pid names a currently-running process.
// Signal 0 on Unix probes existence without actually signaling it;
// see kernel_unix.go's fifoSem for the sibling case of a POSIX
// primitive with no cgo-free stdlib binding - this one, unlike
// sem_open, degrades gracefully: os.FindProcess never fails on Unix,
// so the real test is the Signal call.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return signal0(proc) == nil
}
