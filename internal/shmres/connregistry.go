package shmres

import "github.com/shmrpc/shmrpc/internal/shmseg"

// connRegistrySlots bounds how many concurrently-open client
// connections one port's registry can track.
const connRegistrySlots = 1024
const connSlotSize = 8 // pid (u32) + qid (u32)

// connRegistryName is the shared-memory region a service's currently
// open (pid, qid) connections are listed under. A worker maintains one
// server-side channel per connected client (pid, qid), but nothing
// upstream specifies how a worker learns a new connection exists;
// SHMResourceManager.py likely held this and was filtered out of the
// retained sources, so this registry is a reconstruction of that gap,
// recorded in DESIGN.md.
func connRegistryName(port int) string {
	return rosterName(port) + "_conns"
}

type connRegistry struct {
	seg shmseg.Segment
}

func openConnRegistry(port int, fake bool) (*connRegistry, error) {
	name := connRegistryName(port)
	size := uint32(connRegistrySlots * connSlotSize)

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
	return &connRegistry{seg: seg}, nil
}

// Conn identifies one open client connection.
type Conn struct {
	Pid, Qid int
}

func (r *connRegistry) register(pid, qid int) error {
	firstEmpty := uint32(0)
	haveEmpty := false

	for i := uint32(0); i < connRegistrySlots; i++ {
		off := i * connSlotSize
		p, err := r.seg.AtomicLoad32(off)
		if err != nil {
			return err
		}
		q, err := r.seg.AtomicLoad32(off + 4)
		if err != nil {
			return err
		}
		if p == uint32(pid) && q == uint32(qid) {
			return nil
		}
		if p == 0 && q == 0 && !haveEmpty {
			firstEmpty, haveEmpty = off, true
		}
	}
	if !haveEmpty {
		return errRosterFull
	}
	if err := r.seg.AtomicStore32(firstEmpty+4, uint32(qid)); err != nil {
		return err
	}
	_, err := r.seg.AtomicCAS32(firstEmpty, 0, uint32(pid))
	return err
}

func (r *connRegistry) unregister(pid, qid int) error {
	for i := uint32(0); i < connRegistrySlots; i++ {
		off := i * connSlotSize
		p, err := r.seg.AtomicLoad32(off)
		if err != nil {
			return err
		}
		q, err := r.seg.AtomicLoad32(off + 4)
		if err != nil {
			return err
		}
		if p == uint32(pid) && q == uint32(qid) {
			if _, err := r.seg.AtomicCAS32(off, p, 0); err != nil {
				return err
			}
			return r.seg.AtomicStore32(off+4, 0)
		}
	}
	return nil
}

func (r *connRegistry) list() ([]Conn, error) {
	var out []Conn
	for i := uint32(0); i < connRegistrySlots; i++ {
		off := i * connSlotSize
		p, err := r.seg.AtomicLoad32(off)
		if err != nil {
			return nil, err
		}
		q, err := r.seg.AtomicLoad32(off + 4)
		if err != nil {
			return nil, err
		}
		if p != 0 || q != 0 {
			out = append(out, Conn{Pid: int(p), Qid: int(q)})
		}
	}
	return out, nil
}

func (r *connRegistry) Close() error { return r.seg.Close() }
