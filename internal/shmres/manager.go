// Package shmres implements the resource manager: given (port, pid,
// qid) it produces the canonical shared-buffer and lock names, creates
// or connects to them, and tracks which worker pids are currently
// serving a port so a stalled client can tell a crashed service apart
// from a slow one.
//
// Naming and growth-factor behavior follow SHMBase.py/SHMClient.py; the
// Go-specific pool.go/roster.go additions follow
// kernel/threads/arena/buddy.go (size-class free lists) and
// MultiProcessManager.py's pid-liveness bookkeeping, respectively.
package shmres

import (
	"errors"
	"fmt"

	"github.com/shmrpc/shmrpc/internal/hybridlock"
	"github.com/shmrpc/shmrpc/internal/rpcerr"
	"github.com/shmrpc/shmrpc/internal/shmseg"
)

// DefaultBufferSize is the initial connection buffer size: the source
// (SHMClient.__init__ via create_client_resources) uses 2048 bytes.
const DefaultBufferSize = 2048

var errRosterFull = errors.New("shmres: roster is full")

// Manager is the resource manager for one service's port. It is safe
// for concurrent use by multiple client and server channels within
// the same process.
type Manager struct {
	port  int
	fake  bool
	pool  *segmentPool
	ros   *roster
	conns *connRegistry
}

// New constructs a resource manager for port. fake selects the
// in-process FakeSegment backend (tests, non-Unix builds).
func New(port int, fake bool) (*Manager, error) {
	ros, err := openRoster(port, fake)
	if err != nil {
		return nil, fmt.Errorf("shmres: open roster for port %d: %w", port, err)
	}
	conns, err := openConnRegistry(port, fake)
	if err != nil {
		_ = ros.Close()
		return nil, fmt.Errorf("shmres: open connection registry for port %d: %w", port, err)
	}
	return &Manager{port: port, fake: fake, pool: newSegmentPool(), ros: ros, conns: conns}, nil
}

func (m *Manager) openSegment(name string, size uint32, mode shmseg.CreateMode) (shmseg.Segment, error) {
	if m.fake {
		return shmseg.OpenFake(name, size, mode)
	}
	return shmseg.Open(name, size, mode)
}

func (m *Manager) unlinkSegment(name string) error {
	if m.fake {
		shmseg.UnlinkFake(name)
		return nil
	}
	return shmseg.Unlink(name)
}

func (m *Manager) renameSegment(oldName, newName string) error {
	if m.fake {
		return shmseg.RenameFake(oldName, newName)
	}
	return shmseg.Rename(oldName, newName)
}

// ClientResources bundles the three OS resources a connection owns.
type ClientResources struct {
	Buffer     shmseg.Segment
	ClientLock *hybridlock.Lock
	ServerLock *hybridlock.Lock
}

func (c *ClientResources) Close() error {
	var err error
	if e := c.Buffer.Close(); e != nil {
		err = e
	}
	if e := c.ClientLock.Close(); e != nil && err == nil {
		err = e
	}
	if e := c.ServerLock.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// CreateClientResources allocates a fresh buffer of DefaultBufferSize,
// the client lock (initial value 1, the client may proceed) and the
// server lock (initial value 0, the server must wait).
func (m *Manager) CreateClientResources(pid, qid int) (*ClientResources, error) {
	bufName := BufferName(m.port, pid, qid)

	var buf shmseg.Segment
	var err error
	if reused, _, ok := m.pool.acquire(DefaultBufferSize); ok {
		if rerr := m.renameSegment(reused, bufName); rerr == nil {
			buf, err = m.openSegment(bufName, DefaultBufferSize, shmseg.ConnectExisting)
			if err == nil {
				if zerr := zeroSegment(buf); zerr != nil {
					_ = buf.Close()
					buf, err = nil, zerr
				}
			}
		}
	}
	if buf == nil {
		buf, err = m.openSegment(bufName, DefaultBufferSize, shmseg.CreateOverwrite)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: buffer %s: %v", rpcerr.ErrResourceExhausted, bufName, err)
	}

	clientLock, err := hybridlock.New(ClientLockName(m.port, pid, qid), 1, shmseg.CreateOverwrite, m.lockOpt())
	if err != nil {
		_ = buf.Close()
		return nil, err
	}
	serverLock, err := hybridlock.New(ServerLockName(m.port, pid, qid), 0, shmseg.CreateOverwrite, m.lockOpt())
	if err != nil {
		_ = clientLock.Destroy()
		_ = buf.Close()
		return nil, err
	}

	if err := m.conns.register(pid, qid); err != nil {
		_ = serverLock.Destroy()
		_ = clientLock.Destroy()
		_ = buf.Close()
		return nil, err
	}

	return &ClientResources{Buffer: buf, ClientLock: clientLock, ServerLock: serverLock}, nil
}

// ConnectToPIDMmap maps an existing connection buffer by name.
func (m *Manager) ConnectToPIDMmap(pid, qid int) (shmseg.Segment, error) {
	name := BufferName(m.port, pid, qid)
	seg, err := m.openSegment(name, 0, shmseg.ConnectExisting)
	if err != nil {
		return nil, fmt.Errorf("shmres: connect to %s: %w", name, err)
	}
	return seg, nil
}

// CreatePIDMmap unlinks any prior buffer under (pid, qid)'s canonical
// name and creates a new one sized at 1.5x minSize.
func (m *Manager) CreatePIDMmap(minSize uint32, pid, qid int) (shmseg.Segment, error) {
	name := BufferName(m.port, pid, qid)
	newSize := uint32(float64(minSize) * 1.5)
	if newSize < minSize {
		newSize = minSize
	}

	_ = m.unlinkSegment(name)
	seg, err := m.openSegment(name, newSize, shmseg.CreateOverwrite)
	if err != nil {
		return nil, fmt.Errorf("%w: grow buffer %s to %d: %v", rpcerr.ErrResourceExhausted, name, newSize, err)
	}
	return seg, nil
}

// UnlinkClientResources destroys a connection's locks and retires its
// buffer: the buffer's OS resource is offered to the pool rather than
// unlinked outright, on the chance a same-size-class connection opens
// soon after.
func (m *Manager) UnlinkClientResources(pid, qid int) error {
	bufName := BufferName(m.port, pid, qid)

	var firstErr error
	_ = m.conns.unregister(pid, qid)
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if cl, err := hybridlock.New(ClientLockName(m.port, pid, qid), 1, shmseg.ConnectExisting, m.lockOpt()); err == nil {
		record(cl.Destroy())
	}
	if sl, err := hybridlock.New(ServerLockName(m.port, pid, qid), 0, shmseg.ConnectExisting, m.lockOpt()); err == nil {
		record(sl.Destroy())
	}

	if seg, err := m.openSegment(bufName, 0, shmseg.ConnectExisting); err == nil {
		size := seg.Size()
		record(seg.Close())
		m.pool.release(bufName, size)
	} else {
		record(m.unlinkSegment(bufName))
	}

	return firstErr
}

// RegisterServerPID marks pid as a live worker for this manager's
// port. Called once by each worker on startup.
func (m *Manager) RegisterServerPID(pid int) error {
	return m.ros.register(pid)
}

// UnregisterServerPID clears pid from the roster. Called by a worker
// as it shuts down.
func (m *Manager) UnregisterServerPID(pid int) error {
	return m.ros.unregister(pid)
}

// CheckForMissingPIDs prunes roster entries whose process no longer
// exists.
func (m *Manager) CheckForMissingPIDs() error {
	return m.ros.pruneDead()
}

// GetServerPIDs returns the currently-registered live worker pids.
func (m *Manager) GetServerPIDs() ([]int, error) {
	return m.ros.live()
}

// ListConnections returns every currently open (pid, qid) connection
// for this port, so a worker can discover clients it doesn't yet have
// a ServerChannel for.
func (m *Manager) ListConnections() ([]Conn, error) {
	return m.conns.list()
}

func (m *Manager) Close() error {
	err := m.ros.Close()
	if e := m.conns.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Fake reports whether this manager was constructed against the
// in-process FakeSegment backend. Exposed so sibling packages (e.g.
// rpcchan, connecting to a worker's already-created locks) can pick
// the matching hybridlock backend without threading a second flag
// through every constructor.
func (m *Manager) Fake() bool { return m.fake }

func (m *Manager) lockOpt() hybridlock.Option {
	if m.fake {
		return hybridlock.WithFakeSegment()
	}
	return func(*hybridlock.Lock) {}
}

func zeroSegment(seg shmseg.Segment) error {
	n := seg.Size()
	zero := make([]byte, n)
	return seg.WriteAt(0, zero)
}
