package rpcchan

import (
	"context"
	"log/slog"

	"github.com/shmrpc/shmrpc/internal/hybridlock"
	"github.com/shmrpc/shmrpc/internal/shmres"
	"github.com/shmrpc/shmrpc/internal/shmseg"
)

// HeartbeatCmd and ShutdownCmd are the two special commands every
// server channel recognizes before consulting the method table.
const (
	HeartbeatCmd = "heartbeat"
	ShutdownCmd  = "shutdown"
)

// Dispatch resolves one request to a response. status must be
// StatusOK or StatusError; on StatusError, data should already be
// formatted as "ExceptionName(repr-of-args)". shutdown asks Serve to
// return after this reply is delivered.
type Dispatch func(cmd, args []byte) (status byte, data []byte, shutdown bool)

// ServerChannel is a worker's end of one client's (pid, qid)
// connection: it blocks on the server lock, decodes a request,
// invokes Dispatch, and writes the reply back.
type ServerChannel struct {
	port, pid, qid int
	buf            shmseg.Segment
	clientLock     *hybridlock.Lock
	serverLock     *hybridlock.Lock
	res            *shmres.Manager
	log            *slog.Logger
	useSpin        bool
}

// NewServerChannel connects to a client's already-created resources
// (CreateClientResources runs on the client side; the worker only
// connects).
func NewServerChannel(res *shmres.Manager, port, pid, qid int, useSpin bool, log *slog.Logger) (*ServerChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	buf, err := res.ConnectToPIDMmap(pid, qid)
	if err != nil {
		return nil, err
	}
	clientLock, err := hybridlock.New(ClientLockName(port, pid, qid), 1, shmseg.ConnectExisting, serverSideLockOpt(res))
	if err != nil {
		_ = buf.Close()
		return nil, err
	}
	serverLock, err := hybridlock.New(ServerLockName(port, pid, qid), 0, shmseg.ConnectExisting, serverSideLockOpt(res))
	if err != nil {
		_ = clientLock.Close()
		_ = buf.Close()
		return nil, err
	}
	return &ServerChannel{
		port: port, pid: pid, qid: qid,
		buf: buf, clientLock: clientLock, serverLock: serverLock,
		res: res, log: log, useSpin: useSpin,
	}, nil
}

func (s *ServerChannel) Close() error {
	var err error
	if e := s.buf.Close(); e != nil {
		err = e
	}
	if e := s.clientLock.Close(); e != nil && err == nil {
		err = e
	}
	if e := s.serverLock.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Serve blocks on the server lock and processes one request at a
// time until ctx is canceled, an unrecoverable protocol error occurs,
// or dispatch signals shutdown. One ServerChannel corresponds to one
// client connection: a worker runs one of these per connected (pid,
// qid), using a thread/goroutine per connection.
func (s *ServerChannel) Serve(ctx context.Context, dispatch Dispatch) error {
	for {
		if err := s.serverLock.Lock(ctx, 0, s.useSpin); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		shutdown, err := s.handleOne(dispatch)
		if err != nil {
			_ = s.clientLock.Unlock()
			return err
		}
		if shutdown {
			return nil
		}
	}
}

// handleOne decodes the pending request, dispatches it, writes the
// reply, and flips the tag to CLIENT, unlocking the client lock so the
// caller wakes. If the client marked this side's buffer INVALID while
// growing it for the request, handleOne remaps by name first. Mirrors
// ClientChannel.ensureCapacity's grow/INVALID dance for the reply leg:
// if the reply does not fit, the server follows the same grow/INVALID
// protocol as the client.
func (s *ServerChannel) handleOne(dispatch Dispatch) (shutdown bool, err error) {
	tag, err := s.buf.Byte(tagOffset)
	if err != nil {
		return false, err
	}
	if Tag(tag) == TagInvalid {
		// The client grew the buffer for this request: the request is
		// in the new buffer under the same name, so remap before reading.
		grown, err := s.res.ConnectToPIDMmap(s.pid, s.qid)
		if err != nil {
			return false, err
		}
		_ = s.buf.Close()
		s.buf = grown
	}

	raw := make([]byte, s.buf.Size()-frameOffset)
	if err := s.buf.ReadAt(frameOffset, raw); err != nil {
		return false, err
	}
	req, err := decodeRequest(raw)
	if err != nil {
		return false, err
	}

	status, data, shutdownReq := s.dispatchSpecial(req, dispatch)

	encoded := encodeResponse(status, data)
	if err := s.ensureCapacity(frameOffset + len(encoded)); err != nil {
		return false, err
	}
	if err := s.buf.WriteAt(frameOffset, encoded); err != nil {
		return false, err
	}
	if err := s.buf.SetByte(tagOffset, byte(TagClient)); err != nil {
		return false, err
	}
	if err := s.clientLock.Unlock(); err != nil {
		return false, err
	}
	return shutdownReq, nil
}

func (s *ServerChannel) dispatchSpecial(req request, dispatch Dispatch) (status byte, data []byte, shutdown bool) {
	switch string(req.Cmd) {
	case HeartbeatCmd:
		return StatusOK, req.Args, false
	case ShutdownCmd:
		return StatusOK, nil, true
	default:
		return dispatch(req.Cmd, req.Args)
	}
}

func (s *ServerChannel) ensureCapacity(need int) error {
	if uint32(need) < s.buf.Size() {
		return nil
	}
	oldTag, err := s.buf.Byte(tagOffset)
	if err != nil {
		return err
	}
	grown, err := s.res.CreatePIDMmap(uint32(2*need), s.pid, s.qid)
	if err != nil {
		return err
	}
	if err := grown.SetByte(tagOffset, oldTag); err != nil {
		_ = grown.Close()
		return err
	}
	if err := s.buf.SetByte(tagOffset, byte(TagInvalid)); err != nil {
		_ = grown.Close()
		return err
	}
	_ = s.buf.Close()
	s.buf = grown
	return nil
}

func serverSideLockOpt(res *shmres.Manager) hybridlock.Option {
	if res.Fake() {
		return hybridlock.WithFakeSegment()
	}
	return func(*hybridlock.Lock) {}
}
