package rpcchan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shmrpc/shmrpc/internal/hybridlock"
	"github.com/shmrpc/shmrpc/internal/rpcerr"
	"github.com/shmrpc/shmrpc/internal/shmres"
	"github.com/shmrpc/shmrpc/internal/shmseg"
)

// stallWarnAfter is how long the client spins on a PENDING tag before
// it bothers checking whether any server is still alive: after ~100ms
// without progress.
const stallWarnAfter = 100 * time.Millisecond

// maxReconnectAttempts bounds the INVALID-tag retry loop so a
// pathologically fast sequence of server-side resizes can't livelock
// the client.
const maxReconnectAttempts = 1000

// ClientChannel is a client's end of one (pid, qid) connection.
type ClientChannel struct {
	port, pid, qid int
	buf            shmseg.Segment
	clientLock     *hybridlock.Lock
	serverLock     *hybridlock.Lock
	res            *shmres.Manager
	log            *slog.Logger
	useSpin        bool
}

// NewClientChannel creates the OS resources for a new connection and
// returns a ready-to-use channel. pid is almost always the calling
// process's own pid; qid should come from a shared QidAllocator.
func NewClientChannel(res *shmres.Manager, port, pid, qid int, useSpin bool, log *slog.Logger) (*ClientChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	r, err := res.CreateClientResources(pid, qid)
	if err != nil {
		return nil, err
	}
	return &ClientChannel{
		port: port, pid: pid, qid: qid,
		buf: r.Buffer, clientLock: r.ClientLock, serverLock: r.ServerLock,
		res: res, log: log, useSpin: useSpin,
	}, nil
}

// Close releases local handles without tearing down the named OS
// resources; call Unlink to retire the connection for good.
func (c *ClientChannel) Close() error {
	var err error
	if e := c.buf.Close(); e != nil {
		err = e
	}
	if e := c.clientLock.Close(); e != nil && err == nil {
		err = e
	}
	if e := c.serverLock.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Unlink tears down this connection's locks and buffer for good.
// Should be called once, when the client is done with the service.
func (c *ClientChannel) Unlink() error {
	return c.res.UnlinkClientResources(c.pid, c.qid)
}

// Send performs one RPC call: acquire the client lock, hand the
// request to the server side, wait for a reply, and return its
// payload. timeout <= 0 waits forever. Implements the full send
// procedure, including the grow/INVALID protocol on both ends and the
// 100ms stall probe.
func (c *ClientChannel) Send(ctx context.Context, cmd, args []byte, timeout time.Duration) ([]byte, error) {
	if err := c.clientLock.Lock(ctx, timeout, c.useSpin); err != nil {
		return nil, err
	}
	defer func() {
		// Balances both the Lock above and the one readReplyWithReconnect
		// takes to wait for the server's reply-ready post, so the lock
		// ends the call at the same value it started with, on every
		// path including errors, so the connection doesn't wedge future
		// calls.
		_ = c.clientLock.Unlock()
	}()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	encoded := encodeRequest(cmd, args)
	if err := c.ensureCapacity(frameOffset + len(encoded)); err != nil {
		return nil, err
	}

	if err := c.buf.WriteAt(frameOffset, encoded); err != nil {
		return nil, err
	}
	if err := c.buf.SetByte(tagOffset, byte(TagPending)); err != nil {
		return nil, err
	}
	// Unlocking the server lock publishes everything written above,
	// per the paired-lock memory-visibility rule.
	if err := c.serverLock.Unlock(); err != nil {
		return nil, err
	}

	if err := c.waitForReply(deadline); err != nil {
		return nil, err
	}

	return c.readReplyWithReconnect(ctx, deadline)
}

// ensureCapacity grows the connection buffer if the encoded request
// wouldn't fit, asking CreatePIDMmap for 2x the frame size (which it
// grows by a further 1.5x, so 3x in all), carrying the current tag byte
// across and marking the retired buffer INVALID.
func (c *ClientChannel) ensureCapacity(need int) error {
	if uint32(need) < c.buf.Size() {
		return nil
	}
	oldTag, err := c.buf.Byte(tagOffset)
	if err != nil {
		return err
	}
	grown, err := c.res.CreatePIDMmap(uint32(2*need), c.pid, c.qid)
	if err != nil {
		return err
	}
	if err := grown.SetByte(tagOffset, oldTag); err != nil {
		_ = grown.Close()
		return err
	}
	if err := c.buf.SetByte(tagOffset, byte(TagInvalid)); err != nil {
		_ = grown.Close()
		return err
	}
	_ = c.buf.Close()
	c.buf = grown
	return nil
}

// waitForReply spins on the tag byte while it reads PENDING, probing
// for live workers after a stall and honoring the caller's deadline.
func (c *ClientChannel) waitForReply(deadline time.Time) error {
	start := time.Now()
	checkedServerExists := false

	for {
		tag, err := c.buf.Byte(tagOffset)
		if err != nil {
			return err
		}
		if Tag(tag) != TagPending {
			return nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return rpcerr.ErrTimeout
		}

		if !checkedServerExists && time.Since(start) > stallWarnAfter {
			checkedServerExists = true
			_ = c.res.CheckForMissingPIDs()
			pids, _ := c.res.GetServerPIDs()
			if len(pids) == 0 {
				c.log.Warn("no live worker processes found for service",
					"pid", c.pid, "qid", c.qid, "port", c.port)
			}
		}

		time.Sleep(time.Millisecond)
	}
}

// readReplyWithReconnect blocks on the client lock for the reply the
// server posts at the end of handleOne, then interprets the tag,
// following the reconnect loop on INVALID. The lock is acquired once:
// the server only posts it once per call, and by the time it does the
// reply (or, on a mid-call resize, the INVALID marker plus the fully
// written reply in the grown buffer) is already in place, so retrying
// after a reconnect only needs to re-read the tag, not re-acquire the
// lock. Send's deferred Unlock balances this single Lock.
func (c *ClientChannel) readReplyWithReconnect(ctx context.Context, deadline time.Time) ([]byte, error) {
	if err := c.clientLock.Lock(ctx, 0, c.useSpin); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		tag, err := c.buf.Byte(tagOffset)
		if err != nil {
			return nil, err
		}

		switch Tag(tag) {
		case TagClient:
			raw, err := c.readAll()
			if err != nil {
				return nil, err
			}
			resp, err := decodeResponse(raw)
			if err != nil {
				return nil, err
			}
			return c.interpretResponse(resp)

		case TagInvalid:
			if err := c.reconnect(); err != nil {
				return nil, err
			}
			continue

		default:
			return nil, fmt.Errorf("%w: tag %q", ErrProtocolState, tag)
		}
	}
	return nil, fmt.Errorf("rpcchan: exceeded %d reconnect attempts", maxReconnectAttempts)
}

func (c *ClientChannel) readAll() ([]byte, error) {
	buf := make([]byte, c.buf.Size()-frameOffset)
	if err := c.buf.ReadAt(frameOffset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *ClientChannel) reconnect() error {
	prevSize := c.buf.Size()
	_ = c.buf.Close()
	grown, err := c.res.ConnectToPIDMmap(c.pid, c.qid)
	if err != nil {
		return err
	}
	if grown.Size() <= prevSize {
		_ = grown.Close()
		return fmt.Errorf("rpcchan: reconnected buffer did not grow: %d <= %d", grown.Size(), prevSize)
	}
	c.buf = grown
	return nil
}

func (c *ClientChannel) interpretResponse(resp response) ([]byte, error) {
	switch resp.Status {
	case StatusOK:
		return resp.Data, nil
	case StatusError:
		return nil, rpcerr.ParseException(string(resp.Data))
	default:
		return nil, ErrUnknownStatus
	}
}
