// Package tcprpc is a minimal TCP fallback transport: a plain
// length-prefixed request/response stream satisfying the same
// cmd/args -> status/data contract as internal/rpcchan, for callers that
// aren't on the same host as the worker. It does not implement any
// handoff-tag protocol, pooling, or reconnect logic; it is a fallback,
// not a second tier of the real transport.
//
// Deliberately scoped down (no mesh routing, no gossip, no UI) from
// a now-deleted mesh transport package's general shape of a
// Send/Serve pair over a stream socket, generalized away from
// WebRTC/WebSocket framing to this port's own binary frame.
package tcprpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/shmrpc/shmrpc/internal/codec"
)

// Dispatch handles one decoded request and returns a response.
type Dispatch func(cmd, args []byte) (status byte, data []byte)

// Server listens on a TCP address and serves Dispatch for each
// connection, one goroutine per connection, one request at a time per
// connection (no pipelining, matching the worker's per-channel model).
type Server struct {
	ln         net.Listener
	dispatch   Dispatch
	compressor codec.Compressor
	log        *slog.Logger
}

// Listen binds addr and returns a Server ready for Serve. compressor
// may be nil to disable wire compression (the `tcp_compression: false`
// config case).
func Listen(addr string, dispatch Dispatch, compressor codec.Compressor, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcprpc: listen %s: %w", addr, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{ln: ln, dispatch: dispatch, compressor: compressor, log: log}, nil
}

// Addr returns the server's bound address, useful when addr was
// ":0" and the OS picked the port.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("tcprpc: accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		cmd, args, err := readRequest(conn, s.compressor)
		if err != nil {
			if err != io.EOF {
				s.log.Warn("tcprpc: read request failed", "remote", conn.RemoteAddr(), "err", err)
			}
			return
		}

		status, data := s.dispatch(cmd, args)
		if err := writeResponse(conn, status, data, s.compressor); err != nil {
			s.log.Warn("tcprpc: write response failed", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// Send dials addr, sends one request, and returns the decoded response.
// One connection per call: this transport trades connection-setup
// latency for simplicity, appropriate for a fallback path rather than
// the hot one.
func Send(ctx context.Context, addr string, cmd string, args []byte, timeout time.Duration, compressor codec.Compressor) (status byte, data []byte, err error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, nil, fmt.Errorf("tcprpc: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := writeRequest(conn, []byte(cmd), args, compressor); err != nil {
		return 0, nil, err
	}
	return readResponse(conn, compressor)
}

func writeRequest(w io.Writer, cmd, args []byte, compressor codec.Compressor) error {
	var err error
	if compressor != nil {
		if args, err = compressor.Compress(args); err != nil {
			return fmt.Errorf("tcprpc: compress args: %w", err)
		}
	}

	var header [6]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(len(cmd)))
	binary.BigEndian.PutUint32(header[2:6], uint32(len(args)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(cmd); err != nil {
		return err
	}
	_, err = w.Write(args)
	return err
}

func readRequest(r io.Reader, compressor codec.Compressor) (cmd, args []byte, err error) {
	var header [6]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, nil, err
	}
	cmdLen := binary.BigEndian.Uint16(header[0:2])
	argsLen := binary.BigEndian.Uint32(header[2:6])

	cmd = make([]byte, cmdLen)
	if _, err := io.ReadFull(r, cmd); err != nil {
		return nil, nil, err
	}
	args = make([]byte, argsLen)
	if _, err := io.ReadFull(r, args); err != nil {
		return nil, nil, err
	}

	if compressor != nil {
		if args, err = compressor.Decompress(args); err != nil {
			return nil, nil, fmt.Errorf("tcprpc: decompress args: %w", err)
		}
	}
	return cmd, args, nil
}

func writeResponse(w io.Writer, status byte, data []byte, compressor codec.Compressor) error {
	var err error
	if compressor != nil {
		if data, err = compressor.Compress(data); err != nil {
			return fmt.Errorf("tcprpc: compress response: %w", err)
		}
	}

	var header [5]byte
	header[0] = status
	binary.BigEndian.PutUint32(header[1:5], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readResponse(r io.Reader, compressor codec.Compressor) (status byte, data []byte, err error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	status = header[0]
	dataLen := binary.BigEndian.Uint32(header[1:5])
	data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}

	if compressor != nil {
		if data, err = compressor.Decompress(data); err != nil {
			return 0, nil, fmt.Errorf("tcprpc: decompress response: %w", err)
		}
	}
	return status, data, nil
}
