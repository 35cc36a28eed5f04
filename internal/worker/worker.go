// Package worker implements the long-running service process: it
// hosts a service's method table, one ServerChannel per connected
// client, reports liveness and stats to its supervisor, and shuts down
// gracefully on interrupt.
//
// The overall shape (main loop dispatching by command, heartbeat/
// shutdown special-cased) follows SHMServer.py, generalized to a
// per-connection-channel model — one goroutine per connected client —
// instead of a single shared inbound queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shmrpc/shmrpc/internal/codec"
	"github.com/shmrpc/shmrpc/internal/rpcchan"
	"github.com/shmrpc/shmrpc/internal/rpcerr"
	"github.com/shmrpc/shmrpc/internal/shmres"
	"github.com/shmrpc/shmrpc/internal/statspb"
)

// pollInterval is how often the worker checks for newly opened client
// connections it doesn't yet have a ServerChannel for.
const pollInterval = 50 * time.Millisecond

// heartbeatInterval is how often the worker republishes its telemetry.
const heartbeatInterval = 2 * time.Second

// Worker hosts one service's method table and serves every client
// connection currently open on its port.
type Worker struct {
	port    int
	methods MethodTable
	res     *shmres.Manager
	log     *slog.Logger
	useSpin bool

	stats     *statTracker
	telemetry *telemetryChannel

	mu     sync.Mutex
	served map[shmres.Conn]context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Worker for port, dispatching to methods. useSpin
// selects whether server channels spin before blocking, matching the
// use_spinlock option on the client side.
func New(port int, methods MethodTable, res *shmres.Manager, useSpin bool, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		port: port, methods: methods, res: res, log: log, useSpin: useSpin,
		stats:  newStatTracker(),
		served: map[shmres.Conn]context.CancelFunc{},
	}
}

// Run registers this worker as live, serves client connections until
// ctx is canceled, then finishes in-flight calls and exits. Per spec
// §4.E, interrupt delivers a graceful shutdown rather than an abrupt
// one: canceling ctx stops new connections from being picked up and
// unblocks any channel idling on its server lock, but a handler
// already running completes normally since Dispatch calls aren't
// themselves interrupted.
func (w *Worker) Run(ctx context.Context) error {
	pid := os.Getpid()

	telemetry, err := openTelemetryChannel(w.res, w.port, pid)
	if err != nil {
		return fmt.Errorf("worker: open telemetry channel: %w", err)
	}
	w.telemetry = telemetry
	defer telemetry.Close()

	w.publish("starting", pid)

	if err := w.res.RegisterServerPID(pid); err != nil {
		return fmt.Errorf("worker: register pid: %w", err)
	}
	defer w.res.UnregisterServerPID(pid)

	w.publish("started", pid)
	w.log.Info("worker started", "port", w.port, "pid", pid)

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	discoverDone := make(chan struct{})
	go func() {
		defer close(discoverDone)
		w.discoverLoop(ctx, connCtx, pid)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.heartbeatLoop(ctx, pid)
	}()

	<-ctx.Done()
	w.publish("stopping", pid)
	w.log.Info("worker stopping", "port", w.port, "pid", pid)

	<-discoverDone
	cancelConns()
	w.wg.Wait()
	<-heartbeatDone

	w.publish("stopped", pid)
	w.log.Info("worker stopped", "port", w.port, "pid", pid)
	return nil
}

func (w *Worker) discoverLoop(ctx context.Context, connCtx context.Context, pid int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conns, err := w.res.ListConnections()
			if err != nil {
				w.log.Warn("worker: list connections failed", "err", err)
				continue
			}
			for _, c := range conns {
				w.ensureServing(connCtx, c, pid)
			}
		}
	}
}

func (w *Worker) ensureServing(connCtx context.Context, c shmres.Conn, pid int) {
	w.mu.Lock()
	_, already := w.served[c]
	if already {
		w.mu.Unlock()
		return
	}
	cctx, cancel := context.WithCancel(connCtx)
	w.served[c] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.served, c)
			w.mu.Unlock()
		}()

		ch, err := rpcchan.NewServerChannel(w.res, w.port, c.Pid, c.Qid, w.useSpin, w.log)
		if err != nil {
			w.log.Warn("worker: connect to client channel failed", "pid", c.Pid, "qid", c.Qid, "err", err)
			return
		}
		defer ch.Close()

		if err := ch.Serve(cctx, w.dispatch); err != nil {
			w.log.Warn("worker: channel serve ended with error", "pid", c.Pid, "qid", c.Qid, "err", err)
		}
	}()
}

func (w *Worker) heartbeatLoop(ctx context.Context, pid int) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publish("started", pid)
		}
	}
}

func (w *Worker) publish(status string, pid int) {
	if w.telemetry == nil {
		return
	}
	h := statspb.Heartbeat{Pid: int32(pid), Status: status, Stats: w.stats.snapshot()}
	if err := w.telemetry.publish(h); err != nil {
		w.log.Warn("worker: publish telemetry failed", "err", err)
	}
}

// dispatch implements rpcchan.Dispatch against this worker's method
// table: unknown commands and codec decode failures are turned into
// the named-exception wire format rpcerr.ParseException expects on
// the client side.
func (w *Worker) dispatch(cmd, args []byte) (status byte, data []byte, shutdown bool) {
	name := string(cmd)
	method, ok := w.methods[name]
	if !ok {
		return rpcchan.StatusError, []byte(fmt.Sprintf("UnknownMethodError(%q)", name)), false
	}

	start := time.Now()
	result, err := w.invoke(method, args)
	w.stats.record(name, time.Since(start))

	if err != nil {
		return rpcchan.StatusError, []byte(formatException(err)), false
	}
	return rpcchan.StatusOK, result, false
}

// invoke decodes args with method's codec, calls the handler, and
// re-encodes its result. codec.Raw methods skip both steps: their
// Handler deals in []byte directly, so a raw echo(b) call carries no
// serialization overhead.
func (w *Worker) invoke(method Method, args []byte) ([]byte, error) {
	c, err := codec.For(method.Codec)
	if err != nil {
		return nil, err
	}

	var argVal any = args
	if method.Codec != codec.Raw {
		var v any
		if err := c.Decode(args, &v); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
		argVal = v
	}

	result, err := method.Handler(argVal)
	if err != nil {
		return nil, err
	}

	if method.Codec == codec.Raw {
		b, ok := result.([]byte)
		if !ok {
			return nil, fmt.Errorf("worker: raw handler must return []byte, got %T", result)
		}
		return b, nil
	}
	return c.Encode(result)
}

func formatException(err error) string {
	if re, ok := err.(*rpcerr.RemoteException); ok {
		return re.Raw
	}
	return fmt.Sprintf("Exception(%q)", err.Error())
}
