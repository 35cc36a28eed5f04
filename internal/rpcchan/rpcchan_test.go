package rpcchan

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shmrpc/shmrpc/internal/shmres"
)

func newTestPair(t *testing.T, port, pid, qid int) (*ClientChannel, *ServerChannel, *shmres.Manager) {
	t.Helper()
	res, err := shmres.New(port, true)
	if err != nil {
		t.Fatalf("shmres.New: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })

	cc, err := NewClientChannel(res, port, pid, qid, true, nil)
	if err != nil {
		t.Fatalf("NewClientChannel: %v", err)
	}
	t.Cleanup(func() { _ = cc.Unlink() })

	sc, err := NewServerChannel(res, port, pid, qid, true, nil)
	if err != nil {
		t.Fatalf("NewServerChannel: %v", err)
	}
	return cc, sc, res
}

func echoDispatch(cmd, args []byte) (byte, []byte, bool) {
	return StatusOK, args, false
}

func TestSendReceiveRoundTrip(t *testing.T) {
	cc, sc, _ := newTestPair(t, 7001, 1000, 1)

	done := make(chan error, 1)
	go func() { done <- sc.Serve(context.Background(), echoDispatch) }()

	ctx := context.Background()
	out, err := cc.Send(ctx, []byte("echo"), []byte("blah"), time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(out) != "blah" {
		t.Fatalf("got %q", out)
	}

	// Ask the server to shut down, then confirm Serve returned.
	if _, err := cc.Send(ctx, []byte(ShutdownCmd), nil, time.Second); err != nil {
		t.Fatalf("shutdown send: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("serve did not return after shutdown")
	}
}

func TestHeartbeatEchoesArgs(t *testing.T) {
	cc, sc, _ := newTestPair(t, 7002, 1001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sc.Serve(ctx, echoDispatch) }()

	out, err := cc.Send(context.Background(), []byte(HeartbeatCmd), []byte("ping"), time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(out) != "ping" {
		t.Fatalf("expected heartbeat echo, got %q", out)
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	cc, sc, _ := newTestPair(t, 7003, 1002, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatch := func(cmd, args []byte) (byte, []byte, bool) {
		return StatusError, []byte("UnknownMethodError(" + string(cmd) + ")"), false
	}
	go func() { _ = sc.Serve(ctx, dispatch) }()

	_, err := cc.Send(context.Background(), []byte("doesnotexist"), nil, time.Second)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	if !strings.Contains(err.Error(), "UnknownMethodError") {
		t.Fatalf("expected UnknownMethodError in %v", err)
	}
}

func TestLargeRequestGrowsBuffer(t *testing.T) {
	cc, sc, _ := newTestPair(t, 7004, 1003, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sc.Serve(ctx, echoDispatch) }()

	big := bytes.Repeat([]byte("x"), shmres.DefaultBufferSize*4)
	out, err := cc.Send(context.Background(), []byte("echo"), big, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Equal(out, big) {
		t.Fatalf("large payload mismatch: got %d bytes, want %d", len(out), len(big))
	}
}

func TestSendTimesOutWhenNoServer(t *testing.T) {
	cc, _, _ := newTestPair(t, 7005, 1004, 1)
	_, err := cc.Send(context.Background(), []byte("echo"), []byte("x"), 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error with no server listening")
	}
}

func TestQidAllocatorMonotonicPerPort(t *testing.T) {
	a := NewQidAllocator()
	if a.Next(80) != 1 || a.Next(80) != 2 {
		t.Fatal("expected monotonic qids for the same port")
	}
	if a.Next(81) != 1 {
		t.Fatal("expected qids to start fresh for a different port")
	}
}
