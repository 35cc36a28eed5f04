package tcprpc

import (
	"context"
	"testing"
	"time"

	"github.com/shmrpc/shmrpc/internal/codec"
)

func echoDispatch(cmd, args []byte) (byte, []byte) {
	if string(cmd) == "fail" {
		return '-', []byte("boom")
	}
	return '+', args
}

func TestSendReceiveRoundTrip(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", echoDispatch, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	status, data, err := Send(context.Background(), srv.Addr().String(), "echo", []byte("hello"), time.Second, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != '+' || string(data) != "hello" {
		t.Fatalf("unexpected response: %q %q", status, data)
	}
}

func TestSendReceiveWithCompression(t *testing.T) {
	c, err := codec.NewZstdCompressor()
	if err != nil {
		t.Fatalf("NewZstdCompressor: %v", err)
	}

	srv, err := Listen("127.0.0.1:0", echoDispatch, c, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	payload := []byte("payload payload payload payload payload payload")
	status, data, err := Send(context.Background(), srv.Addr().String(), "echo", payload, time.Second, c)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != '+' || string(data) != string(payload) {
		t.Fatalf("unexpected response: %q %q", status, data)
	}
}

func TestSendErrorStatus(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", echoDispatch, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	status, data, err := Send(context.Background(), srv.Addr().String(), "fail", nil, time.Second, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != '-' || string(data) != "boom" {
		t.Fatalf("unexpected response: %q %q", status, data)
	}
}

func TestSendDialFailureReturnsError(t *testing.T) {
	if _, _, err := Send(context.Background(), "127.0.0.1:1", "echo", nil, 200*time.Millisecond, nil); err == nil {
		t.Fatal("expected dial to unused port to fail")
	}
}
