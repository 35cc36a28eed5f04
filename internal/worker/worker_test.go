package worker

import (
	"errors"
	"strings"
	"testing"

	"github.com/shmrpc/shmrpc/internal/codec"
	"github.com/shmrpc/shmrpc/internal/shmres"
)

var errBoom = errors.New("boom")

func newTestWorker(t *testing.T, port int, methods MethodTable) *Worker {
	t.Helper()
	res, err := shmres.New(port, true)
	if err != nil {
		t.Fatalf("shmres.New: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })
	return New(port, methods, res, true, nil)
}

func TestDispatchRawEcho(t *testing.T) {
	w := newTestWorker(t, 8101, MethodTable{
		"echo": Method{
			Codec: codec.Raw,
			Handler: func(args any) (any, error) {
				return args.([]byte), nil
			},
		},
	})

	status, data, shutdown := w.dispatch([]byte("echo"), []byte("blah"))
	if status != 0x2B { // '+'
		t.Fatalf("expected success status, got %q", status)
	}
	if string(data) != "blah" {
		t.Fatalf("got %q", data)
	}
	if shutdown {
		t.Fatal("echo should not request shutdown")
	}

	stats := w.stats.snapshot()
	if len(stats) != 1 || stats[0].Calls != 1 {
		t.Fatalf("expected one recorded call, got %+v", stats)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	w := newTestWorker(t, 8102, MethodTable{})
	status, data, _ := w.dispatch([]byte("nope"), nil)
	if status != '-' {
		t.Fatalf("expected error status, got %q", status)
	}
	if !strings.Contains(string(data), "UnknownMethodError") {
		t.Fatalf("expected UnknownMethodError descriptor, got %q", data)
	}
}

func TestDispatchJSONRoundTrip(t *testing.T) {
	w := newTestWorker(t, 8103, MethodTable{
		"double": Method{
			Codec: codec.JSON,
			Handler: func(args any) (any, error) {
				n := args.(float64)
				return n * 2, nil
			},
		},
	})

	status, data, _ := w.dispatch([]byte("double"), []byte("21"))
	if status != '+' {
		t.Fatalf("expected success, got %q: %s", status, data)
	}
	if string(data) != "42" {
		t.Fatalf("got %q", data)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	w := newTestWorker(t, 8104, MethodTable{
		"boom": Method{
			Codec: codec.Raw,
			Handler: func(args any) (any, error) {
				return nil, errBoom
			},
		},
	})

	status, data, _ := w.dispatch([]byte("boom"), []byte("x"))
	if status != '-' {
		t.Fatalf("expected error status, got %q", status)
	}
	if !strings.Contains(string(data), "boom") {
		t.Fatalf("expected exception text to mention boom, got %q", data)
	}
}
