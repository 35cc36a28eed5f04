package registry

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shmrpc/shmrpc/internal/supervisor"
)

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func testSpec(name string, port int) ServiceSpec {
	cfg := supervisor.DefaultConfig()
	cfg.MinProcs = 1
	cfg.WaitUntilCompleted = false
	return ServiceSpec{Name: name, Port: port, Fake: true, BinPath: "/bin/sleep", Args: []string{"30"}, Config: cfg}
}

func TestStartGetStopService(t *testing.T) {
	r := New(nil, prometheus.NewRegistry())
	ctx := context.Background()

	if err := r.StartService(ctx, testSpec("alpha", 9201)); err != nil {
		t.Fatalf("StartService: %v", err)
	}

	sup, ok := r.Get("alpha")
	if !ok {
		t.Fatal("expected alpha to be registered")
	}
	if len(sup.PIDs()) != 1 {
		t.Fatalf("expected 1 pid, got %d", len(sup.PIDs()))
	}

	if err := r.StopService("alpha"); err != nil {
		t.Fatalf("StopService: %v", err)
	}
	if _, ok := r.Get("alpha"); ok {
		t.Fatal("expected alpha to be gone after stop")
	}
}

func TestStartServiceTwiceFails(t *testing.T) {
	r := New(nil, prometheus.NewRegistry())
	ctx := context.Background()
	if err := r.StartService(ctx, testSpec("beta", 9202)); err != nil {
		t.Fatalf("StartService: %v", err)
	}
	defer r.StopService("beta")

	if err := r.StartService(ctx, testSpec("beta", 9202)); err == nil {
		t.Fatal("expected duplicate StartService to fail")
	}
}

func TestShutdownStopsEveryService(t *testing.T) {
	r := New(nil, prometheus.NewRegistry())
	ctx := context.Background()
	for i, name := range []string{"svc-a", "svc-b", "svc-c"} {
		if err := r.StartService(ctx, testSpec(name, 9300+i)); err != nil {
			t.Fatalf("StartService(%s): %v", name, err)
		}
	}

	pids := map[string][]int{}
	for _, name := range r.List() {
		sup, _ := r.Get(name)
		pids[name] = sup.PIDs()
	}

	r.Shutdown()

	if got := r.List(); len(got) != 0 {
		t.Fatalf("expected empty registry after Shutdown, got %v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for name, ps := range pids {
		for _, pid := range ps {
			for time.Now().Before(deadline) && processAlive(pid) {
				time.Sleep(20 * time.Millisecond)
			}
			if processAlive(pid) {
				t.Fatalf("expected pid %d for %s to be gone after Shutdown", pid, name)
			}
		}
	}
}
