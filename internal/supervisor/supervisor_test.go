package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLoadHistoryAverageOver(t *testing.T) {
	h := newLoadHistory(time.Minute)
	base := time.Unix(1000, 0)
	h.add(sample{at: base, cpuLoad: 0.2, procs: 1})
	h.add(sample{at: base.Add(time.Second), cpuLoad: 0.4, procs: 1})
	h.add(sample{at: base.Add(2 * time.Second), cpuLoad: 0.6, procs: 1})

	avg, avgProcs, ok := h.averageOver(base)
	if !ok {
		t.Fatal("expected samples in range")
	}
	if avg < 0.39 || avg > 0.41 {
		t.Fatalf("expected avg ~0.4, got %v", avg)
	}
	if avgProcs != 1 {
		t.Fatalf("expected avgProcs 1, got %v", avgProcs)
	}
}

func TestLoadHistoryPrunesOldSamples(t *testing.T) {
	h := newLoadHistory(2 * time.Second)
	base := time.Unix(2000, 0)
	h.add(sample{at: base, cpuLoad: 1.0, procs: 1})
	h.add(sample{at: base.Add(5 * time.Second), cpuLoad: 0.0, procs: 1})

	if len(h.samples) != 1 {
		t.Fatalf("expected pruning to leave one sample, got %d", len(h.samples))
	}
}

func TestLoadHistoryEmptyIsNotOK(t *testing.T) {
	h := newLoadHistory(time.Minute)
	if _, _, ok := h.averageOver(time.Now()); ok {
		t.Fatal("expected no samples to report not-ok")
	}
}

func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	cfg.WaitUntilCompleted = false
	return New("echo-svc", 9101, true, "/bin/sleep", []string{"30"}, cfg, nil, prometheus.NewRegistry())
}

func TestSupervisorStartStopTracksPIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinProcs = 2
	cfg.MaxProcs = 4
	s := newTestSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(s.PIDs()); got != 2 {
		t.Fatalf("expected 2 pids after start, got %d", got)
	}
	if s.Status() != StatusStarted {
		t.Fatalf("expected StatusStarted, got %v", s.Status())
	}

	s.Stop()
	if got := len(s.PIDs()); got != 0 {
		t.Fatalf("expected 0 pids after stop, got %d", got)
	}
	if s.Status() != StatusStopped {
		t.Fatalf("expected StatusStopped, got %v", s.Status())
	}
}

func TestSupervisorRemoveChildKillsProcess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinProcs = 1
	s := newTestSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	pids := s.PIDs()
	if len(pids) != 1 {
		t.Fatalf("expected 1 pid, got %d", len(pids))
	}
	pid := pids[0]
	if !pidExists(pid) {
		t.Fatalf("expected pid %d to exist right after spawn", pid)
	}

	s.removeChildByPID(pid)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && pidExists(pid) {
		time.Sleep(20 * time.Millisecond)
	}
	if pidExists(pid) {
		t.Fatalf("expected pid %d to be gone after removeChildByPID", pid)
	}
}

func TestSupervisorDoubleStartFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinProcs = 1
	s := newTestSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
}
