// Package supervisor implements a control loop that keeps a service's
// worker process count within [MinProcs, MaxProcs], scaling on
// combined CPU load and reaping dead or zombie children, and exposes
// the loop's decisions as Prometheus metrics.
//
// The control-loop shape and kill/spawn protocols follow
// MultiProcessServer's __monitor_process_loop, new_child_process, and
// remove_child_process methods; metrics reporting follows the
// promauto idiom a server-stabilizer tool uses to report scale events.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shmrpc/shmrpc/internal/statspb"
	"github.com/shmrpc/shmrpc/internal/worker"
)

// Status mirrors MultiProcessServer's STARTED/STOPPED/STOPPING/STARTING enum.
type Status string

const (
	StatusStarting Status = "starting"
	StatusStarted  Status = "started"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// Supervisor owns the worker process pool for one service on one port.
type Supervisor struct {
	name string
	port int
	fake bool

	binPath string
	args    []string

	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	pids       []int
	lastOpTime time.Time
	status     Status

	history   *loadHistory
	prevTicks map[int]uint64

	scaleUps   prometheus.Counter
	scaleDowns prometheus.Counter
	liveProcs  prometheus.Gauge
	cpuLoad    prometheus.Gauge
}

// New constructs a Supervisor. binPath/args describe how to exec one
// worker process (typically the shmworker binary with --section/--port
// flags); fake selects the in-memory shmres backend used by
// ReadTelemetry to match whatever backend the service's workers use.
func New(name string, port int, fake bool, binPath string, args []string, cfg Config, log *slog.Logger, reg prometheus.Registerer) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	keep := cfg.KillProcAvgOverSecs
	if cfg.NewProcAvgOverSecs > keep {
		keep = cfg.NewProcAvgOverSecs
	}

	labels := prometheus.Labels{"service": name}
	return &Supervisor{
		name: name, port: port, fake: fake,
		binPath: binPath, args: args,
		cfg: cfg, log: log,
		status:  StatusStopped,
		history: newLoadHistory(keep),

		scaleUps: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "shmrpc_supervisor_scale_up_total",
			Help:        "Number of times this service's supervisor spawned a worker, to restore the floor or due to load.",
			ConstLabels: labels,
		}),
		scaleDowns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "shmrpc_supervisor_scale_down_total",
			Help:        "Number of times this service's supervisor removed a worker.",
			ConstLabels: labels,
		}),
		liveProcs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name:        "shmrpc_supervisor_live_processes",
			Help:        "Current number of live worker processes.",
			ConstLabels: labels,
		}),
		cpuLoad: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name:        "shmrpc_supervisor_cpu_load_fraction",
			Help:        "Most recently sampled combined CPU load, as a fraction of one core.",
			ConstLabels: labels,
		}),
	}
}

func (s *Supervisor) readTelemetry(pid int) (statspb.Heartbeat, error) {
	return worker.ReadTelemetry(s.fake, s.port, pid)
}

// Status reports the supervisor's current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PIDs returns a snapshot of currently tracked worker pids.
func (s *Supervisor) PIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.pids))
	copy(out, s.pids)
	return out
}

// Start spawns the floor number of workers (blocking on each if
// WaitUntilCompleted) and begins the monitor loop, returning once
// the loop has been launched. The loop itself runs until ctx is
// canceled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusStopped {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: %s: can't start a service that isn't stopped", s.name)
	}
	s.status = StatusStarting
	s.mu.Unlock()

	for i := 0; i < s.cfg.MinProcs; i++ {
		if err := s.addChild(); err != nil {
			return fmt.Errorf("supervisor: %s: initial spawn: %w", s.name, err)
		}
	}

	s.mu.Lock()
	s.status = StatusStarted
	s.mu.Unlock()

	go s.monitorLoop(ctx)
	return nil
}

// Stop removes every worker, blocking until each has exited or been
// force-terminated, per stop_service.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.status = StatusStopping
	pids := append([]int(nil), s.pids...)
	s.mu.Unlock()

	for _, pid := range pids {
		s.removeChildByPID(pid)
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()
}

// Restart stops then starts the service, per restart_service.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

func (s *Supervisor) addChild() error {
	pid, err := s.spawn()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pids = append(s.pids, pid)
	s.lastOpTime = time.Now()
	n := len(s.pids)
	s.mu.Unlock()
	s.liveProcs.Set(float64(n))

	if s.cfg.WaitUntilCompleted {
		if err := s.waitForStarted(pid, time.Now().Add(startupTimeout)); err != nil {
			s.log.Warn("supervisor: worker slow to report started", "service", s.name, "pid", pid, "err", err)
		}
	}
	return nil
}

// removeChild kills the most recently spawned worker, matching
// remove_child_process(pid=None)'s "pop the last one" default.
func (s *Supervisor) removeChild() {
	s.mu.Lock()
	if len(s.pids) == 0 {
		s.mu.Unlock()
		return
	}
	pid := s.pids[len(s.pids)-1]
	s.mu.Unlock()
	s.removeChildByPID(pid)
}

func (s *Supervisor) removeChildByPID(pid int) {
	s.mu.Lock()
	for i, p := range s.pids {
		if p == pid {
			s.pids = append(s.pids[:i], s.pids[i+1:]...)
			break
		}
	}
	s.lastOpTime = time.Now()
	n := len(s.pids)
	s.mu.Unlock()
	s.liveProcs.Set(float64(n))

	if err := s.killChild(pid); err != nil {
		s.log.Warn("supervisor: error removing worker", "service", s.name, "pid", pid, "err", err)
	}
}

// reapDead drops pids whose process no longer exists or has become a
// zombie, per the monitor loop's first step.
func (s *Supervisor) reapDead() {
	s.mu.Lock()
	pids := append([]int(nil), s.pids...)
	s.mu.Unlock()

	for _, pid := range pids {
		if !pidExists(pid) || pidIsZombie(pid) {
			s.log.Info("supervisor: reaping dead worker", "service", s.name, "pid", pid)
			s.removeChildByPID(pid)
		}
	}
}

// monitorLoop is __monitor_process_loop translated step for step:
// reap, enforce floor, sample load, enforce memory cap, scale up,
// scale down, sleep.
func (s *Supervisor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(monitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.Status() != StatusStarted {
			return
		}

		s.reapDead()

		s.mu.Lock()
		n := len(s.pids)
		s.mu.Unlock()

		if n < s.cfg.MinProcs {
			s.log.Info("supervisor: adding worker, below floor", "service", s.name, "have", n, "min", s.cfg.MinProcs)
			if err := s.addChild(); err != nil {
				s.log.Warn("supervisor: spawn failed", "service", s.name, "err", err)
			}
			s.scaleUps.Inc()
			continue
		}

		now := time.Now()
		sampleCPU, sampleRSS := s.sampleLoad()
		s.history.add(sample{at: now, cpuLoad: sampleCPU, rss: sampleRSS, procs: n})
		s.cpuLoad.Set(sampleCPU)

		newAvg, newAvgProcs, haveNew := s.history.averageOver(now.Add(-s.cfg.NewProcAvgOverSecs))
		killAvg, _, haveKill := s.history.averageOver(now.Add(-s.cfg.KillProcAvgOverSecs))
		if !haveNew || !haveKill {
			continue
		}

		s.mu.Lock()
		sinceLastOp := now.Sub(s.lastOpTime)
		s.mu.Unlock()

		switch {
		case s.cfg.MaxMemBytes > 0 && sampleRSS > s.cfg.MaxMemBytes:
			s.log.Info("supervisor: removing worker, memory cap exceeded", "service", s.name, "rss", sampleRSS, "cap", s.cfg.MaxMemBytes)
			s.removeChild()
			s.scaleDowns.Inc()

		case sinceLastOp > s.cfg.NewProcAvgOverSecs &&
			newAvgProcs > 0 && (newAvg/newAvgProcs) > s.cfg.NewProcLoadFraction &&
			n < s.cfg.MaxProcs:
			s.log.Info("supervisor: adding worker, CPU load high", "service", s.name, "load_fraction", newAvg/newAvgProcs)
			if err := s.addChild(); err != nil {
				s.log.Warn("supervisor: spawn failed", "service", s.name, "err", err)
			}
			s.scaleUps.Inc()

		case sinceLastOp > s.cfg.KillProcAvgOverSecs &&
			killAvg < s.cfg.NewProcLoadFraction &&
			n > s.cfg.MinProcs:
			s.log.Info("supervisor: removing worker, CPU load low", "service", s.name)
			s.removeChild()
			s.scaleDowns.Inc()
		}
	}
}

// sampleLoad sums CPU ticks-per-second (as a load fraction, one core ==
// 1.0) and RSS across every tracked pid. cpuTicks/residentBytes read
// /proc on Linux; elsewhere they return zero, so scaling only ever
// happens by floor/ceiling off Linux.
func (s *Supervisor) sampleLoad() (cpuFraction float64, rssBytes uint64) {
	s.mu.Lock()
	pids := append([]int(nil), s.pids...)
	s.mu.Unlock()

	var totalRSS uint64
	var totalDeltaTicks uint64
	now := time.Now()
	for _, pid := range pids {
		ticks, err := cpuTicks(pid)
		if err == nil {
			totalDeltaTicks += s.deltaTicks(pid, ticks, now)
		}
		rss, err := residentBytes(pid)
		if err == nil {
			totalRSS += rss
		}
	}
	return float64(totalDeltaTicks) / clockTicksPerSec / monitorEvery.Seconds(), totalRSS
}

func (s *Supervisor) deltaTicks(pid int, ticks uint64, now time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prevTicks == nil {
		s.prevTicks = map[int]uint64{}
	}
	prev, ok := s.prevTicks[pid]
	s.prevTicks[pid] = ticks
	if !ok || ticks < prev {
		return 0
	}
	return ticks - prev
}
