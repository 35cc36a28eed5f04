package worker

import (
	"sync"
	"time"

	"github.com/shmrpc/shmrpc/internal/statspb"
)

// statTracker accumulates per-method call counts and wall time so the
// worker can answer a supervisor's stats request: workers periodically
// report method call counts and cumulative wall time so the
// supervisor can compute averages.
type statTracker struct {
	mu sync.Mutex
	m  map[string]*statspb.MethodStat
}

func newStatTracker() *statTracker {
	return &statTracker{m: map[string]*statspb.MethodStat{}}
}

func (t *statTracker) record(name string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.m[name]
	if !ok {
		s = &statspb.MethodStat{Name: name}
		t.m[name] = s
	}
	s.Calls++
	s.WallNanos += uint64(elapsed.Nanoseconds())
}

func (t *statTracker) snapshot() []statspb.MethodStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]statspb.MethodStat, 0, len(t.m))
	for _, s := range t.m {
		out = append(out, *s)
	}
	return out
}
