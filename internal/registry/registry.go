// Package registry is the process-wide table of running services: a
// map from service name to its supervisor, with Start/Stop/Restart
// operations and a single concurrent shutdown path for the whole
// daemon.
//
// Grounded on kernel/threads/registry/loader.go's ModuleRegistry shape
// (a name-keyed map guarded by one RWMutex, Register/Get/validate
// methods) adapted from WASM modules to running services.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shmrpc/shmrpc/internal/supervisor"
)

// ServiceSpec is one service's static description: name, port, import
// path, methods, min/max procs, max_mem_bytes, scale thresholds/
// windows, and workers — import path and methods are represented here
// as the worker binary to exec and the arguments that tell it which
// service section to load.
type ServiceSpec struct {
	Name    string
	Port    int
	Fake    bool
	BinPath string
	Args    []string
	Config  supervisor.Config
}

type entry struct {
	spec   ServiceSpec
	sup    *supervisor.Supervisor
	cancel context.CancelFunc
}

// Registry is the process-wide service table.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*entry
	log      *slog.Logger
	metrics  prometheus.Registerer
}

// New constructs an empty Registry. reg may be nil to use the default
// Prometheus registry.
func New(log *slog.Logger, reg prometheus.Registerer) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Registry{services: map[string]*entry{}, log: log, metrics: reg}
}

// StartService spawns spec's supervisor and tracks it under spec.Name.
// Starting an already-running service is an error; use RestartService
// to cycle one.
func (r *Registry) StartService(ctx context.Context, spec ServiceSpec) error {
	r.mu.Lock()
	if _, exists := r.services[spec.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("registry: service %q already registered", spec.Name)
	}

	sup := supervisor.New(spec.Name, spec.Port, spec.Fake, spec.BinPath, spec.Args, spec.Config, r.log, r.metrics)
	supCtx, cancel := context.WithCancel(ctx)
	e := &entry{spec: spec, sup: sup, cancel: cancel}
	r.services[spec.Name] = e
	r.mu.Unlock()

	if err := sup.Start(supCtx); err != nil {
		r.mu.Lock()
		delete(r.services, spec.Name)
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("registry: start service %q: %w", spec.Name, err)
	}

	r.log.Info("registry: service started", "name", spec.Name, "port", spec.Port)
	return nil
}

// StopService stops and forgets a running service.
func (r *Registry) StopService(name string) error {
	r.mu.Lock()
	e, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: no such service %q", name)
	}
	delete(r.services, name)
	r.mu.Unlock()

	e.cancel()
	e.sup.Stop()
	r.log.Info("registry: service stopped", "name", name)
	return nil
}

// RestartService stops then restarts a service with the spec it was
// originally started with.
func (r *Registry) RestartService(ctx context.Context, name string) error {
	r.mu.RLock()
	e, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: no such service %q", name)
	}

	if err := r.StopService(name); err != nil {
		return err
	}
	return r.StartService(ctx, e.spec)
}

// Get returns the supervisor for a running service.
func (r *Registry) Get(name string) (*supervisor.Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[name]
	if !ok {
		return nil, false
	}
	return e.sup, true
}

// List returns the names of every currently-registered service.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// Shutdown stops every registered service concurrently and waits for
// all of them to finish, matching the daemon's single interrupt-handling
// path: every supervisor gets its SIGINT-driven drain started at once
// rather than one after another.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.services))
	for _, e := range r.services {
		entries = append(entries, e)
	}
	r.services = map[string]*entry{}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.cancel()
			e.sup.Stop()
		}(e)
	}
	wg.Wait()
}
