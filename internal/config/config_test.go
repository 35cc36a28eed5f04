package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
defaults:
  log_dir: /var/log/shmrpc
  min_proc_num: 2
  wait_until_completed: true

web monitor:
  host: 127.0.0.1
  port: 8090

services:
  math:
    import_from: myapp.services.math
    tcp_bind: "0.0.0.0:9000"
    max_proc_num: 8
  echo:
    import_from: myapp.services.echo
    min_proc_num: 1
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shmrpc.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadParsesDefaultsAndServices(t *testing.T) {
	f, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if f.Defaults.LogDir != "/var/log/shmrpc" {
		t.Fatalf("unexpected log dir: %q", f.Defaults.LogDir)
	}
	if f.Defaults.MinProcNum != 2 {
		t.Fatalf("unexpected default min proc num: %d", f.Defaults.MinProcNum)
	}
	if f.Monitor.Port != 8090 {
		t.Fatalf("unexpected monitor port: %d", f.Monitor.Port)
	}
	if len(f.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(f.Services))
	}
}

func TestLoadAppliesDefaultsToServiceWithoutOverride(t *testing.T) {
	f, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var echo *ServiceConfig
	for i := range f.Services {
		if f.Services[i].Name == "echo" {
			echo = &f.Services[i]
		}
	}
	if echo == nil {
		t.Fatal("expected echo service section")
	}
	if echo.LogDir != "/var/log/shmrpc" {
		t.Fatalf("expected echo to inherit default log dir, got %q", echo.LogDir)
	}
	if echo.MinProcNum != 1 {
		t.Fatalf("expected echo's explicit min_proc_num to win, got %d", echo.MinProcNum)
	}
}

func TestLoadMissingImportFromFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("services:\n  broken:\n    tcp_bind: x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing import_from to fail")
	}
}

func TestToServiceSpecBuildsWorkerArgs(t *testing.T) {
	sc := ServiceConfig{Name: "math", ImportFrom: "myapp.services.math", MinProcNum: 1, MaxProcNum: 4}
	spec := sc.ToServiceSpec(9000, "/usr/local/bin/shmworker")
	if spec.Name != "math" || spec.Port != 9000 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if spec.Config.MinProcs != 1 || spec.Config.MaxProcs != 4 {
		t.Fatalf("unexpected scale config: %+v", spec.Config)
	}
}
