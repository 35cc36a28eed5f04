// Package config loads the daemon's configuration file: a "sections
// per service" format with a `defaults` section, a `web monitor`
// section, and one section per service keyed by service name.
//
// Built on github.com/spf13/viper for its general practice of
// accepting YAML/TOML/JSON for config-shaped input rather than
// hardcoding one syntax.
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/viper"

	"github.com/shmrpc/shmrpc/internal/registry"
	"github.com/shmrpc/shmrpc/internal/supervisor"
)

// Defaults mirrors the `defaults` section: fallback values applied to
// any service section that omits a key.
type Defaults struct {
	LogDir                      string
	TCPCompression               bool
	TCPAllowInsecureSerialisation bool
	MaxProcNum                  int
	MinProcNum                  int
	WaitUntilCompleted          bool
}

// WebMonitor mirrors the `web monitor` section.
type WebMonitor struct {
	Host string
	Port int
}

// ServiceConfig mirrors one per-service section.
type ServiceConfig struct {
	Name                         string
	ImportFrom                   string
	LogDir                       string
	TCPBind                      string
	TCPCompression               bool
	TCPAllowInsecureSerialisation bool
	MaxProcNum                   int
	MinProcNum                   int
	WaitUntilCompleted           bool
}

// File is the fully parsed configuration file.
type File struct {
	Defaults Defaults
	Monitor  WebMonitor
	Services []ServiceConfig
}

// Load reads and parses the configuration file at path, using Viper's
// format autodetection by extension.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	f := &File{}
	f.Defaults = Defaults{
		LogDir:                        v.GetString("defaults.log_dir"),
		TCPCompression:                v.GetBool("defaults.tcp_compression"),
		TCPAllowInsecureSerialisation: v.GetBool("defaults.tcp_allow_insecure_serialisation"),
		MaxProcNum:                    v.GetInt("defaults.max_proc_num"),
		MinProcNum:                    v.GetInt("defaults.min_proc_num"),
		WaitUntilCompleted:            v.GetBool("defaults.wait_until_completed"),
	}
	if !v.IsSet("defaults.wait_until_completed") {
		f.Defaults.WaitUntilCompleted = true
	}
	if f.Defaults.MinProcNum == 0 {
		f.Defaults.MinProcNum = 1
	}

	f.Monitor = WebMonitor{
		Host: v.GetString("web monitor.host"),
		Port: v.GetInt("web monitor.port"),
	}

	sections := v.GetStringMap("services")
	for name := range sections {
		key := "services." + name
		sc := ServiceConfig{
			Name:                          name,
			ImportFrom:                    v.GetString(key + ".import_from"),
			LogDir:                        stringOr(v.GetString(key+".log_dir"), f.Defaults.LogDir),
			TCPBind:                       v.GetString(key + ".tcp_bind"),
			TCPCompression:                boolOr(v, key+".tcp_compression", f.Defaults.TCPCompression),
			TCPAllowInsecureSerialisation: boolOr(v, key+".tcp_allow_insecure_serialisation", f.Defaults.TCPAllowInsecureSerialisation),
			MaxProcNum:                    intOr(v, key+".max_proc_num", f.Defaults.MaxProcNum),
			MinProcNum:                    intOr(v, key+".min_proc_num", f.Defaults.MinProcNum),
			WaitUntilCompleted:            boolOr(v, key+".wait_until_completed", f.Defaults.WaitUntilCompleted),
		}
		if sc.ImportFrom == "" {
			return nil, fmt.Errorf("config: service %q missing import_from", name)
		}
		f.Services = append(f.Services, sc)
	}

	return f, nil
}

func stringOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func boolOr(v *viper.Viper, key string, fallback bool) bool {
	if !v.IsSet(key) {
		return fallback
	}
	return v.GetBool(key)
}

func intOr(v *viper.Viper, key string, fallback int) int {
	if !v.IsSet(key) {
		return fallback
	}
	return v.GetInt(key)
}

// ToServiceSpec builds a registry.ServiceSpec from one parsed service
// section. binPath/args describe the worker binary this registry will
// fork/exec for the service (see cmd/shmworker); port is assigned by
// the caller since it isn't one of the file's config keys.
func (sc ServiceConfig) ToServiceSpec(port int, binPath string) registry.ServiceSpec {
	cfg := supervisor.DefaultConfig()
	cfg.MinProcs = sc.MinProcNum
	if sc.MaxProcNum > 0 {
		cfg.MaxProcs = sc.MaxProcNum
	} else {
		cfg.MaxProcs = runtime.NumCPU()
	}
	cfg.WaitUntilCompleted = sc.WaitUntilCompleted

	return registry.ServiceSpec{
		Name:    sc.Name,
		Port:    port,
		BinPath: binPath,
		Args: []string{
			"--import-from", sc.ImportFrom,
			"--section", sc.Name,
			"--port", fmt.Sprint(port),
		},
		Config: cfg,
	}
}
