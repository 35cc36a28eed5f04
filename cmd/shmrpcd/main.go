// Command shmrpcd is the registry/supervisor daemon: it reads a
// configuration file, starts one supervisor per configured service, and
// blocks until interrupted, at which point every service is drained
// and stopped concurrently. A single entry point taking a config file
// path, exit 0 on clean shutdown, non-zero on fatal configuration
// errors.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/shmrpc/shmrpc/internal/config"
	"github.com/shmrpc/shmrpc/internal/registry"
)

func main() {
	app := &cli.App{
		Name:  "shmrpcd",
		Usage: "run the shmrpc service registry and worker supervisors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Required: true,
				Usage:    "path to the service configuration file",
			},
			&cli.StringFlag{
				Name:  "worker-bin",
				Value: "shmworker",
				Usage: "path to the shmworker binary to exec for each service process",
			},
			&cli.BoolFlag{
				Name:  "fake-shm",
				Value: false,
				Usage: "use the in-memory resource backend instead of real POSIX shared memory (testing only)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	file, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("shmrpcd: %w", err)
	}

	reg := registry.New(log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if file.Monitor.Port != 0 {
		go serveMonitor(file.Monitor.Host, file.Monitor.Port, log)
	}

	port := 9000
	for _, sc := range file.Services {
		spec := sc.ToServiceSpec(port, c.String("worker-bin"))
		spec.Fake = c.Bool("fake-shm")
		if err := reg.StartService(ctx, spec); err != nil {
			return fmt.Errorf("shmrpcd: start %s: %w", sc.Name, err)
		}
		log.Info("shmrpcd: service registered", "name", sc.Name, "port", port)
		port++
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shmrpcd: shutting down")
	reg.Shutdown()
	log.Info("shmrpcd: shutdown complete")
	return nil
}

// serveMonitor exposes Prometheus metrics at the `web monitor` section's
// host:port: a metrics endpoint rather than a full dashboard UI.
func serveMonitor(host string, port int, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info("shmrpcd: monitor listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("shmrpcd: monitor server exited", "err", err)
	}
}
