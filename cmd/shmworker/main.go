// Command shmworker is one worker process for a service: exec'd by a
// supervisor with --section/--port flags (see
// internal/supervisor.spawn), it builds that section's method table,
// serves client channels until interrupted, and exits after finishing
// any call in flight. This is an internal exec target, not a
// user-facing CLI, so it parses its own argv with the standard flag
// package rather than urfave/cli (which this port reserves for
// cmd/shmrpcd's operator-facing surface).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shmrpc/shmrpc/internal/services"
	"github.com/shmrpc/shmrpc/internal/shmres"
	"github.com/shmrpc/shmrpc/internal/worker"
)

func main() {
	var (
		importFrom = flag.String("import-from", "", "informational: the module path this section's methods came from")
		section    = flag.String("section", "", "registered service section name")
		port       = flag.Int("port", 0, "service port this worker connects on")
		fakeShm    = flag.Bool("fake-shm", false, "use the in-memory resource backend instead of real POSIX shared memory")
		useSpin    = flag.Bool("use-spin", true, "spin before blocking when waiting on the channel lock")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(log, *importFrom, *section, *port, *fakeShm, *useSpin); err != nil {
		log.Error("shmworker: exiting", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, importFrom, section string, port int, fakeShm, useSpin bool) error {
	if section == "" || port == 0 {
		return fmt.Errorf("shmworker: --section and --port are required")
	}

	build, ok := services.Lookup(section)
	if !ok {
		return fmt.Errorf("shmworker: no registered section %q (import_from=%q, known sections: %v)", section, importFrom, services.Sections())
	}
	methods := build()

	res, err := shmres.New(port, fakeShm)
	if err != nil {
		return fmt.Errorf("shmworker: open resource manager: %w", err)
	}
	defer res.Close()

	w := worker.New(port, methods, res, useSpin, log)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	return w.Run(ctx)
}
