// Package services is the compile-time equivalent of the `import_from`/
// section config keys: a Python service dynamically imports a module
// and instantiates a named class at spawn time. Go has no equivalent
// of importlib at runtime, so each service's method table is instead
// registered by name at compile time (the same pattern database/sql
// drivers use for Register), and cmd/shmworker looks a section up by
// name after exec.
package services

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shmrpc/shmrpc/internal/worker"
)

// Builder constructs a fresh MethodTable for one worker process. Called
// once per spawned worker, not shared across processes.
type Builder func() worker.MethodTable

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

// Register associates a section name with its method table builder.
// Intended to be called from an init() in the package that implements
// the service, mirroring database/sql.Register.
func Register(section string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[section]; exists {
		panic(fmt.Sprintf("services: section %q already registered", section))
	}
	builders[section] = b
}

// Lookup returns the builder for section, if any.
func Lookup(section string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[section]
	return b, ok
}

// Sections lists every registered section name, sorted.
func Sections() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
