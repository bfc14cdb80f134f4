// Package modules contains domain-oriented dependency modules for the
// composition root. Each module owns the wiring of one slice of the
// pipeline: constructors, River workers, and the server dependencies it
// contributes.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"merchpulse.io/pulse/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the
	// HTTP server deps. Runs after River is initialized, so modules may
	// wire the client into their services here.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River
	// worker registry. Workers that enqueue follow-up jobs resolve the
	// client from the job context, so registration never needs it.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}
