package modules

import (
	"merchpulse.io/pulse/internal/api/handlers"
)

// NewServerDeps builds base server deps then lets each module
// contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Pool:        infra.Pool,
		Redis:       infra.Redis.Client,
		Broadcaster: infra.Broadcaster,
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
