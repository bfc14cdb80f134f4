// Package app is the composition root: bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"merchpulse.io/pulse/internal/api/handlers"
	"merchpulse.io/pulse/internal/app/modules"
	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/infrastructure"
	"merchpulse.io/pulse/internal/jobs"
	"merchpulse.io/pulse/internal/pkg/worker"
	"merchpulse.io/pulse/internal/progress"
)

// Application holds composed application dependencies.
type Application struct {
	Config      *config.Config
	Router      *gin.Engine
	DB          *infrastructure.DatabaseClients
	Redis       *infrastructure.RedisClients
	Pools       *worker.Pools
	Broadcaster *progress.Broadcaster
	Modules     []modules.Module

	stopBroadcast context.CancelFunc
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	allModules := []modules.Module{
		modules.NewPipelineModule(infra),
		modules.NewAnalyticsModule(infra),
		modules.NewNotificationModule(infra),
	}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}

	// Stale-run sweep: every five minutes, plus once on startup to
	// settle anything left running by an unclean shutdown.
	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(5*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.StaleSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	if err := infra.InitRiver(workers, periodic); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	serverDeps := modules.NewServerDeps(infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:      cfg,
		Router:      newRouter(server),
		DB:          infra.DB,
		Redis:       infra.Redis,
		Pools:       infra.Pools,
		Broadcaster: infra.Broadcaster,
		Modules:     allModules,
	}, nil
}
