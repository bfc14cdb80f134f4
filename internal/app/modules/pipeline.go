package modules

import (
	"context"

	"github.com/riverqueue/river"

	"merchpulse.io/pulse/internal/api/handlers"
	"merchpulse.io/pulse/internal/jobs"
	"merchpulse.io/pulse/internal/platform"
	"merchpulse.io/pulse/internal/service"
	datasync "merchpulse.io/pulse/internal/sync"
)

// PipelineModule wires data ingestion: the platform client, the sync
// engine, the sync workers, and the inbound webhook path.
type PipelineModule struct {
	infra  *Infrastructure
	client platform.Client
	engine *datasync.Engine
}

// NewPipelineModule creates the ingestion module.
func NewPipelineModule(infra *Infrastructure) *PipelineModule {
	client := platform.NewHTTPClient(infra.Config.Platform)
	engine := datasync.NewEngine(client, infra.Customers, infra.Orders, infra.SyncJobs)

	return &PipelineModule{
		infra:  infra,
		client: client,
		engine: engine,
	}
}

func (m *PipelineModule) Name() string { return "pipeline" }

func (m *PipelineModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.SyncService = service.NewSyncService(m.infra.SyncJobs, m.infra.Progress, m.infra.RiverClient)
	deps.WebhookService = service.NewWebhookService(m.infra.Webhooks, m.infra.RiverClient)
}

func (m *PipelineModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil || m.infra == nil {
		return
	}
	batchSize := m.infra.Config.Platform.PageSize
	river.AddWorker(workers, jobs.NewCustomerSyncWorker(
		m.engine, m.infra.SyncJobs, m.infra.Progress, m.infra.Dispatcher, batchSize))
	river.AddWorker(workers, jobs.NewOrderSyncWorker(
		m.engine, m.infra.SyncJobs, m.infra.Customers, m.infra.Progress, m.infra.Dispatcher, batchSize))
	river.AddWorker(workers, jobs.NewWebhookIngestWorker(m.infra.Customers, m.infra.Orders))
	river.AddWorker(workers, jobs.NewStaleSweepWorker(
		m.infra.SyncJobs, m.infra.Progress, m.infra.Config.Progress))
}

func (m *PipelineModule) Shutdown(context.Context) error { return nil }
