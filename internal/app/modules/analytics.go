package modules

import (
	"context"

	"github.com/riverqueue/river"

	"merchpulse.io/pulse/internal/api/handlers"
	"merchpulse.io/pulse/internal/churn"
	"merchpulse.io/pulse/internal/jobs"
	"merchpulse.io/pulse/internal/rfm"
	"merchpulse.io/pulse/internal/segment"
	"merchpulse.io/pulse/internal/service"
)

// AnalyticsModule wires the scoring side: RFM, churn, and segment
// engines plus their workers and read services.
type AnalyticsModule struct {
	infra         *Infrastructure
	rfmEngine     *rfm.Engine
	churnEngine   *churn.Engine
	segmentEngine *segment.Engine
	analyticsSvc  *service.AnalyticsService
}

// NewAnalyticsModule creates the analytics module and hooks summary
// cache invalidation to scoring completions.
func NewAnalyticsModule(infra *Infrastructure) *AnalyticsModule {
	cfg := infra.Config.Analytics
	churnEngine := churn.NewEngine(infra.Customers, infra.Orders, infra.Pools, cfg)
	analyticsSvc := service.NewAnalyticsService(infra.Customers, churnEngine, infra.Redis.Client, cfg)
	analyticsSvc.RegisterInvalidation(infra.Dispatcher)

	return &AnalyticsModule{
		infra:         infra,
		rfmEngine:     rfm.NewEngine(infra.Customers, cfg),
		churnEngine:   churnEngine,
		segmentEngine: segment.NewEngine(infra.Segments),
		analyticsSvc:  analyticsSvc,
	}
}

func (m *AnalyticsModule) Name() string { return "analytics" }

func (m *AnalyticsModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.AnalyticsService = m.analyticsSvc
	deps.SegmentService = service.NewSegmentService(m.infra.Segments, m.segmentEngine, m.infra.RiverClient)
}

func (m *AnalyticsModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil || m.infra == nil {
		return
	}
	cfg := m.infra.Config.Analytics
	locker := m.infra.Redis.Locker
	river.AddWorker(workers, jobs.NewRFMSweepWorker(
		m.rfmEngine, m.infra.Segments, locker, m.infra.Dispatcher, cfg))
	river.AddWorker(workers, jobs.NewRFMCustomerWorker(m.rfmEngine))
	river.AddWorker(workers, jobs.NewChurnSweepWorker(
		m.churnEngine, locker, m.infra.Dispatcher, cfg))
	river.AddWorker(workers, jobs.NewSegmentUpdateWorker(m.segmentEngine, m.infra.Dispatcher))
}

func (m *AnalyticsModule) Shutdown(context.Context) error { return nil }
