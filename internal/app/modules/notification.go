package modules

import (
	"context"

	"github.com/riverqueue/river"

	"merchpulse.io/pulse/internal/api/handlers"
	"merchpulse.io/pulse/internal/jobs"
	"merchpulse.io/pulse/internal/notification"
)

// NotificationModule wires outbound webhook delivery: the signed HTTP
// sender, the delivery worker, and the event fan-out that turns domain
// events into per-endpoint delivery jobs.
type NotificationModule struct {
	infra  *Infrastructure
	sender notification.Sender
}

// NewNotificationModule creates the outbound delivery module.
func NewNotificationModule(infra *Infrastructure) *NotificationModule {
	return &NotificationModule{
		infra:  infra,
		sender: notification.NewWebhookSender(infra.Config.Platform.RequestTimeout),
	}
}

func (m *NotificationModule) Name() string { return "notification" }

// ContributeServerDeps registers the fan-out. It runs after River is
// initialized, which the fan-out needs for enqueueing deliveries.
func (m *NotificationModule) ContributeServerDeps(*handlers.ServerDeps) {
	if m.infra.RiverClient == nil {
		return
	}
	fanout := jobs.NewWebhookFanout(m.infra.Webhooks, m.infra.RiverClient)
	fanout.Register(m.infra.Dispatcher)
}

func (m *NotificationModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil || m.infra == nil {
		return
	}
	river.AddWorker(workers, jobs.NewWebhookDeliverWorker(m.infra.Webhooks, m.sender))
}

func (m *NotificationModule) Shutdown(context.Context) error { return nil }
