package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/notification"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
)

// WebhookDeliverArgs delivers one event to one endpoint. The event is
// carried inline; deliveries must survive even when the producing job
// is long gone.
type WebhookDeliverArgs struct {
	EndpointID uuid.UUID        `json:"endpoint_id"`
	TenantID   uuid.UUID        `json:"tenant_id"`
	EventID    string           `json:"event_id"`
	EventType  domain.EventType `json:"event_type"`
	CreatedAt  time.Time        `json:"created_at"`
	Payload    json.RawMessage  `json:"payload"`
}

// Kind returns the job kind identifier for webhook deliveries.
func (WebhookDeliverArgs) Kind() string { return "webhook_deliver" }

// InsertOpts returns default insert options for webhook deliveries.
// Flaky receivers get more attempts than internal jobs.
func (WebhookDeliverArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueWebhook,
		MaxAttempts: 5,
	}
}

// WebhookDeliverWorker POSTs one event to one endpoint and records the
// outcome on the endpoint's counters.
type WebhookDeliverWorker struct {
	river.WorkerDefaults[WebhookDeliverArgs]
	endpoints repository.WebhookStore
	sender    notification.Sender
}

// NewWebhookDeliverWorker creates a webhook delivery worker.
func NewWebhookDeliverWorker(endpoints repository.WebhookStore, sender notification.Sender) *WebhookDeliverWorker {
	return &WebhookDeliverWorker{endpoints: endpoints, sender: sender}
}

// Work delivers the event.
func (w *WebhookDeliverWorker) Work(ctx context.Context, job *river.Job[WebhookDeliverArgs]) error {
	endpoint, err := w.endpoints.GetByID(ctx, job.Args.TenantID, job.Args.EndpointID)
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.CodeWebhookNotFound {
			logger.Info("Webhook endpoint deleted before delivery, dropping job",
				zap.String("endpoint_id", job.Args.EndpointID.String()),
			)
			return river.JobCancel(err)
		}
		return fmt.Errorf("load webhook endpoint %s: %w", job.Args.EndpointID, err)
	}
	if !endpoint.IsActive {
		logger.Debug("Webhook endpoint deactivated, dropping delivery",
			zap.String("endpoint_id", endpoint.ID.String()),
		)
		return nil
	}

	event := &domain.DomainEvent{
		EventID:   job.Args.EventID,
		EventType: job.Args.EventType,
		TenantID:  job.Args.TenantID,
		Payload:   job.Args.Payload,
		CreatedAt: job.Args.CreatedAt,
	}
	if err := w.sender.Send(ctx, endpoint, event); err != nil {
		if recErr := w.endpoints.RecordDelivery(ctx, endpoint.ID, false); recErr != nil {
			logger.Warn("Failed to record webhook delivery failure", zap.Error(recErr))
		}
		return fmt.Errorf("deliver event %s to %s: %w", job.Args.EventID, endpoint.URL, err)
	}
	if err := w.endpoints.RecordDelivery(ctx, endpoint.ID, true); err != nil {
		logger.Warn("Failed to record webhook delivery success", zap.Error(err))
	}
	return nil
}

// WebhookFanout is the event dispatcher handler that turns one domain
// event into one durable delivery job per subscribed endpoint.
type WebhookFanout struct {
	endpoints repository.WebhookStore
	client    *river.Client[pgx.Tx]
}

// NewWebhookFanout creates the fan-out handler.
func NewWebhookFanout(endpoints repository.WebhookStore, client *river.Client[pgx.Tx]) *WebhookFanout {
	return &WebhookFanout{endpoints: endpoints, client: client}
}

// Register subscribes the fan-out to every event type endpoints can
// receive.
func (f *WebhookFanout) Register(dispatcher *domain.EventDispatcher) {
	for _, eventType := range []domain.EventType{
		domain.EventSyncStarted,
		domain.EventSyncCompleted,
		domain.EventSyncFailed,
		domain.EventRFMCompleted,
		domain.EventChurnCompleted,
		domain.EventSegmentUpdated,
		domain.EventChurnRiskRaised,
	} {
		dispatcher.Register(eventType, f.HandleEvent)
	}
}

// HandleEvent enqueues one delivery job per endpoint subscribed to the
// event's type.
func (f *WebhookFanout) HandleEvent(ctx context.Context, event *domain.DomainEvent) error {
	endpoints, err := f.endpoints.ListActiveForEvent(ctx, event.TenantID, event.EventType)
	if err != nil {
		return fmt.Errorf("list webhook endpoints: %w", err)
	}
	for _, endpoint := range endpoints {
		_, err := f.client.Insert(ctx, WebhookDeliverArgs{
			EndpointID: endpoint.ID,
			TenantID:   event.TenantID,
			EventID:    event.EventID,
			EventType:  event.EventType,
			CreatedAt:  event.CreatedAt,
			Payload:    event.Payload,
		}, nil)
		if err != nil {
			return fmt.Errorf("enqueue webhook delivery to %s: %w", endpoint.URL, err)
		}
	}
	return nil
}
