package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/platform"
	"merchpulse.io/pulse/internal/repository"
	datasync "merchpulse.io/pulse/internal/sync"
)

// Webhook topics the platform pushes.
const (
	TopicCustomerCreate = "customers/create"
	TopicCustomerUpdate = "customers/update"
	TopicCustomerDelete = "customers/delete"
	TopicOrderCreate    = "orders/create"
	TopicOrderUpdate    = "orders/update"
)

// WebhookIngestArgs applies one platform webhook payload: a single
// customer or order upsert followed by a targeted rescore, instead of
// waiting for the next full sync.
type WebhookIngestArgs struct {
	TenantID uuid.UUID       `json:"tenant_id"`
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload"`
}

// Kind returns the job kind identifier for webhook ingestion.
func (WebhookIngestArgs) Kind() string { return "webhook_ingest" }

// InsertOpts returns default insert options for webhook ingestion.
func (WebhookIngestArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueWebhook,
		MaxAttempts: 3,
	}
}

// WebhookIngestWorker upserts the single record carried by a platform
// webhook and enqueues a rescore for the affected customer.
type WebhookIngestWorker struct {
	river.WorkerDefaults[WebhookIngestArgs]
	customers repository.CustomerStore
	orders    repository.OrderStore
}

// NewWebhookIngestWorker creates a webhook ingestion worker.
func NewWebhookIngestWorker(customers repository.CustomerStore, orders repository.OrderStore) *WebhookIngestWorker {
	return &WebhookIngestWorker{customers: customers, orders: orders}
}

// Work applies the payload for the topic.
func (w *WebhookIngestWorker) Work(ctx context.Context, job *river.Job[WebhookIngestArgs]) error {
	tenantID := job.Args.TenantID

	switch job.Args.Topic {
	case TopicCustomerCreate, TopicCustomerUpdate:
		return w.upsertCustomer(ctx, tenantID, job.Args.Payload)
	case TopicCustomerDelete:
		return w.deleteCustomer(ctx, tenantID, job.Args.Payload)
	case TopicOrderCreate, TopicOrderUpdate:
		return w.upsertOrder(ctx, tenantID, job.Args.Payload)
	default:
		// Unknown topics are configuration drift, not transient failures.
		return river.JobCancel(fmt.Errorf("unhandled webhook topic %q", job.Args.Topic))
	}
}

func (w *WebhookIngestWorker) upsertCustomer(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) error {
	var pc platform.Customer
	if err := json.Unmarshal(payload, &pc); err != nil {
		return river.JobCancel(fmt.Errorf("decode customer webhook payload: %w", err))
	}

	customer := datasync.MapCustomer(tenantID, pc)
	created, err := w.customers.Upsert(ctx, customer)
	if err != nil {
		return fmt.Errorf("webhook customer upsert %s: %w", pc.ID, err)
	}
	logger.Info("Webhook customer applied",
		zap.String("tenant_id", tenantID.String()),
		zap.String("external_id", pc.ID),
		zap.Bool("created", created),
	)

	return w.enqueueRescore(ctx, tenantID, customer.ID)
}

func (w *WebhookIngestWorker) deleteCustomer(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) error {
	var pc platform.Customer
	if err := json.Unmarshal(payload, &pc); err != nil {
		return river.JobCancel(fmt.Errorf("decode customer webhook payload: %w", err))
	}
	if err := w.customers.Delete(ctx, tenantID, pc.ID); err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.CodeCustomerNotFound {
			// Already gone; deletes are idempotent.
			return nil
		}
		return fmt.Errorf("webhook customer delete %s: %w", pc.ID, err)
	}
	logger.Info("Webhook customer deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("external_id", pc.ID),
	)
	return nil
}

func (w *WebhookIngestWorker) upsertOrder(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) error {
	var po platform.Order
	if err := json.Unmarshal(payload, &po); err != nil {
		return river.JobCancel(fmt.Errorf("decode order webhook payload: %w", err))
	}

	order, err := datasync.MapOrder(tenantID, po)
	if err != nil {
		return river.JobCancel(fmt.Errorf("map order webhook payload %s: %w", po.ID, err))
	}
	if _, err := w.orders.Upsert(ctx, order); err != nil {
		return fmt.Errorf("webhook order upsert %s: %w", po.ID, err)
	}

	// A single order moved; refresh the owner's stats and scores without
	// waiting for the next sweep.
	if order.CustomerExternalID != "" {
		customer, err := w.customers.GetByExternalID(ctx, tenantID, order.CustomerExternalID)
		if err != nil {
			if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.CodeCustomerNotFound {
				logger.Debug("Webhook order arrived before its customer",
					zap.String("order_external_id", po.ID),
				)
				return nil
			}
			return fmt.Errorf("load customer for webhook order %s: %w", po.ID, err)
		}
		if _, err := w.customers.RecomputeOrderStats(ctx, tenantID); err != nil {
			return fmt.Errorf("recompute stats after webhook order %s: %w", po.ID, err)
		}
		return w.enqueueRescore(ctx, tenantID, customer.ID)
	}
	return nil
}

func (w *WebhookIngestWorker) enqueueRescore(ctx context.Context, tenantID, customerID uuid.UUID) error {
	client := river.ClientFromContext[pgx.Tx](ctx)
	if _, err := client.Insert(ctx, RFMCustomerArgs{TenantID: tenantID, CustomerID: customerID}, nil); err != nil {
		return fmt.Errorf("enqueue rescore for customer %s: %w", customerID, err)
	}
	return nil
}
