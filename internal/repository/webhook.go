package repository

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

// WebhookStore persists tenant webhook endpoints and their delivery
// counters.
type WebhookStore interface {
	Create(ctx context.Context, e *domain.WebhookEndpoint) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.WebhookEndpoint, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.WebhookEndpoint, error)
	ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, eventType domain.EventType) ([]domain.WebhookEndpoint, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	RecordDelivery(ctx context.Context, id uuid.UUID, success bool) error
}

// WebhookRepository implements WebhookStore using pgx.
type WebhookRepository struct {
	db DB
}

// NewWebhookRepository creates a webhook repository.
func NewWebhookRepository(db DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookColumns = `id, tenant_id, url, secret, event_types, is_active,
		success_count, failure_count, last_success_at, last_failure_at,
		created_at, updated_at`

// Create registers an endpoint.
func (r *WebhookRepository) Create(ctx context.Context, e *domain.WebhookEndpoint) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (id, tenant_id, url, secret, event_types, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`,
		e.ID, e.TenantID, e.URL, e.Secret, eventTypeStrings(e.EventTypes), e.IsActive,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// GetByID loads one endpoint.
func (r *WebhookRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+webhookColumns+`
		FROM webhook_endpoints
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	e, err := scanWebhook(row)
	if err == pgx.ErrNoRows {
		return nil, apperrors.New(apperrors.CodeWebhookNotFound, "webhook endpoint not found", http.StatusNotFound).
			WithParams(map[string]interface{}{"webhook_id": id.String()})
	}
	if err != nil {
		return nil, fmt.Errorf("load webhook endpoint: %w", err)
	}
	return e, nil
}

// ListByTenant returns every endpoint of the tenant.
func (r *WebhookRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.WebhookEndpoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhook_endpoints
		WHERE tenant_id = $1
		ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

// ListActiveForEvent returns active endpoints subscribed to eventType.
// Endpoints with an empty event_types list receive every event.
func (r *WebhookRepository) ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, eventType domain.EventType) ([]domain.WebhookEndpoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhook_endpoints
		WHERE tenant_id = $1
		  AND is_active
		  AND (event_types = '{}' OR $2 = ANY(event_types))
		ORDER BY created_at`,
		tenantID, string(eventType),
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints for event: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

// Delete removes an endpoint.
func (r *WebhookRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM webhook_endpoints WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeWebhookNotFound, "webhook endpoint not found", http.StatusNotFound).
			WithParams(map[string]interface{}{"webhook_id": id.String()})
	}
	return nil
}

// RecordDelivery bumps the endpoint's delivery counters.
func (r *WebhookRepository) RecordDelivery(ctx context.Context, id uuid.UUID, success bool) error {
	var query string
	if success {
		query = `
			UPDATE webhook_endpoints SET
				success_count = success_count + 1, last_success_at = now(), updated_at = now()
			WHERE id = $1`
	} else {
		query = `
			UPDATE webhook_endpoints SET
				failure_count = failure_count + 1, last_failure_at = now(), updated_at = now()
			WHERE id = $1`
	}
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

func scanWebhook(row pgx.Row) (*domain.WebhookEndpoint, error) {
	var (
		e     domain.WebhookEndpoint
		types []string
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.URL, &e.Secret, &types, &e.IsActive,
		&e.SuccessCount, &e.FailureCount, &e.LastSuccessAt, &e.LastFailureAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.EventTypes = make([]domain.EventType, len(types))
	for i, t := range types {
		e.EventTypes[i] = domain.EventType(t)
	}
	return &e, nil
}

func collectWebhooks(rows pgx.Rows) ([]domain.WebhookEndpoint, error) {
	var endpoints []domain.WebhookEndpoint
	for rows.Next() {
		e, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}
	return endpoints, rows.Err()
}

func eventTypeStrings(types []domain.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
