package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/jobs"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
	"merchpulse.io/pulse/internal/repository"
)

// EndpointRequest carries the fields for registering an outbound
// webhook endpoint. An empty EventTypes subscribes to all events.
type EndpointRequest struct {
	URL        string             `json:"url"`
	Secret     string             `json:"secret,omitempty"`
	EventTypes []domain.EventType `json:"event_types,omitempty"`
}

var knownEventTypes = map[domain.EventType]bool{
	domain.EventSyncStarted:     true,
	domain.EventSyncCompleted:   true,
	domain.EventSyncFailed:      true,
	domain.EventRFMCompleted:    true,
	domain.EventChurnCompleted:  true,
	domain.EventSegmentUpdated:  true,
	domain.EventChurnRiskRaised: true,
}

var knownTopics = map[string]bool{
	jobs.TopicCustomerCreate: true,
	jobs.TopicCustomerUpdate: true,
	jobs.TopicCustomerDelete: true,
	jobs.TopicOrderCreate:    true,
	jobs.TopicOrderUpdate:    true,
}

// WebhookService manages outbound endpoint registrations and accepts
// inbound platform webhooks. Inbound payloads are never processed on
// the request path; they are acknowledged and queued.
type WebhookService struct {
	endpoints repository.WebhookStore
	river     JobInserter
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(endpoints repository.WebhookStore, riverClient JobInserter) *WebhookService {
	return &WebhookService{endpoints: endpoints, river: riverClient}
}

// CreateEndpoint registers an outbound endpoint. A secret is generated
// when the caller does not supply one; it is returned exactly once.
func (s *WebhookService) CreateEndpoint(ctx context.Context, tenantID uuid.UUID, req EndpointRequest) (*domain.WebhookEndpoint, string, error) {
	if err := validateEndpoint(&req); err != nil {
		return nil, "", err
	}

	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return nil, "", fmt.Errorf("generate webhook secret: %w", err)
		}
	}

	endpoint := &domain.WebhookEndpoint{
		ID:         uuid.New(),
		TenantID:   tenantID,
		URL:        req.URL,
		Secret:     secret,
		EventTypes: req.EventTypes,
		IsActive:   true,
	}
	if err := s.endpoints.Create(ctx, endpoint); err != nil {
		return nil, "", fmt.Errorf("create webhook endpoint: %w", err)
	}

	logger.Info("webhook endpoint registered",
		zap.String("tenant_id", tenantID.String()),
		zap.String("endpoint_id", endpoint.ID.String()),
		zap.String("url", endpoint.URL),
	)
	return endpoint, secret, nil
}

// GetEndpoint loads one endpoint registration.
func (s *WebhookService) GetEndpoint(ctx context.Context, tenantID, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	return s.endpoints.GetByID(ctx, tenantID, id)
}

// ListEndpoints returns all endpoint registrations for a tenant.
func (s *WebhookService) ListEndpoints(ctx context.Context, tenantID uuid.UUID) ([]domain.WebhookEndpoint, error) {
	return s.endpoints.ListByTenant(ctx, tenantID)
}

// DeleteEndpoint removes an endpoint registration.
func (s *WebhookService) DeleteEndpoint(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.endpoints.Delete(ctx, tenantID, id)
}

// Ingest queues one inbound platform webhook for processing.
func (s *WebhookService) Ingest(ctx context.Context, tenantID uuid.UUID, topic string, payload json.RawMessage) error {
	if !knownTopics[topic] {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, "unsupported webhook topic").
			WithParams(map[string]interface{}{"topic": topic})
	}
	if !json.Valid(payload) {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, "webhook payload is not valid JSON")
	}

	_, err := s.river.Insert(ctx, jobs.WebhookIngestArgs{
		TenantID: tenantID,
		Topic:    topic,
		Payload:  payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueue webhook %s: %w", topic, err)
	}
	return nil
}

func validateEndpoint(req *EndpointRequest) error {
	var fieldErrs []apperrors.FieldError

	req.URL = strings.TrimSpace(req.URL)
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fieldErrs = append(fieldErrs, apperrors.FieldError{
			Field: "url", Message: "must be a valid http(s) URL",
		})
	}

	for _, et := range req.EventTypes {
		if !knownEventTypes[et] {
			fieldErrs = append(fieldErrs, apperrors.FieldError{
				Field:   "event_types",
				Message: fmt.Sprintf("unknown event type %q", et),
			})
		}
	}

	if len(fieldErrs) > 0 {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid webhook endpoint").
			WithFieldErrors(fieldErrs)
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
