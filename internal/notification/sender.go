// Package notification delivers pipeline events to tenant-registered
// webhook endpoints. Deliveries run on the webhook queue; this package
// only knows how to sign and POST one payload.
package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
)

// Delivery headers.
const (
	HeaderSignature = "X-Pulse-Signature"
	HeaderEvent     = "X-Pulse-Event"
	HeaderDelivery  = "X-Pulse-Delivery"
)

// Envelope is the JSON body POSTed to endpoints.
type Envelope struct {
	EventID   string           `json:"event_id"`
	EventType domain.EventType `json:"event_type"`
	TenantID  string           `json:"tenant_id"`
	CreatedAt time.Time        `json:"created_at"`
	Data      json.RawMessage  `json:"data"`
}

// Sender delivers one event to one endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint *domain.WebhookEndpoint, event *domain.DomainEvent) error
}

// WebhookSender POSTs signed JSON envelopes. A non-2xx response is an
// error; the caller decides whether to retry.
type WebhookSender struct {
	http *http.Client
}

// NewWebhookSender creates a sender with the given request timeout.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{http: &http.Client{Timeout: timeout}}
}

// Send signs and POSTs the event envelope to the endpoint.
func (s *WebhookSender) Send(ctx context.Context, endpoint *domain.WebhookEndpoint, event *domain.DomainEvent) error {
	body, err := json.Marshal(Envelope{
		EventID:   event.EventID,
		EventType: event.EventType,
		TenantID:  event.TenantID.String(),
		CreatedAt: event.CreatedAt,
		Data:      event.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode webhook envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.EventType))
	req.Header.Set(HeaderDelivery, event.EventID)
	req.Header.Set(HeaderSignature, Sign(endpoint.Secret, body))

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeWebhookDeliveryFail, "webhook endpoint unreachable", http.StatusBadGateway).
			WithParams(map[string]interface{}{"url": endpoint.URL})
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.New(apperrors.CodeWebhookDeliveryFail, "webhook endpoint rejected delivery", http.StatusBadGateway).
			WithParams(map[string]interface{}{
				"url":    endpoint.URL,
				"status": resp.StatusCode,
			})
	}

	logger.Debug("Webhook delivered",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("url", endpoint.URL),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under the endpoint secret.
// Receivers recompute this over the raw request body to authenticate.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
