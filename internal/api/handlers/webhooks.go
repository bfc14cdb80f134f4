package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"merchpulse.io/pulse/internal/api/middleware"
	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/service"
)

// PlatformTopicHeader names the inbound webhook topic, mirroring the
// commerce platform's delivery headers.
const PlatformTopicHeader = "X-Platform-Topic"

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// ReceivePlatformWebhook handles POST /api/v1/webhooks/platform. The
// payload is queued and acknowledged immediately; the platform retries
// on anything but a 2xx.
func (s *Server) ReceivePlatformWebhook(c *gin.Context) {
	topic := c.GetHeader(PlatformTopicHeader)
	if topic == "" {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "missing topic header"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "unreadable request body"))
		return
	}

	err = s.webhookSvc.Ingest(c.Request.Context(), middleware.TenantID(c), topic, json.RawMessage(body))
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

// CreateWebhookEndpoint handles POST /api/v1/webhooks/endpoints. The
// signing secret is included in this response only.
func (s *Server) CreateWebhookEndpoint(c *gin.Context) {
	var req service.EndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed request body"))
		return
	}
	endpoint, secret, err := s.webhookSvc.CreateEndpoint(c.Request.Context(), middleware.TenantID(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"endpoint": endpoint, "secret": secret})
}

// GetWebhookEndpoint handles GET /api/v1/webhooks/endpoints/:id.
func (s *Server) GetWebhookEndpoint(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	endpoint, err := s.webhookSvc.GetEndpoint(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// ListWebhookEndpoints handles GET /api/v1/webhooks/endpoints.
func (s *Server) ListWebhookEndpoints(c *gin.Context) {
	endpoints, err := s.webhookSvc.ListEndpoints(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if endpoints == nil {
		endpoints = []domain.WebhookEndpoint{}
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

// DeleteWebhookEndpoint handles DELETE /api/v1/webhooks/endpoints/:id.
func (s *Server) DeleteWebhookEndpoint(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := s.webhookSvc.DeleteEndpoint(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
