package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

// TenantIDHeader carries the tenant scope for every API call. The
// gateway in front of this service resolves sessions to a tenant and
// sets the header; this layer only validates and propagates it.
const TenantIDHeader = "X-Tenant-ID"

const ctxKeyTenantID = "tenant_id"

// RequireTenant rejects requests without a well-formed tenant id and
// stores the parsed id on the Gin context for handlers.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(TenantIDHeader)
		if raw == "" {
			c.Error(apperrors.BadRequest(apperrors.CodeTenantNotFound, "missing tenant id header"))
			c.Abort()
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.Error(apperrors.BadRequest(apperrors.CodeTenantNotFound, "malformed tenant id"))
			c.Abort()
			return
		}
		c.Set(ctxKeyTenantID, tenantID)
		c.Next()
	}
}

// TenantID returns the tenant id stored by RequireTenant.
func TenantID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ctxKeyTenantID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
