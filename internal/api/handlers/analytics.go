package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"merchpulse.io/pulse/internal/api/middleware"
)

// GetAnalyticsSummary handles GET /api/v1/analytics/summary.
func (s *Server) GetAnalyticsSummary(c *gin.Context) {
	summary, err := s.analyticsSvc.Summary(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetCustomer handles GET /api/v1/customers/:id.
func (s *Server) GetCustomer(c *gin.Context) {
	customerID, ok := parseIDParam(c)
	if !ok {
		return
	}
	customer, err := s.analyticsSvc.GetCustomer(c.Request.Context(), middleware.TenantID(c), customerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

// PredictCustomerChurn handles GET /api/v1/customers/:id/churn.
func (s *Server) PredictCustomerChurn(c *gin.Context) {
	customerID, ok := parseIDParam(c)
	if !ok {
		return
	}
	prediction, err := s.analyticsSvc.PredictChurn(c.Request.Context(), middleware.TenantID(c), customerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, prediction)
}
