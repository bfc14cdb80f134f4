package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"merchpulse.io/pulse/internal/api/middleware"
	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/service"
)

// CreateSegment handles POST /api/v1/segments.
func (s *Server) CreateSegment(c *gin.Context) {
	var req service.SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed request body"))
		return
	}
	seg, err := s.segmentSvc.Create(c.Request.Context(), middleware.TenantID(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, seg)
}

// UpdateSegment handles PUT /api/v1/segments/:id.
func (s *Server) UpdateSegment(c *gin.Context) {
	segmentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req service.SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed request body"))
		return
	}
	seg, err := s.segmentSvc.Update(c.Request.Context(), middleware.TenantID(c), segmentID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, seg)
}

// DeleteSegment handles DELETE /api/v1/segments/:id.
func (s *Server) DeleteSegment(c *gin.Context) {
	segmentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := s.segmentSvc.Delete(c.Request.Context(), middleware.TenantID(c), segmentID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSegment handles GET /api/v1/segments/:id.
func (s *Server) GetSegment(c *gin.Context) {
	segmentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	seg, err := s.segmentSvc.Get(c.Request.Context(), middleware.TenantID(c), segmentID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, seg)
}

// ListSegments handles GET /api/v1/segments.
func (s *Server) ListSegments(c *gin.Context) {
	segments, err := s.segmentSvc.List(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if segments == nil {
		segments = []domain.Segment{}
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

// PreviewSegment handles POST /api/v1/segments/preview: evaluate a
// filter group without saving a definition.
func (s *Server) PreviewSegment(c *gin.Context) {
	var filters domain.FilterGroup
	if err := c.ShouldBindJSON(&filters); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed request body"))
		return
	}
	eval, err := s.segmentSvc.Preview(c.Request.Context(), middleware.TenantID(c), filters)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

// RefreshSegment handles POST /api/v1/segments/:id/refresh.
func (s *Server) RefreshSegment(c *gin.Context) {
	segmentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := s.segmentSvc.Refresh(c.Request.Context(), middleware.TenantID(c), segmentID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}
