package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"merchpulse.io/pulse/internal/api/middleware"
	"merchpulse.io/pulse/internal/domain"
	"merchpulse.io/pulse/internal/progress"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/service"
)

// StartSync handles POST /api/v1/sync. Returns 202 with the durable
// run record; the run itself executes on the job queue.
func (s *Server) StartSync(c *gin.Context) {
	var req service.StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed request body"))
		return
	}
	req.TenantID = middleware.TenantID(c)

	job, err := s.syncSvc.Start(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// GetSyncRun handles GET /api/v1/sync/runs/:id.
func (s *Server) GetSyncRun(c *gin.Context) {
	runID, ok := parseIDParam(c)
	if !ok {
		return
	}
	job, err := s.syncSvc.GetRun(c.Request.Context(), middleware.TenantID(c), runID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetSyncProgress handles GET /api/v1/sync/runs/:id/progress, the
// polling fallback for clients that cannot hold an event stream open.
func (s *Server) GetSyncProgress(c *gin.Context) {
	runID, ok := parseIDParam(c)
	if !ok {
		return
	}
	rec, err := s.syncSvc.GetProgress(c.Request.Context(), middleware.TenantID(c), runID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListActiveSyncs handles GET /api/v1/sync/active.
func (s *Server) ListActiveSyncs(c *gin.Context) {
	runs, err := s.syncSvc.ListActiveProgress(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if runs == nil {
		runs = []domain.SyncProgress{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// StreamSyncProgress handles GET /api/v1/sync/stream. Server-sent
// events; an optional run_id query narrows the stream to one run.
func (s *Server) StreamSyncProgress(c *gin.Context) {
	tenantID := middleware.TenantID(c)

	runID := uuid.Nil
	if raw := c.Query("run_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed run_id"))
			return
		}
		runID = parsed
	}

	sub, cancel := s.broadcaster.Subscribe(tenantID, runID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// Replay current state first so late subscribers are not blind
	// until the next publish.
	if runID != uuid.Nil {
		if rec, err := s.syncSvc.GetProgress(c.Request.Context(), tenantID, runID); err == nil {
			writeSSE(c.Writer, progress.Event{Type: progress.EventProgress, Data: rec})
			c.Writer.Flush()
		}
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-sub.Events:
			if !open {
				return false
			}
			writeSSE(w, ev)
			// Terminal events end a single-run stream.
			return runID == uuid.Nil || ev.Type == progress.EventProgress
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func writeSSE(w io.Writer, ev progress.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	io.WriteString(w, "event: "+ev.Type+"\n")
	io.WriteString(w, "data: "+string(data)+"\n\n")
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed id"))
		return uuid.Nil, false
	}
	return id, true
}
