// Pipeline status handler.
//
// GET /status aggregates the operational picture in one response: poller
// health, per-task scheduler state, backlog depths, and the validator's
// recent day-quality scores.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mfarhanz/go-attendance-core/internal/repo"
	"github.com/mfarhanz/go-attendance-core/internal/services"
)

// StatusResponse is the aggregate answer for GET /status.
type StatusResponse struct {
	UptimeSeconds    int64                          `json:"uptime_seconds"`
	Poller           services.PollerStatus          `json:"poller"`
	Tasks            map[string]services.TaskStatus `json:"tasks"`
	UnconsumedEvents int64                          `json:"unconsumed_events"`
	OpenSessions     int64                          `json:"open_sessions"`
	UnresolvedGaps   int64                          `json:"unresolved_gaps"`
	DayQuality       []services.DayQuality          `json:"day_quality"`
}

// GetStatus handles GET /status.
func (h *Handlers) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	unconsumed, err := repo.CountUnconsumed(ctx, h.DB)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not read staging backlog")
		return
	}
	open, err := repo.CountOpenSessions(ctx, h.DB)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not count open sessions")
		return
	}
	gaps, err := repo.CountUnresolvedGaps(ctx, h.DB)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not count gaps")
		return
	}

	ok(c, http.StatusOK, StatusResponse{
		UptimeSeconds:    int64(time.Since(h.StartedAt).Seconds()),
		Poller:           h.Poller.Status(),
		Tasks:            h.Runner.Status(),
		UnconsumedEvents: unconsumed,
		OpenSessions:     open,
		UnresolvedGaps:   gaps,
		DayQuality:       h.Validator.Recent(),
	})
}
