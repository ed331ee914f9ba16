// Session read-model HTTP handlers.
//
// This file exposes the reporting surface over folded attendance data:
//   - GET /sessions        (filtered, paginated)
//   - GET /sessions/{id}
//   - GET /gaps            (sequence gaps, optionally filtered by resolution)
//
// Handlers are transport-thin: they validate input, call the repository
// read-model, and translate results into HTTP responses. All writes happen in
// the pipeline; nothing here mutates state.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
	"github.com/mfarhanz/go-attendance-core/internal/repo"
	"github.com/mfarhanz/go-attendance-core/internal/services"
	"github.com/mfarhanz/go-attendance-core/internal/utils"
)

// maxPageSize caps page_size to keep a single response bounded.
const maxPageSize = 200

// Handlers groups the HTTP endpoints over the reconciliation pipeline.
type Handlers struct {
	DB        *gorm.DB
	Runner    *services.Runner
	Poller    *services.Poller
	Validator *services.Validator
	StartedAt time.Time
}

// New constructs a Handlers instance bound to the pipeline components.
func New(db *gorm.DB, runner *services.Runner, poller *services.Poller, validator *services.Validator) *Handlers {
	return &Handlers{DB: db, Runner: runner, Poller: poller, Validator: validator, StartedAt: time.Now().UTC()}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// SessionsResponse is the paginated session list envelope.
type SessionsResponse struct {
	Sessions   []domain.AttendanceSession `json:"sessions"`
	Pagination Pagination                 `json:"pagination"`
}

// ListSessions handles GET /sessions.
//
// Query parameters: employee_code, from, to (inclusive YYYY-MM-DD bounds),
// page, page_size.
func (h *Handlers) ListSessions(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	if !validDate(from) || !validDate(to) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from/to must be YYYY-MM-DD")
		return
	}
	if from != "" && to != "" && from > to {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must not be after to")
		return
	}

	page, pageSize := utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 50),
		maxPageSize,
	)
	employee := c.Query("employee_code")

	ctx := c.Request.Context()
	total, err := repo.CountSessions(ctx, h.DB, employee, from, to)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not count sessions")
		return
	}
	sessions, err := repo.ListSessionsPage(ctx, h.DB, employee, from, to, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list sessions")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, SessionsResponse{
		Sessions: sessions,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// GetSession handles GET /sessions/{id}.
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := repo.GetSession(c.Request.Context(), h.DB, c.Param("id"))
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load session")
		return
	}
	ok(c, http.StatusOK, s)
}

// ListGaps handles GET /gaps. The optional resolved query parameter filters
// by resolution state ("true"/"false").
func (h *Handlers) ListGaps(c *gin.Context) {
	var resolved *bool
	switch c.Query("resolved") {
	case "":
	case "true":
		t := true
		resolved = &t
	case "false":
		f := false
		resolved = &f
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "resolved must be true or false")
		return
	}

	gaps, err := repo.ListGaps(c.Request.Context(), h.DB, resolved)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list gaps")
		return
	}
	ok(c, http.StatusOK, gin.H{"gaps": gaps})
}

// validDate accepts the empty string or a YYYY-MM-DD day.
func validDate(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.ParseInLocation(domain.DateLayout, s, time.UTC)
	return err == nil
}
