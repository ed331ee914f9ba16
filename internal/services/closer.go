// Package services – stale session closer
//
// Sessions left OPEN past the stale threshold never received a terminating
// punch-out. The closer force-terminates them: check-out is pinned to
// checkIn + threshold, worked hours are capped at the threshold, and penalty
// rules are applied for the missing punch-out and for auxiliary location
// signals. This is the only component allowed to make the OPEN→AUTO_CLOSED
// transition; COMPLETE and ORPHANED sessions are never touched.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
	"github.com/mfarhanz/go-attendance-core/internal/metrics"
	"github.com/mfarhanz/go-attendance-core/internal/registry"
	"github.com/mfarhanz/go-attendance-core/internal/repo"
)

// LocationScorer judges whether an employee was plausibly at a work location
// at a given instant. Confidence is 0..100; implementations are heuristics
// and deliberately pluggable so penalty policy stays independent of any one
// signal source.
type LocationScorer interface {
	ScoreLocationConfidence(ctx context.Context, employeeCode string, at time.Time) (onSite bool, confidence int, err error)
}

// TerminalScorer scores location from the employee's most recent punch
// activity: a recent punch on an on-site terminal is strong evidence the
// employee was at work. Confidence decays as the last signal ages.
type TerminalScorer struct {
	DB              *gorm.DB
	OnsiteTerminals map[string]struct{}
}

// NewTerminalScorer builds a scorer over the staged event history. With an
// empty terminal allowlist every terminal counts as on-site.
func NewTerminalScorer(db *gorm.DB, onsiteTerminals []string) *TerminalScorer {
	set := make(map[string]struct{}, len(onsiteTerminals))
	for _, t := range onsiteTerminals {
		set[t] = struct{}{}
	}
	return &TerminalScorer{DB: db, OnsiteTerminals: set}
}

// ScoreLocationConfidence implements LocationScorer.
func (s *TerminalScorer) ScoreLocationConfidence(ctx context.Context, employeeCode string, at time.Time) (bool, int, error) {
	ev, err := repo.LatestEventBefore(ctx, s.DB, employeeCode, at)
	if errors.Is(err, repo.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	onSite := true
	if len(s.OnsiteTerminals) > 0 {
		_, onSite = s.OnsiteTerminals[ev.TerminalID]
	}

	// 100 for a fresh signal, minus 10 per hour of age, floor 0.
	age := at.Sub(ev.Timestamp)
	conf := 100 - int(age.Hours()*10)
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}
	return onSite, conf, nil
}

// CloserStatus is the closer's operational snapshot.
type CloserStatus struct {
	LastRun   time.Time `json:"last_run"`
	Closed    int64     `json:"sessions_closed"`
	LastError string    `json:"last_error,omitempty"`
}

// StaleCloser sweeps and force-closes stale OPEN sessions.
type StaleCloser struct {
	DB       *gorm.DB
	Registry registry.Registry
	Scorer   LocationScorer
	Feed     *Feed

	StaleAfter        time.Duration
	MaxHours          float64
	PenaltyMissingOut float64
	PenaltyOffsite    float64
	PenaltyLowSignal  float64
	ConfidenceFloor   int

	now func() time.Time // test seam
}

// NewStaleCloser constructs a closer with the given thresholds and penalties.
func NewStaleCloser(db *gorm.DB, reg registry.Registry, scorer LocationScorer, feed *Feed,
	staleAfter time.Duration, maxHours, penaltyMissingOut, penaltyOffsite, penaltyLowSignal float64,
	confidenceFloor int) *StaleCloser {
	return &StaleCloser{
		DB:                db,
		Registry:          reg,
		Scorer:            scorer,
		Feed:              feed,
		StaleAfter:        staleAfter,
		MaxHours:          maxHours,
		PenaltyMissingOut: penaltyMissingOut,
		PenaltyOffsite:    penaltyOffsite,
		PenaltyLowSignal:  penaltyLowSignal,
		ConfidenceFloor:   confidenceFloor,
		now:               time.Now,
	}
}

// RunCycle closes every OPEN session whose check-in is older than the stale
// threshold. Returns the number of sessions closed. A failure on one session
// does not stop the sweep for the rest.
func (c *StaleCloser) RunCycle(ctx context.Context) (int, error) {
	now := c.now().UTC()
	stale, err := repo.ListOpenBefore(ctx, c.DB, now.Add(-c.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	closed := 0
	var firstErr error
	for i := range stale {
		if err := c.closeOne(ctx, &stale[i]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Error().Err(err).
				Str("component", "closer").
				Str("session_id", stale[i].ID).
				Msg("auto-close failed, will retry next sweep")
			continue
		}
		closed++
	}
	return closed, firstErr
}

func (c *StaleCloser) closeOne(ctx context.Context, s *domain.AttendanceSession) error {
	closeAt := s.CheckIn.Add(c.StaleAfter)
	available := cappedHours(*s.CheckIn, closeAt, c.MaxHours)

	var penalties float64
	var breakdown string

	// Exempt or deactivated employees get closed without penalties; the
	// session itself still terminates so the OPEN index stays clean.
	waived := !c.Registry.IsActiveEmployee(ctx, s.EmployeeCode) || c.Registry.IsBiometricExempt(ctx, s.EmployeeCode)
	if waived {
		breakdown = "auto-closed, penalties waived (employee inactive or biometric-exempt)"
	} else {
		penalties = c.PenaltyMissingOut
		breakdown = fmt.Sprintf("missing punch-out -%0.1fh", c.PenaltyMissingOut)

		onSite, confidence, err := c.Scorer.ScoreLocationConfidence(ctx, s.EmployeeCode, closeAt)
		if err != nil {
			// No signal at all reads as low confidence, not as a hard failure.
			log.Warn().Err(err).
				Str("component", "closer").
				Str("employee_code", s.EmployeeCode).
				Msg("location scoring failed")
			onSite, confidence = true, 0
		}
		if !onSite {
			penalties += c.PenaltyOffsite
			breakdown += fmt.Sprintf(", away from work location -%0.1fh", c.PenaltyOffsite)
		}
		if confidence < c.ConfidenceFloor {
			penalties += c.PenaltyLowSignal
			breakdown += fmt.Sprintf(", low-confidence signal (%d) -%0.1fh", confidence, c.PenaltyLowSignal)
		}
	}

	total := math.Round(math.Max(0, available-penalties)*100) / 100

	s.CheckOut = &closeAt
	s.Status = domain.StatusAutoClosed
	s.TotalHours = total
	s.PenaltyHours = penalties
	s.Notes = appendNote(s.Notes, fmt.Sprintf(
		"auto-closed at %s after %s without punch-out: available %0.2fh, %s, credited %0.2fh",
		closeAt.Format(time.RFC3339), c.StaleAfter, available, breakdown, total))

	if err := repo.SaveSession(ctx, c.DB, s); err != nil {
		return err
	}

	metrics.SessionsAutoClosed.Inc()
	if c.Feed != nil {
		c.Feed.Publish(SessionEvent{
			SessionID:    s.ID,
			EmployeeCode: s.EmployeeCode,
			Date:         s.Date,
			Status:       s.Status,
			TotalHours:   s.TotalHours,
			At:           closeAt,
		})
	}
	log.Info().
		Str("component", "closer").
		Str("session_id", s.ID).
		Str("employee_code", s.EmployeeCode).
		Float64("total_hours", total).
		Float64("penalty_hours", penalties).
		Msg("stale session auto-closed")
	return nil
}
