// Package services – session folding engine
//
// The folding engine drains the staging buffer in ascending source-id order
// and maintains each employee's per-day attendance session. Order is global,
// not per employee, so replaying the same staged backlog always produces the
// same sessions. The engine holds no cursor: every cycle re-queries "next
// unconsumed events", which makes a crash between fold and consume harmless:
// the event simply resurfaces.
//
// Per (employee, day) the state machine is:
//
//	NONE --in--> OPEN --out--> COMPLETE
//	NONE --out-> ORPHANED
//	OPEN --in--> OPEN (correction; first check-in wins, earlier arrivals adopted)
//
// Each successful transition appends the event's source id to the session and
// tombstones the event. A persistence failure leaves the event unconsumed so
// the next cycle retries it; the OPEN-uniqueness index makes the retry safe.
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

// Fold outcomes, used as the metrics label.
const (
	foldOpened    = "opened"
	foldCompleted = "completed"
	foldOrphaned  = "orphaned"
	foldCorrected = "corrected"
	foldSkipped   = "skipped"
)

// FoldingEngine folds staged punch events into attendance sessions.
type FoldingEngine struct {
	DB       *gorm.DB
	Registry registry.Registry
	Feed     *Feed

	// MaxHours caps TotalHours regardless of raw elapsed time.
	MaxHours float64
	// BatchSize bounds how many events one cycle consumes.
	BatchSize int
}

// NewFoldingEngine constructs a folding engine with the given cap and batch.
func NewFoldingEngine(db *gorm.DB, reg registry.Registry, feed *Feed, maxHours float64, batchSize int) *FoldingEngine {
	return &FoldingEngine{DB: db, Registry: reg, Feed: feed, MaxHours: maxHours, BatchSize: batchSize}
}

// RunCycle consumes one batch of staged events. It returns how many events
// were folded. The first persistence failure aborts the cycle; everything not
// yet consumed is retried on the next run.
func (f *FoldingEngine) RunCycle(ctx context.Context) (int, error) {
	events, err := repo.ListUnconsumed(ctx, f.DB, f.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unconsumed: %w", err)
	}

	processed := 0
	for i := range events {
		if err := f.foldOne(ctx, &events[i]); err != nil {
			return processed, fmt.Errorf("fold source id %d: %w", events[i].SourceID, err)
		}
		processed++
	}
	return processed, nil
}

// foldOne applies one event to its (employee, day) session and tombstones it.
func (f *FoldingEngine) foldOne(ctx context.Context, ev *domain.RawPunchEvent) error {
	date := ev.Day()

	if !f.Registry.IsActiveEmployee(ctx, ev.EmployeeCode) || f.Registry.IsBiometricExempt(ctx, ev.EmployeeCode) {
		log.Info().
			Str("component", "folding").
			Str("employee_code", ev.EmployeeCode).
			Int64("source_id", ev.SourceID).
			Msg("inactive or exempt employee, event consumed without session")
		metrics.FoldTransitions.WithLabelValues(foldSkipped).Inc()
		return repo.MarkConsumed(ctx, f.DB, []int64{ev.SourceID})
	}

	var outcome string
	var err error
	switch ev.Direction {
	case domain.DirectionIn:
		outcome, err = f.foldPunchIn(ctx, ev, date)
	case domain.DirectionOut:
		outcome, err = f.foldPunchOut(ctx, ev, date)
	default:
		// Terminals only send in/out; anything else is consumed for audit.
		log.Warn().
			Str("component", "folding").
			Str("direction", ev.Direction).
			Int64("source_id", ev.SourceID).
			Msg("unknown punch direction")
		outcome = foldSkipped
	}
	if err != nil {
		return err
	}

	metrics.FoldTransitions.WithLabelValues(outcome).Inc()
	// Consumed only after the session transition is durably stored.
	return repo.MarkConsumed(ctx, f.DB, []int64{ev.SourceID})
}

func (f *FoldingEngine) foldPunchIn(ctx context.Context, ev *domain.RawPunchEvent, date string) (string, error) {
	open, err := repo.GetOpenSession(ctx, f.DB, ev.EmployeeCode, date)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if _, err := repo.CreateOpenSession(ctx, f.DB, ev.EmployeeCode, date, ev.Timestamp, ev.SourceID); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				// Lost a race against a concurrent open; re-read and correct.
				if open, err = repo.GetOpenSession(ctx, f.DB, ev.EmployeeCode, date); err != nil {
					return "", err
				}
				return f.correctOpen(ctx, open, ev)
			}
			return "", err
		}
		return foldOpened, nil
	case err != nil:
		return "", err
	default:
		return f.correctOpen(ctx, open, ev)
	}
}

// correctOpen handles a second punch-in on an already-open session. The
// original first check-in wins; a genuinely earlier punch (late delivery of
// an early arrival) is adopted. Either way the extra event is recorded for
// audit rather than dropped.
func (f *FoldingEngine) correctOpen(ctx context.Context, open *domain.AttendanceSession, ev *domain.RawPunchEvent) (string, error) {
	if open.CheckIn != nil && ev.Timestamp.Before(*open.CheckIn) {
		prev := *open.CheckIn
		open.CheckIn = &ev.Timestamp
		open.Notes = appendNote(open.Notes, fmt.Sprintf(
			"check-in moved earlier to %s (was %s) by event #%d",
			ev.Timestamp.UTC().Format(time.RFC3339), prev.UTC().Format(time.RFC3339), ev.SourceID))
	} else {
		open.Notes = appendNote(open.Notes, fmt.Sprintf(
			"duplicate punch-in #%d at %s ignored, first check-in kept",
			ev.SourceID, ev.Timestamp.UTC().Format(time.RFC3339)))
	}
	open.AppendEventID(ev.SourceID)
	if err := repo.SaveSession(ctx, f.DB, open); err != nil {
		return "", err
	}
	log.Info().
		Str("component", "folding").
		Str("session_id", open.ID).
		Int64("source_id", ev.SourceID).
		Msg("punch-in correction recorded")
	return foldCorrected, nil
}

func (f *FoldingEngine) foldPunchOut(ctx context.Context, ev *domain.RawPunchEvent, date string) (string, error) {
	open, err := repo.GetOpenSession(ctx, f.DB, ev.EmployeeCode, date)
	if errors.Is(err, repo.ErrNotFound) {
		note := fmt.Sprintf("punch-out #%d with no matching punch-in, flagged for manual review", ev.SourceID)
		if _, err := repo.CreateOrphanSession(ctx, f.DB, ev.EmployeeCode, date, ev.Timestamp, ev.SourceID, note); err != nil {
			return "", err
		}
		return foldOrphaned, nil
	}
	if err != nil {
		return "", err
	}

	open.CheckOut = &ev.Timestamp
	open.Status = domain.StatusComplete
	open.TotalHours = cappedHours(*open.CheckIn, ev.Timestamp, f.MaxHours)
	open.AppendEventID(ev.SourceID)
	if err := repo.SaveSession(ctx, f.DB, open); err != nil {
		return "", err
	}

	if f.Feed != nil {
		f.Feed.Publish(SessionEvent{
			SessionID:    open.ID,
			EmployeeCode: open.EmployeeCode,
			Date:         open.Date,
			Status:       open.Status,
			TotalHours:   open.TotalHours,
			At:           ev.Timestamp,
		})
	}
	return foldCompleted, nil
}

// cappedHours returns the worked hours between in and out, clamped to
// [0, maxHours] and rounded to two decimals.
func cappedHours(in, out time.Time, maxHours float64) float64 {
	h := out.Sub(in).Hours()
	if h < 0 {
		h = 0
	}
	if maxHours > 0 && h > maxHours {
		h = maxHours
	}
	return math.Round(h*100) / 100
}

// appendNote joins audit notes with "; ", tolerating an empty prefix.
func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
