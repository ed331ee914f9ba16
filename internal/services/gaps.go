// Package services – sequence gap detector and backfill agent
//
// The upstream assigns strictly increasing source ids, so a hole between two
// known ids means punches were lost in delivery. The detector recomputes the
// full known-id timeline (staging plus folded sessions) every scan, so there
// is no process-wide "last seen id" to get stale across restarts, and records
// every hole regardless of size: a single missing id is one lost punch.
//
// Backfill never guesses or synthesizes events. It re-asks the source of
// truth for exactly the missing range; an empty answer counts toward the
// stale cap (upstream has no memory of those ids), while transport errors do
// not (they are transient and retried without prejudice).
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mfarhanz/go-attendance-core/internal/metrics"
	"github.com/mfarhanz/go-attendance-core/internal/repo"
	"github.com/mfarhanz/go-attendance-core/internal/upstream"
)

// RangeSource is the slice of the upstream client the backfill agent needs.
type RangeSource interface {
	FetchRange(ctx context.Context, gte, lte int64) ([]upstream.Event, error)
}

// GapAgent detects sequence gaps and backfills them from upstream.
type GapAgent struct {
	DB     *gorm.DB
	Source RangeSource

	MaxAttempts  int
	RetryBackoff time.Duration

	now func() time.Time // test seam
}

// NewGapAgent constructs a gap agent.
func NewGapAgent(db *gorm.DB, src RangeSource, maxAttempts int, retryBackoff time.Duration) *GapAgent {
	return &GapAgent{DB: db, Source: src, MaxAttempts: maxAttempts, RetryBackoff: retryBackoff, now: time.Now}
}

// RunCycle scans for new gaps, then works the backfill queue.
func (a *GapAgent) RunCycle(ctx context.Context) error {
	if _, err := a.Scan(ctx); err != nil {
		return err
	}
	return a.Backfill(ctx)
}

// Scan walks the known-id timeline and records a GapRecord for every pair of
// consecutive ids with a hole between them. Returns the number of newly
// recorded gaps.
func (a *GapAgent) Scan(ctx context.Context) (int, error) {
	ids, err := repo.KnownSourceIDs(ctx, a.DB)
	if err != nil {
		return 0, fmt.Errorf("known source ids: %w", err)
	}

	created := 0
	for i := 1; i < len(ids); i++ {
		prev, next := ids[i-1], ids[i]
		if next-prev <= 1 {
			continue
		}
		ok, err := repo.RecordGap(ctx, a.DB, prev+1, next-1, a.rangeHint(ctx, prev, next))
		if err != nil {
			return created, fmt.Errorf("record gap [%d,%d]: %w", prev+1, next-1, err)
		}
		if ok {
			created++
			metrics.GapsDetected.Inc()
			log.Warn().
				Str("component", "gaps").
				Int64("start_id", prev+1).
				Int64("end_id", next-1).
				Msg("sequence gap detected")
		}
	}
	return created, nil
}

// rangeHint derives a human-readable time window from the events bounding the
// hole, when they are still on file. Best effort only.
func (a *GapAgent) rangeHint(ctx context.Context, prevID, nextID int64) string {
	before, err1 := repo.GetEventBySourceID(ctx, a.DB, prevID)
	after, err2 := repo.GetEventBySourceID(ctx, a.DB, nextID)
	if err1 != nil || err2 != nil {
		return ""
	}
	return before.Timestamp.UTC().Format(time.RFC3339) + ".." + after.Timestamp.UTC().Format(time.RFC3339)
}

// Backfill re-fetches every due unresolved gap from upstream. Results are
// inserted through the dedup-safe staging path, so overlapping backfills and
// regular polls can never double-stage an event.
func (a *GapAgent) Backfill(ctx context.Context) error {
	gaps, err := repo.ListBackfillable(ctx, a.DB, a.RetryBackoff, a.now().UTC())
	if err != nil {
		return fmt.Errorf("list backfillable: %w", err)
	}

	for _, g := range gaps {
		events, err := a.Source.FetchRange(ctx, g.StartID, g.EndID)
		if err != nil {
			// Transient: retried next cycle without burning an attempt.
			metrics.BackfillResults.WithLabelValues("error").Inc()
			log.Error().Err(err).
				Str("component", "gaps").
				Int64("start_id", g.StartID).
				Int64("end_id", g.EndID).
				Msg("backfill fetch failed")
			if errors.Is(err, upstream.ErrAuth) || errors.Is(err, context.Canceled) {
				return err
			}
			continue
		}

		if len(events) == 0 {
			stale, err := repo.TouchGapAttempt(ctx, a.DB, g.ID, a.MaxAttempts, a.now().UTC())
			if err != nil {
				return fmt.Errorf("touch gap %d: %w", g.ID, err)
			}
			if stale {
				metrics.BackfillResults.WithLabelValues("stale").Inc()
				log.Warn().
					Str("component", "gaps").
					Int64("start_id", g.StartID).
					Int64("end_id", g.EndID).
					Int("attempts", g.Attempts+1).
					Msg("gap marked stale, upstream has no data for the range")
			} else {
				metrics.BackfillResults.WithLabelValues("empty").Inc()
			}
			continue
		}

		for i := range events {
			if _, err := repo.InsertEvent(ctx, a.DB, eventToDomain(&events[i])); err != nil {
				return fmt.Errorf("stage backfilled event %d: %w", events[i].SourceID, err)
			}
		}
		if err := repo.MarkGapResolved(ctx, a.DB, g.ID); err != nil {
			return fmt.Errorf("resolve gap %d: %w", g.ID, err)
		}
		metrics.BackfillResults.WithLabelValues("resolved").Inc()
		log.Info().
			Str("component", "gaps").
			Int64("start_id", g.StartID).
			Int64("end_id", g.EndID).
			Int("events", len(events)).
			Msg("gap backfilled")
	}
	return nil
}
