// Package services – polling scheduler
//
// The poller pulls punch events from the upstream API on a fixed cadence.
// Each cycle covers [now−T−overlap, now−overlap]; the overlap deliberately
// re-fetches the tail of the previous window so events landing near a
// boundary are retried instead of lost; the staging buffer's dedup absorbs
// the repeats. After enough consecutive failed cycles the next attempt
// stretches to a 24-hour window so the pipeline self-heals once connectivity
// returns.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
	"github.com/mfarhanz/go-attendance-core/internal/metrics"
	"github.com/mfarhanz/go-attendance-core/internal/repo"
	"github.com/mfarhanz/go-attendance-core/internal/upstream"
)

// EventSource is the slice of the upstream client the poller needs.
type EventSource interface {
	FetchWindow(ctx context.Context, since, until time.Time) ([]upstream.Event, error)
}

// PollerStatus is the poller's operational snapshot for the status endpoint.
type PollerStatus struct {
	LastRun             time.Time `json:"last_run"`
	LastSuccess         time.Time `json:"last_success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	EventsInserted      int64     `json:"events_inserted"`
	EventsDuplicate     int64     `json:"events_duplicate"`
}

// Poller runs upstream poll cycles and stages the results.
type Poller struct {
	DB     *gorm.DB
	Source EventSource

	Interval       time.Duration
	Overlap        time.Duration
	ExtendedAfter  int
	ExtendedWindow time.Duration

	now func() time.Time // test seam

	mu       sync.Mutex
	status   PollerStatus
	extended bool
}

// NewPoller constructs a poller over the given event source.
func NewPoller(db *gorm.DB, src EventSource, interval, overlap time.Duration, extendedAfter int, extendedWindow time.Duration) *Poller {
	return &Poller{
		DB:             db,
		Source:         src,
		Interval:       interval,
		Overlap:        overlap,
		ExtendedAfter:  extendedAfter,
		ExtendedWindow: extendedWindow,
		now:            time.Now,
	}
}

// RunCycle performs one poll. Failures never propagate as a crash: the cycle
// is skipped, the failure counter grows, and lastSuccess stays untouched so
// operators can see how long the pipeline has been dark.
func (p *Poller) RunCycle(ctx context.Context) error {
	now := p.now().UTC()

	p.mu.Lock()
	p.status.LastRun = now
	extended := p.status.ConsecutiveFailures >= p.ExtendedAfter
	p.mu.Unlock()

	since := now.Add(-p.Interval - p.Overlap)
	until := now.Add(-p.Overlap)
	if extended {
		since = now.Add(-p.ExtendedWindow)
		log.Warn().
			Str("component", "poller").
			Time("since", since).
			Msg("running extended poll after repeated failures")
	}

	events, err := p.Source.FetchWindow(ctx, since, until)
	if err != nil {
		p.mu.Lock()
		p.status.ConsecutiveFailures++
		failures := p.status.ConsecutiveFailures
		p.mu.Unlock()

		result := "error"
		if errors.Is(err, upstream.ErrAuth) {
			result = "auth_error"
		}
		metrics.PollCycles.WithLabelValues(result).Inc()
		log.Error().Err(err).
			Str("component", "poller").
			Int("consecutive_failures", failures).
			Msg("poll cycle failed")
		return fmt.Errorf("fetch window: %w", err)
	}

	var inserted, duplicate int64
	for i := range events {
		ok, err := repo.InsertEvent(ctx, p.DB, eventToDomain(&events[i]))
		if err != nil {
			// Staging failures are local DB trouble, not upstream trouble;
			// count the cycle failed so the extended poll re-covers the window.
			p.mu.Lock()
			p.status.ConsecutiveFailures++
			p.mu.Unlock()
			metrics.PollCycles.WithLabelValues("error").Inc()
			return fmt.Errorf("stage event %d: %w", events[i].SourceID, err)
		}
		if ok {
			inserted++
			metrics.EventsInserted.Inc()
		} else {
			duplicate++
			metrics.EventsDuplicate.Inc()
		}
	}

	p.mu.Lock()
	p.status.ConsecutiveFailures = 0
	p.status.LastSuccess = now
	p.status.EventsInserted += inserted
	p.status.EventsDuplicate += duplicate
	p.mu.Unlock()

	if extended {
		metrics.PollCycles.WithLabelValues("extended").Inc()
	} else {
		metrics.PollCycles.WithLabelValues("ok").Inc()
	}
	log.Info().
		Str("component", "poller").
		Int64("inserted", inserted).
		Int64("duplicate", duplicate).
		Bool("extended", extended).
		Msg("poll cycle complete")
	return nil
}

// Status returns a copy of the poller's operational counters.
func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// eventToDomain maps an upstream event onto the staging model, keeping the
// raw payload verbatim for audit.
func eventToDomain(ev *upstream.Event) *domain.RawPunchEvent {
	return &domain.RawPunchEvent{
		SourceID:     ev.SourceID,
		EmployeeCode: ev.EmployeeCode,
		Timestamp:    ev.Timestamp.UTC(),
		Direction:    ev.Direction,
		TerminalID:   ev.TerminalID,
		RawPayload:   string(ev.Raw),
	}
}
