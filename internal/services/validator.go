// Package services – consistency validator
//
// The validator scores each day's data quality from three signals: observed
// event density against a weekday-aware trailing baseline, the duplicate
// ingestion ratio, and the fraction of sessions that ended ORPHANED or
// AUTO_CLOSED. It only reports; remediation stays with the gap agent.
package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
	"github.com/mfarhanz/go-attendance-core/internal/metrics"
	"github.com/mfarhanz/go-attendance-core/internal/repo"
)

// Score weights. Density loss dominates: silent data loss is the failure
// mode this pipeline exists to catch.
const (
	densityWeight    = 40.0
	duplicateWeight  = 30.0
	badSessionWeight = 30.0
)

// DayQuality is the validator's verdict for one calendar day.
type DayQuality struct {
	Date               string  `json:"date"`
	Score              int     `json:"score"`
	EventCount         int64   `json:"event_count"`
	ExpectedCount      float64 `json:"expected_count"`
	DuplicateRatio     float64 `json:"duplicate_ratio"`
	BadSessionFraction float64 `json:"bad_session_fraction"`
	Flagged            bool    `json:"flagged"`
}

// Validator computes per-day quality scores.
type Validator struct {
	DB            *gorm.DB
	BaselineWeeks int
	QualityFloor  int

	now func() time.Time // test seam

	mu     sync.Mutex
	recent map[string]DayQuality
}

// NewValidator constructs a validator with the given baseline depth and floor.
func NewValidator(db *gorm.DB, baselineWeeks, qualityFloor int) *Validator {
	return &Validator{
		DB:            db,
		BaselineWeeks: baselineWeeks,
		QualityFloor:  qualityFloor,
		now:           time.Now,
		recent:        make(map[string]DayQuality),
	}
}

// RunCycle scores today and yesterday (yesterday's late arrivals keep moving
// its score until the day is fully reconciled).
func (v *Validator) RunCycle(ctx context.Context) error {
	today := v.now().UTC()
	for _, day := range []string{
		today.AddDate(0, 0, -1).Format(domain.DateLayout),
		today.Format(domain.DateLayout),
	} {
		if _, err := v.ScoreDay(ctx, day); err != nil {
			return err
		}
	}
	return nil
}

// ScoreDay computes, caches, and exports the quality score for one day.
func (v *Validator) ScoreDay(ctx context.Context, date string) (DayQuality, error) {
	q := DayQuality{Date: date, Score: 100}

	observed, err := repo.EventCountOnDay(ctx, v.DB, date)
	if err != nil {
		return q, fmt.Errorf("event count for %s: %w", date, err)
	}
	q.EventCount = observed

	expected, err := v.baseline(ctx, date)
	if err != nil {
		return q, err
	}
	q.ExpectedCount = expected

	score := 100.0
	if expected > 0 && float64(observed) < expected {
		// Linear penalty for missing density, up to the full weight.
		score -= densityWeight * (1 - float64(observed)/expected)
	}

	counter, err := repo.GetDailyCounter(ctx, v.DB, date)
	if err != nil {
		return q, fmt.Errorf("daily counter for %s: %w", date, err)
	}
	if total := counter.Inserted + counter.Duplicates; total > 0 {
		q.DuplicateRatio = float64(counter.Duplicates) / float64(total)
		score -= duplicateWeight * q.DuplicateRatio
	}

	statuses, err := repo.SessionStatusCounts(ctx, v.DB, date)
	if err != nil {
		return q, fmt.Errorf("session statuses for %s: %w", date, err)
	}
	var sessions, bad int64
	for status, n := range statuses {
		sessions += n
		if status == domain.StatusOrphaned || status == domain.StatusAutoClosed {
			bad += n
		}
	}
	if sessions > 0 {
		q.BadSessionFraction = float64(bad) / float64(sessions)
		score -= badSessionWeight * q.BadSessionFraction
	}

	q.Score = int(math.Round(math.Max(0, math.Min(100, score))))
	q.Flagged = q.Score < v.QualityFloor

	v.mu.Lock()
	v.recent[date] = q
	v.mu.Unlock()
	metrics.QualityScore.WithLabelValues(date).Set(float64(q.Score))

	if q.Flagged {
		log.Warn().
			Str("component", "validator").
			Str("date", date).
			Int("score", q.Score).
			Int64("observed", observed).
			Float64("expected", expected).
			Msg("day flagged for operator attention")
	}
	return q, nil
}

// baseline averages the event counts of the same weekday over the trailing
// BaselineWeeks weeks. Weeks with zero events are left out so fresh
// deployments are not compared against an empty history.
func (v *Validator) baseline(ctx context.Context, date string) (float64, error) {
	day, err := time.ParseInLocation(domain.DateLayout, date, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", date, err)
	}

	var sum float64
	var weeks int
	for w := 1; w <= v.BaselineWeeks; w++ {
		prior := day.AddDate(0, 0, -7*w).Format(domain.DateLayout)
		n, err := repo.EventCountOnDay(ctx, v.DB, prior)
		if err != nil {
			return 0, fmt.Errorf("baseline count for %s: %w", prior, err)
		}
		if n > 0 {
			sum += float64(n)
			weeks++
		}
	}
	if weeks == 0 {
		return 0, nil
	}
	return sum / float64(weeks), nil
}

// Recent returns the cached day scores, newest first.
func (v *Validator) Recent() []DayQuality {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]DayQuality, 0, len(v.recent))
	for _, q := range v.recent {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}
