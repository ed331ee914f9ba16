// Package repo implements the data persistence layer for the reconciliation
// pipeline, backed by GORM. This file provides the staging buffer for raw
// punch events.
//
// The staging buffer owns RawPunchEvent rows until they are consumed by the
// folding engine. Its single concurrency-control primitive is the unique
// constraint on source_id: concurrent pollers, overlapping windows, and
// replayed backfills all funnel through InsertEvent, which absorbs duplicates
// without error.
//
// Error semantics:
//   - InsertEvent reports a dedup rejection as (inserted=false, nil); real DB
//     failures are propagated.
//   - Read helpers return gorm.ErrRecordNotFound (aliased as ErrNotFound)
//     when a single requested row is missing.
package repo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// InsertEvent stages a raw punch event. The unique index on source_id makes
// the insert atomic with respect to concurrent pollers: exactly one insert
// wins, every other attempt returns (false, nil).
//
// The per-day ingestion counters are bumped on both paths so the consistency
// validator can compute a duplicate ratio later.
func InsertEvent(ctx context.Context, db *gorm.DB, ev *domain.RawPunchEvent) (inserted bool, err error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		if isUniqueViolation(err) {
			_ = bumpDailyCounter(ctx, db, ev.Day(), false)
			return false, nil
		}
		return false, err
	}
	_ = bumpDailyCounter(ctx, db, ev.Day(), true)
	return true, nil
}

// bumpDailyCounter upserts the per-day inserted/duplicate tally. Counter
// failures are deliberately non-fatal for ingestion; the caller ignores the
// returned error and the validator treats missing counters as zero.
func bumpDailyCounter(ctx context.Context, db *gorm.DB, date string, inserted bool) error {
	col := "duplicates"
	if inserted {
		col = "inserted"
	}
	row := domain.DailyCounter{Date: date}
	if inserted {
		row.Inserted = 1
	} else {
		row.Duplicates = 1
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{col: gorm.Expr(col + " + 1")}),
	}).Create(&row).Error
}

// ListUnconsumed returns staged, not-yet-folded events in ascending source_id
// order. Ids are never skipped: the query is re-issued each folding cycle, so
// a crash between fold and consume simply re-surfaces the same rows.
func ListUnconsumed(ctx context.Context, db *gorm.DB, limit int) ([]domain.RawPunchEvent, error) {
	var out []domain.RawPunchEvent
	q := db.WithContext(ctx).
		Where("consumed = ?", false).
		Order("source_id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// MarkConsumed tombstones processed events so later scans skip them. The rows
// are kept (not deleted) so the known-id timeline stays queryable for gap
// detection.
func MarkConsumed(ctx context.Context, db *gorm.DB, sourceIDs []int64) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.RawPunchEvent{}).
		Where("source_id IN ?", sourceIDs).
		Updates(map[string]interface{}{"consumed": true, "consumed_at": now}).Error
}

// CountUnconsumed returns the staging backlog size (status endpoint).
func CountUnconsumed(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RawPunchEvent{}).
		Where("consumed = ?", false).
		Count(&n).Error
	return n, err
}

// KnownSourceIDs returns the ascending, de-duplicated union of source ids
// present in staging and ids already folded into sessions. This derived
// timeline replaces any in-process "last seen id" state: it is recomputed
// from committed rows on every gap scan.
func KnownSourceIDs(ctx context.Context, db *gorm.DB) ([]int64, error) {
	var staged []int64
	if err := db.WithContext(ctx).
		Model(&domain.RawPunchEvent{}).
		Order("source_id asc").
		Pluck("source_id", &staged).Error; err != nil {
		return nil, err
	}

	var encoded []string
	if err := db.WithContext(ctx).
		Model(&domain.AttendanceSession{}).
		Where("source_event_ids <> ''").
		Pluck("source_event_ids", &encoded).Error; err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(staged))
	for _, id := range staged {
		seen[id] = struct{}{}
	}
	for _, enc := range encoded {
		s := domain.AttendanceSession{SourceEventIDs: enc}
		for _, id := range s.EventIDs() {
			seen[id] = struct{}{}
		}
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GetEventBySourceID fetches a staged event (consumed or not) by its
// upstream id, or ErrNotFound. Used to derive time-range hints for gaps.
func GetEventBySourceID(ctx context.Context, db *gorm.DB, sourceID int64) (*domain.RawPunchEvent, error) {
	var ev domain.RawPunchEvent
	if err := db.WithContext(ctx).First(&ev, "source_id = ?", sourceID).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// LatestEventBefore returns the employee's most recent staged event at or
// before the given instant, consumed or not. Used as the auxiliary activity
// signal when auto-closing stale sessions. Returns ErrNotFound when the
// employee has no events in range.
func LatestEventBefore(ctx context.Context, db *gorm.DB, employeeCode string, at time.Time) (*domain.RawPunchEvent, error) {
	var ev domain.RawPunchEvent
	err := db.WithContext(ctx).
		Where("employee_code = ? AND timestamp <= ?", employeeCode, at).
		Order("timestamp desc").
		First(&ev).Error
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
