// Package repo implements the data persistence layer for the reconciliation
// pipeline, backed by GORM. This file provides repository helpers for the
// GapRecord model used by the sequence gap detector and backfill agent.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
)

// RecordGap inserts a gap for the half-open id range [startID, endID] unless
// the same range is already on file (re-scans keep finding unresolved gaps).
// Returns true when a new record was created.
func RecordGap(ctx context.Context, db *gorm.DB, startID, endID int64, hint string) (bool, error) {
	g := &domain.GapRecord{
		StartID:       startID,
		EndID:         endID,
		GapSize:       endID - startID + 1,
		TimeRangeHint: hint,
		CreatedAt:     time.Now().UTC(),
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "start_id"}, {Name: "end_id"}},
		DoNothing: true,
	}).Create(g)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListBackfillable returns unresolved, non-stale gaps whose last attempt is
// older than the retry backoff (never-attempted gaps qualify immediately),
// oldest range first.
func ListBackfillable(ctx context.Context, db *gorm.DB, retryAfter time.Duration, now time.Time) ([]domain.GapRecord, error) {
	var out []domain.GapRecord
	cutoff := now.Add(-retryAfter)
	err := db.WithContext(ctx).
		Where("resolved = ? AND stale = ?", false, false).
		Where("last_attempt_at IS NULL OR last_attempt_at < ?", cutoff).
		Order("start_id asc").
		Find(&out).Error
	return out, err
}

// ListGaps returns gap records for the operator surface, newest first.
// resolved filters by resolution state when non-nil.
func ListGaps(ctx context.Context, db *gorm.DB, resolved *bool) ([]domain.GapRecord, error) {
	q := db.WithContext(ctx).Model(&domain.GapRecord{})
	if resolved != nil {
		q = q.Where("resolved = ?", *resolved)
	}
	var out []domain.GapRecord
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// MarkGapResolved flags a gap as covered by backfilled events.
func MarkGapResolved(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).
		Model(&domain.GapRecord{}).
		Where("id = ?", id).
		Update("resolved", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchGapAttempt increments the attempt counter and stamps the attempt time.
// When attempts reach maxAttempts the gap is additionally marked stale:
// upstream has no memory of those ids and retrying is pointless.
func TouchGapAttempt(ctx context.Context, db *gorm.DB, id uint, maxAttempts int, now time.Time) (stale bool, err error) {
	var g domain.GapRecord
	if err := db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return false, err
	}
	g.Attempts++
	g.LastAttemptAt = &now
	if g.Attempts >= maxAttempts {
		g.Stale = true
	}
	if err := db.WithContext(ctx).Save(&g).Error; err != nil {
		return false, err
	}
	return g.Stale, nil
}

// CountUnresolvedGaps returns open (unresolved, non-stale) gap count for the
// status endpoint.
func CountUnresolvedGaps(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.GapRecord{}).
		Where("resolved = ? AND stale = ?", false, false).
		Count(&n).Error
	return n, err
}
