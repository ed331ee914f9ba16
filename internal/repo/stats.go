// Package repo implements the data persistence layer for the reconciliation
// pipeline, backed by GORM. This file provides small aggregate queries used
// by the consistency validator and the status endpoint. Each function is
// context-aware and safe to call from services or handlers.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
)

// EventCountOnDay returns the number of staged punch events (consumed or not)
// whose timestamp falls on the given UTC calendar day.
func EventCountOnDay(ctx context.Context, db *gorm.DB, date string) (int64, error) {
	day, err := time.ParseInLocation(domain.DateLayout, date, time.UTC)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.WithContext(ctx).
		Model(&domain.RawPunchEvent{}).
		Where("timestamp >= ? AND timestamp < ?", day, day.Add(24*time.Hour)).
		Count(&n).Error
	return n, err
}

// GetDailyCounter returns the ingestion counters for a day. A missing row is
// not an error: days with no ingestion activity report zeros.
func GetDailyCounter(ctx context.Context, db *gorm.DB, date string) (domain.DailyCounter, error) {
	var c domain.DailyCounter
	err := db.WithContext(ctx).First(&c, "date = ?", date).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DailyCounter{Date: date}, nil
	}
	return c, err
}

// SessionStatusCounts returns session counts per status for the given day.
// Statuses with no sessions are absent from the map.
func SessionStatusCounts(ctx context.Context, db *gorm.DB, date string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.AttendanceSession{}).
		Select("status, count(*) as n").
		Where("date = ?", date).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
