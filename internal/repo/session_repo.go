// Package repo implements the data persistence layer for the reconciliation
// pipeline, backed by GORM. This file provides repository functions for the
// AttendanceSession model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The folding engine and the stale closer
// are the only writers; everything else reads.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
)

// ErrDuplicate indicates that a uniqueness constraint rejected a write, e.g.
// a second OPEN session for the same (employee, day).
var ErrDuplicate = errors.New("duplicate")

// CreateOpenSession inserts a new OPEN session for (employeeCode, date) with
// the given check-in time and contributing source id. The unique index on
// open_key guarantees at most one OPEN session per key; a violation is
// reported as ErrDuplicate.
func CreateOpenSession(ctx context.Context, db *gorm.DB, employeeCode, date string, checkIn time.Time, sourceID int64) (*domain.AttendanceSession, error) {
	key := domain.OpenKeyFor(employeeCode, date)
	s := &domain.AttendanceSession{
		ID:           uuid.NewString(),
		EmployeeCode: employeeCode,
		Date:         date,
		CheckIn:      &checkIn,
		Status:       domain.StatusOpen,
		OpenKey:      &key,
		CreatedAt:    time.Now().UTC(),
	}
	s.AppendEventID(sourceID)
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// CreateOrphanSession inserts an ORPHANED session for a punch-out that had no
// matching OPEN session. CheckIn and CheckOut are both set to the event time
// and TotalHours is zero; the row is flagged for manual review via Notes.
func CreateOrphanSession(ctx context.Context, db *gorm.DB, employeeCode, date string, at time.Time, sourceID int64, note string) (*domain.AttendanceSession, error) {
	s := &domain.AttendanceSession{
		ID:           uuid.NewString(),
		EmployeeCode: employeeCode,
		Date:         date,
		CheckIn:      &at,
		CheckOut:     &at,
		Status:       domain.StatusOrphaned,
		Notes:        note,
		CreatedAt:    time.Now().UTC(),
	}
	s.AppendEventID(sourceID)
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetOpenSession fetches the single OPEN session for (employeeCode, date), or
// ErrNotFound when none exists.
func GetOpenSession(ctx context.Context, db *gorm.DB, employeeCode, date string) (*domain.AttendanceSession, error) {
	var s domain.AttendanceSession
	err := db.WithContext(ctx).
		Where("employee_code = ? AND date = ? AND status = ?", employeeCode, date, domain.StatusOpen).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSession persists the full session row. Callers transitioning a session
// out of OPEN must clear OpenKey first so the uniqueness slot is released;
// this is enforced here rather than trusted to each call site.
func SaveSession(ctx context.Context, db *gorm.DB, s *domain.AttendanceSession) error {
	if s.Status != domain.StatusOpen {
		s.OpenKey = nil
	}
	return db.WithContext(ctx).Save(s).Error
}

// GetSession fetches a session by primary key, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.AttendanceSession, error) {
	var s domain.AttendanceSession
	if err := db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListOpenBefore returns OPEN sessions whose check-in is older than cutoff,
// oldest first. Input to the stale-session sweep.
func ListOpenBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.AttendanceSession, error) {
	var out []domain.AttendanceSession
	err := db.WithContext(ctx).
		Where("status = ? AND check_in < ?", domain.StatusOpen, cutoff).
		Order("check_in asc").
		Find(&out).Error
	return out, err
}

// CountOpenSessions returns the number of currently OPEN sessions.
func CountOpenSessions(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.AttendanceSession{}).
		Where("status = ?", domain.StatusOpen).
		Count(&n).Error
	return n, err
}

// sessionRangeQuery composes the read-model filter shared by count and page.
func sessionRangeQuery(ctx context.Context, db *gorm.DB, employeeCode, from, to string) *gorm.DB {
	q := db.WithContext(ctx).Model(&domain.AttendanceSession{})
	if employeeCode != "" {
		q = q.Where("employee_code = ?", employeeCode)
	}
	if from != "" {
		q = q.Where("date >= ?", from)
	}
	if to != "" {
		q = q.Where("date <= ?", to)
	}
	return q
}

// CountSessions returns the total sessions matching the read-model filter.
func CountSessions(ctx context.Context, db *gorm.DB, employeeCode, from, to string) (int64, error) {
	var total int64
	err := sessionRangeQuery(ctx, db, employeeCode, from, to).Count(&total).Error
	return total, err
}

// ListSessionsPage returns a page of sessions matching the read-model filter,
// newest day first, stable within a day by employee code.
func ListSessionsPage(ctx context.Context, db *gorm.DB, employeeCode, from, to string, offset, limit int) ([]domain.AttendanceSession, error) {
	var out []domain.AttendanceSession
	err := sessionRangeQuery(ctx, db, employeeCode, from, to).
		Order("date desc, employee_code asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
