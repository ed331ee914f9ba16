// Package domain defines the persistence models for the attendance
// reconciliation pipeline: staged punch events, folded attendance sessions,
// and detected sequence gaps. These types are mapped with GORM and are shared
// across the repository and service layers.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Punch directions as reported by terminals.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Attendance session statuses.
const (
	StatusOpen       = "OPEN"
	StatusComplete   = "COMPLETE"
	StatusAutoClosed = "AUTO_CLOSED"
	StatusOrphaned   = "ORPHANED"
)

// DateLayout is the canonical calendar-day format for session keys.
const DateLayout = "2006-01-02"

// RawPunchEvent is one terminal-reported clock action staged for folding.
//
// Fields:
//   - SourceID: upstream-assigned identifier, strictly increasing per stream;
//     the unique index on it is the sole dedup primitive for ingestion.
//   - EmployeeCode / Timestamp / Direction / TerminalID: the punch itself.
//   - RawPayload: opaque upstream JSON kept verbatim for audit.
//   - Consumed / ConsumedAt: tombstone set once the event has been folded into
//     a session; rows are never mutated otherwise.
type RawPunchEvent struct {
	ID           uint       `json:"-"             gorm:"primaryKey;autoIncrement"`
	SourceID     int64      `json:"source_id"     gorm:"not null;uniqueIndex:ux_punch_source_id"`
	EmployeeCode string     `json:"employee_code" gorm:"type:varchar(32);not null;index:idx_punch_employee"`
	Timestamp    time.Time  `json:"timestamp"     gorm:"not null;index:idx_punch_ts"`
	Direction    string     `json:"direction"     gorm:"type:varchar(8);not null;check:direction IN ('in','out')"`
	TerminalID   string     `json:"terminal_id"   gorm:"type:varchar(64)"`
	RawPayload   string     `json:"raw_payload,omitempty" gorm:"type:text"`
	Consumed     bool       `json:"-"             gorm:"not null;default:false;index:idx_punch_consumed"`
	ConsumedAt   *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"-"`
}

// TableName returns the database table name for RawPunchEvent.
func (RawPunchEvent) TableName() string { return "punch_events" }

// Day returns the calendar day of the punch in UTC.
func (e *RawPunchEvent) Day() string { return e.Timestamp.UTC().Format(DateLayout) }

// AttendanceSession is one employee's working period for one calendar day,
// folded from raw punch events.
//
// OpenKey holds "employeeCode|date" while the session is OPEN and is nil
// otherwise; the unique index on it enforces at most one OPEN session per
// (employee, day) at the database level.
type AttendanceSession struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	EmployeeCode   string     `json:"employee_code"   gorm:"type:varchar(32);not null;index:idx_session_emp_date,priority:1"`
	Date           string     `json:"date"            gorm:"type:char(10);not null;index:idx_session_emp_date,priority:2;index:idx_session_date"`
	CheckIn        *time.Time `json:"check_in,omitempty"`
	CheckOut       *time.Time `json:"check_out,omitempty"`
	Status         string     `json:"status"          gorm:"type:varchar(16);not null;index;check:status IN ('OPEN','COMPLETE','AUTO_CLOSED','ORPHANED')"`
	OpenKey        *string    `json:"-"               gorm:"type:varchar(48);uniqueIndex:ux_session_open_key"`
	TotalHours     float64    `json:"total_hours"     gorm:"not null;default:0"`
	PenaltyHours   float64    `json:"penalty_hours"   gorm:"not null;default:0"`
	SourceEventIDs string     `json:"source_event_ids" gorm:"type:text;not null;default:''"`
	Notes          string     `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for AttendanceSession.
func (AttendanceSession) TableName() string { return "attendance_sessions" }

// OpenKeyFor builds the surrogate uniqueness key for an OPEN session.
func OpenKeyFor(employeeCode, date string) string {
	return employeeCode + "|" + date
}

// EventIDs decodes SourceEventIDs into the ordered list of contributing ids.
func (s *AttendanceSession) EventIDs() []int64 {
	if s.SourceEventIDs == "" {
		return nil
	}
	parts := strings.Split(s.SourceEventIDs, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// AppendEventID records another contributing source id, preserving order.
func (s *AttendanceSession) AppendEventID(sourceID int64) {
	enc := strconv.FormatInt(sourceID, 10)
	if s.SourceEventIDs == "" {
		s.SourceEventIDs = enc
		return
	}
	s.SourceEventIDs += "," + enc
}

// GapRecord is a detected hole in the upstream identifier sequence.
//
// Resolved means backfill inserted events covering the range. Stale means the
// backfill attempt cap was exhausted with upstream returning nothing; the gap
// is kept for operator visibility but no longer retried.
type GapRecord struct {
	ID            uint       `json:"id"              gorm:"primaryKey;autoIncrement"`
	StartID       int64      `json:"start_id"        gorm:"not null;uniqueIndex:ux_gap_range,priority:1"`
	EndID         int64      `json:"end_id"          gorm:"not null;uniqueIndex:ux_gap_range,priority:2"`
	GapSize       int64      `json:"gap_size"        gorm:"not null"`
	TimeRangeHint string     `json:"time_range_hint,omitempty" gorm:"type:varchar(80)"`
	Resolved      bool       `json:"resolved"        gorm:"not null;default:false;index"`
	Stale         bool       `json:"stale"           gorm:"not null;default:false"`
	Attempts      int        `json:"attempts"        gorm:"not null;default:0"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"-"`
}

// TableName returns the database table name for GapRecord.
func (GapRecord) TableName() string { return "gap_records" }

// DailyCounter accumulates per-day ingestion counters (inserted vs duplicate
// inserts). The consistency validator reads these to compute the duplicate
// ratio; unlike in-process metrics they survive restarts.
type DailyCounter struct {
	Date       string    `gorm:"type:char(10);primaryKey"`
	Inserted   int64     `gorm:"not null;default:0"`
	Duplicates int64     `gorm:"not null;default:0"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the database table name for DailyCounter.
func (DailyCounter) TableName() string { return "daily_counters" }
