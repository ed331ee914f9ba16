package domain

import (
	"testing"
	"time"
)

func TestRawPunchEvent_Day_UsesUTC(t *testing.T) {
	loc := time.FixedZone("PKT", 5*3600)
	// 02:30 on the 2nd in PKT is still the 1st in UTC.
	e := RawPunchEvent{Timestamp: time.Date(2025, 7, 2, 2, 30, 0, 0, loc)}
	if got := e.Day(); got != "2025-07-01" {
		t.Fatalf("expected 2025-07-01, got %s", got)
	}
}

func TestOpenKeyFor(t *testing.T) {
	if got := OpenKeyFor("E1", "2025-07-01"); got != "E1|2025-07-01" {
		t.Fatalf("unexpected open key: %s", got)
	}
}

func TestSession_AppendAndDecodeEventIDs(t *testing.T) {
	var s AttendanceSession
	if ids := s.EventIDs(); ids != nil {
		t.Fatalf("expected nil for empty list, got %v", ids)
	}

	s.AppendEventID(100)
	s.AppendEventID(101)
	s.AppendEventID(205)

	if s.SourceEventIDs != "100,101,205" {
		t.Fatalf("unexpected encoding: %q", s.SourceEventIDs)
	}
	ids := s.EventIDs()
	if len(ids) != 3 || ids[0] != 100 || ids[1] != 101 || ids[2] != 205 {
		t.Fatalf("unexpected decode: %v", ids)
	}
}

func TestSession_EventIDs_SkipsGarbage(t *testing.T) {
	s := AttendanceSession{SourceEventIDs: "1, 2,x,4"}
	ids := s.EventIDs()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 4 {
		t.Fatalf("unexpected decode: %v", ids)
	}
}
