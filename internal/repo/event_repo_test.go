package repo

import (
	"context"
	"testing"
	"time"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
)

func punch(sourceID int64, emp, dir string, ts time.Time) *domain.RawPunchEvent {
	return &domain.RawPunchEvent{
		SourceID:     sourceID,
		EmployeeCode: emp,
		Timestamp:    ts,
		Direction:    dir,
		TerminalID:   "gate-1",
	}
}

func TestInsertEvent_DedupBySourceID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 7, 1, 8, 58, 0, 0, time.UTC)

	ins, err := InsertEvent(ctx, db, punch(100, "E1", domain.DirectionIn, ts))
	if err != nil || !ins {
		t.Fatalf("first insert: inserted=%v err=%v", ins, err)
	}
	ins, err = InsertEvent(ctx, db, punch(100, "E1", domain.DirectionIn, ts))
	if err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}
	if ins {
		t.Fatalf("duplicate insert reported as inserted")
	}

	var n int64
	if err := db.Model(&domain.RawPunchEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one stored event, got %d", n)
	}

	c, err := GetDailyCounter(ctx, db, "2025-07-01")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if c.Inserted != 1 || c.Duplicates != 1 {
		t.Fatalf("counter mismatch: %+v", c)
	}
}

func TestInsertEvent_OverlappingPollWindows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC)

	// Window A covers ids 200-210, window B (overlapping) covers 205-215.
	for id := int64(200); id <= 210; id++ {
		if _, err := InsertEvent(ctx, db, punch(id, "E1", domain.DirectionIn, base.Add(time.Duration(id)*time.Second))); err != nil {
			t.Fatalf("window A id %d: %v", id, err)
		}
	}
	for id := int64(205); id <= 215; id++ {
		if _, err := InsertEvent(ctx, db, punch(id, "E1", domain.DirectionIn, base.Add(time.Duration(id)*time.Second))); err != nil {
			t.Fatalf("window B id %d: %v", id, err)
		}
	}

	var n int64
	if err := db.Model(&domain.RawPunchEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 16 {
		t.Fatalf("expected 16 unique events (200-215), got %d", n)
	}
}

func TestListUnconsumed_AscendingAndTombstones(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	// Insert out of order; listing must come back ascending by source id.
	for _, id := range []int64{30, 10, 20} {
		if _, err := InsertEvent(ctx, db, punch(id, "E1", domain.DirectionIn, ts)); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}

	evs, err := ListUnconsumed(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListUnconsumed: %v", err)
	}
	if len(evs) != 3 || evs[0].SourceID != 10 || evs[1].SourceID != 20 || evs[2].SourceID != 30 {
		t.Fatalf("unexpected order: %+v", evs)
	}

	if err := MarkConsumed(ctx, db, []int64{10, 20}); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	evs, err = ListUnconsumed(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListUnconsumed after consume: %v", err)
	}
	if len(evs) != 1 || evs[0].SourceID != 30 {
		t.Fatalf("tombstoned rows resurfaced: %+v", evs)
	}

	n, err := CountUnconsumed(ctx, db)
	if err != nil || n != 1 {
		t.Fatalf("CountUnconsumed: n=%d err=%v", n, err)
	}
}

func TestMarkConsumed_EmptyIsNoop(t *testing.T) {
	db := newTestDB(t)
	if err := MarkConsumed(context.Background(), db, nil); err != nil {
		t.Fatalf("empty MarkConsumed: %v", err)
	}
}

func TestKnownSourceIDs_UnionOfStagingAndSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	for _, id := range []int64{5, 7} {
		if _, err := InsertEvent(ctx, db, punch(id, "E1", domain.DirectionIn, ts)); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}
	// A folded session carrying ids 1 and 7 (7 overlaps with staging).
	s := domain.AttendanceSession{
		ID: "s1", EmployeeCode: "E1", Date: "2025-06-30",
		Status: domain.StatusComplete, SourceEventIDs: "1,7",
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	ids, err := KnownSourceIDs(ctx, db)
	if err != nil {
		t.Fatalf("KnownSourceIDs: %v", err)
	}
	want := []int64{1, 5, 7}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestLatestEventBefore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	if _, err := LatestEventBefore(ctx, db, "E1", base); err == nil {
		t.Fatalf("expected ErrNotFound with no events")
	}

	for i, id := range []int64{1, 2, 3} {
		if _, err := InsertEvent(ctx, db, punch(id, "E1", domain.DirectionIn, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}
	ev, err := LatestEventBefore(ctx, db, "E1", base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("LatestEventBefore: %v", err)
	}
	if ev.SourceID != 2 {
		t.Fatalf("expected source id 2, got %d", ev.SourceID)
	}
}
