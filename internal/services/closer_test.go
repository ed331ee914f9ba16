package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mfarhanz/go-attendance-core/internal/domain"
	"github.com/mfarhanz/go-attendance-core/internal/registry"
	"github.com/mfarhanz/go-attendance-core/internal/repo"
)

// stubScorer returns fixed location answers.
type stubScorer struct {
	onSite     bool
	confidence int
	err        error
}

func (s stubScorer) ScoreLocationConfidence(context.Context, string, time.Time) (bool, int, error) {
	return s.onSite, s.confidence, s.err
}

func newCloser(t *testing.T, scorer LocationScorer, reg registry.Registry, now time.Time) (*StaleCloser, *Feed) {
	t.Helper()
	db := newSvcDB(t)
	feed := NewFeed()
	c := NewStaleCloser(db, reg, scorer, feed, 12*time.Hour, 12.0, 1.0, 2.0, 0.5, 40)
	c.now = fixedNow(now)
	return c, feed
}

func TestCloser_StaleSessionClosedAtThreshold(t *testing.T) {
	ctx := context.Background()
	checkIn := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	now := checkIn.Add(13 * time.Hour)

	c, feed := newCloser(t, stubScorer{onSite: true, confidence: 90}, registry.Static{}, now)
	sub, cancel := feed.Subscribe(4)
	defer cancel()

	s, err := repo.CreateOpenSession(ctx, c.DB, "E1", "2025-07-01", checkIn, 1)
	if err != nil {
		t.Fatalf("CreateOpenSession: %v", err)
	}

	closed, err := c.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed: %d", closed)
	}

	got, err := repo.GetSession(ctx, c.DB, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != domain.StatusAutoClosed {
		t.Fatalf("status: %s", got.Status)
	}
	// Check-out is pinned to checkIn + threshold, not the sweep time.
	if !got.CheckOut.Equal(checkIn.Add(12 * time.Hour)) {
		t.Fatalf("check-out: %v", got.CheckOut)
	}
	if got.TotalHours != 11 { // 12h available minus the 1h missing-out penalty
		t.Fatalf("total hours: %v", got.TotalHours)
	}
	if got.PenaltyHours != 1 {
		t.Fatalf("penalty hours: %v", got.PenaltyHours)
	}
	if !strings.Contains(got.Notes, "missing punch-out") {
		t.Fatalf("notes: %q", got.Notes)
	}

	select {
	case ev := <-sub:
		if ev.Status != domain.StatusAutoClosed || ev.SessionID != s.ID {
			t.Fatalf("feed event: %+v", ev)
		}
	default:
		t.Fatalf("no feed event on auto-close")
	}
}

func TestCloser_FreshOpenSessionUntouched(t *testing.T) {
	ctx := context.Background()
	checkIn := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	c, _ := newCloser(t, stubScorer{onSite: true, confidence: 90}, registry.Static{}, checkIn.Add(4*time.Hour))
	if _, err := repo.CreateOpenSession(ctx, c.DB, "E1", "2025-07-01", checkIn, 1); err != nil {
		t.Fatalf("CreateOpenSession: %v", err)
	}

	closed, err := c.RunCycle(ctx)
	if err != nil || closed != 0 {
		t.Fatalf("fresh session swept: closed=%d err=%v", closed, err)
	}
	if _, err := repo.GetOpenSession(ctx, c.DB, "E1", "2025-07-01"); err != nil {
		t.Fatalf("session no longer open: %v", err)
	}
}

func TestCloser_OffsiteAndLowConfidencePenalties(t *testing.T) {
	ctx := context.Background()
	checkIn := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	c, _ := newCloser(t, stubScorer{onSite: false, confidence: 10}, registry.Static{}, checkIn.Add(13*time.Hour))
	s, err := repo.CreateOpenSession(ctx, c.DB, "E1", "2025-07-01", checkIn, 1)
	if err != nil {
		t.Fatalf("CreateOpenSession: %v", err)
	}

	if _, err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got, err := repo.GetSession(ctx, c.DB, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	// 12h minus missing-out 1h, offsite 2h, low-confidence 0.5h.
	if got.TotalHours != 8.5 {
		t.Fatalf("total hours: %v", got.TotalHours)
	}
	if got.PenaltyHours != 3.5 {
		t.Fatalf("penalty hours: %v", got.PenaltyHours)
	}
}

func TestCloser_PenaltiesWaivedForInactiveOrExempt(t *testing.T) {
	ctx := context.Background()
	checkIn := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	reg := registry.Static{Exempt: map[string]bool{"VIP": true}}
	c, _ := newCloser(t, stubScorer{onSite: false, confidence: 0}, reg, checkIn.Add(13*time.Hour))
	s, err := repo.CreateOpenSession(ctx, c.DB, "VIP", "2025-07-01", checkIn, 1)
	if err != nil {
		t.Fatalf("CreateOpenSession: %v", err)
	}

	if _, err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got, err := repo.GetSession(ctx, c.DB, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != domain.StatusAutoClosed {
		t.Fatalf("status: %s", got.Status)
	}
	if got.PenaltyHours != 0 || got.TotalHours != 12 {
		t.Fatalf("penalties not waived: total=%v penalty=%v", got.TotalHours, got.PenaltyHours)
	}
	if !strings.Contains(got.Notes, "waived") {
		t.Fatalf("notes: %q", got.Notes)
	}
}

func TestCloser_ScorerErrorReadsAsLowConfidence(t *testing.T) {
	ctx := context.Background()
	checkIn := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	c, _ := newCloser(t, stubScorer{err: context.DeadlineExceeded}, registry.Static{}, checkIn.Add(13*time.Hour))
	s, err := repo.CreateOpenSession(ctx, c.DB, "E1", "2025-07-01", checkIn, 1)
	if err != nil {
		t.Fatalf("CreateOpenSession: %v", err)
	}

	closed, err := c.RunCycle(ctx)
	if err != nil || closed != 1 {
		t.Fatalf("RunCycle: closed=%d err=%v", closed, err)
	}

	got, err := repo.GetSession(ctx, c.DB, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	// Missing-out 1h plus low-confidence 0.5h; no offsite penalty without evidence.
	if got.PenaltyHours != 1.5 {
		t.Fatalf("penalty hours: %v", got.PenaltyHours)
	}
}

func TestTerminalScorer_NoHistoryMeansNoConfidence(t *testing.T) {
	db := newSvcDB(t)
	sc := NewTerminalScorer(db, nil)

	onSite, conf, err := sc.ScoreLocationConfidence(context.Background(), "E1", time.Now().UTC())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if onSite || conf != 0 {
		t.Fatalf("expected no signal, got onSite=%v conf=%d", onSite, conf)
	}
}

func TestTerminalScorer_ConfidenceDecaysWithAge(t *testing.T) {
	db := newSvcDB(t)
	at := time.Date(2025, 7, 1, 20, 0, 0, 0, time.UTC)
	stage(t, db, 1, "E1", domain.DirectionIn, at.Add(-3*time.Hour))

	sc := NewTerminalScorer(db, []string{"gate-1"})
	onSite, conf, err := sc.ScoreLocationConfidence(context.Background(), "E1", at)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !onSite {
		t.Fatalf("gate-1 should be on-site")
	}
	if conf != 70 {
		t.Fatalf("confidence: %d", conf)
	}

	// A terminal outside the allowlist scores off-site.
	sc = NewTerminalScorer(db, []string{"hq-lobby"})
	onSite, _, err = sc.ScoreLocationConfidence(context.Background(), "E1", at)
	if err != nil || onSite {
		t.Fatalf("allowlist ignored: onSite=%v err=%v", onSite, err)
	}
}
