// Package services – session feed
//
// In-process pub/sub for terminal session transitions. Payroll/scoring and
// reporting consumers subscribe and receive a SessionEvent whenever a session
// reaches COMPLETE or AUTO_CLOSED. Publishing never blocks the pipeline: a
// subscriber that is not draining its channel loses events (counted, logged)
// rather than stalling folding or the closer.
package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mfarhanz/go-attendance-core/internal/metrics"
)

// SessionEvent describes one terminal session transition.
type SessionEvent struct {
	SessionID    string    `json:"session_id"`
	EmployeeCode string    `json:"employee_code"`
	Date         string    `json:"date"`
	Status       string    `json:"status"`
	TotalHours   float64   `json:"total_hours"`
	At           time.Time `json:"at"`
}

// Feed fans SessionEvents out to subscribers.
type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan SessionEvent
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan SessionEvent)}
}

// Subscribe registers a consumer. The returned cancel function removes the
// subscription and closes the channel; it is safe to call more than once.
func (f *Feed) Subscribe(buffer int) (<-chan SessionEvent, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan SessionEvent, buffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (f *Feed) Publish(ev SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			metrics.FeedDropped.Inc()
			log.Warn().
				Str("component", "feed").
				Int("subscriber", id).
				Str("session_id", ev.SessionID).
				Msg("subscriber not draining, event dropped")
		}
	}
}
