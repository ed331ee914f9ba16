// Package metrics exposes Prometheus collectors for the reconciliation
// pipeline. Label cardinality is kept deliberately small: tasks and outcomes
// are closed sets, never raw identifiers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsInserted counts punch events accepted into the staging store.
	EventsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "punch_events_inserted_total",
		Help: "Punch events inserted into the staging store.",
	})

	// EventsDuplicate counts dedup-rejected inserts. Duplicates are expected
	// under overlapping poll windows and are not errors.
	EventsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "punch_events_duplicate_total",
		Help: "Punch event inserts rejected by the source-id unique constraint.",
	})

	// FoldTransitions counts session state-machine transitions by outcome:
	// opened, completed, orphaned, corrected, skipped.
	FoldTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_fold_transitions_total",
		Help: "Session folding transitions by outcome.",
	}, []string{"outcome"})

	// GapsDetected counts newly recorded sequence gaps.
	GapsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sequence_gaps_detected_total",
		Help: "Holes detected in the upstream id sequence.",
	})

	// BackfillResults counts backfill attempts by result: resolved, empty, error, stale.
	BackfillResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gap_backfill_results_total",
		Help: "Gap backfill attempts by result.",
	}, []string{"result"})

	// PollCycles counts poll cycles by result: ok, auth_error, error, extended.
	PollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poll_cycles_total",
		Help: "Upstream poll cycles by result.",
	}, []string{"result"})

	// SessionsAutoClosed counts sessions force-closed by the stale sweeper.
	SessionsAutoClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_auto_closed_total",
		Help: "OPEN sessions force-closed past the stale threshold.",
	})

	// QualityScore reports the most recent per-day consistency score.
	QualityScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "attendance_quality_score",
		Help: "Consistency validator quality score (0-100) per day.",
	}, []string{"date"})

	// FeedDropped counts session feed messages dropped on slow subscribers.
	FeedDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_feed_dropped_total",
		Help: "Session feed events dropped because a subscriber was not draining.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsInserted,
		EventsDuplicate,
		FoldTransitions,
		GapsDetected,
		BackfillResults,
		PollCycles,
		SessionsAutoClosed,
		QualityScore,
		FeedDropped,
	)
}
