// Package services – task runner
//
// Each pipeline task (poll, fold, gap scan, sweep, validate) runs on its own
// ticker goroutine; tasks coordinate only through the database, never through
// shared memory or direct calls, so a slow or stuck task delays nothing but
// its own next cycle. Manual triggers from the ops endpoints kick an
// immediate run. Shutdown cancels the parent context: in-flight cycles
// finish, no new cycles start.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Canonical task names, shared with the ops endpoints.
const (
	TaskPoll     = "poll"
	TaskFold     = "fold"
	TaskGapScan  = "gap-scan"
	TaskSweep    = "sweep"
	TaskValidate = "validate"
)

// TaskStatus is one task's operational snapshot.
type TaskStatus struct {
	LastRun     time.Time `json:"last_run"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Runs        int64     `json:"runs"`
}

type task struct {
	name    string
	every   time.Duration
	run     func(context.Context) error
	trigger chan struct{}

	mu     sync.Mutex
	status TaskStatus
}

// Runner owns the periodic pipeline tasks.
type Runner struct {
	mu    sync.Mutex
	tasks map[string]*task
	order []string
	wg    sync.WaitGroup
}

// NewRunner returns an empty runner.
func NewRunner() *Runner {
	return &Runner{tasks: make(map[string]*task)}
}

// Add registers a task. Must be called before Start.
func (r *Runner) Add(name string, every time.Duration, run func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = &task{
		name:    name,
		every:   every,
		run:     run,
		trigger: make(chan struct{}, 1),
	}
	r.order = append(r.order, name)
}

// Start launches one goroutine per task. Every task runs once immediately so
// a restart begins reconciling without waiting out a full interval.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		t := r.tasks[name]
		r.wg.Add(1)
		go func(t *task) {
			defer r.wg.Done()
			r.loop(ctx, t)
		}(t)
	}
}

// Wait blocks until all task goroutines have exited (after ctx cancellation).
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) loop(ctx context.Context, t *task) {
	ticker := time.NewTicker(t.every)
	defer ticker.Stop()

	r.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, t)
		case <-t.trigger:
			r.runOnce(ctx, t)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, t *task) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now().UTC()

	err := t.run(ctx)

	t.mu.Lock()
	t.status.LastRun = start
	t.status.Runs++
	if err != nil {
		t.status.LastError = err.Error()
	} else {
		t.status.LastSuccess = start
		t.status.LastError = ""
	}
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("task", t.name).Msg("task cycle failed")
	}
}

// Trigger requests an immediate run of the named task. Returns ErrUnknownTask
// for names the runner does not manage. A trigger already pending is not
// queued twice.
func (r *Runner) Trigger(name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	select {
	case t.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Status returns a snapshot of every task keyed by name.
func (r *Runner) Status() map[string]TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]TaskStatus, len(r.tasks))
	for name, t := range r.tasks {
		t.mu.Lock()
		out[name] = t.status
		t.mu.Unlock()
	}
	return out
}
