package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_RunsTaskImmediately(t *testing.T) {
	var runs int64
	r := NewRunner()
	r.Add(TaskFold, time.Hour, func(context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	waitFor(t, func() bool { return atomic.LoadInt64(&runs) == 1 })
	cancel()
	r.Wait()

	st := r.Status()[TaskFold]
	if st.Runs != 1 || st.LastSuccess.IsZero() || st.LastError != "" {
		t.Fatalf("status: %+v", st)
	}
}

func TestRunner_TriggerForcesRun(t *testing.T) {
	var runs int64
	r := NewRunner()
	r.Add(TaskPoll, time.Hour, func(context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	waitFor(t, func() bool { return atomic.LoadInt64(&runs) == 1 })

	if err := r.Trigger(TaskPoll); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, func() bool { return atomic.LoadInt64(&runs) == 2 })
}

func TestRunner_TriggerUnknownTask(t *testing.T) {
	r := NewRunner()
	if err := r.Trigger("no-such-task"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRunner_RecordsTaskErrors(t *testing.T) {
	boom := errors.New("cycle exploded")
	r := NewRunner()
	r.Add(TaskSweep, time.Hour, func(context.Context) error { return boom })

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	waitFor(t, func() bool { return r.Status()[TaskSweep].Runs >= 1 })
	cancel()
	r.Wait()

	st := r.Status()[TaskSweep]
	if st.LastError != boom.Error() {
		t.Fatalf("lastError: %q", st.LastError)
	}
	if !st.LastSuccess.IsZero() {
		t.Fatalf("failing task reported success: %+v", st)
	}
}

func TestRunner_ShutdownStopsTasks(t *testing.T) {
	var runs int64
	r := NewRunner()
	r.Add(TaskValidate, 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	waitFor(t, func() bool { return atomic.LoadInt64(&runs) >= 2 })
	cancel()
	r.Wait()

	after := atomic.LoadInt64(&runs)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt64(&runs); got != after {
		t.Fatalf("task still running after shutdown: %d -> %d", after, got)
	}
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
