package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEveryRunsImmediatelyAndRepeats(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var n int32
	done := make(chan struct{})
	go func() {
		Every(ctx, 10*time.Millisecond, "count", quietLogger(), func(context.Context) error {
			if atomic.AddInt32(&n, 1) == 3 {
				cancel()
			}
			return errors.New("errors are logged, not fatal")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Every did not stop after cancel")
	}
	if got := atomic.LoadInt32(&n); got < 3 {
		t.Fatalf("expected at least 3 runs, got %d", got)
	}
}

func TestSchedulerTracksNextRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	s := New(quietLogger())
	s.Start(ctx,
		Job{Name: "cbre", Interval: time.Hour, Task: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		}},
		Job{Name: "disabled", Interval: 0, Task: func(context.Context) error { return nil }},
	)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("first run did not happen")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		next, ok := s.Next("cbre")
		if ok && next.After(time.Now().Add(30*time.Minute)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("next run not advanced: %v", next)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := s.Next("disabled"); ok {
		t.Fatalf("jobs without interval must not be scheduled")
	}

	cancel()
	s.Wait()
}
