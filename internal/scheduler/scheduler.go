package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Task func(ctx context.Context) error

// Every runs task now and then once per interval until ctx is done. Runs never
// overlap: ticks that fire during a run are dropped.
func Every(ctx context.Context, interval time.Duration, name string, log *slog.Logger, task Task) {
	every(ctx, interval, name, log, task, nil)
}

func every(ctx context.Context, interval time.Duration, name string, log *slog.Logger, task Task, onNext func(time.Time)) {
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	run := func() {
		if err := task(ctx); err != nil {
			log.Error("scheduled task failed", "task", name, "err", err)
		}
		if onNext != nil {
			onNext(time.Now().Add(interval))
		}
	}

	// run immediately
	run()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}

type Job struct {
	Name     string
	Interval time.Duration
	Task     Task
}

// Scheduler runs a set of jobs and remembers when each runs next.
type Scheduler struct {
	log *slog.Logger

	mu   sync.Mutex
	next map[string]time.Time
	wg   sync.WaitGroup
}

func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log.With("component", "scheduler"), next: map[string]time.Time{}}
}

// Start launches every job with a positive interval. It returns immediately.
func (s *Scheduler) Start(ctx context.Context, jobs ...Job) {
	for _, j := range jobs {
		if j.Interval <= 0 || j.Task == nil {
			s.log.Info("job not scheduled", "task", j.Name)
			continue
		}
		j := j
		s.setNext(j.Name, time.Now())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			every(ctx, j.Interval, j.Name, s.log, j.Task, func(t time.Time) { s.setNext(j.Name, t) })
		}()
		s.log.Info("job scheduled", "task", j.Name, "interval", j.Interval.String())
	}
}

// Next reports when name runs next; ok is false for unscheduled jobs.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.next[name]
	return t, ok
}

// Wait blocks until every job has returned after ctx ended.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) setNext(name string, t time.Time) {
	s.mu.Lock()
	s.next[name] = t
	s.mu.Unlock()
}
