package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/montabano1/RyanScraper/internal/events"
	"github.com/montabano1/RyanScraper/internal/normalize"
	"github.com/montabano1/RyanScraper/internal/reconcile"
	"github.com/montabano1/RyanScraper/internal/scrape"
)

var ErrUnknownSource = errors.New("unknown source")

// Source is one configured, enabled scraper.
type Source struct {
	Name        string
	DisplayName string
	Scraper     scrape.Scraper
	Interval    time.Duration
	Timeout     time.Duration
}

// Publisher receives run events.
type Publisher interface {
	Publish(e events.Event) int
}

type Deps struct {
	// BaseCtx bounds every run. Runs outlive the request that triggered them
	// but stop at shutdown.
	BaseCtx    context.Context
	Reconciler *reconcile.Reconciler
	Publisher  Publisher
	Log        *slog.Logger
	Workers    int
	Retry      scrape.RetryPolicy
	Timeout    time.Duration
	Now        func() time.Time
}

// Outcome is the result of one source within RunAll.
type Outcome struct {
	Source string
	Result reconcile.Result
	Err    error
}

// Runner drives scrape → normalize → reconcile for each source. Concurrent
// triggers of the same source share one run.
type Runner struct {
	d       Deps
	log     *slog.Logger
	sources map[string]Source
	order   []string

	sf      singleflight.Group
	mu      sync.Mutex
	running map[string]time.Time
}

func NewRunner(d Deps, sources []Source) *Runner {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.Timeout <= 0 {
		d.Timeout = 5 * time.Minute
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.BaseCtx == nil {
		d.BaseCtx = context.Background()
	}

	r := &Runner{
		d:       d,
		log:     d.Log.With("component", "runner"),
		sources: make(map[string]Source, len(sources)),
		running: map[string]time.Time{},
	}
	for _, s := range sources {
		if s.DisplayName == "" {
			s.DisplayName = s.Name
		}
		r.sources[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r
}

// Sources returns the configured sources in configuration order.
func (r *Runner) Sources() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

func (r *Runner) Source(name string) (Source, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// Running lists the sources with a run in flight.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.running))
	for name := range r.running {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) IsRunning(name string) (since time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	since, ok = r.running[name]
	return since, ok
}

// RunSource runs one source. A call made while that source is already running
// waits for the in-flight run and returns its outcome.
//
// The run itself is bound to BaseCtx, not ctx: a caller that gives up only stops
// waiting, so callers sharing the run are not cancelled with it.
func (r *Runner) RunSource(ctx context.Context, name string) (reconcile.Result, error) {
	src, ok := r.sources[name]
	if !ok {
		return reconcile.Result{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	if err := ctx.Err(); err != nil {
		return reconcile.Result{Source: name}, err
	}
	ch := r.sf.DoChan(name, func() (any, error) {
		return r.run(r.d.BaseCtx, src)
	})
	select {
	case <-ctx.Done():
		r.log.Debug("caller stopped waiting; run continues", "source", name, "err", ctx.Err())
		return reconcile.Result{Source: name}, ctx.Err()
	case out := <-ch:
		if out.Shared {
			r.log.Debug("joined in-flight run", "source", name)
		}
		res, _ := out.Val.(reconcile.Result)
		return res, out.Err
	}
}

// RunAll runs every source with at most Workers in parallel. One source failing
// never stops the others.
func (r *Runner) RunAll(ctx context.Context) []Outcome {
	out := make([]Outcome, len(r.order))

	var g errgroup.Group
	g.SetLimit(r.d.Workers)
	for i, name := range r.order {
		i, name := i, name
		g.Go(func() error {
			res, err := r.RunSource(ctx, name)
			out[i] = Outcome{Source: name, Result: res, Err: err}
			return nil // best-effort: don't cancel siblings
		})
	}
	_ = g.Wait()
	return out
}

func (r *Runner) run(ctx context.Context, src Source) (reconcile.Result, error) {
	log := r.log.With("source", src.Name)
	started := r.d.Now()
	r.setRunning(src.Name, started, true)
	defer r.setRunning(src.Name, started, false)

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = r.d.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("running")
	raws, err := scrape.WithRetry(src.Scraper, r.d.Retry, log).Scrape(ctx)
	if err != nil {
		ferr := r.d.Reconciler.Fail(ctx, src.Name, started, err)
		r.publish(events.TypeRunFailed, events.RunSummary{Source: src.Name, Error: err.Error()})
		return reconcile.Result{Source: src.Name}, ferr
	}

	res, err := r.d.Reconciler.Reconcile(ctx, src.Name, normalize.Batch(src.Name, raws), started)
	if err != nil {
		log.Error("reconcile failed", "err", err)
		r.publish(events.TypeRunFailed, events.RunSummary{Source: src.Name, RunID: res.RunID, Error: err.Error()})
		return res, err
	}

	r.publish(events.TypeRunCompleted, events.RunSummary{
		Source:    src.Name,
		RunID:     res.RunID,
		Items:     res.ItemCount,
		New:       len(res.New),
		Modified:  len(res.Modified),
		Removed:   len(res.Removed),
		Unchanged: res.Unchanged,
		Held:      res.Held,
	})
	return res, nil
}

func (r *Runner) setRunning(name string, at time.Time, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on {
		r.running[name] = at
	} else {
		delete(r.running, name)
	}
}

func (r *Runner) publish(typ string, sum events.RunSummary) {
	if r.d.Publisher == nil {
		return
	}
	r.d.Publisher.Publish(events.RunEvent(typ, sum))
}
