package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/montabano1/RyanScraper/internal/domain"
	"github.com/montabano1/RyanScraper/internal/store"
)

// ErrScrapeFailed marks a run whose scraper returned an error. The snapshot is untouched.
var ErrScrapeFailed = errors.New("scrape failed")

type Strategy string

const (
	// Replace makes every batch the complete snapshot.
	Replace Strategy = "replace"
	// Upsert merges the batch into the snapshot by identity key.
	Upsert Strategy = "upsert"
)

type EmptyResultPolicy string

const (
	// Hold keeps the snapshot when a source that had listings returns none.
	Hold EmptyResultPolicy = "hold"
	// Clear treats an empty batch as "everything was removed".
	Clear EmptyResultPolicy = "clear"
)

type Policy struct {
	Strategy        Strategy
	DeleteOnRemoval bool
	EmptyResult     EmptyResultPolicy
}

func (p Policy) withDefaults() Policy {
	if p.Strategy == "" {
		p.Strategy = Replace
	}
	if p.EmptyResult == "" {
		p.EmptyResult = Hold
	}
	return p
}

// Store is the persistence the reconciler writes through.
type Store interface {
	store.SnapshotStore
	store.ChangeLog
	store.RunLedger
}

// Observer is told about every finished reconciliation.
type Observer interface {
	ObserveReconcile(source string, res Result, err error, elapsed time.Duration)
}

// Result describes one reconciliation.
type Result struct {
	RunID     string                 `json:"run_id"`
	Source    string                 `json:"source"`
	ItemCount int                    `json:"item_count"`
	New       []domain.ListingRecord `json:"new"`
	Modified  []domain.Modification  `json:"modified"`
	Removed   []domain.ListingRecord `json:"removed"`
	Unchanged int                    `json:"unchanged"`
	Changes   []domain.FieldChange   `json:"-"`
	Removals  []domain.Removal       `json:"-"`

	// Held is set when an empty batch left the snapshot untouched.
	Held bool `json:"held,omitempty"`

	// Set when the snapshot committed but an audit write did not.
	ChangeLogErr error `json:"-"`
	LedgerErr    error `json:"-"`
}

type Reconciler struct {
	store    Store
	policy   Policy
	locker   *Locker
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
	observer Observer
}

type Option func(*Reconciler)

func WithLocker(l *Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithIDs(newID func() string) Option {
	return func(r *Reconciler) { r.newID = newID }
}

func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observer = o }
}

func New(st Store, p Policy, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  st,
		policy: p.withDefaults(),
		log:    slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	if r.locker == nil {
		r.locker, _ = NewLocker("")
	}
	r.log = r.log.With("component", "reconcile")
	return r
}

func (r *Reconciler) Policy() Policy { return r.policy }

// Reconcile classifies batch against the stored snapshot of source and commits the result:
// snapshot first, then the change log, then the run ledger.
func (r *Reconciler) Reconcile(ctx context.Context, source string, batch []domain.ListingRecord, startedAt time.Time) (res Result, err error) {
	begin := time.Now()
	res = Result{Source: source, ItemCount: len(batch)}
	defer func() {
		if r.observer != nil {
			r.observer.ObserveReconcile(source, res, err, time.Since(begin))
		}
	}()

	res.RunID = r.newID()
	log := r.log.With("source", source, "run_id", res.RunID)

	unlock, err := r.locker.Lock(ctx, source)
	if err != nil {
		log.Error("source lock not acquired; run aborted", "err", err)
		r.appendRun(ctx, log, r.failedRun(res, startedAt, "lock: "+err.Error()))
		return res, fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	old, err := r.store.GetSnapshot(ctx, source)
	if err != nil {
		log.Error("snapshot load failed; run aborted", "err", err)
		r.appendRun(ctx, log, r.failedRun(res, startedAt, "load snapshot: "+err.Error()))
		return res, fmt.Errorf("load snapshot %s: %w", source, err)
	}

	clearing := false
	if len(batch) == 0 && len(old) > 0 {
		log.Warn("scrape returned no listings", "class", "empty_result",
			"policy", string(r.policy.EmptyResult), "snapshot_size", len(old))
		if r.policy.EmptyResult == Hold {
			res.Held = true
			run := r.run(res, startedAt, domain.RunSuccess)
			run.Message = fmt.Sprintf("empty result: snapshot of %d listings held", len(old))
			res.LedgerErr = r.appendRun(ctx, log, run)
			return res, nil
		}
		clearing = true
	}

	detectedAt := r.now()
	d := Compare(old, batch, detectedAt, res.RunID)
	res.New = d.New
	res.Modified = d.Modified
	res.Removed = d.Removed
	res.Unchanged = len(d.Unchanged)
	res.Changes = d.Changes()
	res.Removals = d.Removals(detectedAt, res.RunID)

	if err := r.persist(ctx, source, d, clearing); err != nil {
		var pw *store.PartialWriteError
		if errors.As(err, &pw) {
			log.Warn("snapshot partially written", "class", "partial_write",
				"written", pw.Written, "failed", len(pw.Failed), "err", pw.Err)
			// the log must not run ahead of the snapshot
			r.appendAudit(ctx, log, &res,
				committedChanges(res.Changes, pw.Failed),
				r.committedRemovals(res.Removals, pw, clearing))
		} else {
			log.Error("snapshot write failed", "err", err)
		}
		r.appendRun(ctx, log, r.failedRun(res, startedAt, "write snapshot: "+err.Error()))
		return res, fmt.Errorf("write snapshot %s: %w", source, err)
	}

	r.appendAudit(ctx, log, &res, res.Changes, res.Removals)

	run := r.run(res, startedAt, domain.RunSuccess)
	if clearing {
		run.Message = "empty result: snapshot cleared"
	}
	res.LedgerErr = r.appendRun(ctx, log, run)

	log.Info("reconciled",
		"items", res.ItemCount, "new", len(res.New), "modified", len(res.Modified),
		"removed", len(res.Removed), "unchanged", res.Unchanged)
	return res, nil
}

// Fail records a run whose scraper failed and returns an error matching ErrScrapeFailed.
func (r *Reconciler) Fail(ctx context.Context, source string, startedAt time.Time, cause error) error {
	res := Result{Source: source, RunID: r.newID()}
	log := r.log.With("source", source, "run_id", res.RunID)
	log.Error("scrape failed; reconciliation skipped", "err", cause)

	r.appendRun(ctx, log, r.failedRun(res, startedAt, cause.Error()))
	err := fmt.Errorf("%w: %s: %w", ErrScrapeFailed, source, cause)
	if r.observer != nil {
		r.observer.ObserveReconcile(source, res, err, 0)
	}
	return err
}

func (r *Reconciler) persist(ctx context.Context, source string, d Diff, clearing bool) error {
	if r.policy.Strategy == Replace {
		return r.store.ReplaceSnapshot(ctx, source, d.Batch)
	}
	if len(d.Batch) > 0 {
		if err := r.store.UpsertListings(ctx, source, d.Batch); err != nil {
			return err
		}
	}
	if (r.policy.DeleteOnRemoval || clearing) && len(d.Removed) > 0 {
		return r.store.DeleteListings(ctx, source, d.RemovedKeys())
	}
	return nil
}

// appendAudit writes field changes and removals after the snapshot committed.
// Failures are kept on res and never fail the run.
func (r *Reconciler) appendAudit(ctx context.Context, log *slog.Logger, res *Result, changes []domain.FieldChange, removals []domain.Removal) {
	var errs []error
	if len(changes) > 0 {
		if err := r.store.AppendChanges(ctx, changes); err != nil {
			log.Warn("change log write failed; snapshot already committed",
				"class", "changelog_write_failed", "changes", len(changes), "err", err)
			errs = append(errs, err)
		}
	}
	if len(removals) > 0 {
		if err := r.store.AppendRemovals(ctx, removals); err != nil {
			log.Warn("removal log write failed; snapshot already committed",
				"class", "changelog_write_failed", "removals", len(removals), "err", err)
			errs = append(errs, err)
		}
	}
	res.ChangeLogErr = errors.Join(errs...)
}

func (r *Reconciler) appendRun(ctx context.Context, log *slog.Logger, run domain.ScrapeRun) error {
	// failures are recorded even when the run's own context is gone
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.store.AppendRun(wctx, run); err != nil {
		log.Warn("run ledger write failed", "class", "ledger_write_failed", "status", string(run.Status), "err", err)
		return err
	}
	return nil
}

func (r *Reconciler) run(res Result, startedAt time.Time, status domain.RunStatus) domain.ScrapeRun {
	return domain.ScrapeRun{
		ID:            res.RunID,
		Source:        res.Source,
		Status:        status,
		ItemCount:     res.ItemCount,
		NewCount:      len(res.New),
		ModifiedCount: len(res.Modified),
		RemovedCount:  len(res.Removed),
		StartedAt:     startedAt,
		CompletedAt:   r.now(),
	}
}

func (r *Reconciler) failedRun(res Result, startedAt time.Time, msg string) domain.ScrapeRun {
	run := r.run(res, startedAt, domain.RunFailure)
	run.NewCount, run.ModifiedCount, run.RemovedCount = 0, 0, 0
	run.Message = msg
	return run
}

func committedChanges(changes []domain.FieldChange, failed []domain.IdentityKey) []domain.FieldChange {
	skip := make(map[domain.IdentityKey]bool, len(failed))
	for _, k := range failed {
		skip[k] = true
	}
	var out []domain.FieldChange
	for _, c := range changes {
		if !skip[c.Key] {
			out = append(out, c)
		}
	}
	return out
}

// committedRemovals keeps the removals that a partial write actually carried out.
func (r *Reconciler) committedRemovals(removals []domain.Removal, pw *store.PartialWriteError, clearing bool) []domain.Removal {
	deleting := r.policy.Strategy == Replace || r.policy.DeleteOnRemoval || clearing
	if deleting && pw.Op == "upsert_listings" {
		// the upsert stopped short of the deletes
		return nil
	}
	skip := make(map[domain.IdentityKey]bool, len(pw.Failed))
	for _, k := range pw.Failed {
		skip[k] = true
	}
	var out []domain.Removal
	for _, rm := range removals {
		if !skip[rm.Key()] {
			out = append(out, rm)
		}
	}
	return out
}
