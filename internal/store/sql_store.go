package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// Timestamps are stored as fixed-width UTC text so that string order is time order
// on both sqlite and postgres.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const defaultRunsLimit = 50

var listingColumns = []string{
	"source", "property_name", "address", "floor_suite",
	"space_available", "price", "listing_url", "created_at", "updated_at",
}

var changeColumns = []string{
	"run_id", "source", "property_name", "address", "floor_suite",
	"field_name", "old_value", "new_value", "detected_at",
}

var removalColumns = []string{
	"run_id", "source", "property_name", "address", "floor_suite",
	"space_available", "price", "listing_url", "detected_at",
}

var runColumns = []string{
	"id", "source", "status", "item_count", "new_count", "modified_count",
	"removed_count", "message", "started_at", "completed_at",
}

const upsertSuffix = `ON CONFLICT (source, property_name, address, floor_suite) DO UPDATE SET
  property_name = excluded.property_name,
  space_available = excluded.space_available,
  price = excluded.price,
  listing_url = excluded.listing_url,
  updated_at = excluded.updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore keeps snapshots, the change log and the run ledger in one database.
type SQLStore struct {
	db   *DB
	sb   sq.StatementBuilderType
	opts Options
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *DB, opts Options) *SQLStore {
	return &SQLStore{db: db, sb: db.Dialect.builder(), opts: opts.withDefaults()}
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) GetSnapshot(ctx context.Context, source string) ([]domain.ListingRecord, error) {
	recs, err := s.selectListings(ctx, s.db.Pool, source)
	return recs, wrap("get_snapshot", source, err)
}

func (s *SQLStore) LatestListings(ctx context.Context, source string) ([]domain.ListingRecord, error) {
	recs, err := s.selectListings(ctx, s.db.Pool, source)
	return recs, wrap("latest_listings", source, err)
}

func (s *SQLStore) ReplaceSnapshot(ctx context.Context, source string, records []domain.ListingRecord) error {
	records = ownedBy(source, records)
	now := s.opts.Now()

	return s.apply(ctx, "replace_snapshot", source, func(ctx context.Context, q querier) ([]step, error) {
		existing, err := s.selectListings(ctx, q, source)
		if err != nil {
			return nil, err
		}
		idx := indexByKey(existing)
		steps := make([]step, 0, len(records)+len(existing))

		if s.opts.PartialWrite == Rollback {
			// wholesale: clear the source and rewrite it in batch order
			steps = append(steps, step{
				key: domain.IdentityKey{Source: source},
				run: func(ctx context.Context, q querier) error {
					return s.exec(ctx, q, s.sb.Delete("listings").Where(sq.Eq{"source": source}))
				},
			})
			for _, rec := range records {
				rec := stamp(idx, rec, now)
				steps = append(steps, step{key: rec.Key(), run: func(ctx context.Context, q querier) error {
					return s.exec(ctx, q, s.insertListing(rec))
				}})
			}
			return steps, nil
		}

		keep := indexByKey(records)
		for _, old := range existing {
			k := old.Key()
			if _, ok := keep[k]; ok {
				continue
			}
			steps = append(steps, s.deleteStep(k))
		}
		for _, rec := range records {
			steps = append(steps, s.upsertStep(stamp(idx, rec, now)))
		}
		return steps, nil
	})
}

func (s *SQLStore) UpsertListings(ctx context.Context, source string, records []domain.ListingRecord) error {
	records = ownedBy(source, records)
	now := s.opts.Now()

	return s.apply(ctx, "upsert_listings", source, func(ctx context.Context, q querier) ([]step, error) {
		existing, err := s.selectListings(ctx, q, source)
		if err != nil {
			return nil, err
		}
		idx := indexByKey(existing)
		steps := make([]step, 0, len(records))
		for _, rec := range records {
			steps = append(steps, s.upsertStep(stamp(idx, rec, now)))
		}
		return steps, nil
	})
}

func (s *SQLStore) DeleteListings(ctx context.Context, source string, keys []domain.IdentityKey) error {
	if len(keys) == 0 {
		return nil
	}
	return s.apply(ctx, "delete_listings", source, func(ctx context.Context, q querier) ([]step, error) {
		steps := make([]step, 0, len(keys))
		for _, k := range keys {
			k.Source = source
			steps = append(steps, s.deleteStep(k))
		}
		return steps, nil
	})
}

func (s *SQLStore) AppendChanges(ctx context.Context, changes []domain.FieldChange) error {
	if len(changes) == 0 {
		return nil
	}
	source := changes[0].Source

	return s.apply(ctx, "append_changes", source, func(ctx context.Context, q querier) ([]step, error) {
		steps := make([]step, 0, len(changes))
		for _, c := range changes {
			c := c
			steps = append(steps, step{key: c.Key, run: func(ctx context.Context, q querier) error {
				return s.exec(ctx, q, s.sb.Insert("listing_changes").Columns(changeColumns...).Values(
					c.RunID, c.Source, c.Key.PropertyName, c.Key.Address, c.Key.FloorSuite,
					c.FieldName, c.OldValue, c.NewValue, fmtTime(c.DetectedAt),
				))
			}})
		}
		return steps, nil
	})
}

func (s *SQLStore) AppendRemovals(ctx context.Context, removals []domain.Removal) error {
	if len(removals) == 0 {
		return nil
	}
	source := removals[0].Record.Source

	return s.apply(ctx, "append_removals", source, func(ctx context.Context, q querier) ([]step, error) {
		steps := make([]step, 0, len(removals))
		for _, rm := range removals {
			rec := rm.Record
			ins := s.sb.Insert("listing_removals").Columns(removalColumns...).Values(
				rm.RunID, rec.Source, rec.PropertyName, rec.Address, rec.FloorSuite,
				rec.SpaceAvailable, rec.Price, rec.ListingURL, fmtTime(rm.DetectedAt),
			)
			steps = append(steps, step{key: rec.Key(), run: func(ctx context.Context, q querier) error {
				return s.exec(ctx, q, ins)
			}})
		}
		return steps, nil
	})
}

func (s *SQLStore) AppendRun(ctx context.Context, run domain.ScrapeRun) error {
	if run.ID == "" {
		return wrap("append_run", run.Source, errors.New("run id is required"))
	}
	err := s.exec(ctx, s.db.Pool, s.sb.Insert("scrape_runs").Columns(runColumns...).Values(
		run.ID, run.Source, string(run.Status), run.ItemCount, run.NewCount, run.ModifiedCount,
		run.RemovedCount, run.Message, fmtTime(run.StartedAt), fmtTime(run.CompletedAt),
	))
	return wrap("append_run", run.Source, err)
}

func (s *SQLStore) ChangesSince(ctx context.Context, source string, since time.Time) (domain.ChangeSet, error) {
	var cs domain.ChangeSet

	q := s.sb.Select(listingColumns...).From("listings").
		Where(sq.Gt{"created_at": fmtTime(since)}).
		OrderBy("id")
	if source != "" {
		q = q.Where(sq.Eq{"source": source})
	}
	newRecs, err := s.queryListings(ctx, s.db.Pool, q)
	if err != nil {
		return cs, wrap("changes_since", source, err)
	}

	cq := s.sb.Select(changeColumns...).From("listing_changes").
		Where(sq.Gt{"detected_at": fmtTime(since)}).
		OrderBy("id")
	if source != "" {
		cq = cq.Where(sq.Eq{"source": source})
	}
	mods, err := s.queryChanges(ctx, cq)
	if err != nil {
		return cs, wrap("changes_since", source, err)
	}

	rq := s.sb.Select(removalColumns...).From("listing_removals").
		Where(sq.Gt{"detected_at": fmtTime(since)}).
		OrderBy("id")
	if source != "" {
		rq = rq.Where(sq.Eq{"source": source})
	}
	removed, err := s.queryRemovals(ctx, rq)
	if err != nil {
		return cs, wrap("changes_since", source, err)
	}

	cs.New = newRecs
	cs.Modified = mods
	cs.Removed = removed
	return cs, nil
}

func (s *SQLStore) Runs(ctx context.Context, source string, limit int) ([]domain.ScrapeRun, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	q := s.sb.Select(runColumns...).From("scrape_runs").
		OrderBy("started_at DESC", "completed_at DESC").
		Limit(uint64(limit))
	if source != "" {
		q = q.Where(sq.Eq{"source": source})
	}
	runs, err := s.queryRuns(ctx, q)
	return runs, wrap("runs", source, err)
}

func (s *SQLStore) LastRun(ctx context.Context, source string, status domain.RunStatus) (domain.ScrapeRun, bool, error) {
	q := s.sb.Select(runColumns...).From("scrape_runs").
		Where(sq.Eq{"source": source}).
		OrderBy("started_at DESC", "completed_at DESC").
		Limit(1)
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}
	runs, err := s.queryRuns(ctx, q)
	if err != nil {
		return domain.ScrapeRun{}, false, wrap("last_run", source, err)
	}
	if len(runs) == 0 {
		return domain.ScrapeRun{}, false, nil
	}
	return runs[0], true, nil
}

// ---- write plumbing ----

type step struct {
	key domain.IdentityKey
	run func(ctx context.Context, q querier) error
}

// apply runs the steps produced by build. Under Rollback they share one transaction;
// under Continue each step commits on its own and failed keys are collected.
func (s *SQLStore) apply(ctx context.Context, op, source string, build func(context.Context, querier) ([]step, error)) error {
	if s.opts.PartialWrite == Continue {
		steps, err := build(ctx, s.db.Pool)
		if err != nil {
			return wrap(op, source, err)
		}
		var (
			written int
			failed  []domain.IdentityKey
			first   error
		)
		for _, st := range steps {
			if err := st.run(ctx, s.db.Pool); err != nil {
				failed = append(failed, st.key)
				if first == nil {
					first = err
				}
				continue
			}
			written++
		}
		return partial(op, source, written, failed, first)
	}

	tx, err := s.db.Pool.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, source, err)
	}
	defer func() { _ = tx.Rollback() }()

	steps, err := build(ctx, tx)
	if err != nil {
		return wrap(op, source, err)
	}
	for _, st := range steps {
		if err := st.run(ctx, tx); err != nil {
			return wrap(op, source, fmt.Errorf("%s: %w", st.key, err))
		}
	}
	return wrap(op, source, tx.Commit())
}

func partial(op, source string, written int, failed []domain.IdentityKey, err error) error {
	if len(failed) == 0 {
		return nil
	}
	if written == 0 {
		return wrap(op, source, err)
	}
	return &PartialWriteError{Op: op, Source: source, Written: written, Failed: failed, Err: err}
}

func (s *SQLStore) insertListing(rec domain.ListingRecord) sq.InsertBuilder {
	return s.sb.Insert("listings").Columns(listingColumns...).Values(
		rec.Source, rec.PropertyName, rec.Address, rec.FloorSuite,
		rec.SpaceAvailable, rec.Price, rec.ListingURL,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt),
	)
}

func (s *SQLStore) upsertStep(rec domain.ListingRecord) step {
	return step{key: rec.Key(), run: func(ctx context.Context, q querier) error {
		return s.exec(ctx, q, s.insertListing(rec).Suffix(upsertSuffix))
	}}
}

func (s *SQLStore) deleteStep(k domain.IdentityKey) step {
	return step{key: k, run: func(ctx context.Context, q querier) error {
		return s.exec(ctx, q, s.sb.Delete("listings").Where(sq.Eq{
			"source":        k.Source,
			"property_name": k.PropertyName,
			"address":       k.Address,
			"floor_suite":   k.FloorSuite,
		}))
	}}
}

func (s *SQLStore) exec(ctx context.Context, q querier, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// ---- read plumbing ----

func (s *SQLStore) selectListings(ctx context.Context, q querier, source string) ([]domain.ListingRecord, error) {
	b := s.sb.Select(listingColumns...).From("listings")
	if source != "" {
		b = b.Where(sq.Eq{"source": source}).OrderBy("id")
	} else {
		b = b.OrderBy("source", "id")
	}
	return s.queryListings(ctx, q, b)
}

func (s *SQLStore) queryListings(ctx context.Context, q querier, b sq.SelectBuilder) ([]domain.ListingRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ListingRecord{}
	for rows.Next() {
		var (
			r                domain.ListingRecord
			created, updated string
		)
		if err := rows.Scan(&r.Source, &r.PropertyName, &r.Address, &r.FloorSuite,
			&r.SpaceAvailable, &r.Price, &r.ListingURL, &created, &updated); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) queryChanges(ctx context.Context, b sq.SelectBuilder) ([]domain.FieldChange, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.FieldChange{}
	for rows.Next() {
		var (
			c        domain.FieldChange
			detected string
		)
		if err := rows.Scan(&c.RunID, &c.Source, &c.Key.PropertyName, &c.Key.Address, &c.Key.FloorSuite,
			&c.FieldName, &c.OldValue, &c.NewValue, &detected); err != nil {
			return nil, err
		}
		c.Key.Source = c.Source
		if c.DetectedAt, err = parseTime(detected); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) queryRemovals(ctx context.Context, b sq.SelectBuilder) ([]domain.Removal, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Removal{}
	for rows.Next() {
		var (
			rm       domain.Removal
			detected string
		)
		r := &rm.Record
		if err := rows.Scan(&rm.RunID, &r.Source, &r.PropertyName, &r.Address, &r.FloorSuite,
			&r.SpaceAvailable, &r.Price, &r.ListingURL, &detected); err != nil {
			return nil, err
		}
		if rm.DetectedAt, err = parseTime(detected); err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (s *SQLStore) queryRuns(ctx context.Context, b sq.SelectBuilder) ([]domain.ScrapeRun, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ScrapeRun{}
	for rows.Next() {
		var (
			r                  domain.ScrapeRun
			status             string
			started, completed string
		)
		if err := rows.Scan(&r.ID, &r.Source, &status, &r.ItemCount, &r.NewCount, &r.ModifiedCount,
			&r.RemovedCount, &r.Message, &started, &completed); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- helpers ----

// ownedBy forces every record onto source and collapses duplicate identities.
func ownedBy(source string, records []domain.ListingRecord) []domain.ListingRecord {
	out := make([]domain.ListingRecord, len(records))
	for i, r := range records {
		r.Source = source
		out[i] = r
	}
	return domain.Dedupe(out)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// rows written by hand or older builds
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}
