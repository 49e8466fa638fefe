package store

import (
	"context"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// SnapshotStore owns the persisted current state of every source.
type SnapshotStore interface {
	// GetSnapshot returns the current records of a source; empty if never scraped.
	GetSnapshot(ctx context.Context, source string) ([]domain.ListingRecord, error)
	// ReplaceSnapshot makes records the complete snapshot of source.
	ReplaceSnapshot(ctx context.Context, source string, records []domain.ListingRecord) error
	// UpsertListings inserts or updates records by identity key, leaving other rows alone.
	UpsertListings(ctx context.Context, source string, records []domain.ListingRecord) error
	// DeleteListings physically removes the given identities.
	DeleteListings(ctx context.Context, source string, keys []domain.IdentityKey) error
}

// ChangeLog is the append-only audit trail of field changes and removals.
type ChangeLog interface {
	AppendChanges(ctx context.Context, changes []domain.FieldChange) error
	AppendRemovals(ctx context.Context, removals []domain.Removal) error
}

// RunLedger is the append-only record of scrape runs.
type RunLedger interface {
	AppendRun(ctx context.Context, run domain.ScrapeRun) error
}

// Reader serves the consumer-facing queries.
type Reader interface {
	// LatestListings returns current listings of one source, or all sources when source is "".
	LatestListings(ctx context.Context, source string) ([]domain.ListingRecord, error)
	ChangesSince(ctx context.Context, source string, since time.Time) (domain.ChangeSet, error)
	Runs(ctx context.Context, source string, limit int) ([]domain.ScrapeRun, error)
	LastRun(ctx context.Context, source string, status domain.RunStatus) (domain.ScrapeRun, bool, error)
}

type Store interface {
	SnapshotStore
	ChangeLog
	RunLedger
	Reader
	Close() error
}

type PartialWritePolicy string

const (
	// Rollback makes each logical write all-or-nothing.
	Rollback PartialWritePolicy = "rollback"
	// Continue writes record by record and reports failures as *PartialWriteError.
	Continue PartialWritePolicy = "continue"
)

type Options struct {
	PartialWrite PartialWritePolicy
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PartialWrite == "" {
		o.PartialWrite = Rollback
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ChangesSinceLastRun bounds ChangesSince by the start of the latest successful run.
// ok is false when the source has no successful run yet.
func ChangesSinceLastRun(ctx context.Context, r Reader, source string) (cs domain.ChangeSet, ok bool, err error) {
	run, ok, err := r.LastRun(ctx, source, domain.RunSuccess)
	if err != nil || !ok {
		return domain.ChangeSet{}, ok, err
	}
	cs, err = r.ChangesSince(ctx, source, run.StartedAt)
	return cs, true, err
}

// stamp sets store-owned timestamps: created_at survives for known identities,
// updated_at only moves when a monitored field changed.
func stamp(existing map[domain.IdentityKey]domain.ListingRecord, rec domain.ListingRecord, now time.Time) domain.ListingRecord {
	if prev, ok := existing[rec.Key()]; ok {
		rec.CreatedAt = prev.CreatedAt
		if rec.SameTracked(prev) {
			rec.UpdatedAt = prev.UpdatedAt
		} else {
			rec.UpdatedAt = now
		}
		return rec
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec
}

func indexByKey(records []domain.ListingRecord) map[domain.IdentityKey]domain.ListingRecord {
	m := make(map[domain.IdentityKey]domain.ListingRecord, len(records))
	for _, r := range records {
		m[r.Key()] = r
	}
	return m
}
