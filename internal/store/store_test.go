package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// stepClock advances one second per call so strict "after" queries are deterministic.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type storeFactory func(t *testing.T, now func() time.Time) Store

func sqliteFactory(t *testing.T, now func() time.Time) Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "listings.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := NewSQLStore(db, Options{Now: now})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fileFactory(t *testing.T, now func() time.Time) Store {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), Options{Now: now})
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return s
}

func listing(source, name, suite, price string) domain.ListingRecord {
	return domain.ListingRecord{
		Source:         source,
		PropertyName:   name,
		Address:        "1 Main St",
		FloorSuite:     suite,
		SpaceAvailable: "1,000 SF",
		Price:          price,
		ListingURL:     "https://example.com/" + name,
	}
}

func TestStores(t *testing.T) {
	t.Parallel()

	for name, f := range map[string]storeFactory{"sqlite": sqliteFactory, "file": fileFactory} {
		f := f
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			t.Run("unknown source is empty", func(t *testing.T) { testUnknownSource(t, f) })
			t.Run("replace", func(t *testing.T) { testReplace(t, f) })
			t.Run("upsert keeps unseen rows", func(t *testing.T) { testUpsert(t, f) })
			t.Run("delete", func(t *testing.T) { testDelete(t, f) })
			t.Run("sources are isolated", func(t *testing.T) { testIsolation(t, f) })
			t.Run("changes since", func(t *testing.T) { testChangesSince(t, f) })
			t.Run("removals", func(t *testing.T) { testRemovals(t, f) })
			t.Run("runs", func(t *testing.T) { testRuns(t, f) })
		})
	}
}

func testUnknownSource(t *testing.T, f storeFactory) {
	s := f(t, newStepClock().Now)
	got, err := s.GetSnapshot(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %d", len(got))
	}
}

func testReplace(t *testing.T, f storeFactory) {
	ctx := context.Background()
	s := f(t, newStepClock().Now)

	a := listing("cbre", "Tower A", "Suite 100", "$30/sqft")
	b := listing("cbre", "Tower B", "Suite 200", "$28/sqft")
	if err := s.ReplaceSnapshot(ctx, "cbre", []domain.ListingRecord{a, b}); err != nil {
		t.Fatalf("replace #1: %v", err)
	}
	first, _ := s.GetSnapshot(ctx, "cbre")
	if len(first) != 2 {
		t.Fatalf("expected 2 records, got %d", len(first))
	}

	a2 := a
	a2.Price = "$32/sqft"
	c := listing("cbre", "Tower C", "Suite 300", "$25/sqft")
	if err := s.ReplaceSnapshot(ctx, "cbre", []domain.ListingRecord{a2, c}); err != nil {
		t.Fatalf("replace #2: %v", err)
	}
	got, err := s.GetSnapshot(ctx, "cbre")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(got), got)
	}
	if got[0].Key() != a.Key() || got[1].Key() != c.Key() {
		t.Fatalf("unexpected keys: %v, %v", got[0].Key(), got[1].Key())
	}
	if got[0].Price != "$32/sqft" {
		t.Fatalf("price not replaced: %q", got[0].Price)
	}
	if !got[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Fatalf("created_at moved: %v -> %v", first[0].CreatedAt, got[0].CreatedAt)
	}
	if !got[0].UpdatedAt.After(first[0].UpdatedAt) {
		t.Fatalf("updated_at did not advance: %v -> %v", first[0].UpdatedAt, got[0].UpdatedAt)
	}

	// an identical batch leaves updated_at alone
	if err := s.ReplaceSnapshot(ctx, "cbre", []domain.ListingRecord{a2, c}); err != nil {
		t.Fatalf("replace #3: %v", err)
	}
	again, _ := s.GetSnapshot(ctx, "cbre")
	if !again[0].UpdatedAt.Equal(got[0].UpdatedAt) {
		t.Fatalf("updated_at moved without a change: %v -> %v", got[0].UpdatedAt, again[0].UpdatedAt)
	}
}

func testUpsert(t *testing.T, f storeFactory) {
	ctx := context.Background()
	s := f(t, newStepClock().Now)

	a := listing("jll", "Tower A", "Suite 100", "$30/sqft")
	b := listing("jll", "Tower B", "Suite 200", "$28/sqft")
	if err := s.UpsertListings(ctx, "jll", []domain.ListingRecord{a, b}); err != nil {
		t.Fatalf("upsert #1: %v", err)
	}
	b2 := b
	b2.SpaceAvailable = "2,000 SF"
	if err := s.UpsertListings(ctx, "jll", []domain.ListingRecord{b2, b2}); err != nil {
		t.Fatalf("upsert #2: %v", err)
	}

	got, _ := s.GetSnapshot(ctx, "jll")
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	byKey := indexByKey(got)
	if _, ok := byKey[a.Key()]; !ok {
		t.Fatalf("unseen record was dropped")
	}
	if byKey[b.Key()].SpaceAvailable != "2,000 SF" {
		t.Fatalf("upsert did not update: %+v", byKey[b.Key()])
	}
}

func testDelete(t *testing.T, f storeFactory) {
	ctx := context.Background()
	s := f(t, newStepClock().Now)

	a := listing("cw", "Tower A", "Suite 100", "$30/sqft")
	b := listing("cw", "Tower B", "Suite 200", "$28/sqft")
	if err := s.UpsertListings(ctx, "cw", []domain.ListingRecord{a, b}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeleteListings(ctx, "cw", []domain.IdentityKey{a.Key()}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := s.GetSnapshot(ctx, "cw")
	if len(got) != 1 || got[0].Key() != b.Key() {
		t.Fatalf("unexpected snapshot after delete: %+v", got)
	}
}

func testIsolation(t *testing.T, f storeFactory) {
	ctx := context.Background()
	s := f(t, newStepClock().Now)

	x := listing("x", "Tower A", "Suite 100", "$30/sqft")
	y := listing("y", "Tower A", "Suite 100", "$30/sqft")
	if err := s.ReplaceSnapshot(ctx, "x", []domain.ListingRecord{x}); err != nil {
		t.Fatalf("replace x: %v", err)
	}
	if err := s.ReplaceSnapshot(ctx, "y", []domain.ListingRecord{y}); err != nil {
		t.Fatalf("replace y: %v", err)
	}
	if err := s.ReplaceSnapshot(ctx, "x", nil); err != nil {
		t.Fatalf("clear x: %v", err)
	}

	if got, _ := s.GetSnapshot(ctx, "x"); len(got) != 0 {
		t.Fatalf("x should be empty, got %d", len(got))
	}
	if got, _ := s.GetSnapshot(ctx, "y"); len(got) != 1 {
		t.Fatalf("y should be untouched, got %d", len(got))
	}
	all, err := s.LatestListings(ctx, "")
	if err != nil {
		t.Fatalf("LatestListings: %v", err)
	}
	if len(all) != 1 || all[0].Source != "y" {
		t.Fatalf("unexpected listings: %+v", all)
	}
}

func testChangesSince(t *testing.T, f storeFactory) {
	ctx := context.Background()
	clock := newStepClock()
	s := f(t, clock.Now)

	a := listing("src", "Tower A", "Suite 100", "$30/sqft")
	if err := s.ReplaceSnapshot(ctx, "src", []domain.ListingRecord{a}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	start := clock.Now()
	if err := s.AppendRun(ctx, domain.ScrapeRun{
		ID: "run-1", Source: "src", Status: domain.RunSuccess, ItemCount: 1,
		StartedAt: start, CompletedAt: clock.Now(),
	}); err != nil {
		t.Fatalf("append run: %v", err)
	}

	a2 := a
	a2.Price = "$32/sqft"
	b := listing("src", "Tower B", "Suite 200", "$28/sqft")
	if err := s.ReplaceSnapshot(ctx, "src", []domain.ListingRecord{a2, b}); err != nil {
		t.Fatalf("replace #2: %v", err)
	}
	if err := s.AppendChanges(ctx, []domain.FieldChange{{
		Key: a.Key(), Source: "src", FieldName: domain.FieldPrice,
		OldValue: "$30/sqft", NewValue: "$32/sqft", DetectedAt: clock.Now(), RunID: "run-2",
	}}); err != nil {
		t.Fatalf("append changes: %v", err)
	}

	cs, ok, err := ChangesSinceLastRun(ctx, s, "src")
	if err != nil || !ok {
		t.Fatalf("ChangesSinceLastRun: ok=%v err=%v", ok, err)
	}
	if len(cs.New) != 1 || cs.New[0].Key() != b.Key() {
		t.Fatalf("expected Tower B as new, got %+v", cs.New)
	}
	if len(cs.Modified) != 1 {
		t.Fatalf("expected one change, got %+v", cs.Modified)
	}
	got := cs.Modified[0]
	if got.FieldName != domain.FieldPrice || got.OldValue != "$30/sqft" || got.NewValue != "$32/sqft" {
		t.Fatalf("unexpected change: %+v", got)
	}
	if got.Key != a.Key() || got.RunID != "run-2" {
		t.Fatalf("change lost its identity: %+v", got)
	}

	if _, ok, _ := ChangesSinceLastRun(ctx, s, "never-ran"); ok {
		t.Fatalf("expected ok=false for a source without runs")
	}
}

func testRemovals(t *testing.T, f storeFactory) {
	ctx := context.Background()
	clock := newStepClock()
	s := f(t, clock.Now)

	if err := s.AppendRemovals(ctx, nil); err != nil {
		t.Fatalf("empty append: %v", err)
	}

	a := listing("src", "Tower A", "Suite 100", "$30/sqft")
	b := listing("src", "Tower B", "Suite 200", "$28/sqft")
	o := listing("other", "Tower O", "Suite 1", "$10/sqft")

	early := clock.Now()
	if err := s.AppendRemovals(ctx, []domain.Removal{
		{Record: a, DetectedAt: early, RunID: "run-1"},
	}); err != nil {
		t.Fatalf("append #1: %v", err)
	}
	mid := clock.Now()
	late := clock.Now()
	if err := s.AppendRemovals(ctx, []domain.Removal{
		{Record: b, DetectedAt: late, RunID: "run-2"},
		{Record: o, DetectedAt: late, RunID: "run-9"},
	}); err != nil {
		t.Fatalf("append #2: %v", err)
	}

	cs, err := s.ChangesSince(ctx, "src", mid)
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if len(cs.Removed) != 1 {
		t.Fatalf("expected one removal after mid, got %+v", cs.Removed)
	}
	got := cs.Removed[0]
	if got.Key() != b.Key() || got.RunID != "run-2" || !got.DetectedAt.Equal(late) {
		t.Fatalf("removal lost its identity: %+v", got)
	}
	if got.Record.Price != b.Price || got.Record.SpaceAvailable != b.SpaceAvailable || got.Record.ListingURL != b.ListingURL {
		t.Fatalf("removal lost the last known state: %+v", got.Record)
	}

	// the bound is strict
	if cs, _ := s.ChangesSince(ctx, "src", late); len(cs.Removed) != 0 {
		t.Fatalf("expected nothing after the last detection, got %+v", cs.Removed)
	}

	all, err := s.ChangesSince(ctx, "", early.Add(-time.Second))
	if err != nil {
		t.Fatalf("ChangesSince all: %v", err)
	}
	if len(all.Removed) != 3 {
		t.Fatalf("expected removals of every source, got %+v", all.Removed)
	}
}

func testRuns(t *testing.T, f storeFactory) {
	ctx := context.Background()
	clock := newStepClock()
	s := f(t, clock.Now)

	statuses := []domain.RunStatus{domain.RunSuccess, domain.RunFailure, domain.RunSuccess, domain.RunFailure}
	for i, st := range statuses {
		start := clock.Now()
		run := domain.ScrapeRun{
			ID: string(rune('a' + i)), Source: "src", Status: st,
			StartedAt: start, CompletedAt: clock.Now(),
		}
		if err := s.AppendRun(ctx, run); err != nil {
			t.Fatalf("append run %d: %v", i, err)
		}
	}
	if err := s.AppendRun(ctx, domain.ScrapeRun{Source: "src"}); err == nil {
		t.Fatalf("expected an error for a run without id")
	}

	runs, err := s.Runs(ctx, "src", 3)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "d" || runs[2].ID != "b" {
		t.Fatalf("unexpected runs order: %+v", runs)
	}

	last, ok, err := s.LastRun(ctx, "src", domain.RunSuccess)
	if err != nil || !ok {
		t.Fatalf("LastRun: ok=%v err=%v", ok, err)
	}
	if last.ID != "c" {
		t.Fatalf("expected run c, got %s", last.ID)
	}
	if _, ok, _ := s.LastRun(ctx, "other", domain.RunSuccess); ok {
		t.Fatalf("expected no run for other source")
	}
}
