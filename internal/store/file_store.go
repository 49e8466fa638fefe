package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// FileStore keeps one directory per source under <root>/results:
//
//	current.json   the snapshot, rewritten atomically
//	changes.jsonl  the change log, one FieldChange per line
//	removed.jsonl  the removal log, one Removal per line
//	runs.jsonl     the run ledger, one ScrapeRun per line
//
// Snapshot writes go through tmp + rename, so they are all-or-nothing whatever the
// partial-write policy says.
type FileStore struct {
	root string
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Store = (*FileStore)(nil)

var ErrInvalidSource = errors.New("invalid source name")

func NewFileStore(dataDir string, opts Options) (*FileStore, error) {
	opts = opts.withDefaults()
	root := filepath.Join(dataDir, "results")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{root: root, now: opts.Now, locks: map[string]*sync.Mutex{}}, nil
}

func (s *FileStore) Close() error { return nil }

func ValidSource(source string) error {
	if source == "" || source == "." || source == ".." ||
		strings.ContainsAny(source, `/\`) || strings.TrimSpace(source) != source {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return nil
}

func (s *FileStore) lock(source string) func() {
	s.mu.Lock()
	m, ok := s.locks[source]
	if !ok {
		m = &sync.Mutex{}
		s.locks[source] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *FileStore) dir(source string) string {
	return filepath.Join(s.root, source)
}

func (s *FileStore) GetSnapshot(ctx context.Context, source string) ([]domain.ListingRecord, error) {
	if err := s.check(ctx, source); err != nil {
		return nil, wrap("get_snapshot", source, err)
	}
	unlock := s.lock(source)
	defer unlock()

	recs, err := s.readSnapshot(source)
	return recs, wrap("get_snapshot", source, err)
}

func (s *FileStore) ReplaceSnapshot(ctx context.Context, source string, records []domain.ListingRecord) error {
	if err := s.check(ctx, source); err != nil {
		return wrap("replace_snapshot", source, err)
	}
	unlock := s.lock(source)
	defer unlock()

	existing, err := s.readSnapshot(source)
	if err != nil {
		return wrap("replace_snapshot", source, err)
	}
	idx := indexByKey(existing)
	now := s.now()

	records = ownedBy(source, records)
	out := make([]domain.ListingRecord, 0, len(records))
	for _, r := range records {
		out = append(out, stamp(idx, r, now))
	}
	return wrap("replace_snapshot", source, s.writeSnapshot(source, out))
}

func (s *FileStore) UpsertListings(ctx context.Context, source string, records []domain.ListingRecord) error {
	if err := s.check(ctx, source); err != nil {
		return wrap("upsert_listings", source, err)
	}
	unlock := s.lock(source)
	defer unlock()

	existing, err := s.readSnapshot(source)
	if err != nil {
		return wrap("upsert_listings", source, err)
	}
	idx := indexByKey(existing)
	pos := make(map[domain.IdentityKey]int, len(existing))
	for i, r := range existing {
		pos[r.Key()] = i
	}
	now := s.now()

	for _, r := range ownedBy(source, records) {
		r = stamp(idx, r, now)
		if i, ok := pos[r.Key()]; ok {
			existing[i] = r
			continue
		}
		pos[r.Key()] = len(existing)
		existing = append(existing, r)
	}
	return wrap("upsert_listings", source, s.writeSnapshot(source, existing))
}

func (s *FileStore) DeleteListings(ctx context.Context, source string, keys []domain.IdentityKey) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.check(ctx, source); err != nil {
		return wrap("delete_listings", source, err)
	}
	unlock := s.lock(source)
	defer unlock()

	existing, err := s.readSnapshot(source)
	if err != nil {
		return wrap("delete_listings", source, err)
	}
	drop := make(map[domain.IdentityKey]bool, len(keys))
	for _, k := range keys {
		k.Source = source
		drop[k] = true
	}
	kept := existing[:0]
	for _, r := range existing {
		if !drop[r.Key()] {
			kept = append(kept, r)
		}
	}
	return wrap("delete_listings", source, s.writeSnapshot(source, kept))
}

func (s *FileStore) AppendChanges(ctx context.Context, changes []domain.FieldChange) error {
	items := make([]sourced, 0, len(changes))
	for _, c := range changes {
		items = append(items, sourced{source: c.Source, v: c})
	}
	return s.appendBySource(ctx, "append_changes", "changes.jsonl", items)
}

func (s *FileStore) AppendRemovals(ctx context.Context, removals []domain.Removal) error {
	items := make([]sourced, 0, len(removals))
	for _, rm := range removals {
		items = append(items, sourced{source: rm.Record.Source, v: rm})
	}
	return s.appendBySource(ctx, "append_removals", "removed.jsonl", items)
}

type sourced struct {
	source string
	v      any
}

// appendBySource appends each item to name in its own source directory,
// keeping the input order within a source.
func (s *FileStore) appendBySource(ctx context.Context, op, name string, items []sourced) error {
	if len(items) == 0 {
		return nil
	}
	bySource := map[string][]any{}
	var order []string
	for _, it := range items {
		if _, ok := bySource[it.source]; !ok {
			order = append(order, it.source)
		}
		bySource[it.source] = append(bySource[it.source], it.v)
	}
	for _, src := range order {
		if err := s.check(ctx, src); err != nil {
			return wrap(op, src, err)
		}
		unlock := s.lock(src)
		err := appendLines(filepath.Join(s.dir(src), name), bySource[src])
		unlock()
		if err != nil {
			return wrap(op, src, err)
		}
	}
	return nil
}

func (s *FileStore) AppendRun(ctx context.Context, run domain.ScrapeRun) error {
	if err := s.check(ctx, run.Source); err != nil {
		return wrap("append_run", run.Source, err)
	}
	if run.ID == "" {
		return wrap("append_run", run.Source, errors.New("run id is required"))
	}
	unlock := s.lock(run.Source)
	defer unlock()
	return wrap("append_run", run.Source, appendLines(filepath.Join(s.dir(run.Source), "runs.jsonl"), []any{run}))
}

func (s *FileStore) LatestListings(ctx context.Context, source string) ([]domain.ListingRecord, error) {
	sources, err := s.sources(source)
	if err != nil {
		return nil, wrap("latest_listings", source, err)
	}
	out := []domain.ListingRecord{}
	for _, src := range sources {
		recs, err := s.GetSnapshot(ctx, src)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *FileStore) ChangesSince(ctx context.Context, source string, since time.Time) (domain.ChangeSet, error) {
	cs := domain.ChangeSet{
		New:      []domain.ListingRecord{},
		Modified: []domain.FieldChange{},
		Removed:  []domain.Removal{},
	}

	sources, err := s.sources(source)
	if err != nil {
		return cs, wrap("changes_since", source, err)
	}
	for _, src := range sources {
		recs, err := s.GetSnapshot(ctx, src)
		if err != nil {
			return cs, err
		}
		for _, r := range recs {
			if r.CreatedAt.After(since) {
				cs.New = append(cs.New, r)
			}
		}

		unlock := s.lock(src)
		changes, err := readLines[domain.FieldChange](filepath.Join(s.dir(src), "changes.jsonl"))
		unlock()
		if err != nil {
			return cs, wrap("changes_since", src, err)
		}
		for _, c := range changes {
			if c.DetectedAt.After(since) {
				cs.Modified = append(cs.Modified, c)
			}
		}

		unlock = s.lock(src)
		removals, err := readLines[domain.Removal](filepath.Join(s.dir(src), "removed.jsonl"))
		unlock()
		if err != nil {
			return cs, wrap("changes_since", src, err)
		}
		for _, rm := range removals {
			if rm.DetectedAt.After(since) {
				cs.Removed = append(cs.Removed, rm)
			}
		}
	}
	return cs, nil
}

func (s *FileStore) Runs(ctx context.Context, source string, limit int) ([]domain.ScrapeRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("runs", source, err)
	}
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	sources, err := s.sources(source)
	if err != nil {
		return nil, wrap("runs", source, err)
	}
	out := []domain.ScrapeRun{}
	for _, src := range sources {
		unlock := s.lock(src)
		runs, err := readLines[domain.ScrapeRun](filepath.Join(s.dir(src), "runs.jsonl"))
		unlock()
		if err != nil {
			return nil, wrap("runs", src, err)
		}
		out = append(out, runs...)
	}
	// newest first; ledger order breaks ties
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) LastRun(ctx context.Context, source string, status domain.RunStatus) (domain.ScrapeRun, bool, error) {
	if err := s.check(ctx, source); err != nil {
		return domain.ScrapeRun{}, false, wrap("last_run", source, err)
	}
	runs, err := s.Runs(ctx, source, int(^uint(0)>>1))
	if err != nil {
		return domain.ScrapeRun{}, false, err
	}
	for _, r := range runs {
		if status == "" || r.Status == status {
			return r, true, nil
		}
	}
	return domain.ScrapeRun{}, false, nil
}

// ---- files ----

func (s *FileStore) check(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ValidSource(source)
}

// sources returns [source], or every source directory when source is "".
func (s *FileStore) sources(source string) ([]string, error) {
	if source != "" {
		if err := ValidSource(source); err != nil {
			return nil, err
		}
		return []string{source}, nil
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) readSnapshot(source string) ([]domain.ListingRecord, error) {
	b, err := os.ReadFile(filepath.Join(s.dir(source), "current.json"))
	if errors.Is(err, os.ErrNotExist) {
		return []domain.ListingRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	recs := []domain.ListingRecord{}
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode current.json: %w", err)
	}
	return recs, nil
}

func (s *FileStore) writeSnapshot(source string, recs []domain.ListingRecord) error {
	dir := s.dir(source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if recs == nil {
		recs = []domain.ListingRecord{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "current.json")
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func appendLines(path string, items []any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		out = append(out, v)
	}
	return out, sc.Err()
}
