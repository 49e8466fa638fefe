package reconcile

import (
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// Diff is the classification of one batch against the stored snapshot.
type Diff struct {
	// Batch is the input with duplicate identities collapsed (last occurrence wins).
	Batch     []domain.ListingRecord
	New       []domain.ListingRecord
	Modified  []domain.Modification
	Unchanged []domain.ListingRecord
	Removed   []domain.ListingRecord
}

// Compare classifies batch against old. It is pure: timestamps and run id are inputs.
// Every deduplicated batch record lands in exactly one of New, Modified and Unchanged;
// every old record missing from the batch lands in Removed.
func Compare(old, batch []domain.ListingRecord, detectedAt time.Time, runID string) Diff {
	d := Diff{Batch: domain.Dedupe(batch)}

	prev := make(map[domain.IdentityKey]domain.ListingRecord, len(old))
	for _, r := range old {
		prev[r.Key()] = r
	}
	seen := make(map[domain.IdentityKey]bool, len(d.Batch))

	for _, rec := range d.Batch {
		k := rec.Key()
		seen[k] = true

		was, ok := prev[k]
		if !ok {
			d.New = append(d.New, rec)
			continue
		}
		changes := FieldChanges(was, rec, detectedAt, runID)
		if len(changes) == 0 {
			d.Unchanged = append(d.Unchanged, rec)
			continue
		}
		d.Modified = append(d.Modified, domain.Modification{Record: rec, Previous: was, Changes: changes})
	}

	for _, r := range old {
		if !seen[r.Key()] {
			d.Removed = append(d.Removed, r)
		}
	}
	return d
}

// FieldChanges compares the monitored fields byte for byte, in MonitoredFields order.
func FieldChanges(was, now domain.ListingRecord, detectedAt time.Time, runID string) []domain.FieldChange {
	var out []domain.FieldChange
	for _, f := range domain.MonitoredFields {
		ov, nv := was.Field(f), now.Field(f)
		if ov == nv {
			continue
		}
		out = append(out, domain.FieldChange{
			Key:        now.Key(),
			Source:     now.Key().Source,
			FieldName:  f,
			OldValue:   ov,
			NewValue:   nv,
			DetectedAt: detectedAt,
			RunID:      runID,
		})
	}
	return out
}

// Changes flattens the field changes of every modification.
func (d Diff) Changes() []domain.FieldChange {
	var out []domain.FieldChange
	for _, m := range d.Modified {
		out = append(out, m.Changes...)
	}
	return out
}

func (d Diff) RemovedKeys() []domain.IdentityKey {
	keys := make([]domain.IdentityKey, 0, len(d.Removed))
	for _, r := range d.Removed {
		keys = append(keys, r.Key())
	}
	return keys
}

// Removals stamps every removed record with the run that noticed it missing.
func (d Diff) Removals(detectedAt time.Time, runID string) []domain.Removal {
	out := make([]domain.Removal, 0, len(d.Removed))
	for _, r := range d.Removed {
		out = append(out, domain.Removal{Record: r, DetectedAt: detectedAt, RunID: runID})
	}
	return out
}
