package domain

import "time"

// FieldChange is one detected change to a monitored field of an existing listing.
type FieldChange struct {
	Key        IdentityKey `json:"key"`
	Source     string      `json:"source"`
	FieldName  string      `json:"field_name"`
	OldValue   string      `json:"old_value"`
	NewValue   string      `json:"new_value"`
	DetectedAt time.Time   `json:"detected_at"`
	RunID      string      `json:"run_id,omitempty"`
}

// Modification pairs a modified listing with its previous state and field diffs.
type Modification struct {
	Record   ListingRecord `json:"record"`
	Previous ListingRecord `json:"previous"`
	Changes  []FieldChange `json:"changes"`
}

// Removal is a listing that dropped out of its source's snapshot in one run.
// Record carries the last stored state of the listing.
type Removal struct {
	Record     ListingRecord `json:"record"`
	DetectedAt time.Time     `json:"detected_at"`
	RunID      string        `json:"run_id,omitempty"`
}

func (r Removal) Key() IdentityKey { return r.Record.Key() }

// ChangeSet answers "what changed since t" for the read API.
type ChangeSet struct {
	New      []ListingRecord `json:"new"`
	Modified []FieldChange   `json:"modified"`
	Removed  []Removal       `json:"removed"`
}
