package events

import (
	"encoding/json"
	"time"
)

// Event types published on the hub.
const (
	TypeRunCompleted = "run_completed"
	TypeRunFailed    = "run_failed"
	TypePing         = "ping"
)

// Event is one run notification. Seq is assigned by the hub on publish and is
// strictly increasing for the life of the process.
type Event struct {
	Seq       uint64          `json:"seq,omitempty"`
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	Source    string          `json:"source,omitempty"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RunSummary is the payload of run events.
type RunSummary struct {
	Source    string `json:"source"`
	RunID     string `json:"run_id,omitempty"`
	Items     int    `json:"items"`
	New       int    `json:"new"`
	Modified  int    `json:"modified"`
	Removed   int    `json:"removed"`
	Unchanged int    `json:"unchanged"`
	Held      bool   `json:"held,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunEvent wraps a run summary, keyed by its source.
func RunEvent(typ string, sum RunSummary) Event {
	return New("", typ, sum.Source, sum)
}

func New(reqID, typ, source string, data any) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{
		Type:      typ,
		Version:   1,
		Source:    source,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
}

// JSON is the wire form written to stream clients.
func (e Event) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}
