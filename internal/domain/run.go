package domain

import "time"

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// ScrapeRun is one execution of one source's scraper. Never mutated after creation.
type ScrapeRun struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Status        RunStatus `json:"status"`
	ItemCount     int       `json:"item_count"`
	NewCount      int       `json:"new_count"`
	ModifiedCount int       `json:"modified_count"`
	RemovedCount  int       `json:"removed_count"`
	Message       string    `json:"message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}
