package httpapi

import "github.com/montabano1/RyanScraper/internal/domain"

// ScraperStatus is one row of GET /api/scrapers.
type ScraperStatus struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	IntervalMinutes int               `json:"interval_minutes"`
	Running         bool              `json:"running"`
	RunningSince    string            `json:"running_since,omitempty"`
	NextRunAt       string            `json:"next_run_at,omitempty"`
	LastRun         *domain.ScrapeRun `json:"last_run,omitempty"`
	LastOkAt        string            `json:"last_ok_at,omitempty"`
}

type ListingsResponse struct {
	Source   string                 `json:"source,omitempty"`
	Count    int                    `json:"count"`
	Listings []domain.ListingRecord `json:"listings"`
}

type ChangesResponse struct {
	Source       string                 `json:"source,omitempty"`
	Since        string                 `json:"since,omitempty"`
	SinceLastRun bool                   `json:"since_last_run,omitempty"`
	New          []domain.ListingRecord `json:"new"`
	Modified     []domain.FieldChange   `json:"modified"`
	Removed      []domain.Removal       `json:"removed"`
}

type RunsResponse struct {
	Source string             `json:"source,omitempty"`
	Runs   []domain.ScrapeRun `json:"runs"`
}
