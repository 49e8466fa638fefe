package httpapi

import (
	"net/http"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
	"github.com/montabano1/RyanScraper/internal/store"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type ListingsHandler struct {
	Store store.Reader
}

// Listings returns the current snapshot of one source, or of all sources.
func (h ListingsHandler) Listings(w http.ResponseWriter, r *http.Request) {
	source := queryString(r, "source")
	recs, err := h.Store.LatestListings(r.Context(), source)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.ListingRecord{}
	}
	WriteJSON(w, http.StatusOK, ListingsResponse{Source: source, Count: len(recs), Listings: recs})
}

// Changes returns listings created, fields changed and listings removed after since. Without
// since, the window starts at the source's last successful run.
func (h ListingsHandler) Changes(w http.ResponseWriter, r *http.Request) {
	source := queryString(r, "source")
	since, explicit, err := queryTime(r, "since")
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var cs domain.ChangeSet
	if explicit {
		cs, err = h.Store.ChangesSince(r.Context(), source, since)
	} else {
		if source == "" {
			WriteError(w, r, http.StatusBadRequest, "bad_request", "source is required when since is omitted")
			return
		}
		cs, _, err = store.ChangesSinceLastRun(r.Context(), h.Store, source)
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	resp := ChangesResponse{Source: source, SinceLastRun: !explicit, New: cs.New, Modified: cs.Modified, Removed: cs.Removed}
	if explicit {
		resp.Since = since.UTC().Format(time.RFC3339Nano)
	}
	if resp.New == nil {
		resp.New = []domain.ListingRecord{}
	}
	if resp.Modified == nil {
		resp.Modified = []domain.FieldChange{}
	}
	if resp.Removed == nil {
		resp.Removed = []domain.Removal{}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Runs lists ledger entries newest first.
func (h ListingsHandler) Runs(w http.ResponseWriter, r *http.Request) {
	source := queryString(r, "source")
	limit, err := queryInt(r, "limit", defaultRunsLimit, maxRunsLimit)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	runs, err := h.Store.Runs(r.Context(), source, limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if runs == nil {
		runs = []domain.ScrapeRun{}
	}
	WriteJSON(w, http.StatusOK, RunsResponse{Source: source, Runs: runs})
}
