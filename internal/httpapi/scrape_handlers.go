package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/montabano1/RyanScraper/internal/domain"
	"github.com/montabano1/RyanScraper/internal/poll"
	"github.com/montabano1/RyanScraper/internal/store"
)

type ScrapeHandler struct {
	Store    store.Reader
	Runner   Runner
	Schedule Schedule
	BaseCtx  context.Context
	Log      *slog.Logger
}

// List reports every configured source with its last run and next scheduled run.
func (h ScrapeHandler) List(w http.ResponseWriter, r *http.Request) {
	srcs := h.Runner.Sources()
	out := make([]ScraperStatus, 0, len(srcs))

	for _, s := range srcs {
		st := ScraperStatus{
			ID:              s.Name,
			Name:            s.DisplayName,
			IntervalMinutes: int(s.Interval / time.Minute),
		}
		if since, ok := h.Runner.IsRunning(s.Name); ok {
			st.Running = true
			st.RunningSince = since.UTC().Format(time.RFC3339)
		}
		if h.Schedule != nil {
			if next, ok := h.Schedule.Next(s.Name); ok {
				st.NextRunAt = next.UTC().Format(time.RFC3339)
			}
		}

		last, ok, err := h.Store.LastRun(r.Context(), s.Name, "")
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		if ok {
			st.LastRun = &last
		}
		if last.Status != domain.RunSuccess {
			lastOK, ok, err := h.Store.LastRun(r.Context(), s.Name, domain.RunSuccess)
			if err != nil {
				writeStoreError(w, r, err)
				return
			}
			if ok {
				st.LastOkAt = lastOK.CompletedAt.UTC().Format(time.RFC3339)
			}
		} else {
			st.LastOkAt = last.CompletedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, st)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"scrapers": out})
}

// Run triggers a source. By default the run continues in the background and
// 202 is returned; ?wait=true blocks and returns the reconciliation result.
func (h ScrapeHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["source"]
	if _, ok := h.sourceByName(name); !ok {
		writeStoreError(w, r, poll.ErrUnknownSource)
		return
	}

	_, already := h.Runner.IsRunning(name)

	if queryString(r, "wait") == "true" {
		res, err := h.Runner.RunSource(r.Context(), name)
		if err != nil {
			WriteJSON(w, http.StatusOK, map[string]any{
				"ok":     false,
				"source": name,
				"run_id": res.RunID,
				"error":  err.Error(),
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"source":    name,
			"run_id":    res.RunID,
			"items":     res.ItemCount,
			"new":       len(res.New),
			"modified":  len(res.Modified),
			"removed":   len(res.Removed),
			"unchanged": res.Unchanged,
			"held":      res.Held,
		})
		return
	}

	go func() {
		if _, err := h.Runner.RunSource(h.BaseCtx, name); err != nil {
			h.Log.Warn("triggered run failed", "source", name, "err", err)
		}
	}()
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"ok":              true,
		"source":          name,
		"already_running": already,
	})
}

func (h ScrapeHandler) sourceByName(name string) (poll.Source, bool) {
	for _, s := range h.Runner.Sources() {
		if s.Name == name {
			return s, true
		}
	}
	return poll.Source{}, false
}
