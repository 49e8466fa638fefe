package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter wires every route and the middleware chain.
func NewRouter(d Deps) http.Handler {
	d = d.withDefaults()
	log := d.Log.With("component", "http")

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		WriteError(w, req, http.StatusNotFound, "not_found", "no route for "+req.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		WriteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	hh := HealthHandler{Runner: d.Runner, Started: time.Now()}
	r.HandleFunc("/health", hh.Health).Methods(http.MethodGet)

	// Scrapers
	sh := ScrapeHandler{
		Store:    d.Store,
		Runner:   d.Runner,
		Schedule: d.Schedule,
		BaseCtx:  d.BaseCtx,
		Log:      log,
	}
	r.HandleFunc("/api/scrapers", sh.List).Methods(http.MethodGet)
	r.HandleFunc("/api/scrapers/{source}/run", sh.Run).Methods(http.MethodPost)

	// Listings, changes, runs
	lh := ListingsHandler{Store: d.Store}
	r.HandleFunc("/api/listings", lh.Listings).Methods(http.MethodGet)
	r.HandleFunc("/api/changes", lh.Changes).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", lh.Runs).Methods(http.MethodGet)

	// Config
	if d.CfgVal != nil {
		ch := ConfigHandler{
			CfgVal:      d.CfgVal,
			UserCfgPath: d.UserCfgPath,
			LoadCfg:     d.LoadCfg,
		}
		r.HandleFunc("/api/config", ch.Get).Methods(http.MethodGet)
		r.HandleFunc("/api/config", ch.Put).Methods(http.MethodPut)
		r.HandleFunc("/api/config/path", ch.Path).Methods(http.MethodGet)
		r.HandleFunc("/api/config/validate", ch.Validate).Methods(http.MethodGet)

		// Secrets (use CfgVal, not a snapshot)
		sec := SecretsHandler{CfgVal: d.CfgVal}
		r.HandleFunc("/api/secrets/db", sec.SetDBPassword).Methods(http.MethodPost)
	}

	// SSE events
	if d.Hub != nil {
		eh := EventsHandler{Hub: d.Hub}
		r.HandleFunc("/events", eh.ServeSSE).Methods(http.MethodGet)
	}

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}

	return Chain(r, RequestID, Recover(log), AccessLog(log), Cors)
}
