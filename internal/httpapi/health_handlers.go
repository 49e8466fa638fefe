package httpapi

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	Runner  Runner
	Started time.Time
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"ok": true}
	if !h.Started.IsZero() {
		resp["uptime_s"] = int64(time.Since(h.Started).Seconds())
	}
	if h.Runner != nil {
		resp["sources"] = len(h.Runner.Sources())
	}
	WriteJSON(w, http.StatusOK, resp)
}
