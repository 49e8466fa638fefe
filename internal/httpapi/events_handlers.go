package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/montabano1/RyanScraper/internal/events"
	"github.com/montabano1/RyanScraper/internal/store"
)

type EventsHandler struct {
	Hub *events.Hub
}

// ServeSSE streams run events. ?source= and ?type= (comma separated) narrow
// the stream; each frame carries the hub sequence as its id.
func (h EventsHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilter(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, "stream_unsupported", "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.Hub.Subscribe(filter)
	defer h.Hub.Unsubscribe(sub)

	writeFrame(w, events.New(RequestIDFrom(r.Context()), events.TypePing, filter.Source, nil))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			writeFrame(w, e)
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, e events.Event) {
	if e.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", e.Seq)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.JSON())
}

func eventFilter(r *http.Request) (events.Filter, error) {
	f := events.Filter{Source: queryString(r, "source")}
	if f.Source != "" {
		if err := store.ValidSource(f.Source); err != nil {
			return f, err
		}
	}
	raw := queryString(r, "type")
	if raw == "" {
		return f, nil
	}
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		switch t {
		case events.TypeRunCompleted, events.TypeRunFailed:
			f.Types = append(f.Types, t)
		case "":
		default:
			return f, fmt.Errorf("unknown event type %q", t)
		}
	}
	return f, nil
}
