package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
)

const listingPage1 = `<html><body>
<div class="listing" data-suite="Suite 100">
  <h2 class="name"> Tower A </h2>
  <span class="addr">1 Main St</span>
  <span class="space">5,000&nbsp;SF</span>
  <span class="price">$30/SF</span>
  <a class="more" href="/listing/a?utm_source=feed">details</a>
</div>
<div class="listing" data-suite="">
  <h2 class="name">Tower B</h2>
  <span class="addr">2 Oak St</span>
  <span class="price">$20/SF</span>
</div>
<a class="next" href="/page2">next</a>
</body></html>`

const listingPage2 = `<html><body>
<div class="listing" data-suite="2F">
  <h2 class="name">Tower C</h2>
  <span class="addr">3 Elm St</span>
</div>
<a class="next" href="/page1">back to start</a>
</body></html>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func selectorSpec(url string) Spec {
	return Spec{
		Kind: "selector",
		URL:  url + "/page1",
		Item: "div.listing",
		Fields: map[string]string{
			domain.FieldPropertyName:   ".name",
			domain.FieldAddress:        ".addr",
			domain.FieldFloorSuite:     "@data-suite",
			domain.FieldSpaceAvailable: ".space",
			domain.FieldPrice:          ".price",
			domain.FieldListingURL:     "a.more@href",
		},
		NextPage: "a.next",
	}
}

func TestSelectorScrape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page1":
			_, _ = io.WriteString(w, listingPage1)
		case "/page2":
			_, _ = io.WriteString(w, listingPage2)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := DefaultRegistry().Build("cbre", selectorSpec(srv.URL), Deps{Client: srv.Client()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records across 2 pages, got %d: %+v", len(got), got)
	}

	a := got[0]
	if a[domain.FieldPropertyName] != "Tower A" || a[domain.FieldFloorSuite] != "Suite 100" {
		t.Fatalf("unexpected first record: %+v", a)
	}
	if a[domain.FieldSpaceAvailable] != "5,000 SF" {
		t.Fatalf("nbsp should collapse: %q", a[domain.FieldSpaceAvailable])
	}
	if a[domain.FieldListingURL] != srv.URL+"/listing/a" {
		t.Fatalf("listing url not resolved: %q", a[domain.FieldListingURL])
	}

	b := got[1]
	if _, ok := b[domain.FieldFloorSuite]; ok {
		t.Fatalf("empty attribute should be absent: %+v", b)
	}
	if got[2][domain.FieldPropertyName] != "Tower C" {
		t.Fatalf("second page not followed: %+v", got[2])
	}
}

func TestSelectorMaxPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, listingPage1)
	}))
	defer srv.Close()

	spec := selectorSpec(srv.URL)
	spec.MaxPages = 1
	s, _ := NewSelector("cbre", spec, Deps{Client: srv.Client()})
	got, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected only the first page, got %d", len(got))
	}
}

func TestJSONScrape(t *testing.T) {
	t.Parallel()

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_, _ = io.WriteString(w, `{"data":{"results":[{"building":{"name":"Tower C"},"suite":"3F","sqft":1200}]}}`)
			return
		}
		fmt.Fprintf(w, `{"data":{"results":[
			{"building":{"name":"Tower A","address":"1 Main St"},"suite":"2F","sqft":5000,"rate":"$30","url":"/l/1"},
			{"building":{"name":"Tower B","address":"2 Oak St"},"suite":null,"sqft":2000.5,"rate":"$20"}
		]},"next":"%s/api?page=2"}`, srvURL)
	}))
	defer srv.Close()
	srvURL = srv.URL

	s, err := DefaultRegistry().Build("jll", Spec{
		Kind: "json",
		URL:  srv.URL + "/api",
		Item: "data.results",
		Fields: map[string]string{
			domain.FieldPropertyName:   "building.name",
			domain.FieldAddress:        "building.address",
			domain.FieldFloorSuite:     "suite",
			domain.FieldSpaceAvailable: "sqft",
			domain.FieldPrice:          "rate",
			domain.FieldListingURL:     "url",
		},
		NextPage: "next",
	}, Deps{Client: srv.Client()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(got), got)
	}
	if got[0][domain.FieldSpaceAvailable] != "5000" || got[1][domain.FieldSpaceAvailable] != "2000.5" {
		t.Fatalf("numbers must keep their literal form: %+v", got)
	}
	if got[0][domain.FieldListingURL] != srv.URL+"/l/1" {
		t.Fatalf("relative url not resolved: %q", got[0][domain.FieldListingURL])
	}
	if _, ok := got[1][domain.FieldFloorSuite]; ok {
		t.Fatalf("null must be absent: %+v", got[1])
	}
}

func TestJSONScrapeRejectsNonList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"results":"maintenance"}}`)
	}))
	defer srv.Close()

	s, _ := NewJSON("jll", Spec{URL: srv.URL, Item: "data.results", Fields: map[string]string{"price": "p"}},
		Deps{Client: srv.Client()})
	if _, err := s.Scrape(context.Background()); err == nil {
		t.Fatalf("expected an error for a non-list item path")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	if kinds := r.Kinds(); len(kinds) != 2 || kinds[0] != "json" || kinds[1] != "selector" {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	if _, err := r.Build("x", Spec{Kind: "browser"}, Deps{}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := r.Build("x", Spec{Kind: "selector"}, Deps{}); err == nil {
		t.Fatalf("expected validation error for empty selector spec")
	}
}

func TestWithRetryRecovers(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, listingPage2)
	}))
	defer srv.Close()

	spec := selectorSpec(srv.URL)
	spec.NextPage = ""
	inner, _ := NewSelector("cbre", spec, Deps{Client: srv.Client()})
	s := WithRetry(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, quietLogger())

	got, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 1 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected success on the third attempt, got %d records after %d calls", len(got), calls)
	}
	if s.Name() != "cbre" {
		t.Fatalf("wrapper must keep the name, got %q", s.Name())
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	inner, _ := NewSelector("cbre", selectorSpec(srv.URL), Deps{Client: srv.Client()})
	s := WithRetry(inner, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, quietLogger())

	_, err := s.Scrape(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("404 must not be retried, got %d calls", n)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}.Do(ctx, quietLogger(), "op", func(context.Context) error {
		attempts++
		cancel()
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected one attempt, got %d", attempts)
	}
}
