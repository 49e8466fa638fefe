package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
	"github.com/montabano1/RyanScraper/internal/scrape/util"
)

// Scraper fetches the current listings of one source. A failed scrape returns an
// error, never an empty slice.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context) ([]domain.RawRecord, error)
}

// Spec configures a generic scraper. Field values are selectors (selector kind)
// or dotted JSON paths (json kind), keyed by record field name.
type Spec struct {
	Kind     string
	URL      string
	Item     string
	Fields   map[string]string
	NextPage string
	MaxPages int
	Headers  map[string]string
}

// Deps are shared by every scraper built from one registry.
type Deps struct {
	Client    *http.Client
	Limiter   *util.HostLimiter
	UserAgent string
}

func (d Deps) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (d Deps) userAgent() string {
	if d.UserAgent != "" {
		return d.UserAgent
	}
	return "RyanScraper/1.0 (+listings)"
}

// StatusError is an HTTP response the scraper could not use.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Func adapts a plain function to Scraper.
type Func struct {
	N string
	F func(ctx context.Context) ([]domain.RawRecord, error)
}

func (f Func) Name() string { return f.N }

func (f Func) Scrape(ctx context.Context) ([]domain.RawRecord, error) { return f.F(ctx) }

func get(ctx context.Context, deps Deps, rawURL string, headers map[string]string) (io.ReadCloser, error) {
	if err := deps.Limiter.WaitURL(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", deps.userAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := deps.client().Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		_ = res.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: res.StatusCode}
	}
	return res.Body, nil
}
