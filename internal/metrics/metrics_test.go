package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
	"github.com/montabano1/RyanScraper/internal/reconcile"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestObserveReconcile(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveReconcile("cbre", reconcile.Result{
		New:       []domain.ListingRecord{{}, {}},
		Modified:  []domain.Modification{{}},
		Unchanged: 4,
		Changes:   []domain.FieldChange{{FieldName: "price"}},
	}, nil, 20*time.Millisecond)
	m.ObserveReconcile("cbre", reconcile.Result{Held: true}, nil, time.Millisecond)
	m.ObserveReconcile("cbre", reconcile.Result{}, fmt.Errorf("x: %w", reconcile.ErrScrapeFailed), 0)
	m.ObserveReconcile("jll", reconcile.Result{}, errors.New("boom"), 0)

	body := scrape(t, m)
	for _, want := range []string{
		`listings_runs_total{source="cbre",status="success"} 2`,
		`listings_runs_total{source="cbre",status="scrape_failed"} 1`,
		`listings_runs_total{source="jll",status="failure"} 1`,
		`listings_classified_total{class="new",source="cbre"} 2`,
		`listings_classified_total{class="unchanged",source="cbre"} 4`,
		`listings_field_changes_total{field="price",source="cbre"} 1`,
		`listings_warnings_total{class="empty_result",source="cbre"} 1`,
		`listings_reconcile_duration_seconds_count{source="cbre"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, body)
		}
	}
}

func TestObserveReconcileAuditWarnings(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveReconcile("cbre", reconcile.Result{Held: true, LedgerErr: errors.New("disk full")}, nil, time.Millisecond)
	m.ObserveReconcile("jll", reconcile.Result{
		ChangeLogErr: errors.New("disk full"),
		LedgerErr:    errors.New("disk full"),
	}, nil, time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`listings_warnings_total{class="empty_result",source="cbre"} 1`,
		`listings_warnings_total{class="ledger_write_failed",source="cbre"} 1`,
		`listings_warnings_total{class="changelog_write_failed",source="jll"} 1`,
		`listings_warnings_total{class="ledger_write_failed",source="jll"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, body)
		}
	}
	if strings.Contains(body, `class="changelog_write_failed",source="cbre"`) {
		t.Fatalf("held run without a change log error counted one:\n%s", body)
	}
}
