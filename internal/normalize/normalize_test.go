package normalize

import (
	"testing"

	"github.com/montabano1/RyanScraper/internal/domain"
)

func TestRecordDefaultsIdentityFields(t *testing.T) {
	t.Parallel()

	rec := Record("cbre", domain.RawRecord{
		domain.FieldPropertyName: "  Tower A ",
		domain.FieldAddress:      "",
		domain.FieldPrice:        " $30/sqft ",
	})

	if rec.PropertyName != "Tower A" {
		t.Fatalf("unexpected property name: %q", rec.PropertyName)
	}
	if rec.Address != domain.Placeholder {
		t.Fatalf("expected placeholder address, got %q", rec.Address)
	}
	if rec.FloorSuite != domain.Placeholder {
		t.Fatalf("expected placeholder floor_suite, got %q", rec.FloorSuite)
	}
	if rec.Price != "$30/sqft" {
		t.Fatalf("unexpected price: %q", rec.Price)
	}
	if rec.SpaceAvailable != "" || rec.ListingURL != "" {
		t.Fatalf("absent monitored fields should be empty, got %+v", rec)
	}
}

func TestRecordOverridesScraperSource(t *testing.T) {
	t.Parallel()

	rec := Record("jll", domain.RawRecord{
		domain.FieldSource:       "cbre",
		domain.FieldPropertyName: "Tower A",
	})
	if rec.Source != "jll" {
		t.Fatalf("source should come from caller, got %q", rec.Source)
	}
}

func TestRecordPreservesCase(t *testing.T) {
	t.Parallel()

	rec := Record("cbre", domain.RawRecord{domain.FieldAddress: "1 MAIN St"})
	if rec.Address != "1 MAIN St" {
		t.Fatalf("case must be preserved, got %q", rec.Address)
	}
}

func TestBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	out := Batch("lee", []domain.RawRecord{
		{domain.FieldPropertyName: "B"},
		{domain.FieldPropertyName: "A"},
		{},
	})
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].PropertyName != "B" || out[1].PropertyName != "A" {
		t.Fatalf("order not preserved: %+v", out)
	}
	key := out[2].Key()
	if key.PropertyName != domain.Placeholder || key.Address != domain.Placeholder || key.FloorSuite != domain.Placeholder {
		t.Fatalf("empty raw record should map to placeholders, got %+v", key)
	}
}
