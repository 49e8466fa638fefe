package normalize

import (
	"strings"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// Record canonicalizes one scraped row. Identity fields missing or blank become
// domain.Placeholder so every record has a computable identity key; the source
// is always the caller's, whatever the scraper tagged.
func Record(source string, raw domain.RawRecord) domain.ListingRecord {
	return domain.ListingRecord{
		Source:         identity(source),
		PropertyName:   identity(raw[domain.FieldPropertyName]),
		Address:        identity(raw[domain.FieldAddress]),
		FloorSuite:     identity(raw[domain.FieldFloorSuite]),
		SpaceAvailable: strings.TrimSpace(raw[domain.FieldSpaceAvailable]),
		Price:          strings.TrimSpace(raw[domain.FieldPrice]),
		ListingURL:     strings.TrimSpace(raw[domain.FieldListingURL]),
	}
}

// Batch normalizes a whole scrape result, preserving input order.
func Batch(source string, raws []domain.RawRecord) []domain.ListingRecord {
	out := make([]domain.ListingRecord, 0, len(raws))
	for _, r := range raws {
		out = append(out, Record(source, r))
	}
	return out
}

func identity(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Placeholder
	}
	return s
}
