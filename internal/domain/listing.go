package domain

import (
	"strings"
	"time"
)

// Placeholder is stored for identity fields the source page did not provide.
const Placeholder = "N/A"

// RawRecord is one scraped row as produced by a scraper, keyed by field name.
type RawRecord map[string]string

// Raw record field names. Scrapers emit these keys.
const (
	FieldSource         = "source"
	FieldPropertyName   = "property_name"
	FieldAddress        = "address"
	FieldFloorSuite     = "floor_suite"
	FieldSpaceAvailable = "space_available"
	FieldPrice          = "price"
	FieldListingURL     = "listing_url"
)

// MonitoredFields are compared between runs; a difference yields a FieldChange.
var MonitoredFields = []string{
	FieldPropertyName,
	FieldSpaceAvailable,
	FieldPrice,
	FieldListingURL,
}

// ListingRecord is one unit of leasable space at one property from one source.
type ListingRecord struct {
	Source         string    `json:"source"`
	PropertyName   string    `json:"property_name"`
	Address        string    `json:"address"`
	FloorSuite     string    `json:"floor_suite"`
	SpaceAvailable string    `json:"space_available"`
	Price          string    `json:"price"`
	ListingURL     string    `json:"listing_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IdentityKey decides whether two records scraped at different times are the same listing.
type IdentityKey struct {
	Source       string `json:"source"`
	PropertyName string `json:"property_name"`
	Address      string `json:"address"`
	FloorSuite   string `json:"floor_suite"`
}

func (k IdentityKey) String() string {
	return strings.Join([]string{k.Source, k.PropertyName, k.Address, k.FloorSuite}, "|")
}

func (r ListingRecord) Key() IdentityKey {
	return IdentityKey{
		Source:       strings.TrimSpace(r.Source),
		PropertyName: strings.TrimSpace(r.PropertyName),
		Address:      strings.TrimSpace(r.Address),
		FloorSuite:   strings.TrimSpace(r.FloorSuite),
	}
}

// Field returns the value of a monitored field by name.
func (r ListingRecord) Field(name string) string {
	switch name {
	case FieldPropertyName:
		return r.PropertyName
	case FieldSpaceAvailable:
		return r.SpaceAvailable
	case FieldPrice:
		return r.Price
	case FieldListingURL:
		return r.ListingURL
	default:
		return ""
	}
}

// SameTracked reports whether all monitored fields are byte-equal.
func (r ListingRecord) SameTracked(o ListingRecord) bool {
	for _, f := range MonitoredFields {
		if r.Field(f) != o.Field(f) {
			return false
		}
	}
	return true
}

// Dedupe collapses records sharing an identity key. The last occurrence wins;
// the result keeps the position of each key's first occurrence.
func Dedupe(records []ListingRecord) []ListingRecord {
	pos := make(map[IdentityKey]int, len(records))
	out := make([]ListingRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}
