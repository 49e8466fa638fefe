package config

import (
	"fmt"
	"regexp"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

var sourceID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

var knownFields = map[string]bool{
	"property_name":   true,
	"address":         true,
	"floor_suite":     true,
	"space_available": true,
	"price":           true,
	"listing_url":     true,
}

// NormalizeAndValidate returns a trimmed copy of cfg and the problems found in it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	out := cfg
	var res Validation

	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	out.Store.Backend = lower(out.Store.Backend)
	out.Store.Strategy = lower(out.Store.Strategy)
	out.Store.EmptyResult = lower(out.Store.EmptyResult)
	out.Store.PartialWrite = lower(out.Store.PartialWrite)

	// ---- store ----
	switch out.Store.Backend {
	case "sqlite":
		if strings.TrimSpace(out.Store.Path) == "" {
			res.addErr("store.path is required when store.backend=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(out.Store.PostgresDSN) == "" {
			res.addErr("store.postgres_dsn is required when store.backend=postgres")
		}
	case "file":
	default:
		res.addErr("store.backend must be sqlite, postgres or file (got %q)", out.Store.Backend)
	}

	switch out.Store.Strategy {
	case "replace":
		if out.Store.DeleteOnRemoval {
			res.addWarn("store.delete_on_removal has no effect with strategy=replace")
		}
	case "upsert":
		if !out.Store.DeleteOnRemoval {
			res.addWarn("strategy=upsert without delete_on_removal keeps removed listings; they are reported as removed on every run")
		}
	default:
		res.addErr("store.strategy must be replace or upsert (got %q)", out.Store.Strategy)
	}
	if out.Store.EmptyResult != "hold" && out.Store.EmptyResult != "clear" {
		res.addErr("store.empty_result must be hold or clear (got %q)", out.Store.EmptyResult)
	}
	if out.Store.PartialWrite != "rollback" && out.Store.PartialWrite != "continue" {
		res.addErr("store.partial_write must be rollback or continue (got %q)", out.Store.PartialWrite)
	}

	// ---- scraping ----
	if out.Scraping.Workers <= 0 {
		res.addErr("scraping.workers must be > 0")
	}
	if out.Scraping.TimeoutSeconds <= 0 {
		res.addErr("scraping.timeout_seconds must be > 0")
	}
	if out.Scraping.RequestsPerSecond < 0 {
		res.addErr("scraping.requests_per_second must be >= 0")
	}
	if out.Scraping.Retry.MaxAttempts <= 0 {
		res.addErr("scraping.retry.max_attempts must be > 0")
	}
	if out.Scraping.Retry.Multiplier < 1 {
		res.addErr("scraping.retry.multiplier must be >= 1")
	}

	// ---- sources ----
	seen := map[string]bool{}
	enabled := 0
	for i := range out.Sources {
		s := &out.Sources[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Name = strings.TrimSpace(s.Name)
		s.Kind = lower(s.Kind)
		s.URL = strings.TrimSpace(s.URL)
		if s.Name == "" {
			s.Name = s.ID
		}

		at := fmt.Sprintf("sources[%d]", i)
		if !sourceID.MatchString(s.ID) {
			res.addErr("%s.id %q must be letters, digits, '.', '_' or '-'", at, s.ID)
		}
		if seen[s.ID] {
			res.addErr("%s.id %q is used twice", at, s.ID)
		}
		seen[s.ID] = true

		if !s.Enabled {
			continue
		}
		enabled++

		switch s.Kind {
		case "selector":
			if strings.TrimSpace(s.Item) == "" {
				res.addErr("%s.item is required for kind=selector", at)
			}
		case "json":
		default:
			res.addErr("%s.kind must be selector or json (got %q)", at, s.Kind)
		}
		if s.URL == "" {
			res.addErr("%s.url is required", at)
		}
		if len(s.Fields) == 0 {
			res.addErr("%s.fields must map at least one field", at)
		}
		for f := range s.Fields {
			if !knownFields[f] {
				res.addWarn("%s.fields.%s is not a listing field and is ignored", at, f)
			}
		}
		if _, ok := s.Fields["property_name"]; !ok {
			if _, ok := s.Fields["address"]; !ok {
				res.addWarn("%s maps neither property_name nor address; every listing shares one identity", at)
			}
		}
		if s.IntervalMinutes < 0 {
			res.addErr("%s.interval_minutes must be >= 0", at)
		} else if s.IntervalMinutes == 0 {
			res.addWarn("%s has no interval and only runs when triggered", at)
		} else if s.IntervalMinutes < 5 {
			res.addWarn("%s.interval_minutes is very low (%d) and may get the scraper blocked", at, s.IntervalMinutes)
		}
	}
	if enabled == 0 {
		res.addWarn("no sources enabled")
	}

	return out, res
}
