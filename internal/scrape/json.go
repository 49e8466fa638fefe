package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/montabano1/RyanScraper/internal/domain"
	"github.com/montabano1/RyanScraper/internal/scrape/util"
)

// JSON scrapes listing endpoints that answer with JSON. Spec.Item is the dotted
// path to the listing array ("" for a top-level array), Spec.Fields map record
// fields to dotted paths inside one listing, and Spec.NextPage is the path to the
// next page URL.
type JSON struct {
	name string
	spec Spec
	deps Deps
}

func NewJSON(name string, spec Spec, deps Deps) (Scraper, error) {
	if spec.URL == "" || len(spec.Fields) == 0 {
		return nil, fmt.Errorf("json scraper %s: url and fields are required", name)
	}
	return &JSON{name: name, spec: spec, deps: deps}, nil
}

func (s *JSON) Name() string { return s.name }

func (s *JSON) Scrape(ctx context.Context) ([]domain.RawRecord, error) {
	out := []domain.RawRecord{}
	err := paginate(s.spec, func(page string) (string, error) {
		body, err := get(ctx, s.deps, page, s.spec.Headers)
		if err != nil {
			return "", err
		}
		defer body.Close()

		dec := json.NewDecoder(body)
		dec.UseNumber()
		var root any
		if err := dec.Decode(&root); err != nil {
			return "", fmt.Errorf("decode json: %w", err)
		}

		items, ok := lookup(root, s.spec.Item).([]any)
		if !ok {
			return "", fmt.Errorf("path %q is not a list", s.spec.Item)
		}
		for _, it := range items {
			rec := domain.RawRecord{}
			for field, path := range s.spec.Fields {
				v := util.CleanText(stringify(lookup(it, path)))
				if v == "" {
					continue
				}
				if field == domain.FieldListingURL {
					v = util.AbsURL(page, v)
				}
				rec[field] = v
			}
			if len(rec) > 0 {
				out = append(out, rec)
			}
		}

		if s.spec.NextPage == "" {
			return "", nil
		}
		return util.AbsURL(page, stringify(lookup(root, s.spec.NextPage))), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	return out, nil
}

// lookup walks a dotted path; numeric segments index arrays.
func lookup(v any, path string) any {
	if path == "" {
		return v
	}
	for _, seg := range strings.Split(path, ".") {
		switch cur := v.(type) {
		case map[string]any:
			v = cur[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur) {
				return nil
			}
			v = cur[i]
		default:
			return nil
		}
	}
	return v
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
