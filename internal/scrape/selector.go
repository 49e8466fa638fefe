package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/montabano1/RyanScraper/internal/domain"
	"github.com/montabano1/RyanScraper/internal/scrape/util"
)

// Selector scrapes server-rendered listing pages. Spec.Item selects one element per
// listing; each Spec.Fields value is a selector relative to it:
//
//	".price"        text of the first match
//	"a.more@href"   attribute of the first match
//	"@data-suite"   attribute of the item itself
//	"."             text of the item itself
//
// Spec.NextPage, when set, selects the link to the following page.
type Selector struct {
	name string
	spec Spec
	deps Deps
}

func NewSelector(name string, spec Spec, deps Deps) (Scraper, error) {
	if spec.URL == "" || spec.Item == "" || len(spec.Fields) == 0 {
		return nil, fmt.Errorf("selector scraper %s: url, item and fields are required", name)
	}
	return &Selector{name: name, spec: spec, deps: deps}, nil
}

func (s *Selector) Name() string { return s.name }

func (s *Selector) Scrape(ctx context.Context) ([]domain.RawRecord, error) {
	out := []domain.RawRecord{}
	err := paginate(s.spec, func(page string) (string, error) {
		body, err := get(ctx, s.deps, page, s.spec.Headers)
		if err != nil {
			return "", err
		}
		defer body.Close()

		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}

		doc.Find(s.spec.Item).Each(func(_ int, item *goquery.Selection) {
			if rec := s.extract(page, item); len(rec) > 0 {
				out = append(out, rec)
			}
		})

		if s.spec.NextPage == "" {
			return "", nil
		}
		href, _ := doc.Find(s.spec.NextPage).First().Attr("href")
		return util.AbsURL(page, href), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	return out, nil
}

func (s *Selector) extract(page string, item *goquery.Selection) domain.RawRecord {
	rec := domain.RawRecord{}
	for field, sel := range s.spec.Fields {
		v := selectValue(item, sel)
		if v == "" {
			continue
		}
		if field == domain.FieldListingURL {
			v = util.AbsURL(page, v)
		}
		rec[field] = v
	}
	return rec
}

func selectValue(item *goquery.Selection, sel string) string {
	sel = strings.TrimSpace(sel)
	css, attr, hasAttr := strings.Cut(sel, "@")
	css = strings.TrimSpace(css)

	target := item
	if css != "" && css != "." {
		target = item.Find(css).First()
	}
	if target.Length() == 0 {
		return ""
	}
	if hasAttr {
		v, _ := target.Attr(strings.TrimSpace(attr))
		return util.CleanText(v)
	}
	return util.CleanText(target.Text())
}

// paginate calls visit for each page until it returns no next URL, a page repeats,
// or MaxPages is reached.
func paginate(spec Spec, visit func(page string) (next string, err error)) error {
	limit := spec.MaxPages
	if limit <= 0 {
		limit = 1
		if spec.NextPage != "" {
			limit = 50
		}
	}
	seen := map[string]bool{}
	page := spec.URL
	for i := 0; i < limit && page != "" && !seen[page]; i++ {
		seen[page] = true
		next, err := visit(page)
		if err != nil {
			return fmt.Errorf("page %d (%s): %w", i+1, page, err)
		}
		page = next
	}
	return nil
}
