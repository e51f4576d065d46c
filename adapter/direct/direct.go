// Package direct implements the single-hop source adapter: one or more known
// booking pages are fetched directly and their calendar tables read for the
// configured dates, no navigation across intermediate pages.
package direct

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/yadowatch/adapter"
	"github.com/hazyhaar/yadowatch/adapter/internal/caltable"
	"github.com/hazyhaar/yadowatch/adapter/internal/htmlutil"
	"github.com/hazyhaar/yadowatch/availability"
)

// Kind is the registry name of this adapter.
const Kind = "direct"

// Register adds the direct adapter to a registry.
func Register(r *adapter.Registry) {
	r.Register(Kind, New)
}

// Adapter checks booking pages whose calendars are served as static HTML.
type Adapter struct {
	env    adapter.Env
	params adapter.Params
	urls   []string
	logger *slog.Logger
	now    func() time.Time
}

// New builds a direct adapter. Extra pages beyond the primary URL come from
// the "extra_urls" option, comma-separated.
func New(env adapter.Env, p adapter.Params) (adapter.Adapter, error) {
	if env.Fetch == nil {
		return nil, fmt.Errorf("direct: %s: fetch client required", p.SourceID)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("direct: %s: url required", p.SourceID)
	}
	urls := []string{p.URL}
	for _, u := range strings.Split(p.Options["extra_urls"], ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		env:    env,
		params: p,
		urls:   urls,
		logger: logger.With("adapter", Kind, "source", p.SourceID),
		now:    time.Now,
	}, nil
}

// Kind implements adapter.Adapter.
func (a *Adapter) Kind() string { return Kind }

// Check fetches each configured page and extracts open calendar cells that
// fall on the target dates. A page yielding no calendar tables fails the run:
// a blank booking page means the layout moved, not that nothing is free.
func (a *Adapter) Check(ctx context.Context) ([]availability.Record, error) {
	targets := a.params.TargetSet()
	years := availability.YearCandidates(a.params.TargetDates)
	now := a.now().UTC()

	var records []availability.Record
	for _, pageURL := range a.urls {
		var doc *html.Node
		err := adapter.Retry(ctx, a.params.Retries, func() error {
			res, err := a.env.Fetch.Get(ctx, pageURL)
			if err != nil {
				return err
			}
			doc, err = htmlutil.Parse(res.Body)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("direct: fetch %s: %w", pageURL, err)
		}

		tables := caltable.Find(doc)
		if len(tables) == 0 {
			return nil, fmt.Errorf("direct: %s: no calendar tables: %w", pageURL, adapter.ErrStructureChange)
		}
		item := pageItemName(doc, a.params.Name)

		for _, table := range tables {
			for _, e := range caltable.Parse(table) {
				if e.Mark != caltable.MarkOpen {
					continue
				}
				year, ambiguous := availability.InferYear(e.Month, e.Day, years, now)
				date := availability.FormatDate(year, e.Month, e.Day)
				if len(targets) > 0 && !targets[date] {
					continue
				}
				records = append(records, availability.Record{
					Item:         item,
					Date:         date,
					Unit:         e.Unit,
					Status:       availability.StatusAvailable,
					Price:        e.Price,
					Link:         pageURL,
					Location:     a.params.Location,
					DiscoveredAt: now,
					InferredYear: ambiguous,
				})
			}
		}
	}
	a.logger.Debug("direct: check complete", "pages", len(a.urls), "records", len(records))
	return records, nil
}

// pageItemName extracts the accommodation name from a booking page: the
// first h1, falling back to the title before any "|" separator, then to the
// configured source name.
func pageItemName(doc *html.Node, fallback string) string {
	if h1 := htmlutil.First(doc, "h1"); h1 != nil {
		if name := htmlutil.Text(h1); name != "" {
			return name
		}
	}
	if title := htmlutil.First(doc, "title"); title != nil {
		name := htmlutil.Text(title)
		if i := strings.Index(name, "|"); i >= 0 {
			name = name[:i]
		}
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return fallback
}
