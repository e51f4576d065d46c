// Package stay implements the multi-stage source adapter for accommodation
// sites that hide availability behind navigation: a paginated search listing
// links to per-accommodation pages, those link out to an external booking
// system, and the booking system renders per-plan calendars with JavaScript.
//
// Stages per run: search results -> item page -> booking system -> calendar.
// Each stage retries transient failures; one accommodation failing aborts
// that accommodation only.
package stay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/yadowatch/adapter"
	"github.com/hazyhaar/yadowatch/adapter/internal/caltable"
	"github.com/hazyhaar/yadowatch/availability"
)

// Kind is the registry name of this adapter.
const Kind = "stay"

// defaultBookingHost identifies the external reservation system linked from
// accommodation pages when no override is configured.
const defaultBookingHost = "489pro.com"

// maxListingPages caps search-result pagination.
const maxListingPages = 5

// Register adds the stay adapter to a registry.
func Register(r *adapter.Registry) {
	r.Register(Kind, New)
}

// Adapter drives the full search-to-calendar walk for one source.
type Adapter struct {
	env          adapter.Env
	params       adapter.Params
	bookingHost  string
	itemSelector string
	logger       *slog.Logger
	now          func() time.Time
	// render loads a URL in a browser and returns the settled DOM.
	render func(ctx context.Context, url string) ([]byte, error)
}

// New builds a stay adapter. Requires both the fetcher (listing and item
// pages) and the browser pool (booking pages render their calendars with
// JavaScript).
func New(env adapter.Env, p adapter.Params) (adapter.Adapter, error) {
	if env.Fetch == nil {
		return nil, fmt.Errorf("stay: %s: fetch client required", p.SourceID)
	}
	if env.Browser == nil {
		return nil, fmt.Errorf("stay: %s: browser pool required", p.SourceID)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("stay: %s: url required", p.SourceID)
	}
	host := p.BookingHost
	if host == "" {
		host = defaultBookingHost
	}
	selector := p.Options["item_selector"]
	if selector == "" {
		selector = "div.item"
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		env:          env,
		params:       p,
		bookingHost:  host,
		itemSelector: selector,
		logger:       logger.With("adapter", Kind, "source", p.SourceID),
		now:          time.Now,
	}
	a.render = a.renderWithPool
	return a, nil
}

// Kind implements adapter.Adapter.
func (a *Adapter) Kind() string { return Kind }

// Check walks every listed accommodation down to its booking calendar and
// returns the open cells on the target dates. Failures are isolated per
// accommodation; only a fully failed walk (or an empty listing) fails the
// run.
func (a *Adapter) Check(ctx context.Context) ([]availability.Record, error) {
	items, err := a.listItems(ctx)
	if err != nil {
		return nil, err
	}

	targets := a.params.TargetSet()
	years := availability.YearCandidates(a.params.TargetDates)
	now := a.now().UTC()

	var records []availability.Record
	var notBookable, failed int
	var lastErr error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := a.checkItem(ctx, item, targets, years, now)
		if err != nil {
			failed++
			lastErr = err
			a.logger.Warn("stay: item check failed", "item", item.Name, "error", err)
			continue
		}
		if recs == nil {
			notBookable++
			continue
		}
		records = append(records, recs...)
	}

	if len(items) > 0 && failed == len(items) {
		return nil, fmt.Errorf("stay: all %d items failed: %w", len(items), lastErr)
	}
	a.logger.Info("stay: check complete",
		"items", len(items),
		"not_bookable", notBookable,
		"failed", failed,
		"records", len(records))
	return records, nil
}

// checkItem runs stages 2-4 for one accommodation. A nil, nil return means
// the place is not bookable online.
func (a *Adapter) checkItem(ctx context.Context, item listItem, targets map[string]bool, years []int, now time.Time) ([]availability.Record, error) {
	var bookURL string
	err := adapter.Retry(ctx, a.params.Retries, func() error {
		var err error
		bookURL, err = a.bookingURL(ctx, item)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stay: item page %s: %w", item.URL, err)
	}
	if bookURL == "" {
		a.logger.Debug("stay: no booking system", "item", item.Name)
		return nil, nil
	}

	var doc *html.Node
	err = adapter.Retry(ctx, a.params.Retries, func() error {
		var err error
		doc, err = a.renderBooking(ctx, bookURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stay: booking page %s: %w", bookURL, err)
	}

	tables := caltable.Find(doc)
	if len(tables) == 0 {
		a.logger.Debug("stay: no calendars on booking page", "item", item.Name, "url", bookURL)
		return []availability.Record{}, nil
	}

	// First open cell wins per (date, unit); later plan tables repeating the
	// same room do not override its price.
	type cellKey struct{ date, unit string }
	seen := make(map[cellKey]bool)
	records := []availability.Record{}
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
			key := cellKey{date: date, unit: e.Unit}
			if seen[key] {
				continue
			}
			seen[key] = true
			records = append(records, availability.Record{
				Item:         item.Name,
				Date:         date,
				Unit:         e.Unit,
				Status:       availability.StatusAvailable,
				Price:        e.Price,
				Link:         bookURL,
				Location:     a.params.Location,
				DiscoveredAt: now,
				InferredYear: ambiguous,
			})
		}
	}
	return records, nil
}
