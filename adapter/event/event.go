// Package event implements the event-ticket source adapter: one listing page
// carrying a schedule table with per-session rows, each row either linking to
// a purchase page (on sale) or marked sold out. No external navigation.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/yadowatch/adapter"
	"github.com/hazyhaar/yadowatch/adapter/internal/htmlutil"
	"github.com/hazyhaar/yadowatch/availability"
)

// Kind is the registry name of this adapter.
const Kind = "event"

// Register adds the event adapter to a registry.
func Register(r *adapter.Registry) {
	r.Register(Kind, New)
}

// Adapter checks a ticket listing page for sessions that went on sale.
type Adapter struct {
	env    adapter.Env
	params adapter.Params
	match  string
	logger *slog.Logger
	now    func() time.Time
}

// New builds an event adapter. The "match" option narrows extraction to the
// schedule rows whose header contains it; it defaults to the source name.
func New(env adapter.Env, p adapter.Params) (adapter.Adapter, error) {
	if env.Fetch == nil {
		return nil, fmt.Errorf("event: %s: fetch client required", p.SourceID)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("event: %s: url required", p.SourceID)
	}
	match := strings.TrimSpace(p.Options["match"])
	if match == "" {
		match = p.Name
	}
	if match == "" {
		return nil, fmt.Errorf("event: %s: match term required (set name or the match option)", p.SourceID)
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		env:    env,
		params: p,
		match:  strings.ToLower(match),
		logger: logger.With("adapter", Kind, "source", p.SourceID),
		now:    time.Now,
	}, nil
}

// Kind implements adapter.Adapter.
func (a *Adapter) Kind() string { return Kind }

var dayRe = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)

// Check fetches the listing page and reads the schedule rows matching the
// configured event. A row with a purchase link yields available records for
// its session dates; an explicit sold-out row yields unavailable ones; a row
// not yet on sale yields nothing.
func (a *Adapter) Check(ctx context.Context) ([]availability.Record, error) {
	var doc *html.Node
	err := adapter.Retry(ctx, a.params.Retries, func() error {
		res, err := a.env.Fetch.Get(ctx, a.params.URL)
		if err != nil {
			return err
		}
		doc, err = htmlutil.Parse(res.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("event: fetch %s: %w", a.params.URL, err)
	}

	rows := htmlutil.Query(doc, "table tr")
	if len(rows) == 0 {
		return nil, fmt.Errorf("event: %s: no schedule table: %w", a.params.URL, adapter.ErrStructureChange)
	}

	targets := a.params.TargetSet()
	years := availability.YearCandidates(a.params.TargetDates)
	now := a.now().UTC()

	var records []availability.Record
	matched := 0
	for _, row := range rows {
		th := htmlutil.First(row, "th")
		if th == nil {
			continue
		}
		session := htmlutil.Text(th)
		if !strings.Contains(strings.ToLower(session), a.match) {
			continue
		}
		matched++

		cells := htmlutil.Query(row, "td")
		if len(cells) == 0 {
			continue
		}
		dates := a.sessionDates(cells, years, now)

		status, link := rowStatus(cells, a.params.URL)
		if status == availability.StatusUnknown {
			// Not on sale yet; nothing to report.
			a.logger.Debug("event: session not on sale", "session", session)
			continue
		}
		for _, d := range dates {
			if len(targets) > 0 && !targets[d.date] {
				continue
			}
			records = append(records, availability.Record{
				Item:         session,
				Date:         d.date,
				Status:       status,
				Link:         link,
				Location:     a.params.Location,
				DiscoveredAt: now,
				InferredYear: d.inferred,
			})
		}
	}
	if matched == 0 {
		a.logger.Info("event: no schedule row matched", "match", a.match)
	}
	a.logger.Debug("event: check complete", "rows", matched, "records", len(records))
	return records, nil
}

type sessionDate struct {
	date     string
	inferred bool
}

// sessionDates reads the M/D tokens out of the row's date cell (the first
// cell carrying any) and resolves them to full dates.
func (a *Adapter) sessionDates(cells []*html.Node, years []int, now time.Time) []sessionDate {
	var dates []sessionDate
	seen := make(map[string]bool)
	for _, cell := range cells {
		tokens := dayRe.FindAllStringSubmatch(htmlutil.Text(cell), -1)
		if tokens == nil {
			continue
		}
		for _, m := range tokens {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			if month < 1 || month > 12 || day < 1 || day > 31 {
				continue
			}
			year, ambiguous := availability.InferYear(time.Month(month), day, years, now)
			date := availability.FormatDate(year, time.Month(month), day)
			if !seen[date] {
				seen[date] = true
				dates = append(dates, sessionDate{date: date, inferred: ambiguous})
			}
		}
		break // only the first dated cell describes the session
	}
	return dates
}

// rowStatus classifies the purchase cell, the last cell of a schedule row:
// an anchor with an href means on sale, explicit sold-out wording means
// gone, the long-dash placeholder means not on sale yet.
func rowStatus(cells []*html.Node, pageURL string) (availability.Status, string) {
	last := cells[len(cells)-1]
	if anchor := htmlutil.First(last, "a"); anchor != nil {
		if href := htmlutil.Attr(anchor, "href"); href != "" {
			return availability.StatusAvailable, htmlutil.AbsURL(pageURL, href)
		}
	}
	text := strings.ToLower(htmlutil.Text(last))
	if strings.Contains(text, "sold out") || strings.Contains(text, "×") {
		return availability.StatusUnavailable, pageURL
	}
	return availability.StatusUnknown, ""
}
