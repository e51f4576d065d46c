// Package caltable parses the availability calendar tables the booking
// system renders per plan: a header row of day cells like "8/15 (Fri)" and
// one row per room type whose cells carry an availability marker, optionally
// followed by a price.
package caltable

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/yadowatch/adapter/internal/htmlutil"
)

// Mark classifies one day cell.
type Mark int

const (
	// MarkNone is a cell with no recognized marker (blank, padding).
	MarkNone Mark = iota
	// MarkOpen is the availability circle, price usually attached.
	MarkOpen
	// MarkFull is the fully-booked cross.
	MarkFull
	// MarkClosed is the dash: no service offered that day.
	MarkClosed
)

func (m Mark) String() string {
	switch m {
	case MarkOpen:
		return "open"
	case MarkFull:
		return "full"
	case MarkClosed:
		return "closed"
	}
	return "none"
}

// Entry is one (room type, day) cell read off a calendar table. Days carry
// month and day only; the year is inferred downstream from target dates.
type Entry struct {
	Unit  string
	Month time.Month
	Day   int
	Mark  Mark
	// Price is the source's price text next to an open marker ("JPY15,400"),
	// empty otherwise.
	Price string
}

var (
	dayRe   = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
	priceRe = regexp.MustCompile(`(?:JPY|¥)\s*[0-9][0-9,]*`)
)

// IsCalendar reports whether a table looks like an availability calendar:
// it must carry at least one day header token and one availability marker.
func IsCalendar(table *html.Node) bool {
	text := htmlutil.Text(table)
	if !dayRe.MatchString(text) {
		return false
	}
	return strings.ContainsAny(text, "○◯×✕") || strings.Contains(text, "-")
}

// Find returns the calendar tables in a parsed document, in document order.
func Find(doc *html.Node) []*html.Node {
	var tables []*html.Node
	for _, t := range htmlutil.Query(doc, "table") {
		if IsCalendar(t) {
			tables = append(tables, t)
		}
	}
	return tables
}

// Parse reads every (room type, day) cell out of one calendar table.
//
// The header row is the first row containing day tokens; its dates map by
// position onto the marker cells of each following row. Rows without a
// recognizable unit label or with no markers are skipped. Returns nil when
// the table has no usable header.
func Parse(table *html.Node) []Entry {
	rows := htmlutil.Query(table, "tr")
	if len(rows) == 0 {
		return nil
	}

	var days []dayCol
	var entries []Entry
	for _, row := range rows {
		cells := rowCells(row)
		if len(cells) == 0 {
			continue
		}
		if days == nil {
			if d := headerDays(cells); len(d) > 0 {
				days = d
			}
			continue
		}
		unit, markers := unitRow(cells)
		if unit == "" || len(markers) == 0 {
			continue
		}
		// Extra non-day cells after the label (a "calendar" link, a photo)
		// show up as leading surplus; day columns are always the tail.
		if len(markers) > len(days) {
			markers = markers[len(markers)-len(days):]
		}
		for i, cell := range markers {
			if i >= len(days) {
				break
			}
			mark, price := classify(cell)
			if mark == MarkNone {
				continue
			}
			entries = append(entries, Entry{
				Unit:  unit,
				Month: days[i].month,
				Day:   days[i].day,
				Mark:  mark,
				Price: price,
			})
		}
	}
	return entries
}

type dayCol struct {
	month time.Month
	day   int
}

// rowCells returns the cell texts of one row in document order, td and th
// alike.
func rowCells(row *html.Node) []string {
	var texts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "td" || n.Data == "th") {
			texts = append(texts, htmlutil.Text(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return texts
}

// headerDays extracts the day columns from a candidate header row. A row
// qualifies when at least two cells parse as M/D tokens; a leading label
// cell ("Room type") is tolerated because alignment starts at the first
// dated cell.
func headerDays(cells []string) []dayCol {
	var days []dayCol
	started := false
	for _, text := range cells {
		m := dayRe.FindStringSubmatch(text)
		if m == nil {
			if started {
				// Dated run ended; trailing label cells would misalign.
				break
			}
			continue
		}
		started = true
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		days = append(days, dayCol{month: time.Month(month), day: day})
	}
	if len(days) < 2 {
		return nil
	}
	return days
}

// unitRow splits a data row into its room-type label and marker cells. The
// label is the first cell with letter content; everything after it is
// treated as day columns.
func unitRow(cells []string) (unit string, markers []string) {
	for i, text := range cells {
		if hasLetter(text) && !dayRe.MatchString(text) {
			return strings.TrimSpace(text), cells[i+1:]
		}
	}
	return "", nil
}

func hasLetter(s string) bool {
	for _, r := range s {
		// ASCII letters or CJK; the markers ○ × all sit below U+3040.
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= 0x3040 {
			return true
		}
	}
	return false
}

// classify maps one cell's text to its marker and attached price.
func classify(text string) (Mark, string) {
	switch {
	case strings.ContainsAny(text, "○◯"):
		return MarkOpen, priceRe.FindString(text)
	case strings.ContainsAny(text, "×✕"):
		return MarkFull, ""
	case strings.ContainsAny(text, "-－―"):
		return MarkClosed, ""
	}
	return MarkNone, ""
}
