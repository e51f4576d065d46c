package availability

import (
	"fmt"
	"time"
)

// DateLayout is the normalized calendar-date form used everywhere.
const DateLayout = "2006-01-02"

// ParseDate validates a YYYY-MM-DD string and returns it re-normalized.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("availability: invalid date %q: %w", s, err)
	}
	return t.Format(DateLayout), nil
}

// FormatDate builds a normalized date string from components.
func FormatDate(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(DateLayout)
}

// InferYear resolves a partial month/day marker to a full year.
//
// Calendar cells often carry month/day only ("8/15 (Fri)"); the candidate
// years come from the configured target dates. The chosen year is the one
// that places the date closest to now without falling before it. Ambiguous
// reports whether more than one candidate produced a valid on-or-after date,
// so callers can surface that a disambiguation occurred.
func InferYear(month time.Month, day int, candidates []int, now time.Time) (year int, ambiguous bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	best := 0
	var bestDate time.Time
	valid := 0
	for _, y := range candidates {
		d := time.Date(y, month, day, 0, 0, 0, 0, time.UTC)
		// Reject rollover (e.g. Feb 30 normalizing into March).
		if d.Month() != month || d.Day() != day {
			continue
		}
		if d.Before(today) {
			continue
		}
		valid++
		if best == 0 || d.Before(bestDate) {
			best = y
			bestDate = d
		}
	}
	if best != 0 {
		return best, valid > 1
	}

	// All candidates are in the past: fall back to the nearest candidate so
	// the caller still gets a deterministic date, flagged as ambiguous.
	if len(candidates) > 0 {
		best = candidates[0]
		bestDate = time.Date(best, month, day, 0, 0, 0, 0, time.UTC)
		for _, y := range candidates[1:] {
			d := time.Date(y, month, day, 0, 0, 0, 0, time.UTC)
			if d.After(bestDate) {
				best = y
				bestDate = d
			}
		}
		return best, true
	}

	// No candidates at all: nearest future-or-present year relative to now.
	// Still a guess, so it is flagged like any other disambiguation.
	y := now.Year()
	d := time.Date(y, month, day, 0, 0, 0, 0, time.UTC)
	if d.Before(today) {
		y++
	}
	return y, true
}

// YearCandidates extracts the distinct years present in a set of normalized
// target dates, preserving first-seen order.
func YearCandidates(dates []string) []int {
	var years []int
	seen := make(map[int]bool)
	for _, s := range dates {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			continue
		}
		if !seen[t.Year()] {
			seen[t.Year()] = true
			years = append(years, t.Year())
		}
	}
	return years
}
