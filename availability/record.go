// Package availability defines the record model shared by adapters, the
// scheduler, and the notification dispatcher: one Record per discovered
// (item, date, unit) fact, with a derived Fingerprint as dedup identity.
package availability

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Status classifies what a source reported for one item on one date.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusLimited     Status = "limited"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
)

// Record is one discovered availability fact. Produced only by a successful
// adapter invocation; treated as immutable once created.
type Record struct {
	// Item is the accommodation, plan, or event name.
	Item string
	// Date is the calendar date in normalized YYYY-MM-DD form.
	Date string
	// Unit is the room or ticket type, empty when the source has none.
	Unit   string
	Status Status
	// Price is free-form source text ("JPY15,400"), empty when absent.
	Price string
	// Link points at the booking surface for this record.
	Link     string
	Location string
	// DiscoveredAt is the UTC time the record was extracted.
	DiscoveredAt time.Time
	// InferredYear marks records whose date year was disambiguated from
	// partial month/day markers rather than read off the page.
	InferredYear bool
}

// Fingerprint is the sole deduplication identity of a discovery. Two records
// with the same fingerprint are the same discovery regardless of price.
type Fingerprint string

// FingerprintOf derives the dedup key from source id, item, date and unit.
// Price and status are deliberately excluded.
func FingerprintOf(sourceID, item, date, unit string) Fingerprint {
	h := sha256.Sum256([]byte(sourceID + "\n" + item + "\n" + date + "\n" + unit))
	return Fingerprint(fmt.Sprintf("%x", h))
}

// Fingerprint returns the record's dedup key within the given source.
func (r *Record) Fingerprint(sourceID string) Fingerprint {
	return FingerprintOf(sourceID, r.Item, r.Date, r.Unit)
}
