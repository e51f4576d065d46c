package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/yadowatch/availability"
)

// payload is the fixed webhook body, one POST per discovery.
type payload struct {
	AccommodationName string   `json:"accommodation_name"`
	AvailableDates    []string `json:"available_dates"`
	Link              string   `json:"link"`
	Location          string   `json:"location"`
	DiscoveredAt      string   `json:"discovered_at"`
	PriceInfo         *string  `json:"price_info"`
}

func payloadFor(rec availability.Record) payload {
	p := payload{
		AccommodationName: rec.Item,
		AvailableDates:    []string{rec.Date},
		Link:              rec.Link,
		Location:          rec.Location,
		DiscoveredAt:      rec.DiscoveredAt.UTC().Format(time.RFC3339),
	}
	if rec.Unit != "" {
		p.AccommodationName = rec.Item + " - " + rec.Unit
	}
	if rec.Price != "" {
		p.PriceInfo = &rec.Price
	}
	return p
}

// sender POSTs payloads to the configured webhook endpoint.
type sender struct {
	url string
	hc  *http.Client
}

func newSender(url string, timeout time.Duration) *sender {
	return &sender{url: url, hc: &http.Client{Timeout: timeout}}
}

// send performs one delivery attempt. Any status outside 2xx is an error;
// the response body is drained so connections get reused across retries.
func (s *sender) send(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("notify: webhook returned %d", res.StatusCode)
	}
	return nil
}
