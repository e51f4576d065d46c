package direct

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/yadowatch/adapter"
	"github.com/hazyhaar/yadowatch/availability"
	"github.com/hazyhaar/yadowatch/fetch"
)

const bookingPage = `<html><head><title>Magoemon | Reservations</title></head><body>
<h1>Magoemon</h1>
<table>
 <tr><th>Room type</th><th>8/26 (Wed)</th><th>8/27 (Thu)</th><th>8/28 (Fri)</th></tr>
 <tr><td>8 Japanese Tatami mats</td><td>×</td><td>○<br>JPY15,400</td><td>×</td></tr>
</table>
</body></html>`

func testClient() *fetch.Client {
	return fetch.New(fetch.Config{URLValidator: func(string) error { return nil }})
}

func newTestAdapter(t *testing.T, url string, targets []string) *Adapter {
	t.Helper()
	a, err := New(adapter.Env{Fetch: testClient()}, adapter.Params{
		SourceID:    "gassho-1",
		Name:        "Fallback Name",
		URL:         url,
		TargetDates: targets,
		Location:    "Shirakawa-go",
		Retries:     1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	da := a.(*Adapter)
	da.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return da
}

func TestCheck_TargetDateFilter(t *testing.T) {
	// WHAT: of two targeted days, only the day with an open marker yields a
	// record, and it carries the cell's price.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bookingPage))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, []string{"2026-08-27", "2026-08-28"})
	records, err := a.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(records), records)
	}
	r := records[0]
	if r.Item != "Magoemon" {
		t.Errorf("item: got %q (h1 extraction failed)", r.Item)
	}
	if r.Date != "2026-08-27" {
		t.Errorf("date: got %q", r.Date)
	}
	if r.Price != "JPY15,400" {
		t.Errorf("price: got %q", r.Price)
	}
	if r.Unit != "8 Japanese Tatami mats" {
		t.Errorf("unit: got %q", r.Unit)
	}
	if r.Status != availability.StatusAvailable {
		t.Errorf("status: got %q", r.Status)
	}
	if r.Link != srv.URL {
		t.Errorf("link: got %q", r.Link)
	}
}

func TestCheck_NoCalendarIsStructureChange(t *testing.T) {
	// WHY: a booking page without recognizable calendars means the layout
	// changed; reporting "no availability" would hide it forever.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Welcome</p></body></html>`))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, nil)
	_, err := a.Check(context.Background())
	if !errors.Is(err, adapter.ErrStructureChange) {
		t.Fatalf("got %v, want ErrStructureChange", err)
	}
}

func TestCheck_FetchErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, nil)
	if _, err := a.Check(context.Background()); err == nil {
		t.Fatal("want error on 404")
	}
}

func TestCheck_ExtraURLs(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(bookingPage))
	}))
	defer srv.Close()

	a, err := New(adapter.Env{Fetch: testClient()}, adapter.Params{
		SourceID: "gassho-2",
		URL:      srv.URL + "/a",
		Options:  map[string]string{"extra_urls": srv.URL + "/b, " + srv.URL + "/c"},
		Retries:  1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if hits != 3 {
		t.Errorf("pages fetched: got %d, want 3", hits)
	}
}
