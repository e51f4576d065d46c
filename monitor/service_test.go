package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/yadowatch/adapter"
	"github.com/hazyhaar/yadowatch/availability"
)

// fakeAdapter lets tests script check results for a registered kind.
type fakeAdapter struct {
	check func(ctx context.Context) ([]availability.Record, error)
}

func (f *fakeAdapter) Kind() string { return "fake" }

func (f *fakeAdapter) Check(ctx context.Context) ([]availability.Record, error) {
	return f.check(ctx)
}

func newTestService(t *testing.T, webhookURL string, check func(ctx context.Context) ([]availability.Record, error)) *Service {
	t.Helper()
	reg := adapter.NewRegistry()
	reg.Register("fake", func(adapter.Env, adapter.Params) (adapter.Adapter, error) {
		return &fakeAdapter{check: check}, nil
	})
	cfg := &Config{
		DatabasePath: filepath.Join(t.TempDir(), "yadowatch.db"),
		Notify:       NotifyConfig{WebhookURL: webhookURL},
		Sources: []SourceConfig{{
			ID:       "village",
			Name:     "Historic Village",
			Kind:     "fake",
			URL:      "https://example.com/en/stay/",
			Interval: Duration(15 * time.Minute),
		}},
	}
	svc, err := New(cfg, slog.New(slog.NewTextHandler(testWriter{t}, nil)), WithRegistry(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.db.Close() })
	return svc
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func openRecord() availability.Record {
	return availability.Record{
		Item:         "Magoemon",
		Date:         "2026-08-27",
		Unit:         "8 Japanese Tatami mats",
		Status:       availability.StatusAvailable,
		Price:        "JPY15,400",
		Link:         "https://book.example.com/4",
		Location:     "Gifu",
		DiscoveredAt: time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC),
	}
}

// WHAT: a successful check delivers once, records the run, and suppresses
// the same discovery on later runs.
// WHY: the webhook is the product; duplicate spam would get it muted.
func TestRunSourceDeliversOnce(t *testing.T) {
	var hits atomic.Int64
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer webhook.Close()

	svc := newTestService(t, webhook.URL, func(context.Context) ([]availability.Record, error) {
		return []availability.Record{openRecord()}, nil
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := svc.runSource(ctx, "village"); err != nil {
			t.Fatalf("runSource #%d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("webhook hits = %d, want 1", got)
	}

	var runs, notified int
	if err := svc.db.QueryRow(
		`SELECT COUNT(*) FROM check_runs WHERE source_id = 'village' AND success = 1`,
	).Scan(&runs); err != nil {
		t.Fatal(err)
	}
	if runs != 3 {
		t.Errorf("successful runs = %d, want 3", runs)
	}
	if err := svc.db.QueryRow(
		`SELECT COUNT(*) FROM availability_history WHERE notified = 1`,
	).Scan(&notified); err != nil {
		t.Fatal(err)
	}
	if notified != 1 {
		t.Errorf("notified history rows = %d, want 1", notified)
	}
}

// WHAT: an adapter failure surfaces as an error and a failed run row, and
// leaves prior suppression state untouched.
func TestRunSourceFailure(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer webhook.Close()

	fail := errors.New("site unreachable")
	svc := newTestService(t, webhook.URL, func(context.Context) ([]availability.Record, error) {
		return nil, fail
	})
	err := svc.runSource(context.Background(), "village")
	if !errors.Is(err, fail) {
		t.Fatalf("runSource error = %v, want wrapped %v", err, fail)
	}

	var success int
	var msg string
	if err := svc.db.QueryRow(
		`SELECT success, error FROM check_runs WHERE source_id = 'village'`,
	).Scan(&success, &msg); err != nil {
		t.Fatal(err)
	}
	if success != 0 || msg == "" {
		t.Errorf("run row = (%d, %q), want failed with message", success, msg)
	}
}

// WHAT: when a slot closes and later reopens, the reopening is delivered
// again.
// WHY: closed-then-reopened is exactly the event the user is waiting for.
func TestRunSourceRedeliversAfterClose(t *testing.T) {
	var hits atomic.Int64
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer webhook.Close()

	var records []availability.Record
	svc := newTestService(t, webhook.URL, func(context.Context) ([]availability.Record, error) {
		return records, nil
	})
	ctx := context.Background()

	records = []availability.Record{openRecord()}
	if err := svc.runSource(ctx, "village"); err != nil {
		t.Fatal(err)
	}
	records = nil // slot closed
	if err := svc.runSource(ctx, "village"); err != nil {
		t.Fatal(err)
	}
	records = []availability.Record{openRecord()} // reopened
	if err := svc.runSource(ctx, "village"); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("webhook hits = %d, want 2 (initial + reopening)", got)
	}
}

// WHAT: unavailable records are archived but never dispatched.
func TestRunSourceSkipsUnavailable(t *testing.T) {
	var hits atomic.Int64
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer webhook.Close()

	rec := openRecord()
	rec.Status = availability.StatusUnavailable
	svc := newTestService(t, webhook.URL, func(context.Context) ([]availability.Record, error) {
		return []availability.Record{rec}, nil
	})
	if err := svc.runSource(context.Background(), "village"); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("webhook hits = %d, want 0", got)
	}
	var archived int
	if err := svc.db.QueryRow(
		`SELECT COUNT(*) FROM availability_history WHERE status = ?`, string(availability.StatusUnavailable),
	).Scan(&archived); err != nil {
		t.Fatal(err)
	}
	if archived != 1 {
		t.Errorf("archived rows = %d, want 1", archived)
	}
}

// WHAT: the status API reports sources and health, rejects unknown manual
// checks with 404, and an in-flight source with 409.
func TestStatusAPI(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer webhook.Close()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	svc := newTestService(t, webhook.URL, func(ctx context.Context) ([]availability.Record, error) {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, nil
	})
	api := httptest.NewServer(svc.Router())
	defer api.Close()

	resp, err := http.Get(api.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}

	resp, err = http.Get(api.URL + "/api/sources")
	if err != nil {
		t.Fatal(err)
	}
	var sources []sourceView
	if err := json.NewDecoder(resp.Body).Decode(&sources); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(sources) != 1 || sources[0].ID != "village" || !sources[0].Enabled {
		t.Errorf("sources = %+v", sources)
	}

	resp, err = http.Post(api.URL+"/api/sources/nope/check", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown source = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Post(api.URL+"/api/sources/village/check", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("manual check = %d, want 202", resp.StatusCode)
	}
	<-started

	resp, err = http.Post(api.URL+"/api/sources/village/check", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent check = %d, want 409", resp.StatusCode)
	}
	close(block)

	deadline := time.After(2 * time.Second)
	for {
		snaps := svc.Snapshot()
		if len(snaps) == 1 && snaps[0].State == "idle" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("source never returned to idle: %+v", snaps)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
