package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
listen_addr: ":9090"
database_path: "data/test.db"
notify:
  webhook_url: "https://hooks.example.com/availability"
  max_attempts: 5
  backoff_base: 2s
scheduler:
  wake_interval: 1s
sources:
  - id: village
    name: "Historic Village"
    kind: stay
    url: "https://example.com/en/stay/"
    interval: 15m
    target_dates: ["2026-08-27", "2026-8-5"]
    location: "Gifu"
  - id: tickets
    name: "Tournament Tickets"
    kind: event
    url: "https://example.com/tickets/"
    interval: 30m
    timeout: 45s
    retries: 5
    enabled: false
    options:
      match: "November"
`

// WHAT: a full config loads with defaults filled and dates normalized.
// WHY: the rest of the engine assumes post-load invariants hold.
func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	village := cfg.Sources[0]
	if village.Timeout.Std() != 120*time.Second {
		t.Errorf("default timeout = %v, want 120s", village.Timeout.Std())
	}
	if village.Retries != 3 {
		t.Errorf("default retries = %d, want 3", village.Retries)
	}
	if !village.IsEnabled() {
		t.Error("enabled should default to true")
	}
	if got := village.TargetDates[1]; got != "2026-08-05" {
		t.Errorf("date not normalized: %q", got)
	}
	tickets := cfg.Sources[1]
	if tickets.IsEnabled() {
		t.Error("tickets should be disabled")
	}
	if tickets.Timeout.Std() != 45*time.Second || tickets.Retries != 5 {
		t.Errorf("explicit timeout/retries lost: %v/%d", tickets.Timeout.Std(), tickets.Retries)
	}
	if tickets.Options["match"] != "November" {
		t.Errorf("options lost: %v", tickets.Options)
	}
}

// WHAT: every bound violation is caught at load and wraps ErrConfig.
// WHY: a misconfigured interval or timeout must never reach the scheduler.
func TestValidateBounds(t *testing.T) {
	base := func() *Config {
		return &Config{
			Notify: NotifyConfig{WebhookURL: "https://hooks.example.com/x"},
			Sources: []SourceConfig{{
				ID:       "a",
				Kind:     "direct",
				URL:      "https://example.com/",
				Interval: Duration(5 * time.Minute),
				Timeout:  Duration(60 * time.Second),
				Retries:  3,
			}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing webhook", func(c *Config) { c.Notify.WebhookURL = "" }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"missing id", func(c *Config) { c.Sources[0].ID = "" }},
		{"missing kind", func(c *Config) { c.Sources[0].Kind = "" }},
		{"missing url", func(c *Config) { c.Sources[0].URL = "" }},
		{"interval below minimum", func(c *Config) { c.Sources[0].Interval = Duration(30 * time.Second) }},
		{"timeout too short", func(c *Config) { c.Sources[0].Timeout = Duration(time.Second) }},
		{"timeout too long", func(c *Config) { c.Sources[0].Timeout = Duration(10 * time.Minute) }},
		{"retries zero", func(c *Config) { c.Sources[0].Retries = 0 }},
		{"retries too high", func(c *Config) { c.Sources[0].Retries = 11 }},
		{"bad target date", func(c *Config) { c.Sources[0].TargetDates = []string{"Aug 27"} }},
		{"duplicate id", func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("error does not wrap ErrConfig: %v", err)
			}
			if !IsConfig(err) {
				t.Errorf("IsConfig = false for %v", err)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config rejected: %v", err)
	}
}

// WHAT: durations parse from YAML strings and reject garbage.
func TestDurationYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
notify:
  webhook_url: "https://hooks.example.com/x"
sources:
  - id: a
    kind: direct
    url: "https://example.com/"
    interval: soon
`))
	if err == nil {
		t.Fatal("accepted invalid duration")
	}
	if !errors.Is(err, ErrConfig) {
		t.Errorf("error does not wrap ErrConfig: %v", err)
	}
}
