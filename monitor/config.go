package monitor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/yadowatch/availability"
	"github.com/hazyhaar/yadowatch/browser"
	"github.com/hazyhaar/yadowatch/fetch"
	"github.com/hazyhaar/yadowatch/monitor/internal/scheduler"
	"github.com/hazyhaar/yadowatch/notify"
)

// Duration unmarshals YAML strings like "90s" or "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the duration as time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SourceConfig describes one configured source. Immutable after load.
type SourceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
	// Interval between run starts. Minimum 60s: these are third-party sites.
	Interval Duration `yaml:"interval"`
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
	// Timeout bounds one full check of this source. Default 120s; 5s-300s.
	Timeout Duration `yaml:"timeout"`
	// Retries per stage on transient failures. Default 3; 1-10.
	Retries     int               `yaml:"retries"`
	TargetDates []string          `yaml:"target_dates"`
	Location    string            `yaml:"location"`
	BookingHost string            `yaml:"booking_host"`
	Options     map[string]string `yaml:"options"`
}

// IsEnabled resolves the Enabled default.
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// NotifyConfig configures the webhook dispatcher.
type NotifyConfig struct {
	WebhookURL  string   `yaml:"webhook_url"`
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`
}

// BrowserConfig configures the Chrome pool.
type BrowserConfig struct {
	RemoteURL       string   `yaml:"remote_url"`
	MaxSessions     int      `yaml:"max_sessions"`
	MemoryLimitMB   int64    `yaml:"memory_limit_mb"`
	RecycleInterval Duration `yaml:"recycle_interval"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	Timeout   Duration `yaml:"timeout"`
	MaxBytes  int64    `yaml:"max_bytes"`
	UserAgent string   `yaml:"user_agent"`
}

// SchedulerConfig configures the run loop.
type SchedulerConfig struct {
	WakeInterval  Duration `yaml:"wake_interval"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr   string          `yaml:"listen_addr"`
	DatabasePath string          `yaml:"database_path"`
	Notify       NotifyConfig    `yaml:"notify"`
	Browser      BrowserConfig   `yaml:"browser"`
	Fetch        FetchConfig     `yaml:"fetch"`
	Scheduler    SchedulerConfig `yaml:"scheduler"`
	Sources      []SourceConfig  `yaml:"sources"`
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/yadowatch.db"
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Timeout == 0 {
			s.Timeout = Duration(120 * time.Second)
		}
		if s.Retries == 0 {
			s.Retries = 3
		}
	}
}

// Validate checks the bounds the engine depends on. Every violation wraps
// ErrConfig.
func (c *Config) Validate() error {
	if c.Notify.WebhookURL == "" {
		return fmt.Errorf("%w: notify.webhook_url is required", ErrConfig)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", ErrConfig)
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.ID == "" {
			return fmt.Errorf("%w: source %d: id is required", ErrConfig, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate source id %q", ErrConfig, s.ID)
		}
		seen[s.ID] = true
		if s.Kind == "" {
			return fmt.Errorf("%w: source %s: kind is required", ErrConfig, s.ID)
		}
		if s.URL == "" {
			return fmt.Errorf("%w: source %s: url is required", ErrConfig, s.ID)
		}
		if s.Interval.Std() < time.Minute {
			return fmt.Errorf("%w: source %s: interval %v below 60s minimum", ErrConfig, s.ID, s.Interval.Std())
		}
		if t := s.Timeout.Std(); t < 5*time.Second || t > 300*time.Second {
			return fmt.Errorf("%w: source %s: timeout %v outside 5s-300s", ErrConfig, s.ID, t)
		}
		if s.Retries < 1 || s.Retries > 10 {
			return fmt.Errorf("%w: source %s: retries %d outside 1-10", ErrConfig, s.ID, s.Retries)
		}
		for j, d := range s.TargetDates {
			normalized, err := availability.ParseDate(d)
			if err != nil {
				return fmt.Errorf("%w: source %s: target date %q is not YYYY-MM-DD", ErrConfig, s.ID, d)
			}
			s.TargetDates[j] = normalized
		}
	}
	return nil
}

// LoadConfig reads, defaults and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("monitor: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) notifyConfig() notify.Config {
	return notify.Config{
		WebhookURL: c.Notify.WebhookURL,
		Timeout:    c.Notify.Timeout.Std(),
		Backoff: notify.Backoff{
			Base:        c.Notify.BackoffBase.Std(),
			MaxDelay:    c.Notify.BackoffMax.Std(),
			MaxAttempts: c.Notify.MaxAttempts,
		},
	}
}

func (c *Config) browserConfig() browser.Config {
	return browser.Config{
		RemoteURL:       c.Browser.RemoteURL,
		MaxSessions:     c.Browser.MaxSessions,
		MemoryLimit:     c.Browser.MemoryLimitMB << 20,
		RecycleInterval: c.Browser.RecycleInterval.Std(),
	}
}

func (c *Config) fetchConfig() fetch.Config {
	return fetch.Config{
		Timeout:   c.Fetch.Timeout.Std(),
		MaxBytes:  c.Fetch.MaxBytes,
		UserAgent: c.Fetch.UserAgent,
	}
}

func (c *Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		WakeInterval:  c.Scheduler.WakeInterval.Std(),
		MaxConcurrent: c.Scheduler.MaxConcurrent,
	}
}
