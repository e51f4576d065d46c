// Package scheduler owns the per-source schedule table: when each source is
// due, whether it is in flight, and how many consecutive runs failed. It
// dispatches due sources to a run function under a concurrency bound; it
// knows nothing about adapters or notifications.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// State is a source's position in its run lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
)

// Errors returned by schedule mutations.
var (
	ErrUnknownSource  = fmt.Errorf("scheduler: unknown source")
	ErrAlreadyRunning = fmt.Errorf("scheduler: source is running")
	ErrDisabled       = fmt.Errorf("scheduler: source is disabled")
)

// RunFunc executes one check of one source. The error decides the entry's
// failure accounting; panics are recovered and treated as failures.
type RunFunc func(ctx context.Context, sourceID string) error

// Config configures the scheduler.
type Config struct {
	// WakeInterval is how often the loop scans for due entries. Default: 5s.
	WakeInterval time.Duration
	// MaxConcurrent bounds simultaneously running sources. Default: 4.
	MaxConcurrent int
}

func (c *Config) defaults() {
	if c.WakeInterval <= 0 {
		c.WakeInterval = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
}

type entry struct {
	sourceID    string
	interval    time.Duration
	state       State
	nextDue     time.Time
	lastStart   time.Time
	lastEnd     time.Time
	lastSuccess bool
	lastError   string
	failures    int
}

// Snapshot is a read-only copy of one schedule entry.
type Snapshot struct {
	SourceID            string        `json:"source_id"`
	State               State         `json:"state"`
	Interval            time.Duration `json:"-"`
	NextDue             time.Time     `json:"next_due"`
	LastStart           time.Time     `json:"last_start"`
	LastEnd             time.Time     `json:"last_end"`
	LastSuccess         bool          `json:"last_success"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Scheduler dispatches due sources to the run function.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	run     RunFunc
	config  Config
	logger  *slog.Logger
	sem     chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		run:     run,
		config:  cfg,
		logger:  logger,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		now:     time.Now,
	}
}

// Add registers a source. It becomes due immediately and then every
// interval, counted from each run's start.
func (s *Scheduler) Add(sourceID string, interval time.Duration, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := StateIdle
	if !enabled {
		state = StateDisabled
	}
	s.entries[sourceID] = &entry{
		sourceID: sourceID,
		interval: interval,
		state:    state,
		nextDue:  s.now(),
	}
}

// Run scans for due entries until ctx is cancelled, then waits for in-flight
// runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.WakeInterval)
	defer ticker.Stop()

	s.dispatchDue(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue starts every idle entry whose due time has passed. An entry
// still running when it comes due again is skipped, not queued: the next
// wake after it returns will pick it up.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.state == StateIdle && !e.nextDue.After(now) {
			due = append(due, e)
		}
	}
	for _, e := range due {
		s.markStarted(e, now)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.launch(ctx, e.sourceID)
	}
}

// markStarted flips an entry to running. Caller holds the lock.
func (s *Scheduler) markStarted(e *entry, start time.Time) {
	e.state = StateRunning
	e.lastStart = start
	// The interval is measured from run start, not completion.
	e.nextDue = start.Add(e.interval)
}

// launch runs one source on its own goroutine under the concurrency bound.
func (s *Scheduler) launch(ctx context.Context, sourceID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			s.finish(sourceID, ctx.Err())
			return
		}
		s.finish(sourceID, s.runSafely(ctx, sourceID))
	}()
}

// runSafely invokes the run function, converting a panic into an error so a
// misbehaving adapter cannot take the scheduler down.
func (s *Scheduler) runSafely(ctx context.Context, sourceID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: run panicked: %v", r)
			s.logger.Error("scheduler: recovered panic",
				"source", sourceID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return s.run(ctx, sourceID)
}

// finish records a run's outcome and returns the entry to idle.
func (s *Scheduler) finish(sourceID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sourceID]
	if !ok {
		return
	}
	e.state = StateIdle
	e.lastEnd = s.now()
	if errors.Is(err, context.Canceled) {
		// A shutdown interrupt is not a verdict on the source.
		s.logger.Debug("scheduler: run cancelled", "source", sourceID)
		return
	}
	if err != nil {
		e.lastSuccess = false
		e.lastError = err.Error()
		e.failures++
		s.logger.Warn("scheduler: run failed",
			"source", sourceID, "consecutive_failures", e.failures, "error", err)
		return
	}
	e.lastSuccess = true
	e.lastError = ""
	e.failures = 0
}

// Trigger starts a source immediately, outside its schedule. A running
// source is not queued: callers get ErrAlreadyRunning and try again later.
func (s *Scheduler) Trigger(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	e, ok := s.entries[sourceID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownSource
	}
	switch e.state {
	case StateRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case StateDisabled:
		s.mu.Unlock()
		return ErrDisabled
	}
	s.markStarted(e, s.now())
	s.mu.Unlock()

	s.launch(ctx, sourceID)
	return nil
}

// Disable takes a source out of rotation. Only an idle source can be
// disabled; an in-flight run must finish first.
func (s *Scheduler) Disable(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sourceID]
	if !ok {
		return ErrUnknownSource
	}
	if e.state == StateRunning {
		return ErrAlreadyRunning
	}
	e.state = StateDisabled
	return nil
}

// Enable returns a disabled source to rotation, due immediately.
func (s *Scheduler) Enable(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sourceID]
	if !ok {
		return ErrUnknownSource
	}
	if e.state == StateDisabled {
		e.state = StateIdle
		e.nextDue = s.now()
	}
	return nil
}

// Snapshot returns a copy of every entry, sorted by source id.
func (s *Scheduler) Snapshot() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]Snapshot, 0, len(s.entries))
	for _, e := range s.entries {
		snaps = append(snaps, Snapshot{
			SourceID:            e.sourceID,
			State:               e.state,
			Interval:            e.interval,
			NextDue:             e.nextDue,
			LastStart:           e.lastStart,
			LastEnd:             e.lastEnd,
			LastSuccess:         e.lastSuccess,
			LastError:           e.lastError,
			ConsecutiveFailures: e.failures,
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SourceID < snaps[j].SourceID })
	return snaps
}
