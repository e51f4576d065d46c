// Package monitor is the service orchestrator: it loads the source
// configuration, builds one adapter per source, runs them on the scheduler,
// forwards discoveries to the notification dispatcher, records everything in
// the status store, and serves the HTTP status API.
package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/yadowatch/adapter"
	"github.com/hazyhaar/yadowatch/adapter/direct"
	"github.com/hazyhaar/yadowatch/adapter/event"
	"github.com/hazyhaar/yadowatch/adapter/stay"
	"github.com/hazyhaar/yadowatch/availability"
	"github.com/hazyhaar/yadowatch/browser"
	"github.com/hazyhaar/yadowatch/fetch"
	"github.com/hazyhaar/yadowatch/monitor/internal/scheduler"
	"github.com/hazyhaar/yadowatch/notify"
	"github.com/hazyhaar/yadowatch/status"
)

// Service wires the engine together and owns its lifecycle.
type Service struct {
	config     *Config
	logger     *slog.Logger
	registry   *adapter.Registry
	adapters   map[string]adapter.Adapter
	sources    map[string]*SourceConfig
	sched      *scheduler.Scheduler
	dispatcher *notify.Dispatcher
	store      *status.Store
	db         *sql.DB
	pool       *browser.Pool
	needsPool  bool
	newRunID   func() string
}

// Option configures a Service during creation.
type Option func(*Service)

// WithRegistry replaces the built-in adapter registry; the built-in kinds
// are still registered on it first, so options can override or extend them.
func WithRegistry(r *adapter.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// New builds a Service from a validated config.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := status.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	store, err := status.NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	svc := &Service{
		config:   cfg,
		logger:   logger,
		registry: adapter.NewRegistry(),
		adapters: make(map[string]adapter.Adapter),
		sources:  make(map[string]*SourceConfig),
		store:    store,
		db:       db,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}
	direct.Register(svc.registry)
	event.Register(svc.registry)
	stay.Register(svc.registry)

	ncfg := cfg.notifyConfig()
	ncfg.Logger = logger
	ncfg.OnAttempt = svc.recordAttempt
	dispatcher, err := notify.New(db, ncfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	svc.dispatcher = dispatcher

	bcfg := cfg.browserConfig()
	bcfg.Logger = logger
	svc.pool = browser.NewPool(bcfg)

	env := adapter.Env{
		Fetch:   fetch.New(cfg.fetchConfig()),
		Browser: svc.pool,
		Logger:  logger,
	}
	for i := range cfg.Sources {
		sc := &cfg.Sources[i]
		a, err := svc.registry.New(sc.Kind, env, adapter.Params{
			SourceID:    sc.ID,
			Name:        sc.Name,
			URL:         sc.URL,
			TargetDates: sc.TargetDates,
			Location:    sc.Location,
			BookingHost: sc.BookingHost,
			Retries:     sc.Retries,
			Options:     sc.Options,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: source %s: %v", ErrConfig, sc.ID, err)
		}
		svc.adapters[sc.ID] = a
		svc.sources[sc.ID] = sc
		if sc.Kind == stay.Kind {
			svc.needsPool = true
		}
	}

	svc.sched = scheduler.New(svc.runSource, cfg.schedulerConfig(), logger)
	for _, sc := range cfg.Sources {
		svc.sched.Add(sc.ID, sc.Interval.Std(), sc.IsEnabled())
	}
	return svc, nil
}

// Run starts the browser pool when needed, serves the status API, and runs
// the scheduler until ctx is cancelled. In-flight checks finish before Run
// returns.
func (s *Service) Run(ctx context.Context) error {
	if s.needsPool {
		if err := s.pool.Start(ctx); err != nil {
			return err
		}
		defer s.pool.Close()
	}

	srv := &http.Server{Addr: s.config.ListenAddr, Handler: s.Router()}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("monitor: status api listening", "addr", s.config.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	done := make(chan struct{})
	go func() {
		s.sched.Run(ctx)
		close(done)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("monitor: status api: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
	<-done
	return s.db.Close()
}

// runSource executes one full check of one source: adapter check, dispatch,
// status writes, and dispatcher reconciliation.
func (s *Service) runSource(ctx context.Context, sourceID string) error {
	sc, ok := s.sources[sourceID]
	if !ok {
		return ErrUnknownSource
	}
	a := s.adapters[sourceID]
	logger := s.logger.With("source", sourceID)

	runCtx, cancel := context.WithTimeout(ctx, sc.Timeout.Std())
	defer cancel()

	runID := s.newRunID()
	started := time.Now().UTC()
	if err := s.store.StartRun(ctx, runID, sourceID, started); err != nil {
		logger.Warn("monitor: status write failed", "error", err)
	}

	records, err := a.Check(runCtx)
	if err != nil {
		if ferr := s.store.FinishRun(ctx, runID, time.Now().UTC(), false, err.Error(), 0); ferr != nil {
			logger.Warn("monitor: status write failed", "error", ferr)
		}
		return fmt.Errorf("monitor: check %s: %w", sourceID, err)
	}

	open := make(map[availability.Fingerprint]bool)
	for _, rec := range records {
		notified := false
		if rec.Status == availability.StatusAvailable {
			open[rec.Fingerprint(sourceID)] = true
			outcome, nerr := s.dispatcher.Notify(runCtx, sourceID, rec)
			notified = outcome == notify.OutcomeDelivered
			if nerr != nil {
				logger.Warn("monitor: notification failed",
					"item", rec.Item, "date", rec.Date, "error", nerr)
			}
		}
		if werr := s.store.AppendRecord(ctx, runID, sourceID, rec, notified); werr != nil {
			logger.Warn("monitor: status write failed", "error", werr)
		}
	}

	// Only a successful check may re-arm: a failed one proves nothing about
	// what is still open.
	if _, rerr := s.dispatcher.Reconcile(ctx, sourceID, open); rerr != nil {
		logger.Warn("monitor: reconcile failed", "error", rerr)
	}

	if ferr := s.store.FinishRun(ctx, runID, time.Now().UTC(), true, "", len(records)); ferr != nil {
		logger.Warn("monitor: status write failed", "error", ferr)
	}
	logger.Info("monitor: check complete", "run", runID, "records", len(records))
	return nil
}

// recordAttempt bridges dispatcher attempts into the status store.
func (s *Service) recordAttempt(sourceID string, fp availability.Fingerprint, attempt int, outcome string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendAttempt(ctx, sourceID, fp, attempt, outcome, at); err != nil {
		s.logger.Warn("monitor: status write failed", "error", err)
	}
}

// CheckNow triggers an immediate check of one source, outside its schedule.
func (s *Service) CheckNow(ctx context.Context, sourceID string) error {
	if _, ok := s.sources[sourceID]; !ok {
		return ErrUnknownSource
	}
	return s.sched.Trigger(ctx, sourceID)
}

// Snapshot exposes the scheduler's per-source state, read-only.
func (s *Service) Snapshot() []scheduler.Snapshot {
	return s.sched.Snapshot()
}
