// Package notify delivers availability discoveries to a webhook endpoint
// exactly once per fingerprint: a sqlite-backed state table suppresses
// repeats across runs and restarts, deliveries retry with exponential
// backoff, and exhausted fingerprints stay silenced until reconciliation
// re-arms them.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/yadowatch/availability"
)

// ErrDeliveryExhausted marks a discovery whose delivery attempts are used
// up. The fingerprint stays terminal: later sightings of the same discovery
// are suppressed, not retried.
var ErrDeliveryExhausted = errors.New("notify: delivery attempts exhausted")

// Outcome is the dispatcher's verdict on one discovery.
type Outcome string

const (
	// OutcomeDelivered: the webhook accepted the discovery.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeSuppressed: the fingerprint was already pending or terminal.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeExhausted: every attempt failed; the fingerprint is terminal.
	OutcomeExhausted Outcome = "exhausted"
)

// Backoff shapes the delay between delivery attempts.
type Backoff struct {
	Base        time.Duration // first delay. Default: 1s.
	Multiplier  float64       // growth per attempt. Default: 2.
	MaxDelay    time.Duration // delay ceiling. Default: 1m.
	MaxAttempts int           // total tries per discovery. Default: 3.
}

func (b *Backoff) defaults() {
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = time.Minute
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 3
	}
}

// delay returns the pause before the given retry (attempt counts from 1;
// there is no pause before the first attempt).
func (b Backoff) delay(attempt int) time.Duration {
	d := time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1)))
	if d > b.MaxDelay || d <= 0 {
		return b.MaxDelay
	}
	return d
}

// AttemptFunc observes every delivery attempt, typically to append it to the
// status store. Outcome is "ok" or the attempt's error text.
type AttemptFunc func(sourceID string, fp availability.Fingerprint, attempt int, outcome string, at time.Time)

// Config configures a Dispatcher.
type Config struct {
	// WebhookURL receives one JSON POST per discovery.
	WebhookURL string
	// Timeout bounds each individual POST. Default: 15s.
	Timeout time.Duration
	Backoff Backoff
	// OnAttempt, when set, is called after every delivery attempt.
	OnAttempt AttemptFunc
	Logger    *slog.Logger
}

// Dispatcher deduplicates discoveries and delivers them with retry.
type Dispatcher struct {
	store     *store
	sender    *sender
	backoff   Backoff
	onAttempt AttemptFunc
	logger    *slog.Logger
}

// New creates a Dispatcher on an open sqlite handle, creating its state
// table when absent.
func New(db *sql.DB, cfg Config) (*Dispatcher, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("notify: webhook url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.Backoff.defaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	st, err := newStore(db)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		store:     st,
		sender:    newSender(cfg.WebhookURL, cfg.Timeout),
		backoff:   cfg.Backoff,
		onAttempt: cfg.OnAttempt,
		logger:    cfg.Logger,
	}, nil
}

// Notify delivers one discovery unless its fingerprint already reached a
// terminal state. A pending row left behind by an interrupted delivery is
// resumed with its attempt count intact, so a cancelled run never silences
// an undelivered discovery. A discovery whose attempts all fail is marked
// exhausted and reported with ErrDeliveryExhausted; it will not be retried
// by later sightings.
func (d *Dispatcher) Notify(ctx context.Context, sourceID string, rec availability.Record) (Outcome, error) {
	fp := rec.Fingerprint(sourceID)

	state, burned, err := d.store.state(ctx, fp)
	if err != nil {
		return "", err
	}
	switch state {
	case stateDelivered, stateExhausted:
		d.logger.Debug("notify: suppressed", "fingerprint", string(fp), "state", state)
		return OutcomeSuppressed, nil
	case statePending:
		d.logger.Info("notify: resuming interrupted delivery",
			"source", sourceID, "fingerprint", string(fp), "attempts", burned)
	default:
		burned = 0
		if err := d.store.setState(ctx, sourceID, fp, statePending, 0); err != nil {
			return "", err
		}
	}
	if burned >= d.backoff.MaxAttempts {
		if err := d.store.setState(ctx, sourceID, fp, stateExhausted, burned); err != nil {
			return "", err
		}
		return OutcomeExhausted, fmt.Errorf("notify: %s after %d attempts: %w",
			string(fp), burned, ErrDeliveryExhausted)
	}

	p := payloadFor(rec)
	start := burned + 1
	var lastErr error
	for attempt := start; attempt <= d.backoff.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.backoff.delay(attempt - 1)):
			}
		}
		lastErr = d.sender.send(ctx, p)
		if lastErr != nil && ctx.Err() != nil {
			// Interrupted mid-send: no verdict on the endpoint, so the
			// attempt stays unburned and the row stays resumable.
			return "", ctx.Err()
		}
		d.recordAttempt(sourceID, fp, attempt, lastErr)
		if lastErr == nil {
			if err := d.store.setState(ctx, sourceID, fp, stateDelivered, attempt); err != nil {
				return "", err
			}
			d.logger.Info("notify: delivered",
				"source", sourceID, "item", rec.Item, "date", rec.Date, "attempt", attempt)
			return OutcomeDelivered, nil
		}
		// Persist the burned attempt so an interruption resumes here
		// instead of restarting the budget.
		if err := d.store.setState(ctx, sourceID, fp, statePending, attempt); err != nil {
			return "", err
		}
		d.logger.Warn("notify: attempt failed",
			"source", sourceID, "fingerprint", string(fp), "attempt", attempt, "error", lastErr)
	}

	if err := d.store.setState(ctx, sourceID, fp, stateExhausted, d.backoff.MaxAttempts); err != nil {
		return "", err
	}
	return OutcomeExhausted, fmt.Errorf("notify: %s after %d attempts: %w (last: %v)",
		string(fp), d.backoff.MaxAttempts, ErrDeliveryExhausted, lastErr)
}

// Reconcile re-arms every fingerprint of the source that is absent from the
// open set of a successful run, so an availability that toggled away and
// back notifies again. Returns the number of re-armed fingerprints.
func (d *Dispatcher) Reconcile(ctx context.Context, sourceID string, open map[availability.Fingerprint]bool) (int, error) {
	n, err := d.store.rearmAbsent(ctx, sourceID, open)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("notify: re-armed closed discoveries", "source", sourceID, "count", n)
	}
	return n, nil
}

func (d *Dispatcher) recordAttempt(sourceID string, fp availability.Fingerprint, attempt int, err error) {
	if d.onAttempt == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = err.Error()
	}
	d.onAttempt(sourceID, fp, attempt, outcome, time.Now().UTC())
}
