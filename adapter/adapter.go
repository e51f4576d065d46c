// Package adapter defines the contract between the scheduler and the units
// that know how to query one external availability source, plus the registry
// mapping an adapter kind to its factory. The engine never inspects adapter
// internals: it calls Check and consumes records.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/yadowatch/availability"
	"github.com/hazyhaar/yadowatch/browser"
	"github.com/hazyhaar/yadowatch/fetch"
)

// Adapter checks one external source and returns availability findings.
//
// Implementations convert every internal failure (network, parse, timeout)
// into a returned error; nothing may panic across this boundary. The caller
// bounds each invocation with a deadline on ctx, and implementations must
// observe cancellation at every network or navigation step.
type Adapter interface {
	Kind() string
	Check(ctx context.Context) ([]availability.Record, error)
}

// Env carries the shared resources adapters draw on. Browser may be nil for
// deployments with no multi-stage sources.
type Env struct {
	Fetch   *fetch.Client
	Browser *browser.Pool
	Logger  *slog.Logger
}

// Params carries the adapter-specific parameters of one configured source.
// Immutable after load.
type Params struct {
	SourceID string
	Name     string
	// URL is the entry point: listing page, ticket page, or item page.
	URL string
	// TargetDates are normalized YYYY-MM-DD dates the caller cares about.
	// Records outside this set are discarded during aggregation.
	TargetDates []string
	// Location labels records from this source (venue/region string).
	Location string
	// BookingHost identifies the external booking system linked from item
	// pages (multi-stage sources only).
	BookingHost string
	// Retries bounds per-stage retries on transient failures.
	Retries int
	// Options holds adapter-specific extras (marker overrides etc.).
	Options map[string]string
}

// TargetSet returns the target dates as a lookup set, nil when the source
// has no date filter.
func (p Params) TargetSet() map[string]bool {
	if len(p.TargetDates) == 0 {
		return nil
	}
	set := make(map[string]bool, len(p.TargetDates))
	for _, d := range p.TargetDates {
		set[d] = true
	}
	return set
}

// Factory builds an adapter for one source from its parameters.
type Factory func(env Env, p Params) (Adapter, error)

// Registry maps adapter kinds to factories. Adding a source kind is a
// registration, never a scheduler change.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a kind to a factory, replacing any previous binding.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New builds an adapter of the given kind.
func (r *Registry) New(kind string, env Env, p Params) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown kind %q (registered: %v)", kind, r.Kinds())
	}
	return f(env, p)
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
