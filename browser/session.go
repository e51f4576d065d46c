package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Session is one exclusively-held browser page. It is not safe for
// concurrent use; the holding adapter releases it via Close.
type Session struct {
	page    *rod.Page
	logger  *slog.Logger
	release func()
	closed  bool
}

func newStealthPage(b *rod.Browser) (*rod.Page, error) {
	return stealth.Page(b)
}

// Navigate loads a URL and waits for the load event, bounded by ctx.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := s.page.Context(ctx).WaitLoad(); err != nil {
		// Slow trailing resources are common on booking pages; the caller
		// decides whether the DOM it needs is actually there.
		s.logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// WaitVisible polls until any of the CSS selectors matches a node or the
// timeout passes. Returns false on timeout without error: absence of a
// marker is a finding, not a fault.
func (s *Session) WaitVisible(ctx context.Context, selectors []string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			res, err := s.page.Context(ctx).Eval(`(sel) => document.querySelector(sel) !== null`, sel)
			if err != nil {
				return false, fmt.Errorf("browser: query %q: %w", sel, err)
			}
			if res.Value.Bool() {
				return true, nil
			}
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// HTML serialises the current DOM as outer HTML.
func (s *Session) HTML(ctx context.Context) ([]byte, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close closes the page and returns the slot to the pool. Idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.logger.Debug("browser: close page", "error", err)
		}
	}
	s.release()
}
