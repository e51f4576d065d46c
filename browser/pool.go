// Package browser manages Chrome lifecycle for adapters that need rendered
// pages: launch or connect via Rod, hand out a bounded number of exclusive
// sessions, monitor memory, and recycle the process on threshold or uptime so
// week-long runs do not accumulate browser state.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the pool.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// MaxSessions bounds concurrently open sessions. Default: 2.
	MaxSessions int

	// MemoryLimit in bytes. Recycle Chrome when exceeded. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 2
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pool owns one Chrome process and a bounded set of sessions on it.
type Pool struct {
	cfg     Config
	slots   chan struct{}
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
}

// NewPool creates a Pool. Call Start to launch Chrome.
func NewPool(cfg Config) *Pool {
	cfg.defaults()
	slots := make(chan struct{}, cfg.MaxSessions)
	for i := 0; i < cfg.MaxSessions; i++ {
		slots <- struct{}{}
	}
	return &Pool{cfg: cfg, slots: slots}
}

// Start launches Chrome (or connects to a remote instance) and begins the
// recycle monitor.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("browser: pool is closed")
	}
	if p.browser != nil {
		return nil
	}

	b, err := p.launch()
	if err != nil {
		return err
	}
	p.browser = b
	p.startAt = time.Now()

	go p.monitorLoop(ctx)
	return nil
}

// Acquire blocks for a free session slot, then opens a fresh page. The
// returned Session is for exclusive use; Close releases the slot.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s, err := p.openSession(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	return s, nil
}

func (p *Pool) openSession(ctx context.Context) (*Session, error) {
	p.mu.RLock()
	b := p.browser
	p.mu.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("browser: pool not started")
	}

	page, err := newStealthPage(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	return &Session{
		page:    page,
		logger:  p.cfg.Logger,
		release: func() { p.slots <- struct{}{} },
	}, nil
}

// Close shuts down Chrome. In-flight sessions become unusable.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.cleanup()
}

func (p *Pool) launch() (*rod.Browser, error) {
	log := p.cfg.Logger

	var wsURL string
	if p.cfg.RemoteURL != "" {
		wsURL = p.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(true)
		// Anti-detection flag; booking systems reject obvious automation.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		p.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (p *Pool) cleanup() error {
	if p.browser != nil {
		p.browser.Close()
		p.browser = nil
	}
	if p.lnch != nil {
		p.lnch.Cleanup()
		p.lnch = nil
	}
	return nil
}

// Recycle kills Chrome and restarts it. Every session slot is reserved for
// the duration, so it waits out in-flight sessions and no new session can
// start against the dying process.
func (p *Pool) Recycle(ctx context.Context) error {
	for i := 0; i < cap(p.slots); i++ {
		select {
		case <-p.slots:
		case <-ctx.Done():
			for ; i > 0; i-- {
				p.slots <- struct{}{}
			}
			return ctx.Err()
		}
	}
	defer func() {
		for i := 0; i < cap(p.slots); i++ {
			p.slots <- struct{}{}
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("browser: pool is closed")
	}

	log := p.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(p.startAt))

	if err := p.cleanup(); err != nil {
		log.Warn("browser: cleanup during recycle", "error", err)
	}

	b, err := p.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	p.browser = b
	p.startAt = time.Now()
	log.Info("browser: recycled successfully")
	return nil
}

func (p *Pool) idle() bool {
	return len(p.slots) == cap(p.slots)
}

func (p *Pool) monitorLoop(ctx context.Context) {
	log := p.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			if p.closed || p.browser == nil {
				p.mu.RUnlock()
				return
			}
			startAt := p.startAt
			b := p.browser
			p.mu.RUnlock()

			// Heuristic only: Recycle itself reserves the slots, so a
			// session acquired after this check still blocks the recycle.
			if !p.idle() {
				continue
			}

			if time.Since(startAt) > p.cfg.RecycleInterval {
				log.Info("browser: recycle interval reached")
				if err := p.Recycle(ctx); err != nil {
					log.Error("browser: recycle failed", "error", err)
				}
				continue
			}

			used, err := jsHeapUsage(b)
			if err != nil {
				log.Debug("browser: heap check failed", "error", err)
				continue
			}
			if used > p.cfg.MemoryLimit {
				log.Info("browser: memory limit exceeded",
					"used", used, "limit", p.cfg.MemoryLimit)
				if err := p.Recycle(ctx); err != nil {
					log.Error("browser: recycle failed", "error", err)
				}
			}
		}
	}
}

// jsHeapUsage queries Chrome's JS heap via the first open page as a proxy.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("no pages for heap check")
	}
	res, err := pages[0].Eval(`() => {
		if (performance.memory) {
			return performance.memory.usedJSHeapSize;
		}
		return 0;
	}`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
