// Package browser owns the shared headless Chrome process and hands out
// isolated, pre-configured sessions to courier scrapers.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/adyam/logistics-tracker/internal/metrics"
	"github.com/adyam/logistics-tracker/internal/retry"
)

// Config controls the behavior of the browser pool.
type Config struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	NavTimeout     time.Duration
	MaxAttempts    int
	Backoff        time.Duration
}

// Task runs inside one isolated browser session. The context it receives is
// a chromedp context carrying the session's hard timeout.
type Task func(ctx context.Context) error

// Archiver persists failure artifacts (screenshots) for debugging.
type Archiver interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Pool manages the single long-lived Chrome process. The process launches
// lazily on first use and is relaunched if found dead. Each WithSession
// call gets its own browser context, so cookies and storage never leak
// between couriers or polls.
type Pool struct {
	cfg      Config
	logger   *zap.Logger
	archiver Archiver

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc

	runner func(ctx context.Context, name string, task Task, finalAttempt bool) error
}

// NewPool creates a Pool. The archiver may be nil to disable failure
// screenshots.
func NewPool(cfg Config, logger *zap.Logger, archiver Archiver) *Pool {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	p := &Pool{
		cfg:      cfg,
		logger:   logger,
		archiver: archiver,
	}
	p.runner = p.runSession
	return p
}

// Close tears down the shared browser process.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCtx = nil
		p.allocCancel = nil
	}
}

// allocator returns the shared exec allocator, launching or relaunching
// Chrome as needed. This is the only place the process is started.
func (p *Pool) allocator() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allocCtx != nil && p.allocCtx.Err() == nil {
		return p.allocCtx
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.logger.Warn("browser allocator dead, relaunching")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("lang", p.cfg.Locale),
	)
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return p.allocCtx
}

// WithSession acquires a fresh isolated session, runs the task, and
// guarantees the session is released on every exit path. The whole
// acquire-run cycle is retried with linearly increasing backoff; only the
// final failure is propagated, wrapped with the attempt count.
func (p *Pool) WithSession(ctx context.Context, name string, task Task) error {
	policy := retry.Linear{Attempts: p.cfg.MaxAttempts, Step: p.cfg.Backoff}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts(); attempt++ {
		if err := retry.Wait(ctx, policy, attempt); err != nil {
			return fmt.Errorf("browser session wait canceled: %w", err)
		}
		err := p.runner(ctx, name, task, attempt == policy.MaxAttempts())
		if err == nil {
			metrics.ObserveBrowserSession("ok")
			return nil
		}
		lastErr = err
		metrics.ObserveBrowserSession("error")
		p.logger.Warn("browser session attempt failed",
			zap.String("session", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return fmt.Errorf("browser session %q failed after %d attempts: %w",
		name, policy.MaxAttempts(), lastErr)
}

func (p *Pool) runSession(ctx context.Context, name string, task Task, finalAttempt bool) error {
	taskCtx, cancelTask := chromedp.NewContext(p.allocator())
	defer cancelTask()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, p.cfg.NavTimeout)
	defer cancelTimeout()

	// The chromedp context descends from the allocator, not the caller;
	// propagate caller cancellation by hand.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancelTask()
		case <-done:
		}
	}()

	if err := chromedp.Run(taskCtx, p.identityActions()...); err != nil {
		return fmt.Errorf("prepare session: %w", err)
	}

	if err := task(taskCtx); err != nil {
		if finalAttempt {
			p.archiveScreenshot(taskCtx, name)
		}
		return fmt.Errorf("run session task: %w", err)
	}
	return nil
}

// identityActions applies the realistic identity profile to a fresh session.
func (p *Pool) identityActions() []chromedp.Action {
	actions := []chromedp.Action{}
	if p.cfg.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.cfg.UserAgent)
		if p.cfg.Locale != "" {
			ua = ua.WithAcceptLanguage(p.cfg.Locale)
		}
		actions = append(actions, ua)
	}
	if p.cfg.ViewportWidth > 0 && p.cfg.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(
			int64(p.cfg.ViewportWidth), int64(p.cfg.ViewportHeight)))
	}
	return actions
}

// archiveScreenshot best-effort captures the page on the final failed
// attempt. Its own failure is only logged.
func (p *Pool) archiveScreenshot(taskCtx context.Context, name string) {
	if p.archiver == nil || taskCtx.Err() != nil {
		return
	}
	var shot []byte
	if err := chromedp.Run(taskCtx, chromedp.CaptureScreenshot(&shot)); err != nil {
		p.logger.Debug("failure screenshot capture failed",
			zap.String("session", name), zap.Error(err))
		return
	}
	path := fmt.Sprintf("failures/%s/%d.png", name, time.Now().UTC().UnixNano())
	if _, err := p.archiver.PutObject(context.Background(), path, "image/png", shot); err != nil {
		p.logger.Debug("failure screenshot archive failed",
			zap.String("session", name), zap.Error(err))
	}
}
