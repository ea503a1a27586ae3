// Package whatsapp delivers alert messages through WhatsApp Web automation.
// The browser profile lives in a persistent session directory, so one manual
// QR scan survives restarts.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adyam/logistics-tracker/internal/alerts"
	"github.com/adyam/logistics-tracker/internal/browser"
)

const (
	sendURL = "https://web.whatsapp.com/send?phone=%s"

	composerSelector = `div[contenteditable="true"][data-tab="10"], footer div[contenteditable="true"]`
	qrSelector       = `canvas[aria-label="Scan me!"], div[data-ref]`
	sentSelector     = `span[data-icon="msg-check"], span[data-icon="msg-dblcheck"]`

	composerWait = 25 * time.Second
	qrProbeWait  = 2 * time.Second
	sentWait     = 10 * time.Second
	sendSettle   = 2 * time.Second
)

// errNotAuthenticated marks a session that is waiting on a QR scan.
var errNotAuthenticated = errors.New("whatsapp session not authenticated")

// Config controls the messenger.
type Config struct {
	// SessionDir holds the Chrome profile carrying the WhatsApp login.
	SessionDir string
	// RatePerMinute caps outgoing messages; WhatsApp bans hot senders.
	RatePerMinute int
	// SendTimeout is the hard deadline for one message.
	SendTimeout time.Duration
	// Headless toggles the Chrome window. The first login needs a visible
	// window to scan the QR code.
	Headless bool
}

// Messenger implements alerts.Messenger over WhatsApp Web.
type Messenger struct {
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc

	// automate is swapped out in tests.
	automate func(ctx context.Context, phone, text string) error
}

// New builds a messenger.
func New(cfg Config, logger *zap.Logger) *Messenger {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Messenger{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1),
	}
	m.automate = m.automateSend
	return m
}

// Close tears down the browser process.
func (m *Messenger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCtx = nil
		m.allocCancel = nil
	}
}

// SendMessage delivers one text to a phone number. A malformed number or an
// unauthenticated session is a rejection, not an error; transport failures
// come back as errors so the dispatcher can retry them.
func (m *Messenger) SendMessage(ctx context.Context, phone, text string) (alerts.SendResult, error) {
	digits := sanitizePhone(phone)
	if len(digits) < 8 {
		return alerts.SendResult{Reason: fmt.Sprintf("invalid phone number %q", phone)}, nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return alerts.SendResult{}, fmt.Errorf("rate limit wait: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	err := m.automate(sendCtx, digits, text)
	switch {
	case err == nil:
		m.logger.Info("whatsapp message sent", zap.String("phone", digits))
		return alerts.SendResult{OK: true}, nil
	case errors.Is(err, errNotAuthenticated):
		m.logger.Warn("whatsapp session needs a QR scan")
		return alerts.SendResult{Reason: errNotAuthenticated.Error()}, nil
	default:
		return alerts.SendResult{}, fmt.Errorf("whatsapp send: %w", err)
	}
}

// sanitizePhone reduces a phone number to its digits; WhatsApp's send URL
// expects the country code with no plus sign.
func sanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (m *Messenger) allocator() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allocCtx != nil && m.allocCtx.Err() == nil {
		return m.allocCtx
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.logger.Warn("whatsapp browser dead, relaunching")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(m.cfg.SessionDir),
	)
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return m.allocCtx
}

func (m *Messenger) automateSend(ctx context.Context, phone, text string) error {
	taskCtx, cancelTask := chromedp.NewContext(m.allocator())
	defer cancelTask()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancelTask()
		case <-done:
		}
	}()

	if err := browser.Navigate(taskCtx, fmt.Sprintf(sendURL, phone)); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}

	if !browser.WaitVisible(taskCtx, composerSelector, composerWait) {
		if browser.WaitVisible(taskCtx, qrSelector, qrProbeWait) {
			return errNotAuthenticated
		}
		return fmt.Errorf("message composer did not appear")
	}

	if err := chromedp.Run(taskCtx,
		chromedp.SendKeys(composerSelector, text),
		chromedp.SendKeys(composerSelector, "\r"),
	); err != nil {
		return fmt.Errorf("type message: %w", err)
	}

	// the outgoing bubble shows a clock until the server acks with a check.
	if !browser.WaitVisible(taskCtx, sentSelector, sentWait) {
		return fmt.Errorf("no send confirmation")
	}

	// give the client a moment before the tab dies.
	return browser.Settle(taskCtx, sendSettle)
}
