package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/adyam/logistics-tracker/internal/browser"
	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

const (
	iclName    = "ICL"
	iclPageURL = "https://www.iclnet.in/tracking"

	// the ICL results widget renders slowly; cap the history rows the way
	// the page itself caps visible entries.
	iclMaxEvents = 10
)

// ICL scrapes the India Cargo Logistics tracking page. The site has no API.
type ICL struct {
	browser SessionRunner
	clock   clock.Clock
	pageURL string
}

// NewICL builds the adapter.
func NewICL(deps Deps) *ICL {
	deps.fill()
	return &ICL{
		browser: deps.Browser,
		clock:   deps.Clock,
		pageURL: iclPageURL,
	}
}

// Name returns the provider display name.
func (p *ICL) Name() string { return iclName }

// Track produces one normalized tracking result.
func (p *ICL) Track(ctx context.Context, awb string) (tracking.Result, error) {
	var result tracking.Result
	err := p.browser.WithSession(ctx, "icl", func(ctx context.Context) error {
		if err := browser.Navigate(ctx, p.pageURL); err != nil {
			return fmt.Errorf("open tracking page: %w", err)
		}
		if err := browser.Fill(ctx, `input[name="awb"]`, awb); err != nil {
			return fmt.Errorf("fill tracking number: %w", err)
		}
		if err := browser.Click(ctx, `button[type="submit"], input[type="submit"]`); err != nil {
			return fmt.Errorf("submit tracking form: %w", err)
		}
		if err := browser.Settle(ctx, 3*time.Second); err != nil {
			return err
		}

		status := browser.TextOr(ctx, ".status, .tracking-status", "Status not found")
		location, _ := browser.Text(ctx, ".location, .current-location")
		timestamp, _ := browser.Text(ctx, ".timestamp, .last-update")
		texts := browser.Texts(ctx, ".event-row, .tracking-event")
		if len(texts) > iclMaxEvents {
			texts = texts[:iclMaxEvents]
		}

		result = scrapedResult(awb, iclName, status, location, timestamp,
			eventsFromTexts(texts), p.clock.Now())
		return nil
	})
	if err != nil {
		return tracking.Result{}, fmt.Errorf("icl scrape: %w", err)
	}
	return result, nil
}
