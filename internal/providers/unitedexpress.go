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
	unitedExpressName    = "United Express"
	unitedExpressPageURL = "https://www.unitedexpress.in/track"
)

// UnitedExpress scrapes the United Express tracking page.
type UnitedExpress struct {
	browser SessionRunner
	clock   clock.Clock
	pageURL string
}

// NewUnitedExpress builds the adapter.
func NewUnitedExpress(deps Deps) *UnitedExpress {
	deps.fill()
	return &UnitedExpress{
		browser: deps.Browser,
		clock:   deps.Clock,
		pageURL: unitedExpressPageURL,
	}
}

// Name returns the provider display name.
func (p *UnitedExpress) Name() string { return unitedExpressName }

// Track produces one normalized tracking result.
func (p *UnitedExpress) Track(ctx context.Context, awb string) (tracking.Result, error) {
	var result tracking.Result
	err := p.browser.WithSession(ctx, "unitedexpress", func(ctx context.Context) error {
		if err := browser.Navigate(ctx, p.pageURL); err != nil {
			return fmt.Errorf("open tracking page: %w", err)
		}
		if err := browser.Fill(ctx, `input#trackingNumber, input[name="tracking"]`, awb); err != nil {
			return fmt.Errorf("fill tracking number: %w", err)
		}
		if err := browser.Click(ctx, `button.track-btn, input[type="submit"]`); err != nil {
			return fmt.Errorf("submit tracking form: %w", err)
		}
		if err := browser.Settle(ctx, 2*time.Second); err != nil {
			return err
		}

		status := browser.TextOr(ctx, ".shipment-status, .status", "Status not found")
		location, _ := browser.Text(ctx, ".current-location, .location")
		timestamp, _ := browser.Text(ctx, ".last-updated, .timestamp")
		texts := browser.Texts(ctx, ".tracking-history tr, .event-item")

		result = scrapedResult(awb, unitedExpressName, status, location, timestamp,
			eventsFromTexts(texts), p.clock.Now())
		return nil
	})
	if err != nil {
		return tracking.Result{}, fmt.Errorf("unitedexpress scrape: %w", err)
	}
	return result, nil
}
