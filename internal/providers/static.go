package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

// staticScraper fetches a server-rendered tracking page over plain HTTP
// with colly. Atlantic and Courier Wala render results without JavaScript,
// so no browser session is needed for them.
type staticScraper struct {
	name      string
	trackURL  string // base URL; the AWB is appended as the query parameter
	awbParam  string
	userAgent string
	clock     clock.Clock
	timeout   time.Duration

	statusSel   string
	locationSel string
	timeSel     string
	eventSel    string
}

func (s *staticScraper) track(ctx context.Context, awb string) (tracking.Result, error) {
	if err := ctx.Err(); err != nil {
		return tracking.Result{}, err
	}

	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	if s.userAgent != "" {
		c.UserAgent = s.userAgent
	}
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	var (
		status    string
		location  string
		timestamp string
		texts     []string
		fetchErr  error
	)
	c.OnHTML(s.statusSel, func(e *colly.HTMLElement) {
		if status == "" {
			status = e.Text
		}
	})
	c.OnHTML(s.locationSel, func(e *colly.HTMLElement) {
		if location == "" {
			location = e.Text
		}
	})
	c.OnHTML(s.timeSel, func(e *colly.HTMLElement) {
		if timestamp == "" {
			timestamp = e.Text
		}
	})
	c.OnHTML(s.eventSel, func(e *colly.HTMLElement) {
		texts = append(texts, e.Text)
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	target := fmt.Sprintf("%s?%s=%s", s.trackURL, s.awbParam, url.QueryEscape(awb))
	if err := c.Visit(target); err != nil {
		return tracking.Result{}, fmt.Errorf("%s fetch: %w", s.name, err)
	}
	c.Wait()
	if fetchErr != nil {
		return tracking.Result{}, fmt.Errorf("%s fetch: %w", s.name, fetchErr)
	}

	if status == "" {
		status = "Status not found"
	}
	return scrapedResult(awb, s.name, status, location, timestamp,
		eventsFromTexts(texts), s.clock.Now()), nil
}

const (
	atlanticName     = "Atlantic"
	atlanticTrackURL = "https://www.atlanticcourier.com/tracking"

	courierWalaName     = "Courier Wala"
	courierWalaTrackURL = "https://www.courierwala.com/track"
)

// Atlantic scrapes the Atlantic Courier tracking page.
type Atlantic struct {
	scraper *staticScraper
}

// NewAtlantic builds the adapter.
func NewAtlantic(deps Deps) *Atlantic {
	deps.fill()
	return &Atlantic{scraper: &staticScraper{
		name:        atlanticName,
		trackURL:    atlanticTrackURL,
		awbParam:    "trackingNo",
		userAgent:   deps.UserAgent,
		clock:       deps.Clock,
		statusSel:   ".status-text, .shipment-status",
		locationSel: ".location-text, .current-loc",
		timeSel:     ".update-time, .timestamp",
		eventSel:    ".event-list tr, .tracking-row",
	}}
}

// Name returns the provider display name.
func (p *Atlantic) Name() string { return atlanticName }

// Track produces one normalized tracking result.
func (p *Atlantic) Track(ctx context.Context, awb string) (tracking.Result, error) {
	return p.scraper.track(ctx, awb)
}

// CourierWala scrapes the Courier Wala tracking page.
type CourierWala struct {
	scraper *staticScraper
}

// NewCourierWala builds the adapter.
func NewCourierWala(deps Deps) *CourierWala {
	deps.fill()
	return &CourierWala{scraper: &staticScraper{
		name:        courierWalaName,
		trackURL:    courierWalaTrackURL,
		awbParam:    "awb",
		userAgent:   deps.UserAgent,
		clock:       deps.Clock,
		statusSel:   ".delivery-status, .status",
		locationSel: ".location-info, .location",
		timeSel:     ".date-time, .timestamp",
		eventSel:    ".tracking-event, .history-row",
	}}
}

// Name returns the provider display name.
func (p *CourierWala) Name() string { return courierWalaName }

// Track produces one normalized tracking result.
func (p *CourierWala) Track(ctx context.Context, awb string) (tracking.Result, error) {
	return p.scraper.track(ctx, awb)
}
