package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/adyam/logistics-tracker/internal/browser"
	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

const (
	dhlName     = "DHL"
	dhlTrackURL = "https://api-eu.dhl.com/track/shipments"
	dhlPageURL  = "https://www.dhl.com/en/express/tracking.html"
)

// DHL tracks shipments through the DHL unified tracking API, or through the
// public tracking page when no API key is configured.
type DHL struct {
	api     *dhlAPI
	scraper *dhlScraper
}

// NewDHL builds the adapter, picking the API or scraper variant once.
func NewDHL(deps Deps) *DHL {
	deps.fill()
	d := &DHL{}
	if deps.DHL.APIKey != "" {
		d.api = &dhlAPI{
			client:   deps.HTTPClient,
			clock:    deps.Clock,
			apiKey:   deps.DHL.APIKey,
			trackURL: dhlTrackURL,
		}
	} else {
		d.scraper = &dhlScraper{
			browser: deps.Browser,
			clock:   deps.Clock,
			pageURL: dhlPageURL,
		}
	}
	return d
}

// Name returns the provider display name.
func (d *DHL) Name() string { return dhlName }

// Track produces one normalized tracking result.
func (d *DHL) Track(ctx context.Context, awb string) (tracking.Result, error) {
	if d.api != nil {
		return d.api.track(ctx, awb)
	}
	return d.scraper.track(ctx, awb)
}

type dhlAPI struct {
	client   *http.Client
	clock    clock.Clock
	apiKey   string
	trackURL string
}

func (a *dhlAPI) track(ctx context.Context, awb string) (tracking.Result, error) {
	body, err := a.call(ctx, awb)
	if err != nil {
		body, err = a.call(ctx, awb)
	}
	if err != nil {
		return tracking.Result{}, fmt.Errorf("dhl api: %w", err)
	}
	return parseDHLAPI(awb, body, a.clock.Now()), nil
}

func (a *dhlAPI) call(ctx context.Context, awb string) ([]byte, error) {
	u := a.trackURL + "?trackingNumber=" + url.QueryEscape(awb)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("DHL-API-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("track request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("track request: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

type dhlTrackResponse struct {
	Shipments []struct {
		Status struct {
			StatusCode  string `json:"statusCode"`
			Description string `json:"description"`
			Timestamp   string `json:"timestamp"`
			Location    struct {
				Address struct {
					AddressLocality string `json:"addressLocality"`
				} `json:"address"`
			} `json:"location"`
		} `json:"status"`
		Events []struct {
			Description string `json:"description"`
			Timestamp   string `json:"timestamp"`
			Location    struct {
				Address struct {
					AddressLocality string `json:"addressLocality"`
				} `json:"address"`
			} `json:"location"`
		} `json:"events"`
	} `json:"shipments"`
}

func parseDHLAPI(awb string, body []byte, now time.Time) tracking.Result {
	var parsed dhlTrackResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tracking.ErrorResult(awb, dhlName, now,
			fmt.Sprintf("malformed track response: %v", err))
	}
	if len(parsed.Shipments) == 0 {
		return tracking.ErrorResult(awb, dhlName, now, "no shipments for AWB")
	}
	sh := parsed.Shipments[0]

	rawStatus := sh.Status.Description
	if rawStatus == "" {
		rawStatus = sh.Status.StatusCode
	}
	status := tracking.CleanText(rawStatus)
	if status == "" {
		status = "Unknown"
	}

	events := make([]tracking.Event, 0, len(sh.Events))
	for _, ev := range sh.Events {
		e, ok := tracking.NewEvent(ev.Description, ev.Location.Address.AddressLocality,
			tracking.ParseEventTime(ev.Timestamp))
		if ok {
			events = append(events, e)
		}
	}

	return tracking.Result{
		AWB:           awb,
		Provider:      dhlName,
		Status:        status,
		RawStatus:     rawStatus,
		LastLocation:  tracking.CleanText(sh.Status.Location.Address.AddressLocality),
		LastEventTime: tracking.ParseEventTime(sh.Status.Timestamp),
		Events:        events,
		Delivered:     tracking.IsDelivered(status),
		CheckedAt:     now,
	}
}

type dhlScraper struct {
	browser SessionRunner
	clock   clock.Clock
	pageURL string
}

func (s *dhlScraper) track(ctx context.Context, awb string) (tracking.Result, error) {
	var result tracking.Result
	err := s.browser.WithSession(ctx, "dhl", func(ctx context.Context) error {
		if err := browser.Navigate(ctx, s.pageURL); err != nil {
			return fmt.Errorf("open tracking page: %w", err)
		}
		if err := browser.Fill(ctx, "#tracking-id-input", awb); err != nil {
			return fmt.Errorf("fill tracking number: %w", err)
		}
		if err := browser.Click(ctx, `button[type="submit"]`); err != nil {
			return fmt.Errorf("submit tracking form: %w", err)
		}
		if err := browser.Settle(ctx, 2*time.Second); err != nil {
			return err
		}

		status := browser.TextOr(ctx, ".delivery-status-text", "Status not found")
		location, _ := browser.Text(ctx, ".location-name")
		timestamp, _ := browser.Text(ctx, ".delivery-date")
		rows := browser.TextsWithin(ctx, ".checkpoint-item",
			".checkpoint-status", ".checkpoint-location", ".checkpoint-time")

		result = scrapedResult(awb, dhlName, status, location, timestamp,
			eventsFromRows(rows), s.clock.Now())
		return nil
	})
	if err != nil {
		return tracking.Result{}, fmt.Errorf("dhl scrape: %w", err)
	}
	return result, nil
}
