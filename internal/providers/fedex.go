package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/adyam/logistics-tracker/internal/browser"
	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

const (
	fedexName     = "FedEx"
	fedexTrackURL = "https://apis.fedex.com/track/v1/trackingnumbers"
	fedexTokenURL = "https://apis.fedex.com/oauth/token"
	fedexPageURL  = "https://www.fedex.com/fedextrack/"

	// tokens are refreshed this long before their reported expiry.
	tokenExpirySlack = 60 * time.Second
)

// FedEx tracks shipments through the FedEx Track API, or through the public
// tracking page when no API credentials are configured.
type FedEx struct {
	api     *fedexAPI
	scraper *fedexScraper
}

// NewFedEx builds the adapter, picking the API or scraper variant once.
func NewFedEx(deps Deps) *FedEx {
	deps.fill()
	f := &FedEx{}
	if deps.FedEx.APIKey != "" && deps.FedEx.APISecret != "" {
		f.api = &fedexAPI{
			client:   deps.HTTPClient,
			clock:    deps.Clock,
			creds:    deps.FedEx,
			trackURL: fedexTrackURL,
			tokenURL: fedexTokenURL,
		}
	} else {
		f.scraper = &fedexScraper{
			browser: deps.Browser,
			clock:   deps.Clock,
			pageURL: fedexPageURL,
		}
	}
	return f
}

// Name returns the provider display name.
func (f *FedEx) Name() string { return fedexName }

// Track produces one normalized tracking result.
func (f *FedEx) Track(ctx context.Context, awb string) (tracking.Result, error) {
	if f.api != nil {
		return f.api.track(ctx, awb)
	}
	return f.scraper.track(ctx, awb)
}

// fedexAPI holds the OAuth2 client-credentials flow and the track call.
type fedexAPI struct {
	client   *http.Client
	clock    clock.Clock
	creds    Credentials
	trackURL string
	tokenURL string

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func (a *fedexAPI) track(ctx context.Context, awb string) (tracking.Result, error) {
	body, err := a.call(ctx, awb)
	if err != nil {
		// one retry covers transient transport failures; anything beyond
		// that is the router's problem.
		body, err = a.call(ctx, awb)
	}
	if err != nil {
		return tracking.Result{}, fmt.Errorf("fedex api: %w", err)
	}
	return parseFedExAPI(awb, body, a.clock.Now()), nil
}

func (a *fedexAPI) call(ctx context.Context, awb string) ([]byte, error) {
	token, err := a.authToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	payload := map[string]any{
		"trackingInfo": []map[string]any{
			{"trackingNumberInfo": map[string]string{"trackingNumber": awb}},
		},
		"includeDetailedScans": true,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.trackURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

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

func (a *fedexAPI) authToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if a.token != "" && now.Before(a.tokenExp.Add(-tokenExpirySlack)) {
		return a.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.creds.APIKey},
		"client_secret": {a.creds.APISecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: unexpected status %s", resp.Status)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access_token")
	}

	a.token = tok.AccessToken
	a.tokenExp = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	return a.token, nil
}

type fedexTrackResponse struct {
	Output struct {
		CompleteTrackResults []struct {
			TrackResults []struct {
				LatestStatusDetail struct {
					Description  string `json:"description"`
					ScanLocation struct {
						City     string `json:"city"`
						DateTime string `json:"dateTime"`
					} `json:"scanLocation"`
				} `json:"latestStatusDetail"`
				ScanEvents []struct {
					EventDescription string `json:"eventDescription"`
					Date             string `json:"date"`
					ScanLocation     struct {
						City string `json:"city"`
					} `json:"scanLocation"`
				} `json:"scanEvents"`
			} `json:"trackResults"`
		} `json:"completeTrackResults"`
	} `json:"output"`
}

func parseFedExAPI(awb string, body []byte, now time.Time) tracking.Result {
	var parsed fedexTrackResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tracking.ErrorResult(awb, fedexName, now,
			fmt.Sprintf("malformed track response: %v", err))
	}

	if len(parsed.Output.CompleteTrackResults) == 0 ||
		len(parsed.Output.CompleteTrackResults[0].TrackResults) == 0 {
		return tracking.ErrorResult(awb, fedexName, now, "no track results for AWB")
	}
	tr := parsed.Output.CompleteTrackResults[0].TrackResults[0]

	rawStatus := tr.LatestStatusDetail.Description
	status := tracking.CleanText(rawStatus)
	if status == "" {
		status = "Unknown"
	}

	events := make([]tracking.Event, 0, len(tr.ScanEvents))
	for _, ev := range tr.ScanEvents {
		e, ok := tracking.NewEvent(ev.EventDescription, ev.ScanLocation.City,
			tracking.ParseEventTime(ev.Date))
		if ok {
			events = append(events, e)
		}
	}

	return tracking.Result{
		AWB:           awb,
		Provider:      fedexName,
		Status:        status,
		RawStatus:     rawStatus,
		LastLocation:  tracking.CleanText(tr.LatestStatusDetail.ScanLocation.City),
		LastEventTime: tracking.ParseEventTime(tr.LatestStatusDetail.ScanLocation.DateTime),
		Events:        events,
		Delivered:     tracking.IsDelivered(status),
		CheckedAt:     now,
	}
}

// fedexScraper drives the public tracking page through the browser pool.
type fedexScraper struct {
	browser SessionRunner
	clock   clock.Clock
	pageURL string
}

func (s *fedexScraper) track(ctx context.Context, awb string) (tracking.Result, error) {
	var result tracking.Result
	err := s.browser.WithSession(ctx, "fedex", func(ctx context.Context) error {
		if err := browser.Navigate(ctx, s.pageURL); err != nil {
			return fmt.Errorf("open tracking page: %w", err)
		}
		if err := browser.Fill(ctx, `input[name="trackingnumber"]`, awb); err != nil {
			return fmt.Errorf("fill tracking number: %w", err)
		}
		if err := browser.Click(ctx, `button[type="submit"]`); err != nil {
			return fmt.Errorf("submit tracking form: %w", err)
		}
		if err := browser.Settle(ctx, 2*time.Second); err != nil {
			return err
		}

		status := browser.TextOr(ctx, ".shipment-status", "Status not found")
		location, _ := browser.Text(ctx, ".location-details")
		timestamp, _ := browser.Text(ctx, ".timestamp")
		rows := browser.TextsWithin(ctx, ".tracking-event-row",
			".event-description", ".event-location", ".event-time")

		result = scrapedResult(awb, fedexName, status, location, timestamp,
			eventsFromRows(rows), s.clock.Now())
		return nil
	})
	if err != nil {
		return tracking.Result{}, fmt.Errorf("fedex scrape: %w", err)
	}
	return result, nil
}
