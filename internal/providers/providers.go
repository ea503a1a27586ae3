// Package providers implements the six courier integrations behind the
// tracking.Provider interface. FedEx and DHL are API-first and fall back to
// a scraper when no credentials are configured; the choice is made once at
// construction. ICL and United Express drive live pages through the browser
// pool; Atlantic and Courier Wala tracking pages are server-rendered and
// are scraped over plain HTTP.
package providers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/adyam/logistics-tracker/internal/browser"
	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

// Tag identifies one courier integration in the registry and in stored
// shipment rows.
type Tag string

// Known courier tags.
const (
	TagFedEx         Tag = "fedex"
	TagDHL           Tag = "dhl"
	TagICL           Tag = "icl"
	TagUnitedExpress Tag = "unitedexpress"
	TagCourierWala   Tag = "courierwala"
	TagAtlantic      Tag = "atlantic"
)

// SessionRunner is the slice of the browser pool the scrapers need.
type SessionRunner interface {
	WithSession(ctx context.Context, name string, task browser.Task) error
}

// Credentials holds one courier's API credentials. Empty credentials select
// the scraper variant.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Deps carries the shared collaborators adapters are built from.
type Deps struct {
	Browser    SessionRunner
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *zap.Logger
	UserAgent  string

	FedEx Credentials
	DHL   Credentials
}

func (d *Deps) fill() {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

// NewRegistry builds the full adapter set keyed by provider tag.
func NewRegistry(deps Deps) map[Tag]tracking.Provider {
	deps.fill()
	return map[Tag]tracking.Provider{
		TagFedEx:         NewFedEx(deps),
		TagDHL:           NewDHL(deps),
		TagICL:           NewICL(deps),
		TagUnitedExpress: NewUnitedExpress(deps),
		TagCourierWala:   NewCourierWala(deps),
		TagAtlantic:      NewAtlantic(deps),
	}
}
