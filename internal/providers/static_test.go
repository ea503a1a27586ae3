package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const atlanticPage = `<!doctype html>
<html><body>
  <div class="shipment-status">Delivered</div>
  <div class="current-loc">Chennai Hub</div>
  <div class="timestamp">2024-03-04 11:20</div>
  <div class="tracking-row">Delivered to consignee</div>
  <div class="tracking-row">Out for delivery</div>
  <div class="tracking-row">Arrived at Chennai Hub</div>
</body></html>`

func TestStaticScraperParsesRenderedPage(t *testing.T) {
	t.Parallel()

	var gotAWB string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAWB = r.URL.Query().Get("trackingNo")
		_, _ = w.Write([]byte(atlanticPage))
	}))
	defer server.Close()

	p := NewAtlantic(Deps{Clock: fakeClock{now: time.Unix(1700000000, 0).UTC()}})
	p.scraper.trackURL = server.URL

	r, err := p.Track(context.Background(), "ATL123456")
	require.NoError(t, err)
	require.Equal(t, "ATL123456", gotAWB)
	require.Equal(t, "Delivered", r.Status)
	require.True(t, r.Delivered)
	require.Equal(t, "Chennai Hub", r.LastLocation)
	require.Len(t, r.Events, 3)
	require.Equal(t, "Delivered to consignee", r.Events[0].Description)
	require.False(t, r.Failed())
}

func TestStaticScraperMissingStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	}))
	defer server.Close()

	p := NewCourierWala(Deps{Clock: fakeClock{now: time.Unix(1700000000, 0).UTC()}})
	p.scraper.trackURL = server.URL

	r, err := p.Track(context.Background(), "CW-1")
	require.NoError(t, err)
	require.Equal(t, "Status not found", r.Status)
	require.False(t, r.Delivered)
	require.Empty(t, r.Events)
}

func TestStaticScraperServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewAtlantic(Deps{})
	p.scraper.trackURL = server.URL

	_, err := p.Track(context.Background(), "ATL123456")
	require.Error(t, err)
}

func TestStaticScraperCancelledContext(t *testing.T) {
	t.Parallel()

	p := NewAtlantic(Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Track(ctx, "ATL123456")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistryCoversAllTags(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Deps{})
	require.Len(t, reg, 6)
	for _, tag := range []Tag{
		TagFedEx, TagDHL, TagICL, TagUnitedExpress, TagCourierWala, TagAtlantic,
	} {
		require.Contains(t, reg, tag, "missing provider for tag %q", tag)
		require.NotEmpty(t, reg[tag].Name())
	}
}
