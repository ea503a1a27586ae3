package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adyam/logistics-tracker/internal/tracking"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func fedexFixture() []byte {
	payload := map[string]any{
		"output": map[string]any{
			"completeTrackResults": []any{
				map[string]any{
					"trackResults": []any{
						map[string]any{
							"latestStatusDetail": map[string]any{
								"description": "  Delivered \n",
								"scanLocation": map[string]any{
									"city":     "MEMPHIS",
									"dateTime": "2024-03-01T10:30:00Z",
								},
							},
							"scanEvents": []any{
								map[string]any{
									"eventDescription": "Delivered",
									"date":             "2024-03-01T10:30:00Z",
									"scanLocation":     map[string]any{"city": "MEMPHIS"},
								},
								map[string]any{
									"eventDescription": "",
									"date":             "2024-02-28T08:00:00Z",
								},
								map[string]any{
									"eventDescription": "On FedEx vehicle for delivery",
									"date":             "2024-03-01T06:12:00Z",
									"scanLocation":     map[string]any{"city": "MEMPHIS"},
								},
							},
						},
					},
				},
			},
		},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestParseFedExAPI(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	r := parseFedExAPI("886520976940", fedexFixture(), now)

	require.Equal(t, "Delivered", r.Status)
	require.True(t, r.Delivered)
	require.Equal(t, "MEMPHIS", r.LastLocation)
	require.NotNil(t, r.LastEventTime)
	// the empty-description scan event is discarded
	require.Len(t, r.Events, 2)
	require.False(t, r.Failed())
	require.Equal(t, now, r.CheckedAt)
}

func TestParseFedExAPIEmptyResults(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	r := parseFedExAPI("X", []byte(`{"output":{}}`), now)
	require.True(t, r.Failed())
	require.False(t, r.Delivered)
	require.Empty(t, r.Events)
}

func TestFedExAPITokenCachedUntilNearExpiry(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/track", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write(fedexFixture())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	api := &fedexAPI{
		client:   server.Client(),
		clock:    fakeClock{now: time.Unix(1700000000, 0).UTC()},
		creds:    Credentials{APIKey: "k", APISecret: "s"},
		trackURL: server.URL + "/track",
		tokenURL: server.URL + "/token",
	}

	for n := 0; n < 3; n++ {
		r, err := api.track(context.Background(), "886520976940")
		require.NoError(t, err)
		require.True(t, r.Delivered)
	}
	require.Equal(t, int32(1), tokenCalls.Load())
}

func TestFedExAPITokenRefreshedAfterExpiry(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"expires_in":   30, // expires inside the refresh slack
		})
	})
	mux.HandleFunc("/track", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(fedexFixture())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	api := &fedexAPI{
		client:   server.Client(),
		clock:    fakeClock{now: time.Unix(1700000000, 0).UTC()},
		creds:    Credentials{APIKey: "k", APISecret: "s"},
		trackURL: server.URL + "/track",
		tokenURL: server.URL + "/token",
	}

	_, err := api.track(context.Background(), "886520976940")
	require.NoError(t, err)
	_, err = api.track(context.Background(), "886520976940")
	require.NoError(t, err)
	require.Equal(t, int32(2), tokenCalls.Load())
}

func TestNewFedExSelectsVariantAtConstruction(t *testing.T) {
	t.Parallel()

	withCreds := NewFedEx(Deps{FedEx: Credentials{APIKey: "k", APISecret: "s"}})
	require.NotNil(t, withCreds.api)
	require.Nil(t, withCreds.scraper)

	withoutCreds := NewFedEx(Deps{})
	require.Nil(t, withoutCreds.api)
	require.NotNil(t, withoutCreds.scraper)
	require.Equal(t, "FedEx", withoutCreds.Name())
}

func TestFedExAPITransportFailureIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	api := &fedexAPI{
		client:   server.Client(),
		clock:    fakeClock{now: time.Now().UTC()},
		creds:    Credentials{APIKey: "k", APISecret: "s"},
		trackURL: server.URL + "/track",
		tokenURL: server.URL + "/token",
	}
	_, err := api.track(context.Background(), "886520976940")
	require.Error(t, err)
}

var _ tracking.Provider = (*FedEx)(nil)
