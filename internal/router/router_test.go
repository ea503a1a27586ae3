package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adyam/logistics-tracker/internal/providers"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

type fakeProvider struct {
	name string

	mu    sync.Mutex
	calls []string

	result tracking.Result
	err    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Track(_ context.Context, awb string) (tracking.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, awb)
	f.mu.Unlock()
	if f.err != nil {
		return tracking.Result{}, f.err
	}
	r := f.result
	r.AWB = awb
	r.Provider = f.name
	return r, nil
}

func testRegistry() (map[providers.Tag]tracking.Provider, map[providers.Tag]*fakeProvider) {
	fakes := map[providers.Tag]*fakeProvider{
		providers.TagFedEx:         {name: "FedEx"},
		providers.TagDHL:           {name: "DHL"},
		providers.TagICL:           {name: "ICL"},
		providers.TagUnitedExpress: {name: "United Express"},
		providers.TagCourierWala:   {name: "Courier Wala"},
		providers.TagAtlantic:      {name: "Atlantic"},
	}
	registry := make(map[providers.Tag]tracking.Provider, len(fakes))
	for tag, f := range fakes {
		registry[tag] = f
	}
	return registry, fakes
}

func TestResolve(t *testing.T) {
	t.Parallel()

	registry, _ := testRegistry()
	r := New(registry, nil, nil)

	tests := []struct {
		name    string
		awb     string
		hint    string
		want    string
		wantErr bool
	}{
		{name: "hint wins over shape", awb: "886520976940", hint: "FedEx Express", want: "FedEx"},
		{name: "twelve digit fedex heuristic", awb: "886520976940", want: "FedEx"},
		{name: "ten digit dhl heuristic", awb: "1234567890", want: "DHL"},
		{name: "eight digit dhl heuristic", awb: "99195357", want: "DHL"},
		{name: "dhl hint", awb: "ABC", hint: "shipped via DHL", want: "DHL"},
		{name: "icl hint", awb: "ABC", hint: "ICL courier", want: "ICL"},
		{name: "united hint", awb: "ABC", hint: "united express", want: "United Express"},
		{name: "wala hint", awb: "ABC", hint: "Courier Wala", want: "Courier Wala"},
		{name: "atlantic hint", awb: "ABC", hint: "atlantic", want: "Atlantic"},
		{name: "hint is case insensitive", awb: "ABC", hint: "FEDEX", want: "FedEx"},
		{name: "unknown hint and shape", awb: "ABC-123", hint: "unknowncourier", wantErr: true},
		{name: "empty everything", awb: "", hint: "", wantErr: true},
		{name: "eleven digits matches nothing", awb: "12345678901", wantErr: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := r.Resolve(tc.awb, tc.hint)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrUnknownProvider)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, p.Name())
		})
	}
}

func TestTrackUnknownCourierIsErrorResult(t *testing.T) {
	t.Parallel()

	registry, _ := testRegistry()
	r := New(registry, nil, nil)

	result := r.Track(context.Background(), "ABC-123", "unknowncourier")
	require.True(t, result.Failed())
	require.Equal(t, "ABC-123", result.AWB)
	require.Equal(t, "Error", result.Status)
	require.Contains(t, result.Err, "no courier matches")
	require.False(t, result.CheckedAt.IsZero())
}

func TestTrackProviderErrorIsErrorResult(t *testing.T) {
	t.Parallel()

	registry, fakes := testRegistry()
	fakes[providers.TagFedEx].err = errors.New("browser session failed")
	r := New(registry, nil, nil)

	result := r.Track(context.Background(), "886520976940", "")
	require.True(t, result.Failed())
	require.Equal(t, "FedEx", result.Provider)
	require.Contains(t, result.Err, "browser session failed")
}

func TestTrackSuccessPassesThrough(t *testing.T) {
	t.Parallel()

	registry, fakes := testRegistry()
	now := time.Unix(1700000000, 0).UTC()
	fakes[providers.TagDHL].result = tracking.Result{
		Status:    "Delivered",
		Delivered: true,
		CheckedAt: now,
	}
	r := New(registry, nil, nil)

	result := r.Track(context.Background(), "99195357", "")
	require.False(t, result.Failed())
	require.True(t, result.Delivered)
	require.Equal(t, "DHL", result.Provider)
	require.Equal(t, []string{"99195357"}, fakes[providers.TagDHL].calls)
}

func TestTrackManyPreservesOrder(t *testing.T) {
	t.Parallel()

	registry, fakes := testRegistry()
	fakes[providers.TagFedEx].result = tracking.Result{Status: "In transit"}
	fakes[providers.TagDHL].err = errors.New("timeout")
	r := New(registry, nil, nil)

	reqs := []Request{
		{AWB: "886520976940"},
		{AWB: "99195357"},
		{AWB: "nope", Hint: "unknowncourier"},
	}
	results := r.TrackMany(context.Background(), reqs, 2)

	require.Len(t, results, 3)
	require.Equal(t, "886520976940", results[0].AWB)
	require.False(t, results[0].Failed())
	require.Equal(t, "99195357", results[1].AWB)
	require.True(t, results[1].Failed())
	require.Equal(t, "nope", results[2].AWB)
	require.True(t, results[2].Failed())
}
