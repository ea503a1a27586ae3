package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/adyam/logistics-tracker/internal/publisher"
	"github.com/adyam/logistics-tracker/internal/publisher/memory"
	"github.com/adyam/logistics-tracker/internal/store"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

type fakeStore struct {
	shipments []store.Shipment
	fetchErr  error

	updates      map[uuid.UUID]tracking.Result
	mergedEvents map[uuid.UUID][]tracking.Event
	updateErr    map[uuid.UUID]error
	failures     map[uuid.UUID]string

	runStarted  bool
	runFinished bool
	runStatus   store.JobRunStatus
}

func newFakeStore(shipments ...store.Shipment) *fakeStore {
	return &fakeStore{
		shipments:    shipments,
		updates:      map[uuid.UUID]tracking.Result{},
		mergedEvents: map[uuid.UUID][]tracking.Event{},
		updateErr:    map[uuid.UUID]error{},
		failures:     map[uuid.UUID]string{},
	}
}

func (f *fakeStore) FetchUndelivered(context.Context) ([]store.Shipment, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.shipments, nil
}

func (f *fakeStore) UpdateTracking(_ context.Context, id uuid.UUID, r tracking.Result, events []tracking.Event) error {
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.updates[id] = r
	f.mergedEvents[id] = events
	return nil
}

func (f *fakeStore) RecordCheckFailure(_ context.Context, id uuid.UUID, errMsg string, _ time.Time) error {
	f.failures[id] = errMsg
	return nil
}

func (f *fakeStore) StartJobRun(context.Context, string, time.Time) (uuid.UUID, error) {
	f.runStarted = true
	return uuid.New(), nil
}

func (f *fakeStore) FinishJobRun(_ context.Context, _ uuid.UUID, _ time.Time, status store.JobRunStatus, _ *string, _ any) error {
	f.runFinished = true
	f.runStatus = status
	return nil
}

type fakeTracker struct {
	results map[string]tracking.Result
	calls   []string
}

func (f *fakeTracker) Track(_ context.Context, awb, _ string) tracking.Result {
	f.calls = append(f.calls, awb)
	r, ok := f.results[awb]
	if !ok {
		return tracking.ErrorResult(awb, "", time.Now().UTC(), "no result configured")
	}
	return r
}

func newOrchestrator(st ShipmentStore, tr Tracker, pub publisher.Publisher) *Orchestrator {
	o := New(st, tr, pub, nil, nil, Config{LogTail: 10})
	o.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return o
}

func shipment(awb, hint string, events ...tracking.Event) store.Shipment {
	return store.Shipment{ID: uuid.New(), AWB: awb, CourierHint: hint, Events: events}
}

func TestRunFetchErrorIsFatal(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.fetchErr = errors.New("connection refused")

	o := newOrchestrator(st, &fakeTracker{}, nil)
	_, err := o.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch undelivered")
	require.Equal(t, store.RunError, st.runStatus)
}

func TestRunCountsOutcomes(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	delivered := shipment("886520976940", "fedex")
	inTransit := shipment("99195357", "dhl")
	broken := shipment("UNKNOWN-1", "unknowncourier")

	st := newFakeStore(delivered, inTransit, broken)
	tr := &fakeTracker{results: map[string]tracking.Result{
		"886520976940": {
			AWB: "886520976940", Provider: "FedEx", Status: "Delivered",
			Delivered: true, CheckedAt: now,
		},
		"99195357": {
			AWB: "99195357", Provider: "DHL", Status: "In transit",
			CheckedAt: now,
		},
		"UNKNOWN-1": tracking.ErrorResult("UNKNOWN-1", "", now, "no courier matches"),
	}}
	pub := memory.New()

	o := newOrchestrator(st, tr, pub)
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, summary.Checked)
	require.Equal(t, 1, summary.DeliveredNow)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Logs, 3)

	require.Contains(t, st.updates, delivered.ID)
	require.Contains(t, st.updates, inTransit.ID)
	require.NotContains(t, st.updates, broken.ID)
	require.Equal(t, "no courier matches", st.failures[broken.ID])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, DeliveredTopic, msgs[0].Topic)
	event, ok := msgs[0].Payload.(publisher.DeliveredEvent)
	require.True(t, ok)
	require.Equal(t, "886520976940", event.AWB)

	require.True(t, st.runStarted)
	require.True(t, st.runFinished)
	require.Equal(t, store.RunSuccess, st.runStatus)
}

func TestRunMergesHistories(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	old := tracking.Event{Description: "Picked up", Time: &now}
	sh := shipment("886520976940", "fedex", old)

	st := newFakeStore(sh)
	later := now.Add(time.Hour)
	tr := &fakeTracker{results: map[string]tracking.Result{
		"886520976940": {
			AWB: "886520976940", Provider: "FedEx", Status: "In transit",
			Events: []tracking.Event{
				{Description: "Picked up", Time: &now},
				{Description: "Departed hub", Time: &later},
			},
			CheckedAt: now,
		},
	}}

	o := newOrchestrator(st, tr, nil)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	merged := st.mergedEvents[sh.ID]
	require.Len(t, merged, 2)
	require.Equal(t, "Picked up", merged[0].Description)
	require.Equal(t, "Departed hub", merged[1].Description)
}

func TestRunPersistFailureCounts(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	sh := shipment("99195357", "dhl")
	st := newFakeStore(sh)
	st.updateErr[sh.ID] = errors.New("deadlock detected")

	tr := &fakeTracker{results: map[string]tracking.Result{
		"99195357": {AWB: "99195357", Provider: "DHL", Status: "In transit", CheckedAt: now},
	}}

	o := newOrchestrator(st, tr, nil)
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 0, summary.DeliveredNow)
}

func TestRunBoundsLogTail(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	var shipments []store.Shipment
	results := map[string]tracking.Result{}
	for i := 0; i < 15; i++ {
		awb := uuid.NewString()
		shipments = append(shipments, shipment(awb, "fedex"))
		results[awb] = tracking.Result{AWB: awb, Provider: "FedEx", Status: "In transit", CheckedAt: now}
	}

	st := newFakeStore(shipments...)
	o := newOrchestrator(st, &fakeTracker{results: results}, nil)
	o.cfg.LogTail = 5

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 15, summary.Checked)
	require.Len(t, summary.Logs, 5)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	st := newFakeStore(shipment("A", "fedex"), shipment("B", "fedex"))
	tr := &fakeTracker{results: map[string]tracking.Result{}}

	ctx, cancel := context.WithCancel(context.Background())
	o := New(st, tr, nil, nil, nil, Config{})
	o.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, tr.calls, 1)
}
