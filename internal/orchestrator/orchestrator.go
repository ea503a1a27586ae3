// Package orchestrator runs the tracking cycle: fetch undelivered shipments,
// track each through its courier, merge histories, and persist the outcome.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/metrics"
	"github.com/adyam/logistics-tracker/internal/publisher"
	"github.com/adyam/logistics-tracker/internal/store"
	"github.com/adyam/logistics-tracker/internal/tracking"
)

// DeliveredTopic names the event stream for delivery transitions.
const DeliveredTopic = "shipments.delivered"

// ShipmentStore is the slice of the store the tracking cycle needs.
type ShipmentStore interface {
	FetchUndelivered(ctx context.Context) ([]store.Shipment, error)
	UpdateTracking(ctx context.Context, id uuid.UUID, r tracking.Result, events []tracking.Event) error
	RecordCheckFailure(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error
	StartJobRun(ctx context.Context, kind string, startedAt time.Time) (uuid.UUID, error)
	FinishJobRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status store.JobRunStatus, errMsg *string, summary any) error
}

// Tracker resolves and tracks one AWB, reporting failures as data.
type Tracker interface {
	Track(ctx context.Context, awb, hint string) tracking.Result
}

// Summary is the outcome of one tracking cycle.
type Summary struct {
	Checked      int      `json:"checked"`
	DeliveredNow int      `json:"delivered_now"`
	Failed       int      `json:"failed"`
	Logs         []string `json:"logs"`
}

// Config tunes one orchestrator instance.
type Config struct {
	// Pace is the delay between consecutive shipments, softening the load
	// on courier sites.
	Pace time.Duration
	// LogTail caps the number of log lines kept in the summary.
	LogTail int
}

// Orchestrator drives tracking cycles.
type Orchestrator struct {
	store     ShipmentStore
	tracker   Tracker
	publisher publisher.Publisher
	clock     clock.Clock
	logger    *zap.Logger
	cfg       Config

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator. The publisher may be nil; delivery events are
// then skipped.
func New(st ShipmentStore, tracker Tracker, pub publisher.Publisher, clk clock.Clock, logger *zap.Logger, cfg Config) *Orchestrator {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = 200
	}
	return &Orchestrator{
		store:     st,
		tracker:   tracker,
		publisher: pub,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes one full tracking cycle. Only a failed shipment fetch is
// fatal; per-shipment failures are counted and the cycle moves on.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := o.clock.Now()
	defer func() {
		metrics.ObserveCycleDuration("tracking", o.clock.Now().Sub(start))
	}()

	runID, runErr := o.store.StartJobRun(ctx, "tracking", start)
	if runErr != nil {
		o.logger.Warn("job run bookkeeping unavailable", zap.Error(runErr))
	}

	shipments, err := o.store.FetchUndelivered(ctx)
	if err != nil {
		o.finishRun(ctx, runID, store.RunError, err, nil)
		return Summary{}, fmt.Errorf("fetch undelivered shipments: %w", err)
	}

	summary := Summary{Logs: []string{}}
	for i, sh := range shipments {
		if err := ctx.Err(); err != nil {
			o.finishRun(ctx, runID, store.RunError, err, summary)
			return summary, err
		}

		o.trackOne(ctx, sh, &summary)

		if i < len(shipments)-1 {
			if err := o.sleep(ctx, o.cfg.Pace); err != nil {
				o.finishRun(ctx, runID, store.RunError, err, summary)
				return summary, err
			}
		}
	}

	o.finishRun(ctx, runID, store.RunSuccess, nil, summary)
	o.logger.Info("tracking cycle finished",
		zap.Int("checked", summary.Checked),
		zap.Int("delivered_now", summary.DeliveredNow),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (o *Orchestrator) trackOne(ctx context.Context, sh store.Shipment, summary *Summary) {
	result := o.tracker.Track(ctx, sh.AWB, sh.CourierHint)
	summary.Checked++
	metrics.ObserveShipmentChecked(providerLabel(result, sh))

	if result.Failed() {
		summary.Failed++
		o.appendLog(summary, fmt.Sprintf("%s: check failed: %s", sh.AWB, result.Err))
		if err := o.store.RecordCheckFailure(ctx, sh.ID, result.Err, result.CheckedAt); err != nil {
			o.logger.Warn("record check failure",
				zap.String("awb", sh.AWB), zap.Error(err))
		}
		return
	}

	merged := tracking.MergeEvents(sh.Events, result.Events)
	if err := o.store.UpdateTracking(ctx, sh.ID, result, merged); err != nil {
		summary.Failed++
		o.appendLog(summary, fmt.Sprintf("%s: persist failed: %s", sh.AWB, err))
		o.logger.Error("persist tracking result",
			zap.String("awb", sh.AWB), zap.Error(err))
		return
	}

	o.appendLog(summary, fmt.Sprintf("%s: %s", sh.AWB, result.Status))
	if result.Delivered {
		// the cycle only sees undelivered shipments, so this is always a
		// fresh transition.
		summary.DeliveredNow++
		metrics.ObserveShipmentDelivered(result.Provider)
		o.publishDelivered(ctx, result)
	}
}

func (o *Orchestrator) publishDelivered(ctx context.Context, r tracking.Result) {
	if o.publisher == nil {
		return
	}
	event := publisher.DeliveredEvent{
		AWB:         r.AWB,
		Provider:    r.Provider,
		DeliveredAt: r.CheckedAt,
	}
	if _, err := o.publisher.Publish(ctx, DeliveredTopic, event); err != nil {
		o.logger.Warn("publish delivered event",
			zap.String("awb", r.AWB), zap.Error(err))
	}
}

func (o *Orchestrator) appendLog(summary *Summary, line string) {
	if len(summary.Logs) >= o.cfg.LogTail {
		summary.Logs = summary.Logs[1:]
	}
	summary.Logs = append(summary.Logs, line)
}

func (o *Orchestrator) finishRun(ctx context.Context, runID uuid.UUID, status store.JobRunStatus, cause error, summary any) {
	if runID == uuid.Nil {
		return
	}
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}
	// the run row should be closed even when the cycle was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := o.store.FinishJobRun(ctx, runID, o.clock.Now(), status, errMsg, summary); err != nil {
		o.logger.Warn("finish job run", zap.Error(err))
	}
}

func providerLabel(r tracking.Result, sh store.Shipment) string {
	if r.Provider != "" {
		return r.Provider
	}
	if sh.CourierHint != "" {
		return sh.CourierHint
	}
	return "unknown"
}
