// Package alerts implements the alert dispatch cycle: claim due shipments,
// message each receiver with bounded retries, and keep an audit trail of
// every outcome.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adyam/logistics-tracker/internal/clock"
	"github.com/adyam/logistics-tracker/internal/metrics"
	"github.com/adyam/logistics-tracker/internal/retry"
	"github.com/adyam/logistics-tracker/internal/store"
)

// Alert mediums recorded in alert_logs.
const (
	MediumWhatsApp = "whatsapp"
	MediumEmail    = "email"
)

// SendResult is the outcome of one message delivery attempt. A rejected
// message carries the channel's reason; a transport failure is an error.
type SendResult struct {
	OK     bool
	Reason string
}

// Messenger delivers one alert message to a phone number.
type Messenger interface {
	SendMessage(ctx context.Context, phone, text string) (SendResult, error)
}

// AlertStore is the slice of the store the dispatcher needs.
type AlertStore interface {
	ClaimAlertCandidates(ctx context.Context, batch, maxAttempts int, lease time.Duration, now time.Time) ([]store.AlertCandidate, error)
	MarkAlerted(ctx context.Context, id uuid.UUID, now time.Time, interval time.Duration) error
	IncrementAlertAttempts(ctx context.Context, id uuid.UUID) (int, error)
	InsertAlertLog(ctx context.Context, shipmentID uuid.UUID, medium string, outcome store.AlertOutcome, detail string, at time.Time) error
	StartJobRun(ctx context.Context, kind string, startedAt time.Time) (uuid.UUID, error)
	FinishJobRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status store.JobRunStatus, errMsg *string, summary any) error
}

// Summary is the outcome of one dispatch cycle.
type Summary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// Config tunes one dispatcher instance.
type Config struct {
	// BatchSize caps how many candidates one cycle claims.
	BatchSize int
	// Lease is how long a claimed candidate stays invisible to other
	// dispatchers.
	Lease time.Duration
	// MaxAttempts is the lifetime attempt count at which a shipment is
	// escalated to the fallback channel.
	MaxAttempts int
	// Interval schedules the next alert after a successful send.
	Interval time.Duration
	// Pace is the delay between consecutive candidates.
	Pace time.Duration
	// PublicURL is the tracking page base included in every message.
	PublicURL string
	// Retry is the per-candidate delay schedule; its length is the number
	// of send attempts within one cycle.
	Retry retry.Sequence
}

// DefaultRetry pauses 0s, 2s, 4s, and 8s before the four send attempts.
var DefaultRetry = retry.Sequence{0, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// Dispatcher drives alert cycles.
type Dispatcher struct {
	store     AlertStore
	messenger Messenger
	clock     clock.Clock
	logger    *zap.Logger
	cfg       Config

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a dispatcher.
func New(st AlertStore, messenger Messenger, clk clock.Clock, logger *zap.Logger, cfg Config) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if len(cfg.Retry) == 0 {
		cfg.Retry = DefaultRetry
	}
	return &Dispatcher{
		store:     st,
		messenger: messenger,
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

// Run executes one dispatch cycle. Only a failed claim is fatal; everything
// after that is counted into the summary and the cycle moves on.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	start := d.clock.Now()
	defer func() {
		metrics.ObserveCycleDuration("alerts", d.clock.Now().Sub(start))
	}()

	runID, runErr := d.store.StartJobRun(ctx, "alerts", start)
	if runErr != nil {
		d.logger.Warn("job run bookkeeping unavailable", zap.Error(runErr))
	}

	candidates, err := d.store.ClaimAlertCandidates(ctx, d.cfg.BatchSize, d.cfg.MaxAttempts, d.cfg.Lease, start)
	if err != nil {
		d.finishRun(ctx, runID, store.RunError, err, nil)
		return Summary{}, fmt.Errorf("claim alert candidates: %w", err)
	}

	summary := Summary{Errors: []string{}}
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			d.finishRun(ctx, runID, store.RunError, err, summary)
			return summary, err
		}

		d.dispatchOne(ctx, c, &summary)

		if i < len(candidates)-1 {
			if err := d.sleep(ctx, d.cfg.Pace); err != nil {
				d.finishRun(ctx, runID, store.RunError, err, summary)
				return summary, err
			}
		}
	}

	d.finishRun(ctx, runID, store.RunSuccess, nil, summary)
	d.logger.Info("alert cycle finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, c store.AlertCandidate, summary *Summary) {
	summary.Processed++

	var lastReason string
	for attempt := 1; attempt <= d.cfg.Retry.MaxAttempts(); attempt++ {
		if err := retry.Wait(ctx, d.cfg.Retry, attempt); err != nil {
			lastReason = err.Error()
			break
		}

		// the message is rebuilt every attempt so it always carries the
		// freshest claim data.
		result, err := d.messenger.SendMessage(ctx, c.Phone, d.buildMessage(c))
		switch {
		case err != nil:
			lastReason = err.Error()
		case !result.OK:
			lastReason = result.Reason
			if lastReason == "" {
				lastReason = "message rejected"
			}
		default:
			d.recordSuccess(ctx, c, attempt, summary)
			return
		}
		d.logger.Warn("alert attempt failed",
			zap.String("awb", c.AWB),
			zap.Int("attempt", attempt),
			zap.String("reason", lastReason))
	}

	d.recordExhaustion(ctx, c, lastReason, summary)
}

func (d *Dispatcher) recordSuccess(ctx context.Context, c store.AlertCandidate, attempt int, summary *Summary) {
	now := d.clock.Now()
	if err := d.store.MarkAlerted(ctx, c.ID, now, d.cfg.Interval); err != nil {
		summary.Errors = append(summary.Errors,
			fmt.Sprintf("%s: mark alerted: %s", c.AWB, err))
		d.logger.Error("mark alerted", zap.String("awb", c.AWB), zap.Error(err))
	}
	detail := fmt.Sprintf("delivered on attempt %d", attempt)
	if err := d.store.InsertAlertLog(ctx, c.ID, MediumWhatsApp, store.AlertSent, detail, now); err != nil {
		summary.Errors = append(summary.Errors,
			fmt.Sprintf("%s: alert log: %s", c.AWB, err))
	}
	metrics.ObserveAlertSent()
	summary.Succeeded++
}

func (d *Dispatcher) recordExhaustion(ctx context.Context, c store.AlertCandidate, reason string, summary *Summary) {
	now := d.clock.Now()
	summary.Failed++
	metrics.ObserveAlertFailed()

	attempts, err := d.store.IncrementAlertAttempts(ctx, c.ID)
	if err != nil {
		summary.Errors = append(summary.Errors,
			fmt.Sprintf("%s: increment attempts: %s", c.AWB, err))
		d.logger.Error("increment alert attempts", zap.String("awb", c.AWB), zap.Error(err))
		attempts = c.Attempts + 1
	}

	if reason == "" {
		reason = "all attempts failed"
	}
	if err := d.store.InsertAlertLog(ctx, c.ID, MediumWhatsApp, store.AlertFailed, reason, now); err != nil {
		summary.Errors = append(summary.Errors,
			fmt.Sprintf("%s: alert log: %s", c.AWB, err))
	}

	if attempts >= d.cfg.MaxAttempts {
		detail := fmt.Sprintf("escalated after %d failed alert cycles", attempts)
		if err := d.store.InsertAlertLog(ctx, c.ID, MediumEmail, store.AlertEscalated, detail, now); err != nil {
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("%s: escalation log: %s", c.AWB, err))
		}
		metrics.ObserveAlertEscalation()
		d.logger.Warn("alert escalated",
			zap.String("awb", c.AWB), zap.Int("attempts", attempts))
	}
}

func (d *Dispatcher) buildMessage(c store.AlertCandidate) string {
	var b strings.Builder
	b.WriteString("Shipment update\n")
	fmt.Fprintf(&b, "AWB: %s\n", c.AWB)
	if c.Receiver != "" {
		fmt.Fprintf(&b, "Customer: %s\n", c.Receiver)
	}
	status := c.Status
	if status == "" {
		status = "Not yet checked"
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	if c.LastLocation != "" {
		fmt.Fprintf(&b, "Location: %s\n", c.LastLocation)
	}
	if c.LastCheckedAt != nil {
		fmt.Fprintf(&b, "Last checked: %s\n", c.LastCheckedAt.Format("02 Jan 2006 15:04 MST"))
	}
	if c.CourierHint != "" {
		fmt.Fprintf(&b, "Courier: %s\n", c.CourierHint)
	}
	if d.cfg.PublicURL != "" {
		fmt.Fprintf(&b, "Track: %s?awb=%s", d.cfg.PublicURL, c.AWB)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) finishRun(ctx context.Context, runID uuid.UUID, status store.JobRunStatus, cause error, summary any) {
	if runID == uuid.Nil {
		return
	}
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}
	ctx = context.WithoutCancel(ctx)
	if err := d.store.FinishJobRun(ctx, runID, d.clock.Now(), status, errMsg, summary); err != nil {
		d.logger.Warn("finish job run", zap.Error(err))
	}
}
