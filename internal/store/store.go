// Package store provides Postgres-backed persistence for shipments, alert
// audit logs, and job runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adyam/logistics-tracker/internal/tracking"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Shipment models one row of the shipments table.
type Shipment struct {
	ID            uuid.UUID
	AWB           string
	CourierHint   string
	Receiver      string
	Status        string
	LastLocation  string
	LastEventTime *time.Time
	Events        []tracking.Event
	Delivered     bool
	DeliveredAt   *time.Time
	LastCheckedAt *time.Time
	LastError     string

	AlertPhone    string
	AlertAttempts int
	NextAlertAt   *time.Time
	LastAlertedAt *time.Time
}

// AlertCandidate is one claimed shipment due for an alert. The claim holds a
// lease; competing dispatchers skip leased rows.
type AlertCandidate struct {
	ID            uuid.UUID
	AWB           string
	CourierHint   string
	Receiver      string
	Phone         string
	Status        string
	LastLocation  string
	LastCheckedAt *time.Time
	Attempts      int
}

// AlertOutcome is the outcome column of an alert_logs row.
type AlertOutcome string

// Alert log outcomes.
const (
	AlertSent      AlertOutcome = "sent"
	AlertFailed    AlertOutcome = "failed"
	AlertEscalated AlertOutcome = "escalated"
)

// JobRunStatus mirrors the job_runs status column.
type JobRunStatus string

// Job run statuses.
const (
	RunRunning JobRunStatus = "running"
	RunSuccess JobRunStatus = "success"
	RunError   JobRunStatus = "error"
)

// JobRun models one tracking or alert cycle recorded in job_runs.
type JobRun struct {
	ID           uuid.UUID
	Kind         string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       JobRunStatus
	ErrorMessage *string
	Summary      json.RawMessage
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists shipments, alert logs, and job runs in Postgres.
type Store struct {
	pool querier
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const shipmentColumns = `
	id, awb_no, courier_hint, receiver_name, status, last_location,
	last_event_time, events, delivered, delivered_at, last_checked_at,
	last_error, alert_phone, alert_attempts, next_alert_at, last_alerted_at`

// FetchUndelivered returns every shipment not yet marked delivered, least
// recently checked first.
func (s *Store) FetchUndelivered(ctx context.Context) ([]Shipment, error) {
	query := `SELECT` + shipmentColumns + `
		FROM shipments
		WHERE NOT delivered
		ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch undelivered shipments: %w", err)
	}
	defer rows.Close()

	var shipments []Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch undelivered shipments: %w", err)
	}
	return shipments, nil
}

func scanShipment(row pgx.Row) (Shipment, error) {
	var (
		sh        Shipment
		rawEvents []byte
		lastErr   *string
	)
	err := row.Scan(
		&sh.ID, &sh.AWB, &sh.CourierHint, &sh.Receiver, &sh.Status,
		&sh.LastLocation, &sh.LastEventTime, &rawEvents, &sh.Delivered,
		&sh.DeliveredAt, &sh.LastCheckedAt, &lastErr, &sh.AlertPhone,
		&sh.AlertAttempts, &sh.NextAlertAt, &sh.LastAlertedAt,
	)
	if err != nil {
		return Shipment{}, fmt.Errorf("scan shipment: %w", err)
	}
	if lastErr != nil {
		sh.LastError = *lastErr
	}
	if len(rawEvents) > 0 {
		if err := json.Unmarshal(rawEvents, &sh.Events); err != nil {
			return Shipment{}, fmt.Errorf("decode shipment events: %w", err)
		}
	}
	return sh, nil
}

// UpdateTracking persists one tracking result onto a shipment. A delivered
// flag is only ever set, never cleared, so a later scrape glitch cannot
// resurrect a completed shipment.
func (s *Store) UpdateTracking(ctx context.Context, id uuid.UUID, r tracking.Result, events []tracking.Event) error {
	if events == nil {
		events = []tracking.Event{}
	}
	rawEvents, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode shipment events: %w", err)
	}

	var lastErr *string
	if r.Err != "" {
		lastErr = &r.Err
	}

	query := `
		UPDATE shipments SET
			status = $1,
			last_location = $2,
			last_event_time = $3,
			events = $4,
			delivered = delivered OR $5,
			delivered_at = CASE
				WHEN NOT delivered AND $5 THEN $6
				ELSE delivered_at
			END,
			last_checked_at = $6,
			last_error = $7
		WHERE id = $8`

	tag, err := s.pool.Exec(ctx, query,
		r.Status, r.LastLocation, r.LastEventTime, rawEvents,
		r.Delivered, r.CheckedAt, lastErr, id)
	if err != nil {
		return fmt.Errorf("update tracking for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update tracking for %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordCheckFailure stamps a failed tracking attempt without touching the
// shipment's last known good state.
func (s *Store) RecordCheckFailure(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	query := `
		UPDATE shipments SET last_error = $1, last_checked_at = $2
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, errMsg, at, id)
	if err != nil {
		return fmt.Errorf("record check failure for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record check failure for %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimAlertCandidates atomically selects and leases up to batch undelivered
// shipments whose alerts are due and whose attempt counter is still under
// maxAttempts. Leased rows are invisible to concurrent claims until the lease
// expires, so two dispatchers never alert the same shipment twice; rows at
// the attempt ceiling never re-qualify.
func (s *Store) ClaimAlertCandidates(ctx context.Context, batch, maxAttempts int, lease time.Duration, now time.Time) ([]AlertCandidate, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("claim batch must be positive, got %d", batch)
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("claim attempt ceiling must be positive, got %d", maxAttempts)
	}

	query := `
		WITH due AS (
			SELECT id FROM shipments
			WHERE NOT delivered
			  AND alert_phone <> ''
			  AND alert_attempts < $4
			  AND (next_alert_at IS NULL OR next_alert_at <= $1)
			  AND (alert_leased_until IS NULL OR alert_leased_until <= $1)
			ORDER BY next_alert_at ASC NULLS FIRST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE shipments s
		SET alert_leased_until = $3
		FROM due
		WHERE s.id = due.id
		RETURNING s.id, s.awb_no, s.courier_hint, s.receiver_name,
			s.alert_phone, s.status, s.last_location, s.last_checked_at,
			s.alert_attempts`

	rows, err := s.pool.Query(ctx, query, now, batch, now.Add(lease), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim alert candidates: %w", err)
	}
	defer rows.Close()

	var candidates []AlertCandidate
	for rows.Next() {
		var c AlertCandidate
		if err := rows.Scan(
			&c.ID, &c.AWB, &c.CourierHint, &c.Receiver, &c.Phone,
			&c.Status, &c.LastLocation, &c.LastCheckedAt, &c.Attempts,
		); err != nil {
			return nil, fmt.Errorf("scan alert candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim alert candidates: %w", err)
	}
	return candidates, nil
}

// MarkAlerted records a successful alert: the attempt counter resets and the
// next alert is scheduled one interval out.
func (s *Store) MarkAlerted(ctx context.Context, id uuid.UUID, now time.Time, interval time.Duration) error {
	query := `
		UPDATE shipments SET
			alert_attempts = 0,
			last_alerted_at = $1,
			next_alert_at = $2,
			alert_leased_until = NULL
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, now, now.Add(interval), id)
	if err != nil {
		return fmt.Errorf("mark alerted for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark alerted for %s: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementAlertAttempts bumps the attempt counter after an exhausted
// dispatch and releases the lease. It returns the new counter value.
func (s *Store) IncrementAlertAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE shipments SET
			alert_attempts = alert_attempts + 1,
			alert_leased_until = NULL
		WHERE id = $1
		RETURNING alert_attempts`

	var attempts int
	if err := s.pool.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("increment alert attempts for %s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("increment alert attempts for %s: %w", id, err)
	}
	return attempts, nil
}

// InsertAlertLog appends one audit row for an alert delivery attempt.
func (s *Store) InsertAlertLog(ctx context.Context, shipmentID uuid.UUID, medium string, outcome AlertOutcome, detail string, at time.Time) error {
	query := `
		INSERT INTO alert_logs (id, shipment_id, medium, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query, uuid.New(), shipmentID, medium, outcome, detail, at)
	if err != nil {
		return fmt.Errorf("insert alert log for %s: %w", shipmentID, err)
	}
	return nil
}

// StartJobRun records the beginning of a tracking or alert cycle.
func (s *Store) StartJobRun(ctx context.Context, kind string, startedAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO job_runs (id, kind, started_at, status)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, query, id, kind, startedAt, RunRunning); err != nil {
		return uuid.Nil, fmt.Errorf("start job run: %w", err)
	}
	return id, nil
}

// FinishJobRun closes a cycle with its final status and summary payload.
func (s *Store) FinishJobRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status JobRunStatus, errMsg *string, summary any) error {
	var rawSummary []byte
	if summary != nil {
		var err error
		rawSummary, err = json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode job summary: %w", err)
		}
	}

	query := `
		UPDATE job_runs
		SET finished_at = $1, status = $2, error_message = $3, summary = $4
		WHERE id = $5`

	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, rawSummary, id)
	if err != nil {
		return fmt.Errorf("finish job run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListJobRuns returns the most recent cycles, newest first.
func (s *Store) ListJobRuns(ctx context.Context, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, kind, started_at, finished_at, status, error_message, summary
		FROM job_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var run JobRun
		if err := rows.Scan(
			&run.ID, &run.Kind, &run.StartedAt, &run.FinishedAt,
			&run.Status, &run.ErrorMessage, &run.Summary,
		); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	return runs, nil
}
