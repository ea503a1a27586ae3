// Package tracking defines the normalized shipment-tracking domain model
// shared by all courier adapters, the router, and the orchestrator.
package tracking

import (
	"context"
	"time"
)

// Event is a single scan/checkpoint in a shipment's history. Immutable once
// created; (Description, Time) is the dedup key.
type Event struct {
	Description string     `json:"description"`
	Location    string     `json:"location,omitempty"`
	Time        *time.Time `json:"time,omitempty"`
}

// Result is the normalized output of one tracking attempt. Every adapter
// invocation produces a fresh Result; it is never mutated afterwards.
type Result struct {
	AWB           string     `json:"awb_no"`
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	RawStatus     string     `json:"raw_status_text"`
	LastLocation  string     `json:"last_location,omitempty"`
	LastEventTime *time.Time `json:"last_event_time,omitempty"`
	Events        []Event    `json:"events"`
	Delivered     bool       `json:"delivered"`
	Err           string     `json:"error,omitempty"`
	CheckedAt     time.Time  `json:"checked_at"`
}

// Failed reports whether the attempt produced an error-carrying result.
func (r Result) Failed() bool {
	return r.Err != ""
}

// Provider is one courier integration. Track returns an error only for
// transport-level failures; "shipment not found" is a Result with Err set.
type Provider interface {
	Name() string
	Track(ctx context.Context, awb string) (Result, error)
}

// ErrorResult builds the Result used when an attempt cannot produce real
// tracking data. The router uses it to turn failures into data.
func ErrorResult(awb, provider string, now time.Time, cause string) Result {
	return Result{
		AWB:       awb,
		Provider:  provider,
		Status:    "Error",
		RawStatus: cause,
		Events:    []Event{},
		Delivered: false,
		Err:       cause,
		CheckedAt: now,
	}
}
