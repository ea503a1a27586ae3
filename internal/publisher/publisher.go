// Package publisher defines the delivery-event publishing contract.
// Implementations live in subpackages; this package must not import any
// messaging client.
package publisher

import (
	"context"
	"time"
)

// DeliveredEvent is emitted once when a shipment transitions to delivered.
type DeliveredEvent struct {
	AWB         string    `json:"awb_no"`
	Provider    string    `json:"provider"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Publisher emits shipment lifecycle events to a message bus.
type Publisher interface {
	// Publish sends the payload to the topic and returns the server message ID.
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
