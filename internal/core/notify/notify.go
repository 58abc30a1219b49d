// Package notify defines the contract for fire-and-forget notification,
// CRM and email collaborators.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Type represents the publisher implementation.
type Type string

const (
	// TypeAMQP publishes to a RabbitMQ topic exchange.
	TypeAMQP Type = "amqp"
	// TypeLog only logs the notification.
	TypeLog Type = "log"
)

// Trigger is a core state change that collaborators are told about.
type Trigger string

const (
	TriggerAssigned Trigger = "assigned"
	TriggerMissed   Trigger = "missed"
	TriggerResolved Trigger = "resolved"
	TriggerRated    Trigger = "rated"
)

// EventType returns the versioned event name, e.g. livechat.conversation.missed.v1.
func (t Trigger) EventType() string {
	return fmt.Sprintf("livechat.conversation.%s.v1", t)
}

// Meta describes an emitted event.
type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version
	Type string `json:"type"`
}

// Envelope wraps every published notification.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Publisher delivers envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}
