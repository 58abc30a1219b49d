package models

import (
	"time"
)

// EventType identifies a realtime event.
type EventType string

const (
	// Durable events, derived from committed writes.
	EventMessageCreated EventType = "message.created"
	EventMessageUpdated EventType = "message.updated"
	EventStatusChanged  EventType = "conversation.status"

	// Ephemeral events, never persisted.
	EventTypingStart    EventType = "typing.start"
	EventTypingStop     EventType = "typing.stop"
	EventPresenceSync   EventType = "presence.sync"
	EventPresenceJoin   EventType = "presence.join"
	EventPresenceLeave  EventType = "presence.leave"
	EventPresenceUpdate EventType = "presence.update"
)

// IsDurable reports whether the event reflects a persisted change.
func (t EventType) IsDurable() bool {
	switch t {
	case EventMessageCreated, EventMessageUpdated, EventStatusChanged:
		return true
	}
	return false
}

// TypingState is the payload of typing events. Subscribers must treat a
// start as expired after ExpiresAt even if no stop arrives.
type TypingState struct {
	ParticipantID   string     `json:"participantId"`
	ParticipantType SenderType `json:"participantType"`
	ExpiresAt       time.Time  `json:"expiresAt,omitempty"`
}

// StatusChange is the payload of a conversation status event.
type StatusChange struct {
	From            ConversationStatus `json:"from"`
	To              ConversationStatus `json:"to"`
	AssignedAgentID string             `json:"assignedAgentId,omitempty"`
	Version         int64              `json:"version"`
}

// Event travels on exactly one logical channel (topic). Seq is the message
// order key for message.created events and zero otherwise.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	Topic          string          `json:"topic"`
	TenantID       string          `json:"tenantId"`
	ConversationID string          `json:"conversationId,omitempty"`
	Seq            int64           `json:"seq,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	Status         *StatusChange   `json:"status,omitempty"`
	Typing         *TypingState    `json:"typing,omitempty"`
	Presence       []PresenceState `json:"presence,omitempty"`
	At             time.Time       `json:"at"`
}
