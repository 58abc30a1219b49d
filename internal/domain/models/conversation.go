// Package models contains domain models for the live chat service.
package models

import (
	"time"
)

// ConversationStatus represents the lifecycle status of a conversation.
type ConversationStatus string

const (
	// ConversationStatusPending is the initial status; no agent has been assigned yet.
	ConversationStatusPending ConversationStatus = "pending"
	// ConversationStatusActive means an agent (or the AI path) is handling the conversation.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusWaiting means the conversation is queued for an agent.
	ConversationStatusWaiting ConversationStatus = "waiting"
	// ConversationStatusResolved means the agent marked the conversation as resolved.
	ConversationStatusResolved ConversationStatus = "resolved"
	// ConversationStatusClosed means the conversation is closed.
	ConversationStatusClosed ConversationStatus = "closed"
	// ConversationStatusMissed means nobody answered before the missed threshold.
	ConversationStatusMissed ConversationStatus = "missed"
)

// conversationTransitions lists the allowed edges of the lifecycle graph.
var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationStatusPending:  {ConversationStatusActive, ConversationStatusWaiting, ConversationStatusMissed, ConversationStatusClosed},
	ConversationStatusActive:   {ConversationStatusWaiting, ConversationStatusResolved, ConversationStatusClosed},
	ConversationStatusWaiting:  {ConversationStatusActive, ConversationStatusClosed},
	ConversationStatusResolved: {ConversationStatusActive, ConversationStatusClosed},
	ConversationStatusClosed:   {ConversationStatusActive},
	ConversationStatusMissed:   {ConversationStatusActive},
}

// IsValid reports whether s is a known status.
func (s ConversationStatus) IsValid() bool {
	_, ok := conversationTransitions[s]
	return ok
}

// CanTransitionTo reports whether to is a valid next status from s.
func (s ConversationStatus) CanTransitionTo(to ConversationStatus) bool {
	for _, next := range conversationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether the conversation can still receive traffic that
// counts towards stale detection.
func (s ConversationStatus) IsOpen() bool {
	switch s {
	case ConversationStatusPending, ConversationStatusActive, ConversationStatusWaiting, ConversationStatusResolved:
		return true
	}
	return false
}

// OpenStatuses returns the statuses considered by the stale sweep.
func OpenStatuses() []ConversationStatus {
	return []ConversationStatus{
		ConversationStatusPending,
		ConversationStatusActive,
		ConversationStatusWaiting,
		ConversationStatusResolved,
	}
}

// Priority represents conversation priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Channel identifies where the visitor is talking from.
type Channel string

const (
	// ChannelWidget is the embeddable website widget.
	ChannelWidget Channel = "widget"
	// ChannelExternal is any third-party messaging transport.
	ChannelExternal Channel = "external"
)

// Rating is the visitor's satisfaction score for a finished conversation.
type Rating struct {
	Score   int       `json:"score" bson:"score"`
	Comment string    `json:"comment,omitempty" bson:"comment,omitempty"`
	RatedAt time.Time `json:"ratedAt" bson:"ratedAt"`
}

// Conversation is a single threaded exchange between a visitor and the business.
// It is mutated only through the state machine and every write bumps Version.
type Conversation struct {
	ID              string             `json:"id" bson:"_id"`
	TenantID        string             `json:"tenantId" bson:"tenantId"`
	VisitorID       string             `json:"visitorId" bson:"visitorId"`
	AssignedAgentID string             `json:"assignedAgentId,omitempty" bson:"assignedAgentId,omitempty"`
	DepartmentID    string             `json:"departmentId,omitempty" bson:"departmentId,omitempty"`
	Channel         Channel            `json:"channel" bson:"channel"`
	ExternalContact string             `json:"externalContact,omitempty" bson:"externalContact,omitempty"`
	Status          ConversationStatus `json:"status" bson:"status"`
	Priority        Priority           `json:"priority" bson:"priority"`

	MessageCount       int64 `json:"messageCount" bson:"messageCount"`
	UnreadAgentCount   int64 `json:"unreadAgentCount" bson:"unreadAgentCount"`
	UnreadVisitorCount int64 `json:"unreadVisitorCount" bson:"unreadVisitorCount"`

	CreatedAt             time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt" bson:"updatedAt"`
	AssignedAt            *time.Time `json:"assignedAt,omitempty" bson:"assignedAt,omitempty"`
	FirstResponseAt       *time.Time `json:"firstResponseAt,omitempty" bson:"firstResponseAt,omitempty"`
	FirstResponseSeconds  int64      `json:"firstResponseSeconds,omitempty" bson:"firstResponseSeconds,omitempty"`
	LastMessageAt         *time.Time `json:"lastMessageAt,omitempty" bson:"lastMessageAt,omitempty"`
	ResolvedAt            *time.Time `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	ResolutionTimeSeconds int64      `json:"resolutionTimeSeconds,omitempty" bson:"resolutionTimeSeconds,omitempty"`
	ClosedAt              *time.Time `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
	MissedAt              *time.Time `json:"missedAt,omitempty" bson:"missedAt,omitempty"`

	Rating  *Rating `json:"rating,omitempty" bson:"rating,omitempty"`
	Version int64   `json:"version" bson:"version"`
}

// Clone returns a deep copy so callers can compute a new state without
// touching the value they read.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.AssignedAt = cloneTime(c.AssignedAt)
	out.FirstResponseAt = cloneTime(c.FirstResponseAt)
	out.LastMessageAt = cloneTime(c.LastMessageAt)
	out.ResolvedAt = cloneTime(c.ResolvedAt)
	out.ClosedAt = cloneTime(c.ClosedAt)
	out.MissedAt = cloneTime(c.MissedAt)
	if c.Rating != nil {
		r := *c.Rating
		out.Rating = &r
	}
	return &out
}

// IsAssigned reports whether a human agent owns the conversation.
func (c *Conversation) IsAssigned() bool {
	return c.AssignedAgentID != ""
}

// LastActivity returns the time of the latest message, or creation time.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// Transition records one applied lifecycle change.
type Transition struct {
	Conversation  *Conversation      `json:"conversation"`
	From          ConversationStatus `json:"from"`
	To            ConversationStatus `json:"to"`
	Operation     string             `json:"operation"`
	PreviousAgent string             `json:"previousAgent,omitempty"`
	At            time.Time          `json:"at"`
}
