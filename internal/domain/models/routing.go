package models

import (
	"time"
)

// RoutingOutcome is the kind of result the routing engine produced.
type RoutingOutcome string

const (
	// RoutingAssigned means an agent now owns the conversation.
	RoutingAssigned RoutingOutcome = "assigned"
	// RoutingQueued means no agent had capacity; the conversation waits.
	RoutingQueued RoutingOutcome = "queued"
	// RoutingNoDepartment means no department could be resolved.
	RoutingNoDepartment RoutingOutcome = "no-department"
	// RoutingSkipped means the conversation was no longer routable.
	RoutingSkipped RoutingOutcome = "skipped"
)

// RoutingHints carry optional routing inputs.
type RoutingHints struct {
	DepartmentID   string `json:"departmentId,omitempty"`
	DetectedIntent string `json:"detectedIntent,omitempty"`
}

// RoutingDecision is the ephemeral result of evaluating a conversation.
type RoutingDecision struct {
	Outcome      RoutingOutcome `json:"outcome"`
	AgentID      string         `json:"agentId,omitempty"`
	DepartmentID string         `json:"departmentId,omitempty"`
}

// PresenceState is the advisory, eventually consistent view of an agent.
// Routing never reads it; the persisted Agent row is authoritative.
type PresenceState struct {
	TenantID    string      `json:"tenantId"`
	AgentID     string      `json:"agentId"`
	Status      AgentStatus `json:"status"`
	CurrentLoad int         `json:"currentLoad"`
	LastSeen    time.Time   `json:"lastSeen"`
}

// HandoffAction is the outcome of the AI handoff gate.
type HandoffAction string

const (
	HandoffActionHandoff     HandoffAction = "handoff"
	HandoffActionAutoRespond HandoffAction = "auto-respond"
	HandoffActionQueue       HandoffAction = "queue"
)

// HandoffDecision is the result of evaluating a visitor message.
type HandoffDecision struct {
	Action     HandoffAction `json:"action"`
	Text       string        `json:"text,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}
