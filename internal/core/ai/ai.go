// Package ai defines the AI generation collaborator used by the handoff gate.
package ai

import (
	"context"
)

// Type represents the type of AI provider.
type Type string

const (
	// TypeArk generates answers with a Volcengine Ark chat model.
	TypeArk Type = "ark"
	// TypeNone disables generation; every gated message is queued.
	TypeNone Type = "none"
)

// Role is the author of a context turn.
type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message handed to the model as context.
type Turn struct {
	Role    Role
	Content string
}

// Reference is a knowledge-base excerpt the answer should be grounded on.
type Reference struct {
	Title   string
	Content string
	Score   float64
}

// GenerateRequest represents a request for a candidate answer.
type GenerateRequest struct {
	// ConversationID is the conversation the answer is for
	ConversationID string

	// Query is the visitor message to answer
	Query string

	// History contains the most recent visible turns, oldest first
	History []Turn

	// References contains the knowledge-base matches, best first
	References []Reference
}

// GenerateResponse represents a generated candidate answer.
type GenerateResponse struct {
	// Text is the answer to send to the visitor
	Text string

	// Uncertain is set when the model signalled it could not answer reliably
	Uncertain bool
}

// Generator produces candidate answers. Callers enforce the timeout.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}
