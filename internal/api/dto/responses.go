package dto

import "github.com/dramac/livechat-service/internal/domain/models"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ConversationResponse wraps one conversation.
type ConversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
}

// StartConversationResponse is returned when a conversation is opened.
type StartConversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Message      *models.Message      `json:"message,omitempty"`
}

// ListConversationsResponse represents a page of conversations.
type ListConversationsResponse struct {
	Conversations []*models.Conversation `json:"conversations"`
	Limit         int64                  `json:"limit"`
	Offset        int64                  `json:"offset"`
}

// MessageResponse wraps one message.
type MessageResponse struct {
	Message *models.Message `json:"message"`
}

// ListMessagesResponse represents a page of messages. NextCursor is the
// after value of the following page.
type ListMessagesResponse struct {
	Messages   []*models.Message `json:"messages"`
	NextCursor int64             `json:"nextCursor"`
}

// ReadReceiptResponse reports the effect of a read receipt.
type ReadReceiptResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Updated      int64                `json:"updated"`
}

// AgentStatusResponse reports an agent status change.
type AgentStatusResponse struct {
	Agent    *models.Agent `json:"agent"`
	Changed  bool          `json:"changed"`
	Requeued int           `json:"requeued"`
}

// PresenceResponse lists the agents currently present in a tenant.
type PresenceResponse struct {
	Agents []models.PresenceState `json:"agents"`
}

// PassResult summarizes one maintenance pass.
type PassResult struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
}

// SweepResponse reports a manual sweep.
type SweepResponse struct {
	Missed PassResult `json:"missed"`
	Stale  PassResult `json:"stale"`
}

// ReconcileResponse reports a manual load reconciliation.
type ReconcileResponse struct {
	Loads PassResult `json:"loads"`
}

// RebalanceResponse reports a manual rebalance.
type RebalanceResponse struct {
	Scanned  int `json:"scanned"`
	Assigned int `json:"assigned"`
	Waiting  int `json:"waiting"`
}
