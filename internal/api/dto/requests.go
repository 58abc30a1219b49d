// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import "github.com/dramac/livechat-service/internal/domain/models"

// MessageRequest carries the content of a message.
type MessageRequest struct {
	ContentType       models.ContentType  `json:"contentType"`
	Content           string              `json:"content" binding:"max=32000"`
	Media             *models.MediaRef    `json:"media,omitempty"`
	Template          *models.TemplateRef `json:"template,omitempty"`
	ExternalMessageID string              `json:"externalMessageId,omitempty"`
}

// CreateConversationRequest represents the request body for opening a conversation.
type CreateConversationRequest struct {
	VisitorID       string          `json:"visitorId" binding:"required"`
	DepartmentID    string          `json:"departmentId,omitempty"`
	Channel         models.Channel  `json:"channel,omitempty"`
	ExternalContact string          `json:"externalContact,omitempty"`
	Priority        models.Priority `json:"priority,omitempty"`
	DetectedIntent  string          `json:"detectedIntent,omitempty"`
	Message         *MessageRequest `json:"message,omitempty"`
}

// PostMessageRequest represents the request body for posting a message.
type PostMessageRequest struct {
	MessageRequest
	SenderType models.SenderType `json:"senderType" binding:"required,oneof=visitor agent"`
	SenderID   string            `json:"senderId" binding:"required"`
}

// AgentRequest names the agent of an assign, transfer or reopen.
type AgentRequest struct {
	AgentID string `json:"agentId"`
}

// RateRequest represents the request body for rating a conversation.
type RateRequest struct {
	Score   int    `json:"score" binding:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" binding:"max=2000"`
}

// ReadRequest represents a read receipt.
type ReadRequest struct {
	Reader  models.SenderType `json:"reader" binding:"required,oneof=visitor agent"`
	UptoSeq int64             `json:"uptoSeq,omitempty"`
}

// TypingRequest represents a typing indicator change.
type TypingRequest struct {
	ParticipantID   string            `json:"participantId" binding:"required"`
	ParticipantType models.SenderType `json:"participantType" binding:"required,oneof=visitor agent"`
	Typing          bool              `json:"typing"`
}

// AgentStatusRequest represents the request body for an agent status change.
type AgentStatusRequest struct {
	Status models.AgentStatus `json:"status" binding:"required,oneof=online away busy offline"`
}

// InboundWebhookRequest is an inbound message from an external channel.
type InboundWebhookRequest struct {
	MessageRequest
	Contact        string `json:"contact" binding:"required"`
	VisitorID      string `json:"visitorId,omitempty"`
	DepartmentID   string `json:"departmentId,omitempty"`
	DetectedIntent string `json:"detectedIntent,omitempty"`
}

// StatusWebhookRequest is a delivery status callback from an external channel.
type StatusWebhookRequest struct {
	ExternalMessageID string               `json:"externalMessageId" binding:"required"`
	Status            models.MessageStatus `json:"status" binding:"required,oneof=sent delivered read failed"`
	Error             string               `json:"error,omitempty"`
}

// SweepRequest overrides the sweep thresholds of one manual run.
type SweepRequest struct {
	MissedThresholdMinutes int `json:"missedThresholdMinutes,omitempty" binding:"min=0"`
	StaleHours             int `json:"staleHours,omitempty" binding:"min=0"`
}

// ReconcileRequest controls a manual load reconciliation.
type ReconcileRequest struct {
	Immediate bool `json:"immediate"`
}
