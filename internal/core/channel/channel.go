// Package channel defines the outbound channel adapter interface.
package channel

import (
	"context"
	"errors"

	"github.com/dramac/livechat-service/internal/domain/models"
)

// Type represents the type of outbound channel adapter.
type Type string

const (
	// TypeWebhook posts outbound messages to an HTTP endpoint.
	TypeWebhook Type = "webhook"
	// TypeNone disables external delivery.
	TypeNone Type = "none"
)

// ErrNotConfigured is returned when no adapter is available.
var ErrNotConfigured = errors.New("outbound channel not configured")

// OutboundMessage is what the core hands to an external transport.
type OutboundMessage struct {
	TenantID       string              `json:"tenantId"`
	ConversationID string              `json:"conversationId"`
	MessageID      string              `json:"messageId"`
	Recipient      string              `json:"recipient"`
	ContentType    models.ContentType  `json:"contentType"`
	Content        string              `json:"content,omitempty"`
	Media          *models.MediaRef    `json:"media,omitempty"`
	Template       *models.TemplateRef `json:"template,omitempty"`
}

// Sender delivers messages to an external messaging transport.
type Sender interface {
	// Send delivers msg and returns the transport's message id.
	Send(ctx context.Context, msg *OutboundMessage) (string, error)
}

// Disabled is a Sender that always fails with ErrNotConfigured.
type Disabled struct{}

// Send implements Sender.
func (Disabled) Send(context.Context, *OutboundMessage) (string, error) {
	return "", ErrNotConfigured
}
