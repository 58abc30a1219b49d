package models

import (
	"fmt"
	"time"
)

// SenderType identifies who wrote a message.
type SenderType string

const (
	SenderVisitor SenderType = "visitor"
	SenderAgent   SenderType = "agent"
	SenderSystem  SenderType = "system"
	SenderAI      SenderType = "ai"
)

// IsValid reports whether s is a known sender type.
func (s SenderType) IsValid() bool {
	switch s {
	case SenderVisitor, SenderAgent, SenderSystem, SenderAI:
		return true
	}
	return false
}

// ContentType is the discriminator of the message payload variant.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeFile     ContentType = "file"
	ContentTypeSystem   ContentType = "system"
	ContentTypeNote     ContentType = "note"
	ContentTypeTemplate ContentType = "template"
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

var messageStatusRank = map[MessageStatus]int{
	MessageStatusSending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// Advances reports whether moving from s to next goes forward in the
// delivery pipeline. Failed is terminal and reachable from any non-read state.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	if next == MessageStatusFailed {
		return s != MessageStatusRead
	}
	cur, ok1 := messageStatusRank[s]
	nxt, ok2 := messageStatusRank[next]
	return ok1 && ok2 && nxt > cur
}

// MediaRef points at an uploaded image or file.
type MediaRef struct {
	URL      string `json:"url" bson:"url"`
	Name     string `json:"name,omitempty" bson:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty" bson:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty" bson:"size,omitempty"`
}

// TemplateRef references a pre-approved message template.
type TemplateRef struct {
	Name      string            `json:"name" bson:"name"`
	Language  string            `json:"language,omitempty" bson:"language,omitempty"`
	Variables map[string]string `json:"variables,omitempty" bson:"variables,omitempty"`
}

// Message is one entry of a conversation. Seq and CreatedAt are assigned by
// the persistence gateway at commit time and are strictly increasing within
// a conversation.
type Message struct {
	ID                string        `json:"id" bson:"_id"`
	TenantID          string        `json:"tenantId" bson:"tenantId"`
	ConversationID    string        `json:"conversationId" bson:"conversationId"`
	Seq               int64         `json:"seq" bson:"seq"`
	SenderType        SenderType    `json:"senderType" bson:"senderType"`
	SenderID          string        `json:"senderId,omitempty" bson:"senderId,omitempty"`
	ContentType       ContentType   `json:"contentType" bson:"contentType"`
	Content           string        `json:"content,omitempty" bson:"content,omitempty"`
	Media             *MediaRef     `json:"media,omitempty" bson:"media,omitempty"`
	Template          *TemplateRef  `json:"template,omitempty" bson:"template,omitempty"`
	Status            MessageStatus `json:"status" bson:"status"`
	IsAIGenerated     bool          `json:"isAiGenerated,omitempty" bson:"isAiGenerated,omitempty"`
	AIConfidence      float64       `json:"aiConfidence,omitempty" bson:"aiConfidence,omitempty"`
	ExternalMessageID string        `json:"externalMessageId,omitempty" bson:"externalMessageId,omitempty"`
	ErrorMessage      string        `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`
	CreatedAt         time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt" bson:"updatedAt"`
	ReadAt            *time.Time    `json:"readAt,omitempty" bson:"readAt,omitempty"`
}

// Payload is the sealed set of message content variants keyed by ContentType.
type Payload interface {
	ContentType() ContentType
	payload()
}

// TextPayload is a plain text message.
type TextPayload struct{ Text string }

// ImagePayload is an image attachment with an optional caption.
type ImagePayload struct {
	Media   MediaRef
	Caption string
}

// FilePayload is a generic file attachment.
type FilePayload struct {
	Media   MediaRef
	Caption string
}

// SystemPayload is a service-generated notice shown to both sides.
type SystemPayload struct{ Text string }

// NotePayload is an internal note visible to agents only.
type NotePayload struct{ Text string }

// TemplatePayload is a templated message for external channels.
type TemplatePayload struct {
	Template TemplateRef
	Fallback string
}

func (TextPayload) ContentType() ContentType     { return ContentTypeText }
func (ImagePayload) ContentType() ContentType    { return ContentTypeImage }
func (FilePayload) ContentType() ContentType     { return ContentTypeFile }
func (SystemPayload) ContentType() ContentType   { return ContentTypeSystem }
func (NotePayload) ContentType() ContentType     { return ContentTypeNote }
func (TemplatePayload) ContentType() ContentType { return ContentTypeTemplate }

func (TextPayload) payload()     {}
func (ImagePayload) payload()    {}
func (FilePayload) payload()     {}
func (SystemPayload) payload()   {}
func (NotePayload) payload()     {}
func (TemplatePayload) payload() {}

// Payload decodes the stored fields into the variant selected by ContentType.
func (m *Message) Payload() (Payload, error) {
	switch m.ContentType {
	case ContentTypeText:
		if m.Content == "" {
			return nil, fmt.Errorf("text message requires content")
		}
		return TextPayload{Text: m.Content}, nil
	case ContentTypeImage:
		if m.Media == nil || m.Media.URL == "" {
			return nil, fmt.Errorf("image message requires media url")
		}
		return ImagePayload{Media: *m.Media, Caption: m.Content}, nil
	case ContentTypeFile:
		if m.Media == nil || m.Media.URL == "" {
			return nil, fmt.Errorf("file message requires media url")
		}
		return FilePayload{Media: *m.Media, Caption: m.Content}, nil
	case ContentTypeSystem:
		return SystemPayload{Text: m.Content}, nil
	case ContentTypeNote:
		if m.Content == "" {
			return nil, fmt.Errorf("note requires content")
		}
		return NotePayload{Text: m.Content}, nil
	case ContentTypeTemplate:
		if m.Template == nil || m.Template.Name == "" {
			return nil, fmt.Errorf("template message requires template name")
		}
		return TemplatePayload{Template: *m.Template, Fallback: m.Content}, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", m.ContentType)
	}
}

// VisibleToVisitor reports whether the visitor side may see the message.
func (m *Message) VisibleToVisitor() bool {
	return m.ContentType != ContentTypeNote
}

// NewMessage creates a message in sending status. Seq and CreatedAt are
// filled in by the store.
func NewMessage(tenantID, conversationID string, sender SenderType, senderID string, contentType ContentType, content string) *Message {
	return &Message{
		TenantID:       tenantID,
		ConversationID: conversationID,
		SenderType:     sender,
		SenderID:       senderID,
		ContentType:    contentType,
		Content:        content,
		Status:         MessageStatusSending,
	}
}

// NewSystemMessage creates a system notice for a conversation.
func NewSystemMessage(tenantID, conversationID, text string) *Message {
	m := NewMessage(tenantID, conversationID, SenderSystem, "", ContentTypeSystem, text)
	m.Status = MessageStatusSent
	return m
}
