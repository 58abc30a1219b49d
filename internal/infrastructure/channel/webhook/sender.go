// Package webhook provides an outbound channel adapter that posts messages
// to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/channel"
)

// DefaultTimeout bounds one delivery request.
const DefaultTimeout = 10 * time.Second

// Config holds the configuration for the webhook sender.
type Config struct {
	URL        string
	Token      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

// Sender implements channel.Sender over HTTP.
type Sender struct {
	url        string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSender creates a webhook sender.
func NewSender(config *Config) (*Sender, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Sender{
		url:        config.URL,
		token:      config.Token,
		httpClient: httpClient,
		logger:     config.Logger.With().Str("component", "channel.webhook").Logger(),
	}, nil
}

// Send posts msg as JSON. The endpoint answers 2xx with {"messageId": "..."}.
func (s *Sender) Send(ctx context.Context, msg *channel.OutboundMessage) (string, error) {
	if msg.Recipient == "" {
		return "", fmt.Errorf("recipient is required")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req, msg)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out sendResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != "" {
			return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("response is missing messageId")
	}

	s.logger.Debug().
		Str("conversationId", msg.ConversationID).
		Str("externalMessageId", out.MessageID).
		Msg("outbound message delivered")
	return out.MessageID, nil
}

func (s *Sender) setHeaders(req *http.Request, msg *channel.OutboundMessage) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", msg.TenantID)
	req.Header.Set("Idempotency-Key", msg.MessageID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
