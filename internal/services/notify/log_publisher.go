package notify

import (
	"context"

	"github.com/rs/zerolog"

	core "github.com/dramac/livechat-service/internal/core/notify"
)

// LogPublisher only logs envelopes. Used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "notify-log").Logger()}
}

// Publish logs the routing key and event id.
func (p *LogPublisher) Publish(_ context.Context, key string, msg core.Envelope) error {
	p.logger.Info().Str("key", key).Str("id", msg.Meta.ID).Msg("notification skipped, no broker configured")
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
