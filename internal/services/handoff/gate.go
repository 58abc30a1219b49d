// Package handoff decides whether the AI may answer a visitor message or a
// human has to take over.
package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/ai"
	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
)

const (
	// DefaultThreshold is the minimum confidence for an automatic answer.
	DefaultThreshold = 0.7
	// DefaultTimeout bounds one generation call.
	DefaultTimeout = 8 * time.Second
	// DefaultContextMessages is how many prior messages the model sees.
	DefaultContextMessages = 10
	// NoMatchConfidence is assigned to answers not backed by any article.
	NoMatchConfidence = 0.3
	// maxReferences caps the articles passed to the model.
	maxReferences = 3
)

// Decision reasons.
const (
	ReasonKeyword          = "handoff keyword"
	ReasonDisabled         = "ai disabled"
	ReasonGenerationFailed = "generation failed"
	ReasonLowConfidence    = "low confidence"
	ReasonConfident        = "confident answer"
)

// GateConfig holds the configuration for the handoff gate.
type GateConfig struct {
	Agents          docdb.AgentsCollection
	KnowledgeBase   KnowledgeBase
	Generator       ai.Generator
	Keywords        []string
	Threshold       float64
	Timeout         time.Duration
	ContextMessages int
	Logger          zerolog.Logger
}

// Gate is the AI handoff gate.
type Gate struct {
	agents          docdb.AgentsCollection
	kb              KnowledgeBase
	generator       ai.Generator
	keywords        []string
	threshold       float64
	timeout         time.Duration
	contextMessages int
	logger          zerolog.Logger
}

// NewGate creates a handoff gate. A nil generator queues every message that
// is not a keyword handoff.
func NewGate(cfg *GateConfig) (*Gate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agents collection is required")
	}
	g := &Gate{
		agents:          cfg.Agents,
		kb:              cfg.KnowledgeBase,
		generator:       cfg.Generator,
		keywords:        normalizeKeywords(cfg.Keywords),
		threshold:       cfg.Threshold,
		timeout:         cfg.Timeout,
		contextMessages: cfg.ContextMessages,
		logger:          cfg.Logger.With().Str("component", "handoff").Logger(),
	}
	if len(g.keywords) == 0 {
		g.keywords = DefaultKeywords
	}
	if g.threshold <= 0 {
		g.threshold = DefaultThreshold
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.contextMessages <= 0 {
		g.contextMessages = DefaultContextMessages
	}
	return g, nil
}

// ShouldAutoRespond reports whether the AI may answer: the conversation has
// no agent and no online agent of its department (or of the tenant when it
// has none) has spare capacity.
func (g *Gate) ShouldAutoRespond(ctx context.Context, conv *models.Conversation) (bool, error) {
	if conv.IsAssigned() {
		return false, nil
	}
	agents, err := g.agents.List(ctx, &docdb.ListAgentsOptions{
		TenantID:     conv.TenantID,
		DepartmentID: conv.DepartmentID,
		Statuses:     []models.AgentStatus{models.AgentStatusOnline},
	})
	if err != nil {
		return false, domainerrors.NewPersistenceError("list agents", err)
	}
	for _, a := range agents {
		if a.HasCapacity() {
			return false, nil
		}
	}
	return true, nil
}

// Decide evaluates a visitor message. It never returns an error for
// collaborator failures; those degrade to a queue decision.
func (g *Gate) Decide(ctx context.Context, conv *models.Conversation, history []*models.Message, text string) *models.HandoffDecision {
	logger := g.logger.With().Str("tenantId", conv.TenantID).Str("conversationId", conv.ID).Logger()

	if kw, ok := matchKeyword(text, g.keywords); ok {
		logger.Debug().Str("keyword", kw).Msg("handoff keyword matched")
		return &models.HandoffDecision{Action: models.HandoffActionHandoff, Reason: ReasonKeyword}
	}
	if g.generator == nil {
		return &models.HandoffDecision{Action: models.HandoffActionQueue, Reason: ReasonDisabled}
	}

	var matches []Match
	if g.kb != nil {
		found, err := g.kb.Search(ctx, conv.TenantID, text)
		if err != nil {
			logger.Warn().Err(err).Msg("knowledge base search failed")
		} else {
			matches = found
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.generator.Generate(genCtx, &ai.GenerateRequest{
		ConversationID: conv.ID,
		Query:          text,
		History:        g.turns(history),
		References:     references(matches),
	})
	if err != nil {
		logger.Warn().Err(domainerrors.NewCollaboratorUnavailableError("ai", err)).Msg("ai generation failed, queueing")
		return &models.HandoffDecision{Action: models.HandoffActionQueue, Reason: ReasonGenerationFailed}
	}

	confidence := Confidence(matches, resp)
	if confidence >= g.threshold {
		return &models.HandoffDecision{
			Action:     models.HandoffActionAutoRespond,
			Text:       resp.Text,
			Confidence: confidence,
			Reason:     ReasonConfident,
		}
	}
	logger.Debug().Float64("confidence", confidence).Msg("ai answer below threshold")
	return &models.HandoffDecision{Action: models.HandoffActionQueue, Confidence: confidence, Reason: ReasonLowConfidence}
}

// Confidence scores a generated answer. The base is the best article score,
// or NoMatchConfidence without a match; an uncertainty signal halves it and
// an empty answer scores zero.
func Confidence(matches []Match, resp *ai.GenerateResponse) float64 {
	if resp == nil || resp.Text == "" {
		return 0
	}
	score := NoMatchConfidence
	if len(matches) > 0 {
		score = matches[0].Score
	}
	if resp.Uncertain {
		score /= 2
	}
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

func (g *Gate) turns(history []*models.Message) []ai.Turn {
	out := make([]ai.Turn, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		switch m.SenderType {
		case models.SenderVisitor:
			out = append(out, ai.Turn{Role: ai.RoleVisitor, Content: m.Content})
		case models.SenderAgent, models.SenderAI:
			if m.VisibleToVisitor() {
				out = append(out, ai.Turn{Role: ai.RoleAssistant, Content: m.Content})
			}
		}
	}
	if len(out) > g.contextMessages {
		out = out[len(out)-g.contextMessages:]
	}
	return out
}

func references(matches []Match) []ai.Reference {
	n := len(matches)
	if n > maxReferences {
		n = maxReferences
	}
	out := make([]ai.Reference, 0, n)
	for _, m := range matches[:n] {
		out = append(out, ai.Reference{Title: m.Article.Title, Content: m.Article.Answer, Score: m.Score})
	}
	return out
}
