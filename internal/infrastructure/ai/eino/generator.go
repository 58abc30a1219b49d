// Package eino implements the AI generation collaborator on an eino chat chain.
package eino

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/ai"
)

// UncertainMarker prefixes answers the model could not ground.
const UncertainMarker = "[UNSURE]"

const systemPrompt = `You are a customer support assistant answering website visitors.
Answer briefly and only from the reference articles below.
If the references do not answer the question, start your reply with ` + UncertainMarker + `.
Never promise actions a human agent has to perform.`

// Config holds the Ark model configuration.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float32
	MaxTokens   *int
	Logger      zerolog.Logger
}

// Generator implements ai.Generator.
type Generator struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger zerolog.Logger
}

// NewGenerator creates a generator backed by an Ark chat model.
func NewGenerator(ctx context.Context, cfg *Config) (*Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ark API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ark model is required")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewGeneratorWithModel(ctx, chatModel, cfg.Logger)
}

// NewGeneratorWithModel wires an existing chat model into the prompt chain.
func NewGeneratorWithModel(ctx context.Context, chatModel model.ChatModel, logger zerolog.Logger) (*Generator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &Generator{
		chain:  runnable,
		logger: logger.With().Str("component", "ai").Logger(),
	}, nil
}

// Generate runs the chain for one visitor message.
func (g *Generator) Generate(ctx context.Context, req *ai.GenerateRequest) (*ai.GenerateResponse, error) {
	out, err := g.chain.Invoke(ctx, map[string]any{
		"system":  buildSystemPrompt(req.References),
		"history": buildHistory(req.History),
		"query":   req.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	text := strings.TrimSpace(out.Content)
	resp := &ai.GenerateResponse{Text: text}
	if strings.HasPrefix(text, UncertainMarker) {
		resp.Uncertain = true
		resp.Text = strings.TrimSpace(strings.TrimPrefix(text, UncertainMarker))
	}

	g.logger.Debug().
		Str("conversationId", req.ConversationID).
		Int("length", len(resp.Text)).
		Bool("uncertain", resp.Uncertain).
		Msg("generated answer")
	return resp, nil
}

func buildSystemPrompt(refs []ai.Reference) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	if len(refs) == 0 {
		b.WriteString("\n\nThere are no reference articles for this question.")
		return b.String()
	}
	b.WriteString("\n\nReference articles:")
	for i, r := range refs {
		fmt.Fprintf(&b, "\n%d. %s\n%s", i+1, r.Title, r.Content)
	}
	return b.String()
}

func buildHistory(turns []ai.Turn) []*schema.Message {
	history := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case ai.RoleVisitor:
			history = append(history, schema.UserMessage(t.Content))
		case ai.RoleAssistant:
			history = append(history, schema.AssistantMessage(t.Content, nil))
		}
	}
	return history
}
