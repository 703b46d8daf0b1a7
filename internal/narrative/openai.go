package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"riskwatch/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "You are a risk analyst. Write a short, factual narrative (2-4 sentences) " +
	"explaining the classification below to an investigator. Use only the evidence provided. " +
	"Do not invent numbers or causes."

// OpenAINarrator asks a chat model for the narrative. Every call carries a
// bounded timeout; failures are reported so the caller can fall back to the
// template narrator.
type OpenAINarrator struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAINarrator(apiKey, model string, timeout time.Duration) *OpenAINarrator {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OpenAINarrator{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
	}
}

func (n *OpenAINarrator) Narrate(ctx context.Context, ev Evidence) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("%w: marshal evidence: %v", domain.ErrNarrativeUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(n.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(payload)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNarrativeUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", domain.ErrNarrativeUnavailable)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty narrative", domain.ErrNarrativeUnavailable)
	}
	return text, nil
}
