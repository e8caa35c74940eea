package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
)

// OpenAIResponder talks to any OpenAI-compatible Chat Completions endpoint,
// e.g. Gemini's compatibility surface.
type OpenAIResponder struct {
	client openai.Client
	model  string
}

// NewOpenAIResponder creates a Chat Completions client with an optional base URL.
func NewOpenAIResponder(apiKey, model, baseURL string) *OpenAIResponder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIResponder{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Respond implements Responder.
func (r *OpenAIResponder) Respond(ctx context.Context, system string, history []Turn, query string) (string, error) {
	resp, err := r.client.Chat.Completions.New(ctx, buildCompletionParams(r.model, system, history, query))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func buildCompletionParams(model, system string, history []Turn, query string) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case chat.RoleModel:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(query))

	return openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
}
