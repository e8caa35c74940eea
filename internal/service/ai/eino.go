package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
)

// ChainResponder runs system prompt, history and query through an eino chain.
type ChainResponder struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewChainResponder compiles the prompt template and chatModel into a chain.
func NewChainResponder(ctx context.Context, chatModel model.ChatModel) (*ChainResponder, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainResponder{chain: runnable}, nil
}

// Respond implements Responder.
func (r *ChainResponder) Respond(ctx context.Context, system string, history []Turn, query string) (string, error) {
	input := map[string]any{
		"system":  system,
		"history": toSchemaMessages(history),
		"query":   query,
	}

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", nil
	}
	return response.Content, nil
}

func toSchemaMessages(history []Turn) []*schema.Message {
	if len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Text))
		case chat.RoleModel:
			messages = append(messages, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return messages
}
