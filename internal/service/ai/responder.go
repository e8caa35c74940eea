package ai

import (
	"context"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
)

// Turn is one prior exchange handed to the model.
type Turn struct {
	Role chat.Role
	Text string
}

// Responder produces a single reply for the newest user utterance.
type Responder interface {
	Respond(ctx context.Context, system string, history []Turn, query string) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, system string, history []Turn, query string) (string, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, system string, history []Turn, query string) (string, error) {
	return f(ctx, system, history, query)
}
