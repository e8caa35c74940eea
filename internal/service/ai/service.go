package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/doorbell-lab/backend/internal/config"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
)

// Fallback replies shown in the transcript instead of an error.
const (
	EmptyReplyFallback = "我现在有点思考困难，请再问一次！"
	ErrorReplyFallback = "连接实验室服务器时出现问题，请检查你的网络连接。"
)

// Outcomes passed to a Recorder.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

var ErrNotConfigured = errors.New("assistant credentials are not configured")

// Recorder observes every assistant call.
type Recorder interface {
	ObserveAssistant(result string, elapsed time.Duration)
}

// Reply is what gets appended to the transcript.
type Reply struct {
	Text    string
	IsError bool
}

// Service answers lab questions. It only ever sees a copy of the simulation
// state and never mutates it.
type Service struct {
	responder Responder
	timeout   time.Duration
	recorder  Recorder
}

// Option customises a Service.
type Option func(*Service)

// WithTimeout bounds each assistant call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService wraps a responder. A nil responder makes every call fall back.
func NewService(responder Responder, opts ...Option) *Service {
	s := &Service{responder: responder, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewResponder builds the backend selected by cfg.Provider.
func NewResponder(ctx context.Context, cfg config.AIConfig) (Responder, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIResponder(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	default:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewChainResponder(ctx, chatModel)
	}
}

// Ask sends history (fallback turns excluded), the query and the state flags
// to the model. Failures never escape: they become a fallback reply.
func (s *Service) Ask(ctx context.Context, history []chat.Message, query string, snapshot simulation.State) Reply {
	start := time.Now()
	text, err := s.respond(ctx, history, query, snapshot)

	switch {
	case err != nil:
		log.Printf("[ai] assistant call failed: %v", err)
		s.observe(ResultError, start)
		return Reply{Text: ErrorReplyFallback, IsError: true}
	case strings.TrimSpace(text) == "":
		s.observe(ResultEmpty, start)
		return Reply{Text: EmptyReplyFallback}
	default:
		s.observe(ResultOK, start)
		log.Printf("[ai] generated reply, length=%d", len(text))
		return Reply{Text: text}
	}
}

func (s *Service) respond(ctx context.Context, history []chat.Message, query string, snapshot simulation.State) (string, error) {
	if s.responder == nil {
		return "", ErrNotConfigured
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	turns := make([]Turn, 0, len(history))
	for _, msg := range history {
		if msg.IsError {
			continue
		}
		turns = append(turns, Turn{Role: msg.Role, Text: msg.Text})
	}

	return s.responder.Respond(ctx, BuildSystemPrompt(snapshot), turns, query)
}

func (s *Service) observe(result string, start time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveAssistant(result, time.Since(start))
	}
}
