package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
)

// WelcomeMessage opens every transcript.
const WelcomeMessage = "👋 你好！我是你的 AI 实验室助手。我可以帮你理解这个远程门铃是如何工作的，或者如果它不响了帮你排查故障。试着问我“信号是如何传输的？”"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message text is required")
	ErrInvalidRole     = errors.New("invalid message role")
)

// Service encapsulates transcript state management.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	now      func() time.Time
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions an anonymous session seeded with the welcome turn.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	createdAt := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: createdAt,
	}

	welcome := chat.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      chat.RoleModel,
		Text:      WelcomeMessage,
		CreatedAt: createdAt,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = append(make([]chat.Message, 0, 16), welcome)
	s.mu.Unlock()

	return session, nil
}

// Append stores a message at the end of the session transcript and returns
// it with ID and CreatedAt filled in.
func (s *Service) Append(_ context.Context, message chat.Message) (chat.Message, error) {
	if message.SessionID == "" {
		return chat.Message{}, ErrSessionNotFound
	}
	if message.Role != chat.RoleUser && message.Role != chat.RoleModel {
		return chat.Message{}, ErrInvalidRole
	}
	if strings.TrimSpace(message.Text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return message, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// History returns the turns worth sending to the assistant: fallback replies
// are left out. A positive limit keeps only the most recent turns.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	transcript, err := s.LoadTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history := make([]chat.Message, 0, len(transcript))
	for _, msg := range transcript {
		if msg.IsError {
			continue
		}
		history = append(history, msg)
	}

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
