package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/ai"
	chatService "github.com/zhouzirui/doorbell-lab/backend/internal/service/chat"
	"github.com/zhouzirui/doorbell-lab/backend/pkg/utils"
)

// Assistant answers a question given prior turns and a state snapshot.
type Assistant interface {
	Ask(ctx context.Context, history []chat.Message, query string, snapshot simulation.State) ai.Reply
}

// StateReader gives the assistant read-only access to the lab.
type StateReader interface {
	Snapshot() simulation.State
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	assistant    Assistant
	lab          StateReader
	historyLimit int
}

// New 创建聊天处理器。historyLimit 为 0 时发送全部历史。
func New(chatSvc *chatService.Service, assistant Assistant, lab StateReader, historyLimit int) *Handler {
	return &Handler{
		chatSvc:      chatSvc,
		assistant:    assistant,
		lab:          lab,
		historyLimit: historyLimit,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/{sessionID}/messages", h.handleTranscript)
	r.Post("/{sessionID}/messages", h.handleSendMessage)
}

type sessionResponse struct {
	chat.Session
	Messages []chat.Message `json:"messages"`
}

// handleCreateSession 创建会话，返回带欢迎语的记录
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	transcript, err := h.chatSvc.LoadTranscript(r.Context(), session.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionResponse{Session: session, Messages: transcript})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": transcript})
}

type sendResponse struct {
	User  chat.Message `json:"user"`
	Reply chat.Message `json:"reply"`
}

// handleSendMessage 保存用户消息，调用助手并保存回复。助手失败时回复为兜底文案。
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	text := strings.TrimSpace(payload.Text)

	// 先取历史，不包含本次提问。
	history, err := h.chatSvc.History(ctx, sessionID, h.historyLimit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	userMsg, err := h.chatSvc.Append(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Text:      text,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	reply := h.assistant.Ask(ctx, history, text, h.lab.Snapshot())

	replyMsg, err := h.chatSvc.Append(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleModel,
		Text:      reply.Text,
		IsError:   reply.IsError,
	})
	if err != nil {
		log.Printf("[chat] failed to save reply for session=%s: %v", sessionID, err)
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sendResponse{User: userMsg, Reply: replyMsg})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, chatService.ErrInvalidRole):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
