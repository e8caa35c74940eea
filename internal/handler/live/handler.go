package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/doorbell-lab/backend/internal/analysis/diagnosis"
	model "github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/pkg/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Lab is what live clients may see and trigger.
type Lab interface {
	Snapshot() model.State
	Progress() model.Progress
	Dispatch(action string) bool
}

// Handler serves the live endpoints.
type Handler struct {
	lab       Lab
	hub       *Hub
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// New 创建实时推送处理器
func New(lab Lab, hub *Hub) *Handler {
	return &Handler{
		lab: lab,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		heartbeat: 15 * time.Second,
	}
}

// RegisterRoutes 注册 WebSocket 和 SSE 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/events", h.handleEvents)
}

type inboundMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) status(state model.State) model.Status {
	return diagnosis.Report(state, h.lab.Progress())
}

// handleWebSocket 处理WebSocket连接。所有写操作都在 writeLoop 中进行。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.hub.subscribe(TransportWebSocket)
	defer h.hub.unsubscribe(sub)

	log.Printf("[websocket] client connected from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan outgoingMessage, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, conn, sub, replies)
		cancel()
		// 解除读循环阻塞。
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		reply, ok := h.handleMessage(msg)
		if !ok {
			continue
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	<-done
}

// handleMessage 处理客户端消息，返回需要回复的内容。
func (h *Handler) handleMessage(msg inboundMessage) (outgoingMessage, bool) {
	switch msg.Type {
	case "intent":
		if !h.lab.Dispatch(msg.Action) {
			return errorMessage("unknown action"), true
		}
		// 状态变化会通过 hub 推送。
		return outgoingMessage{}, false
	case "ping":
		return outgoingMessage{Type: "pong", Timestamp: time.Now().Unix()}, true
	default:
		return errorMessage("unsupported message type"), true
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber, replies <-chan outgoingMessage) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	if err := writeJSON(conn, stateMessage(h.status(h.lab.Snapshot()))); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case state := <-sub.updates:
			if err := writeJSON(conn, stateMessage(h.status(state))); err != nil {
				log.Printf("[websocket] write state failed: %v", err)
				return
			}
		case reply := <-replies:
			if err := writeJSON(conn, reply); err != nil {
				log.Printf("[websocket] write reply failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvents 通过 SSE 推送状态快照，带心跳。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.hub.subscribe(TransportSSE)
	defer h.hub.unsubscribe(sub)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] opening state stream for %s", r.RemoteAddr)

	if err := utils.SendSSEEvent(w, flusher, "state", h.status(h.lab.Snapshot())); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing state stream for %s", r.RemoteAddr)
			return
		case state := <-sub.updates:
			if err := utils.SendSSEEvent(w, flusher, "state", h.status(state)); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

func stateMessage(status model.Status) outgoingMessage {
	return outgoingMessage{Type: "state", Data: status, Timestamp: time.Now().Unix()}
}

func errorMessage(message string) outgoingMessage {
	return outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
}

func writeJSON(conn *websocket.Conn, msg outgoingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
