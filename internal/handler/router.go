package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/doorbell-lab/backend/internal/handler/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/handler/live"
	"github.com/zhouzirui/doorbell-lab/backend/internal/handler/simulation"
	middlewarePkg "github.com/zhouzirui/doorbell-lab/backend/internal/middleware"
	"github.com/zhouzirui/doorbell-lab/backend/internal/observability"
	chatService "github.com/zhouzirui/doorbell-lab/backend/internal/service/chat"
	labsim "github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/pkg/utils"
)

// MirrorStatus reports the MQTT mirror link for /healthz.
type MirrorStatus interface {
	Connected() bool
}

// Dependencies 汇总路由需要的服务。Metrics 为 nil 时不暴露 /metrics，
// Mirror 为 nil 时 /healthz 不报告镜像状态。
type Dependencies struct {
	Lab          *labsim.Choreographer
	Hub          *live.Hub
	Chat         *chatService.Service
	Assistant    chat.Assistant
	HistoryLimit int
	Metrics      *observability.LabCollector
	Mirror       MirrorStatus
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]string{"status": "ok"}
		// 镜像是可选的，断线不影响实验本身
		if deps.Mirror != nil {
			body["mirror"] = "disconnected"
			if deps.Mirror.Connected() {
				body["mirror"] = "connected"
			}
		}
		utils.RespondJSON(w, http.StatusOK, body)
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	simulationHandler := simulation.New(deps.Lab)
	liveHandler := live.New(deps.Lab, deps.Hub)
	chatHandler := chat.New(deps.Chat, deps.Assistant, deps.Lab, deps.HistoryLimit)

	r.Route("/api", func(api chi.Router) {
		api.Route("/simulation", func(sim chi.Router) {
			liveHandler.RegisterRoutes(sim)
			simulationHandler.RegisterRoutes(sim)
		})
		api.Route("/chat", chatHandler.RegisterRoutes)
	})

	return r
}
