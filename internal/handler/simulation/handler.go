package simulation

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/doorbell-lab/backend/internal/analysis/diagnosis"
	model "github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	labsim "github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/pkg/utils"
)

// Lab is the narrow surface renderers get: read access plus named operations.
type Lab interface {
	Snapshot() model.State
	Progress() model.Progress
	Dispatch(action string) bool
}

// Handler 模拟实验的 HTTP 处理器
type Handler struct {
	lab Lab
}

// New 创建模拟处理器
func New(lab Lab) *Handler {
	return &Handler{lab: lab}
}

// RegisterRoutes 注册模拟相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleStatus)
	r.Post("/button/{action}", h.handleButton)
	r.Post("/{action}", h.handleToggle)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.status())
}

// handleToggle 处理电源、代理、订阅和重置。无效操作静默忽略，仍返回当前状态。
func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	switch action := chi.URLParam(r, "action"); action {
	case labsim.ActionPower, labsim.ActionBroker, labsim.ActionSubscription, labsim.ActionReset:
		h.lab.Dispatch(action)
	default:
		utils.RespondError(w, http.StatusNotFound, "unknown action")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleButton(w http.ResponseWriter, r *http.Request) {
	switch action := chi.URLParam(r, "action"); action {
	case labsim.ActionPress, labsim.ActionRelease:
		h.lab.Dispatch(action)
	default:
		utils.RespondError(w, http.StatusNotFound, "unknown button action")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.status())
}

func (h *Handler) status() model.Status {
	return diagnosis.Report(h.lab.Snapshot(), h.lab.Progress())
}
