package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
	"github.com/zhouzirui/wieesion/backend/internal/service/ratelimit"
	"github.com/zhouzirui/wieesion/backend/internal/service/routing"
	"github.com/zhouzirui/wieesion/backend/pkg/utils"
)

// Handler 提供模型目录与限流状态
type Handler struct {
	catalog *ai.Catalog
	router  *routing.Router
	limiter *ratelimit.Limiter
}

// New 创建目录处理器，limiter 可为空。
func New(router *routing.Router, limiter *ratelimit.Limiter) *Handler {
	return &Handler{catalog: router.Catalog(), router: router, limiter: limiter}
}

// RegisterRoutes 注册目录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
	r.Get("/limits", h.handleLimits)
}

type modeDefault struct {
	Mode     string `json:"mode"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// handleListModels 返回 provider 列表以及每个模式解析出的默认模型
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	modes := make([]modeDefault, 0, 3)
	for _, mode := range []routing.Mode{routing.ModeGeneral, routing.ModeCoding, routing.ModeDocument} {
		target, err := h.router.Resolve(routing.Selection{Mode: mode}, false)
		if err != nil {
			continue
		}
		modes = append(modes, modeDefault{Mode: string(mode), Provider: target.Provider, Model: target.Model})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"providers": h.catalog.Providers(),
		"modes":     modes,
	})
}

// handleLimits 返回各 provider 的窗口占用
func (h *Handler) handleLimits(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		utils.RespondJSON(w, http.StatusOK, map[string]any{"limits": []ratelimit.Status{}})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"limits": h.limiter.Status()})
}
