package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/wieesion/backend/internal/service/chat"
	"github.com/zhouzirui/wieesion/backend/pkg/utils"
)

// Handler 暴露在线会话的只读视图
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
}

// handleListSessions 列出当前连接的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.chatSvc.ListSessions(r.Context())
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetSession 查询单个会话
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}
