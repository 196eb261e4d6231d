package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/wieesion/backend/internal/handler/catalog"
	"github.com/zhouzirui/wieesion/backend/internal/handler/chat"
	"github.com/zhouzirui/wieesion/backend/internal/handler/persona"
	"github.com/zhouzirui/wieesion/backend/internal/handler/realtime"
	"github.com/zhouzirui/wieesion/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/wieesion/backend/internal/middleware"
	"github.com/zhouzirui/wieesion/backend/internal/service/ratelimit"
	sessionService "github.com/zhouzirui/wieesion/backend/internal/service/session"
	"github.com/zhouzirui/wieesion/backend/pkg/utils"
)

// Services 汇总路由需要的进程级依赖。
type Services struct {
	Session        sessionService.Deps
	Limiter        *ratelimit.Limiter
	SpeechLanguage string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", svc.Session.Metrics.Handler())

	realtime.NewWebSocketHandler(svc.Session).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		persona.New(svc.Session.Personas).RegisterRoutes(api)
		chat.New(svc.Session.Registry).RegisterRoutes(api)
		catalog.New(svc.Session.Router, svc.Limiter).RegisterRoutes(api)
		speech.New(svc.Session.Transcriber, svc.SpeechLanguage, svc.Session.Metrics).RegisterRoutes(api)
	})

	return r
}
