package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inboxd/inboxd/internal/handler/status"
	middlewarePkg "github.com/inboxd/inboxd/internal/middleware"
	"github.com/inboxd/inboxd/internal/service/realtime"
	sessionservice "github.com/inboxd/inboxd/internal/service/session"
	"github.com/inboxd/inboxd/internal/service/syncer"
)

// NewRouter wires the local status API to the core services.
func NewRouter(store *sessionservice.Store, channel *realtime.Manager, engine *syncer.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	statusHandler := status.New(store, channel, engine)

	r.Route("/api", func(api chi.Router) {
		statusHandler.RegisterRoutes(api)
	})

	return r
}
