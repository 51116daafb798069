package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	modelsession "github.com/inboxd/inboxd/internal/model/session"
	"github.com/inboxd/inboxd/internal/service/realtime"
	sessionservice "github.com/inboxd/inboxd/internal/service/session"
	"github.com/inboxd/inboxd/internal/service/syncer"
	"github.com/inboxd/inboxd/pkg/utils"
)

// Handler exposes the daemon's state read-only. It consumes mutex-guarded
// snapshots only and never reaches the network, so every endpoint responds
// immediately.
type Handler struct {
	store   *sessionservice.Store
	channel *realtime.Manager
	engine  *syncer.Engine
}

// New creates the status handler.
func New(store *sessionservice.Store, channel *realtime.Manager, engine *syncer.Engine) *Handler {
	return &Handler{store: store, channel: channel, engine: engine}
}

// RegisterRoutes mounts the read-only endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
	r.Get("/conversations", h.handleConversations)
	r.Get("/conversations/{conversationID}/messages", h.handleMessages)
}

type statusResponse struct {
	Hydrated      bool                               `json:"hydrated"`
	Session       modelsession.State                 `json:"session"`
	Identity      *modelsession.Identity             `json:"identity,omitempty"`
	Impersonation *modelsession.ImpersonationContext `json:"impersonation,omitempty"`
	Connection    realtime.State                     `json:"connection"`
	LastError     string                             `json:"lastError,omitempty"`
	Sync          syncer.State                       `json:"sync"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	connState, connErr := h.channel.State()

	resp := statusResponse{
		Hydrated:      h.store.Hydrated(),
		Session:       snap.State(),
		Identity:      snap.Identity,
		Impersonation: snap.Context,
		Connection:    connState,
		Sync:          h.engine.State(),
	}
	if connErr != nil {
		resp.LastError = connErr.Error()
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	if !h.store.Hydrated() {
		utils.RespondError(w, http.StatusServiceUnavailable, "session not hydrated yet")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.engine.Conversations())
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !h.store.Hydrated() {
		utils.RespondError(w, http.StatusServiceUnavailable, "session not hydrated yet")
		return
	}

	conversationID := chi.URLParam(r, "conversationID")
	messages, stale, ok := h.engine.Messages(conversationID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no cached messages for conversation")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"stale":          stale,
		"messages":       messages,
	})
}
