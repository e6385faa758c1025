package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/startup-chat/client/internal/service/conversation"
	"github.com/zhouzirui/startup-chat/client/pkg/utils"
)

// Handler exposes the conversation controller over HTTP. Every mutating
// route answers with the resulting snapshot.
type Handler struct {
	ctrl *conversation.Controller
}

// New creates a chat handler.
func New(ctrl *conversation.Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Post("/messages", h.handleSendMessage)
	r.Post("/chats", h.handleNewConversation)
	r.Post("/chats/{sessionID}/select", h.handleSelectChat)
	r.Delete("/chats/{sessionID}", h.handleDeleteChat)
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// a dropped request must not abandon a turn that already has its
	// optimistic message on screen
	if err := h.ctrl.SendMessage(context.WithoutCancel(r.Context()), payload.Text); err != nil {
		respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleNewConversation(w http.ResponseWriter, _ *http.Request) {
	h.ctrl.NewConversation()
	utils.RespondJSON(w, http.StatusCreated, h.ctrl.Snapshot())
}

func (h *Handler) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.SelectChat(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		respondControllerError(w, conversation.ErrSessionIDEmpty)
		return
	}
	h.ctrl.DeleteChat(r.Context(), sessionID)
	utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func respondControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, conversation.ErrSessionIDEmpty):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
