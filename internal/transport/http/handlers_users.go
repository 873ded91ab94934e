package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"walias/internal/user"
	apperrors "walias/pkg/errors"
	"walias/pkg/requestcontext"
)

// UserHandler serves the relay-list routes. Updates are self-service only:
// the authenticated pubkey must equal the target pubkey.
type UserHandler struct {
	users  *user.Service
	logger *slog.Logger
}

func NewUserHandler(users *user.Service, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

func (h *UserHandler) Register(r chi.Router) {
	r.Get("/users/{pubkey}", h.handleFind)
	r.Put("/users/{pubkey}", h.handleUpdateRelays)
}

func (h *UserHandler) handleFind(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Find(r.Context(), chi.URLParam(r, "pubkey"))
	if err != nil {
		writeError(w, err)
		return
	}
	if u == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "User not found"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type updateRelaysRequest struct {
	Relays []string `json:"relays"`
}

func (h *UserHandler) handleUpdateRelays(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "pubkey")

	actor := requestcontext.Pubkey(r.Context())
	if actor == "" {
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "Authentication required"))
		return
	}
	if actor != target {
		writeError(w, apperrors.New(apperrors.CodeForbidden, "Forbidden"))
		return
	}

	var req updateRelaysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	u, err := h.users.UpdateRelays(r.Context(), target, req.Relays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
