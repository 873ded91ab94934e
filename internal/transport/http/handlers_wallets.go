package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"walias/internal/model"
	"walias/internal/wallet"
	apperrors "walias/pkg/errors"
	"walias/pkg/requestcontext"
)

// WalletHandler serves the wallet CRUD routes. Wallet configs may carry
// provider secrets, so every route requires the owner's pubkey; the
// ownership check lives here, not in the service.
type WalletHandler struct {
	wallets *wallet.Service
	logger  *slog.Logger
}

func NewWalletHandler(wallets *wallet.Service, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger}
}

func (h *WalletHandler) Register(r chi.Router) {
	r.Get("/domains/{domain}/wallets/{walletId}", h.handleFind)
	r.Put("/domains/{domain}/wallets/{walletId}", h.handleUpdate)
	r.Delete("/domains/{domain}/wallets/{walletId}", h.handleDelete)
	r.Get("/domains/{domain}/users/{pubkey}/wallets", h.handleList)
}

// findOwned loads the wallet and enforces that the authenticated pubkey
// owns it. Writes the error response itself on failure.
func (h *WalletHandler) findOwned(w http.ResponseWriter, r *http.Request) (*model.Wallet, bool) {
	actor := requestcontext.Pubkey(r.Context())
	if actor == "" {
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "Authentication required"))
		return nil, false
	}

	found, err := h.wallets.Find(r.Context(), chi.URLParam(r, "walletId"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if found == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "Wallet not found"))
		return nil, false
	}
	if found.Pubkey != actor {
		writeError(w, apperrors.New(apperrors.CodeForbidden, "Forbidden"))
		return nil, false
	}
	return found, true
}

func (h *WalletHandler) handleFind(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type updateWalletRequest struct {
	Config      map[string]any `json:"config"`
	Provider    *string        `json:"provider"`
	Priority    *int           `json:"priority"`
	LastEventID *string        `json:"lastEventId"`
}

func (h *WalletHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findOwned(w, r)
	if !ok {
		return
	}

	var req updateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	updated, err := h.wallets.Update(r.Context(), found.ID, wallet.UpdateParams{
		Config:      req.Config,
		Provider:    req.Provider,
		Priority:    req.Priority,
		LastEventID: req.LastEventID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *WalletHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findOwned(w, r)
	if !ok {
		return
	}
	if err := h.wallets.Delete(r.Context(), found.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns the wallets a pubkey owns. Self-service only: configs
// are not public directory data.
func (h *WalletHandler) handleList(w http.ResponseWriter, r *http.Request) {
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

	wallets, err := h.wallets.ListByPubkey(r.Context(), target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}
