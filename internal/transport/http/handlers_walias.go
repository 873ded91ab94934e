package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"walias/internal/domains"
	"walias/internal/model"
	"walias/internal/walias"
	"walias/internal/wallet"
	apperrors "walias/pkg/errors"
	"walias/pkg/requestcontext"
)

// WaliasHandler serves the directory-entry routes. Domain admin rights are
// checked through the domain service; wallet attachment goes through the
// wallet service.
type WaliasHandler struct {
	waliases *walias.Service
	domains  *domains.Service
	wallets  *wallet.Service
	logger   *slog.Logger
}

func NewWaliasHandler(waliases *walias.Service, domains *domains.Service, wallets *wallet.Service, logger *slog.Logger) *WaliasHandler {
	return &WaliasHandler{waliases: waliases, domains: domains, wallets: wallets, logger: logger}
}

func (h *WaliasHandler) Register(r chi.Router) {
	r.Get("/domains/{domain}/walias/{name}", h.handleLookup)
	r.Post("/domains/{domain}/walias/{name}", h.handleCreate)
	r.Put("/domains/{domain}/walias/{name}", h.handleUpsert)
	r.Delete("/domains/{domain}/walias/{name}", h.handleDelete)
	r.Post("/domains/{domain}/walias/{name}/wallets", h.handleAttachWallet)
}

// availabilityResponse doubles as the taken and the free answer: a taken
// name carries the owning pubkey, a free one carries a quote.
type availabilityResponse struct {
	Available bool          `json:"available"`
	Pubkey    string        `json:"pubkey,omitempty"`
	Quote     *model.Quote  `json:"quote,omitempty"`
	Walias    *model.Walias `json:"walias,omitempty"`
}

func (h *WaliasHandler) handleLookup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	domain := chi.URLParam(r, "domain")

	found, err := h.waliases.Find(r.Context(), name, domain)
	if err != nil {
		writeError(w, err)
		return
	}
	if found != nil {
		writeJSON(w, http.StatusOK, availabilityResponse{
			Available: false,
			Pubkey:    found.Pubkey,
			Walias:    found,
		})
		return
	}

	quote, err := h.waliases.Quote(r.Context(), name, domain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNotFound, availabilityResponse{Available: true, Quote: &quote})
}

type claimWaliasRequest struct {
	Pubkey string   `json:"pubkey"`
	Relays []string `json:"relays"`
}

func (h *WaliasHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req claimWaliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	created, err := h.waliases.Create(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "domain"), req.Pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpsert is the set-or-replace PUT. A domain admin may point any name
// at any pubkey; the current owner may transfer their own name. Anyone else
// is rejected.
func (h *WaliasHandler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	actor := requestcontext.Pubkey(r.Context())
	if actor == "" {
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "Authentication required"))
		return
	}

	var req claimWaliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	name := chi.URLParam(r, "name")
	domain := chi.URLParam(r, "domain")

	if err := h.domains.AuthorizeAdmin(r.Context(), domains.NormalizeID(domain), actor); err == nil {
		result, _, err := h.waliases.Upsert(r.Context(), name, domain, walias.UpsertParams{
			Pubkey: req.Pubkey,
			Relays: req.Relays,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		// PUT is set-or-replace; the response is 200 whether or not the
		// name existed before.
		writeJSON(w, http.StatusOK, result)
		return
	}

	result, err := h.waliases.Transfer(r.Context(), name, domain, actor, req.Pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *WaliasHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor := requestcontext.Pubkey(r.Context())
	if actor == "" {
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "Authentication required"))
		return
	}

	err := h.waliases.Delete(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "domain"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attachWalletRequest struct {
	ID          string         `json:"id"`
	Config      map[string]any `json:"config"`
	Provider    string         `json:"provider"`
	Priority    int            `json:"priority"`
	LastEventID *string        `json:"lastEventId"`
}

// handleAttachWallet creates a wallet bound to the walias; the
// authenticated pubkey becomes its owner.
func (h *WaliasHandler) handleAttachWallet(w http.ResponseWriter, r *http.Request) {
	actor := requestcontext.Pubkey(r.Context())
	if actor == "" {
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "Authentication required"))
		return
	}

	name := chi.URLParam(r, "name")
	domain := chi.URLParam(r, "domain")

	found, err := h.waliases.Find(r.Context(), name, domain)
	if err != nil {
		writeError(w, err)
		return
	}
	if found == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "Walias not found"))
		return
	}

	var req attachWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	created, err := h.wallets.Create(r.Context(), wallet.CreateParams{
		ID:          req.ID,
		Pubkey:      actor,
		Config:      req.Config,
		Provider:    req.Provider,
		WaliasID:    found.ID,
		Priority:    req.Priority,
		LastEventID: req.LastEventID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
