package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"walias/internal/domains"
	"walias/internal/model"
	apperrors "walias/pkg/errors"
	"walias/pkg/requestcontext"
)

// DomainHandler serves the domain lifecycle routes.
type DomainHandler struct {
	domains *domains.Service
	logger  *slog.Logger
}

func NewDomainHandler(svc *domains.Service, logger *slog.Logger) *DomainHandler {
	return &DomainHandler{domains: svc, logger: logger}
}

func (h *DomainHandler) Register(r chi.Router) {
	r.Post("/domains/{domain}", h.handleRegister)
	r.Get("/domains/{domain}", h.handleFind)
	r.Put("/domains/{domain}", h.handleUpdate)
	r.Delete("/domains/{domain}", h.handleDelete)
	r.Post("/domains/{domain}/verify", h.handleVerify)
}

type registerDomainRequest struct {
	Relays      []string `json:"relays"`
	AdminPubkey string   `json:"adminPubkey"`
	RootPrivkey string   `json:"rootPrivkey"`
}

func (h *DomainHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerDomainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidInput, "Invalid request body"))
			return
		}
	}

	reg, err := h.domains.Register(r.Context(), chi.URLParam(r, "domain"), domains.RegisterParams{
		Relays:      req.Relays,
		AdminPubkey: req.AdminPubkey,
		RootPrivkey: req.RootPrivkey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (h *DomainHandler) handleFind(w http.ResponseWriter, r *http.Request) {
	p, err := h.domains.Find(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	if p == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "Domain not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateDomainRequest struct {
	Relays      []string `json:"relays"`
	AdminPubkey *string  `json:"adminPubkey"`
	RootPrivkey *string  `json:"rootPrivkey"`
}

// requireDomainAdmin gates the mutating domain routes: an authenticated
// pubkey must be present and match the domain's admin or root key.
func (h *DomainHandler) requireDomainAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	pubkey := requestcontext.Pubkey(r.Context())
	if pubkey == "" {
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "Authentication required"))
		return "", false
	}
	id := domains.NormalizeID(chi.URLParam(r, "domain"))
	if err := h.domains.AuthorizeAdmin(r.Context(), id, pubkey); err != nil {
		writeError(w, err)
		return "", false
	}
	return id, true
}

func (h *DomainHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireDomainAdmin(w, r)
	if !ok {
		return
	}

	var req updateDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	p, err := h.domains.Update(r.Context(), id, domains.UpdateParams{
		Relays:      req.Relays,
		AdminPubkey: req.AdminPubkey,
		RootPrivkey: req.RootPrivkey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *DomainHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireDomainAdmin(w, r)
	if !ok {
		return
	}
	if err := h.domains.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type verifyDomainResponse struct {
	Success bool `json:"success"`
	*model.DomainProjection
}

func (h *DomainHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "domain")

	res, err := h.domains.Verify(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.Verified {
		writeError(w, apperrors.New(apperrors.CodeVerificationFailed, "Validation failed"))
		return
	}

	p, err := h.domains.Find(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.AlreadyVerified {
		status = http.StatusAlreadyReported
	}
	writeJSON(w, status, verifyDomainResponse{Success: true, DomainProjection: p})
}
