// Package wallet manages per-walias payment-provider records. The service
// is pure CRUD: the ownership check (authenticated pubkey == wallet.pubkey)
// lives one layer up in the routes, consistently for every mutating
// endpoint.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"

	"walias/internal/audit"
	"walias/internal/model"
	"walias/internal/storage"
	apperrors "walias/pkg/errors"
	"walias/pkg/platform/sentinel"
	"walias/pkg/requestcontext"
	"walias/pkg/validation"
)

// DefaultProvider is used when a wallet is created without one.
const DefaultProvider = "DEFAULT"

type Service struct {
	store  storage.Store
	logger *slog.Logger
	audit  *audit.Emitter
}

func NewService(store storage.Store, logger *slog.Logger, emitter *audit.Emitter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, audit: emitter}
}

// Find returns the wallet, or (nil, nil) when absent. Config is always
// structured on the way out.
func (s *Service) Find(ctx context.Context, id string) (*model.Wallet, error) {
	w, err := s.store.FindWallet(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	return &w, nil
}

// ListByPubkey returns every wallet owned by pubkey.
func (s *Service) ListByPubkey(ctx context.Context, pubkey string) ([]model.Wallet, error) {
	wallets, err := s.store.ListWalletsByPubkey(ctx, pubkey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	if wallets == nil {
		wallets = []model.Wallet{}
	}
	return wallets, nil
}

// CreateParams describes a new wallet. A missing ID is generated as random
// 32-byte hex; priority defaults to zero.
type CreateParams struct {
	ID          string
	Pubkey      string
	Config      map[string]any
	Provider    string
	WaliasID    string
	Priority    int
	LastEventID *string
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*model.Wallet, error) {
	if !validation.IsValidKey(params.Pubkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid pubkey")
	}

	id := params.ID
	if id == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
		}
		id = hex.EncodeToString(buf)
	}

	provider := params.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	config := params.Config
	if config == nil {
		config = map[string]any{}
	}

	now := requestcontext.Now(ctx)
	w := model.Wallet{
		ID:          id,
		Pubkey:      params.Pubkey,
		Config:      config,
		Provider:    provider,
		WaliasID:    params.WaliasID,
		Priority:    params.Priority,
		LastEventID: params.LastEventID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, apperrors.New(apperrors.CodeConflict, "Wallet already exists")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "Walias not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	s.audit.Emit(ctx, audit.Event{Type: audit.TypeWalletCreated, Subject: id, Actor: params.Pubkey, At: now})
	return &w, nil
}

// UpdateParams is a partial update: nil fields stay untouched.
type UpdateParams struct {
	Config      map[string]any
	Provider    *string
	Priority    *int
	LastEventID *string
}

func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*model.Wallet, error) {
	w, err := s.store.FindWallet(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "Wallet not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	if params.Config != nil {
		w.Config = params.Config
	}
	if params.Provider != nil {
		w.Provider = *params.Provider
	}
	if params.Priority != nil {
		w.Priority = *params.Priority
	}
	if params.LastEventID != nil {
		w.LastEventID = params.LastEventID
	}
	w.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.UpdateWallet(ctx, w); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	return &w, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteWallet(ctx, id); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "Wallet not found")
		}
		return apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	s.audit.Emit(ctx, audit.Event{
		Type: audit.TypeWalletDeleted, Subject: id,
		Actor: requestcontext.Pubkey(ctx), At: requestcontext.Now(ctx),
	})
	return nil
}
