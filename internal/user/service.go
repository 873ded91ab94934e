// Package user tracks relay lists per public key. Records are an upsert
// target: associating with a pubkey creates it if absent.
package user

import (
	"context"
	"errors"
	"log/slog"

	"walias/internal/model"
	"walias/internal/storage"
	apperrors "walias/pkg/errors"
	"walias/pkg/platform/sentinel"
	"walias/pkg/requestcontext"
	"walias/pkg/validation"
)

type Service struct {
	store  storage.Store
	logger *slog.Logger
}

func NewService(store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Find returns the user record, or (nil, nil) when the pubkey has never
// been seen.
func (s *Service) Find(ctx context.Context, pubkey string) (*model.User, error) {
	if !validation.IsValidKey(pubkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid pubkey")
	}

	u, err := s.store.FindUser(ctx, pubkey)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	return &u, nil
}

// Ensure creates the user record if absent. Idempotent.
func (s *Service) Ensure(ctx context.Context, pubkey string) (*model.User, error) {
	if !validation.IsValidKey(pubkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid pubkey")
	}

	u, err := s.store.EnsureUser(ctx, pubkey, requestcontext.Now(ctx))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	return &u, nil
}

// UpdateRelays replaces the user's relay list, creating the record when it
// does not exist yet.
func (s *Service) UpdateRelays(ctx context.Context, pubkey string, relays []string) (*model.User, error) {
	if !validation.IsValidKey(pubkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid pubkey")
	}
	if relays == nil {
		relays = []string{}
	}

	u, err := s.store.SaveUserRelays(ctx, pubkey, relays, requestcontext.Now(ctx))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	s.logger.InfoContext(ctx, "user relays updated",
		"pubkey", pubkey,
		"relay_count", len(relays),
		"request_id", requestcontext.RequestID(ctx),
	)
	return &u, nil
}
