// Package walias implements the directory entries themselves: claiming,
// transferring, resolving, and releasing name@domain aliases.
package walias

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"walias/internal/audit"
	"walias/internal/model"
	"walias/internal/platform/metrics"
	"walias/internal/storage"
	apperrors "walias/pkg/errors"
	"walias/pkg/platform/sentinel"
	"walias/pkg/requestcontext"
	"walias/pkg/validation"
)

// Service owns the alias lifecycle. Claims run inside one transaction so a
// concurrent duplicate claim can never leave an orphaned User or a
// half-created alias.
type Service struct {
	store   storage.Store
	oracle  QuoteOracle
	cache   ResolveCache
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Emitter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(e *audit.Emitter) Option {
	return func(s *Service) { s.audit = e }
}

func WithCache(c ResolveCache) Option {
	return func(s *Service) { s.cache = c }
}

func NewService(store storage.Store, oracle QuoteOracle, opts ...Option) *Service {
	s := &Service{
		store:  store,
		oracle: oracle,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Find resolves name@domain. Absence is (nil, nil): alias existence is
// public directory data and a miss is not a failure.
func (s *Service) Find(ctx context.Context, name, domainID string) (*model.Walias, error) {
	id := model.WaliasID(normalize(name), normalize(domainID))

	if s.cache != nil {
		if w, ok := s.cache.Get(ctx, id); ok {
			return w, nil
		}
	}

	w, err := s.store.FindWalias(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	if s.cache != nil {
		s.cache.Set(ctx, w)
	}
	return &w, nil
}

// Quote prices an unclaimed name for the availability check.
func (s *Service) Quote(ctx context.Context, name, domainID string) (model.Quote, error) {
	q, err := s.oracle.Quote(ctx, normalize(name), normalize(domainID))
	if err != nil {
		return model.Quote{}, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	return q, nil
}

func (s *Service) validateClaim(name, domainID, pubkey string) error {
	if name == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "Invalid walias name")
	}
	if !validation.IsValidDomain(domainID) {
		return apperrors.New(apperrors.CodeInvalidInput, "Invalid domain name")
	}
	if !validation.IsValidKey(pubkey, 32) {
		return apperrors.New(apperrors.CodeInvalidInput, "Invalid pubkey")
	}
	return nil
}

// Create claims a free name for pubkey. The claim, the domain-existence
// check, and the implicit User creation commit atomically; a lost race
// surfaces as Conflict.
func (s *Service) Create(ctx context.Context, name, domainID, pubkey string) (*model.Walias, error) {
	name, domainID = normalize(name), normalize(domainID)
	if err := s.validateClaim(name, domainID, pubkey); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	w := model.Walias{
		ID:        model.WaliasID(name, domainID),
		Name:      name,
		DomainID:  domainID,
		Pubkey:    pubkey,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.FindDomain(txCtx, domainID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return apperrors.New(apperrors.CodeNotFound, "Domain not found")
			}
			return err
		}
		// Uniqueness first: a losing claim must not create the user row.
		if err := s.store.CreateWalias(txCtx, w); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return apperrors.New(apperrors.CodeConflict, "Already taken")
			}
			return err
		}
		_, err := s.store.EnsureUser(txCtx, pubkey, now)
		return err
	})
	if err != nil {
		return nil, internalUnlessTyped(err)
	}

	s.logger.InfoContext(ctx, "walias claimed",
		"walias", w.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.WaliasesCreated.Inc()
	}
	s.audit.Emit(ctx, audit.Event{Type: audit.TypeWaliasClaimed, Subject: w.ID, Actor: pubkey, At: now})
	s.invalidate(ctx, w.ID)

	return &w, nil
}

// UpsertParams configures a set-or-replace registration.
type UpsertParams struct {
	Pubkey string
	Relays []string
}

// Upsert sets or replaces the alias in one transaction: domain check, User
// creation (with relays when supplied), then the alias write. The route
// layer pre-authorizes the caller. Returns created=true when the name was
// previously free.
func (s *Service) Upsert(ctx context.Context, name, domainID string, params UpsertParams) (*model.Walias, bool, error) {
	name, domainID = normalize(name), normalize(domainID)
	if err := s.validateClaim(name, domainID, params.Pubkey); err != nil {
		return nil, false, err
	}

	now := requestcontext.Now(ctx)
	id := model.WaliasID(name, domainID)
	created := false

	var result model.Walias
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.FindDomain(txCtx, domainID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return apperrors.New(apperrors.CodeNotFound, "Domain not found")
			}
			return err
		}

		if params.Relays != nil {
			if _, err := s.store.SaveUserRelays(txCtx, params.Pubkey, params.Relays, now); err != nil {
				return err
			}
		} else if _, err := s.store.EnsureUser(txCtx, params.Pubkey, now); err != nil {
			return err
		}

		existing, err := s.store.FindWalias(txCtx, id)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			created = true
			result = model.Walias{
				ID: id, Name: name, DomainID: domainID,
				Pubkey: params.Pubkey, CreatedAt: now, UpdatedAt: now,
			}
		case err != nil:
			return err
		default:
			result = existing
			result.Pubkey = params.Pubkey
			result.UpdatedAt = now
		}
		return s.store.UpsertWalias(txCtx, result)
	})
	if err != nil {
		return nil, false, internalUnlessTyped(err)
	}

	eventType := audit.TypeWaliasReplaced
	if created {
		eventType = audit.TypeWaliasClaimed
		if s.metrics != nil {
			s.metrics.WaliasesCreated.Inc()
		}
	}
	s.audit.Emit(ctx, audit.Event{Type: eventType, Subject: id, Actor: params.Pubkey, At: now})
	s.invalidate(ctx, id)

	return &result, created, nil
}

// Transfer reassigns ownership. Only the current owner may transfer, and
// the new owner's User record is ensured in the same transaction.
func (s *Service) Transfer(ctx context.Context, name, domainID, actor, newPubkey string) (*model.Walias, error) {
	name, domainID = normalize(name), normalize(domainID)
	if !validation.IsValidKey(newPubkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid pubkey")
	}

	id := model.WaliasID(name, domainID)
	now := requestcontext.Now(ctx)

	var result model.Walias
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		w, err := s.store.FindWalias(txCtx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return apperrors.New(apperrors.CodeNotFound, "Walias not found")
			}
			return err
		}
		if w.Pubkey != actor {
			return apperrors.New(apperrors.CodeForbidden, "Forbidden")
		}

		if _, err := s.store.EnsureUser(txCtx, newPubkey, now); err != nil {
			return err
		}

		w.Pubkey = newPubkey
		w.UpdatedAt = now
		if err := s.store.UpdateWalias(txCtx, w); err != nil {
			return err
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, internalUnlessTyped(err)
	}

	if s.metrics != nil {
		s.metrics.WaliasTransfers.Inc()
	}
	s.audit.Emit(ctx, audit.Event{
		Type: audit.TypeWaliasTransferred, Subject: id, Actor: actor, At: now,
		Meta: map[string]string{"newPubkey": newPubkey},
	})
	s.invalidate(ctx, id)

	return &result, nil
}

// Delete releases the name. Only the current owner may delete.
func (s *Service) Delete(ctx context.Context, name, domainID, actor string) error {
	name, domainID = normalize(name), normalize(domainID)
	id := model.WaliasID(name, domainID)

	w, err := s.store.FindWalias(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "Walias not found")
		}
		return apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	if w.Pubkey != actor {
		return apperrors.New(apperrors.CodeForbidden, "Forbidden")
	}

	if err := s.store.DeleteWalias(ctx, id); err != nil {
		return internalUnlessTyped(err)
	}

	s.audit.Emit(ctx, audit.Event{
		Type: audit.TypeWaliasDeleted, Subject: id, Actor: actor,
		At: requestcontext.Now(ctx),
	})
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
}

// internalUnlessTyped keeps typed failures as-is and classifies everything
// else as internal so storage details never leak to clients.
func internalUnlessTyped(err error) error {
	var typed *apperrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
}
