// Package domains implements domain registration, mutation, and the
// ownership verification protocol.
package domains

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"walias/internal/audit"
	"walias/internal/model"
	"walias/internal/platform/metrics"
	"walias/internal/storage"
	apperrors "walias/pkg/errors"
	"walias/pkg/platform/sentinel"
	"walias/pkg/requestcontext"
	"walias/pkg/validation"
)

// Service orchestrates the domain lifecycle. The verification state machine
// is one-way: UNVERIFIED domains become VERIFIED exactly once and re-entry
// is idempotent.
type Service struct {
	store       storage.Store
	fetcher     ChallengeFetcher
	invalidator AliasInvalidator
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       *audit.Emitter
}

// AliasInvalidator drops cached alias resolutions whose hosting domain is
// being removed; the walias resolve cache satisfies it.
type AliasInvalidator interface {
	Invalidate(ctx context.Context, id string)
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

func WithAliasInvalidator(inv AliasInvalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

func NewService(store storage.Store, fetcher ChallengeFetcher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		fetcher: fetcher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeID trims and lowercases a domain name; every entry point runs
// ids through this before anything else.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Find returns the public projection of a domain, or (nil, nil) when the
// domain does not exist: absence is a valid lookup result, not a failure.
func (s *Service) Find(ctx context.Context, id string) (*model.DomainProjection, error) {
	id = NormalizeID(id)
	if !validation.IsValidDomain(id) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid domain name")
	}

	d, err := s.store.FindDomain(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	return s.project(d)
}

// project builds the public view, deriving rootPubkey from the stored
// private key. The private key never leaves this package.
func (s *Service) project(d model.Domain) (*model.DomainProjection, error) {
	rootPubkey, err := nostr.GetPublicKey(d.RootPrivateKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	relays := d.Relays
	if relays == nil {
		relays = []string{}
	}
	return &model.DomainProjection{
		Domain:      d.ID,
		AdminPubkey: d.AdminPubkey,
		VerifyKey:   d.VerifyKey,
		Verified:    d.Verified,
		Relays:      relays,
		RootPubkey:  rootPubkey,
	}, nil
}

// RegisterParams carries the optional knobs of a registration. A missing
// root private key is generated server-side.
type RegisterParams struct {
	Relays      []string
	AdminPubkey string
	RootPrivkey string
}

// Register creates a domain in unverified state and returns the challenge
// the registrant must publish. Re-registering a pending (unverified) domain
// re-returns its challenge; a verified domain is taken for good.
func (s *Service) Register(ctx context.Context, id string, params RegisterParams) (*model.RegisteredDomain, error) {
	id = NormalizeID(id)
	if !validation.IsValidDomain(id) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid domain name")
	}
	if params.AdminPubkey != "" && !validation.IsValidKey(params.AdminPubkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid adminPubkey")
	}
	if params.RootPrivkey != "" && !validation.IsValidKey(params.RootPrivkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid rootPrivkey")
	}

	existing, err := s.store.FindDomain(ctx, id)
	switch {
	case err == nil:
		if existing.Verified {
			return nil, apperrors.New(apperrors.CodeConflict, "Already taken or not available")
		}
		// Pending registration: hand the same challenge back.
		return s.registered(existing)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	rootPrivkey := params.RootPrivkey
	if rootPrivkey == "" {
		rootPrivkey = nostr.GeneratePrivateKey()
	}

	verifyKey, err := randomHex(16)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	now := requestcontext.Now(ctx)
	d := model.Domain{
		ID:             id,
		RootPrivateKey: rootPrivkey,
		AdminPubkey:    params.AdminPubkey,
		VerifyKey:      verifyKey,
		Verified:       false,
		Relays:         params.Relays,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateDomain(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, apperrors.New(apperrors.CodeConflict, "Already taken or not available")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	s.logger.InfoContext(ctx, "domain registered",
		"domain", id,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.DomainsRegistered.Inc()
	}
	s.audit.Emit(ctx, audit.Event{Type: audit.TypeDomainRegistered, Subject: id, At: now})

	return s.registered(d)
}

func (s *Service) registered(d model.Domain) (*model.RegisteredDomain, error) {
	rootPubkey, err := nostr.GetPublicKey(d.RootPrivateKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	relays := d.Relays
	if relays == nil {
		relays = []string{}
	}
	return &model.RegisteredDomain{
		Domain:        d.ID,
		Relays:        relays,
		AdminPubkey:   d.AdminPubkey,
		RootPubkey:    rootPubkey,
		VerifyURL:     "https://" + d.ID + "/.well-known/" + d.VerifyKey,
		VerifyContent: d.VerifyKey,
	}, nil
}

// AuthorizeAdmin checks that pubkey is the domain's adminPubkey or derived
// rootPubkey. The route layer calls this before any mutating operation.
func (s *Service) AuthorizeAdmin(ctx context.Context, id, pubkey string) error {
	id = NormalizeID(id)
	d, err := s.store.FindDomain(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "Domain not found")
		}
		return apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	rootPubkey, err := nostr.GetPublicKey(d.RootPrivateKey)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}
	if pubkey != d.AdminPubkey && pubkey != rootPubkey {
		return apperrors.New(apperrors.CodeForbidden, "Forbidden")
	}
	return nil
}

// UpdateParams is a partial update: nil fields stay untouched.
type UpdateParams struct {
	Relays      []string
	AdminPubkey *string
	RootPrivkey *string
}

func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*model.DomainProjection, error) {
	id = NormalizeID(id)
	if !validation.IsValidDomain(id) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid domain name")
	}
	if params.AdminPubkey != nil && !validation.IsValidKey(*params.AdminPubkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid adminPubkey")
	}
	if params.RootPrivkey != nil && !validation.IsValidKey(*params.RootPrivkey, 32) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "Invalid rootPrivkey")
	}

	d, err := s.store.FindDomain(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "Domain not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	if params.Relays != nil {
		d.Relays = params.Relays
	}
	if params.AdminPubkey != nil {
		d.AdminPubkey = *params.AdminPubkey
	}
	if params.RootPrivkey != nil {
		d.RootPrivateKey = *params.RootPrivkey
	}
	d.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.UpdateDomain(ctx, d); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	s.audit.Emit(ctx, audit.Event{
		Type: audit.TypeDomainUpdated, Subject: id,
		Actor: requestcontext.Pubkey(ctx), At: d.UpdatedAt,
	})
	return s.project(d)
}

// Delete removes the domain and, with it, every walias it hosts. Cached
// resolutions for the cascaded waliases are dropped once the transaction
// commits, so a deleted alias cannot keep resolving out of the cache.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = NormalizeID(id)

	var cascaded []string
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		removed, err := s.store.DeleteWaliasesByDomain(txCtx, id)
		if err != nil {
			return err
		}
		cascaded = removed
		return s.store.DeleteDomain(txCtx, id)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "Domain not found")
		}
		return apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	if s.invalidator != nil {
		for _, waliasID := range cascaded {
			s.invalidator.Invalidate(ctx, waliasID)
		}
	}

	s.audit.Emit(ctx, audit.Event{
		Type: audit.TypeDomainDeleted, Subject: id,
		Actor: requestcontext.Pubkey(ctx), At: requestcontext.Now(ctx),
	})
	return nil
}

// VerifyResult is the outcome of a verification attempt. A false Verified
// is a normal negative result; the handler maps it to 409.
type VerifyResult struct {
	Verified        bool
	AlreadyVerified bool
}

// Verify fetches the published challenge and byte-compares it against the
// stored verify key. Already-verified domains short-circuit without side
// effects.
func (s *Service) Verify(ctx context.Context, id string) (VerifyResult, error) {
	id = NormalizeID(id)
	if !validation.IsValidDomain(id) {
		return VerifyResult{}, apperrors.New(apperrors.CodeInvalidInput, "Invalid domain name")
	}

	d, err := s.store.FindDomain(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return VerifyResult{}, apperrors.New(apperrors.CodeNotFound, "Domain not found")
		}
		return VerifyResult{}, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	if d.Verified {
		return VerifyResult{Verified: true, AlreadyVerified: true}, nil
	}

	content, err := s.fetcher.Fetch(ctx, d.ID, d.VerifyKey)
	if err != nil {
		if errors.Is(err, ErrChallengeUnavailable) {
			return VerifyResult{}, nil
		}
		// Network-level fault: retryable, distinct from a failed match.
		return VerifyResult{}, apperrors.Wrap(err, apperrors.CodeInternal, "Verification fetch failed")
	}

	if strings.TrimSpace(content) != d.VerifyKey {
		return VerifyResult{}, nil
	}

	d.Verified = true
	d.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.UpdateDomain(ctx, d); err != nil {
		return VerifyResult{}, apperrors.Wrap(err, apperrors.CodeInternal, "Internal server error")
	}

	s.logger.InfoContext(ctx, "domain verified",
		"domain", id,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.DomainsVerified.Inc()
	}
	s.audit.Emit(ctx, audit.Event{Type: audit.TypeDomainVerified, Subject: id, At: d.UpdatedAt})

	return VerifyResult{Verified: true}, nil
}

func randomHex(byteLen int) (string, error) {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
