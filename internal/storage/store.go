// Package storage is the persistence gateway. It offers unique-key lookup,
// unique-constraint-enforced create, partial update, delete, and
// transactional multi-statement execution for the four entity kinds.
//
// Stores are interface-driven so services stay testable against the
// in-memory implementation while production runs on PostgreSQL.
package storage

import (
	"context"
	"time"

	"walias/internal/model"
)

type DomainStore interface {
	// CreateDomain persists a new domain, returning sentinel.ErrConflict if
	// the name is already registered.
	CreateDomain(ctx context.Context, d model.Domain) error
	FindDomain(ctx context.Context, id string) (model.Domain, error)
	UpdateDomain(ctx context.Context, d model.Domain) error
	DeleteDomain(ctx context.Context, id string) error
}

type UserStore interface {
	FindUser(ctx context.Context, pubkey string) (model.User, error)
	// EnsureUser creates the user row if absent and bumps updatedAt if
	// present, leaving the relay list untouched.
	EnsureUser(ctx context.Context, pubkey string, now time.Time) (model.User, error)
	// SaveUserRelays upserts the user and replaces its relay list.
	SaveUserRelays(ctx context.Context, pubkey string, relays []string, now time.Time) (model.User, error)
}

type WaliasStore interface {
	FindWalias(ctx context.Context, id string) (model.Walias, error)
	// CreateWalias persists a new walias, returning sentinel.ErrConflict if
	// the (name, domain) pair is taken.
	CreateWalias(ctx context.Context, w model.Walias) error
	UpsertWalias(ctx context.Context, w model.Walias) error
	UpdateWalias(ctx context.Context, w model.Walias) error
	DeleteWalias(ctx context.Context, id string) error
	// DeleteWaliasesByDomain removes every walias of a domain; used by the
	// domain-deletion cascade. It returns the removed ids so the caller can
	// drop any cached resolutions.
	DeleteWaliasesByDomain(ctx context.Context, domainID string) ([]string, error)
}

type WalletStore interface {
	FindWallet(ctx context.Context, id string) (model.Wallet, error)
	ListWalletsByPubkey(ctx context.Context, pubkey string) ([]model.Wallet, error)
	CreateWallet(ctx context.Context, w model.Wallet) error
	UpdateWallet(ctx context.Context, w model.Wallet) error
	DeleteWallet(ctx context.Context, id string) error
}

// Store aggregates the entity stores with transactional execution. RunInTx
// runs fn so that every store call made through the derived context either
// fully commits or fully rolls back.
type Store interface {
	DomainStore
	UserStore
	WaliasStore
	WalletStore

	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
}
