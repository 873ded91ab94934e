package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"walias/internal/model"
	"walias/pkg/platform/sentinel"
	"walias/pkg/platform/tx"
)

// Postgres is the production Store backed by pgx. Relay lists and wallet
// config are persisted as serialized JSON text columns; the struct form is
// the only shape that crosses the store boundary.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Migrate applies the schema. Idempotent; run at process start.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id               TEXT PRIMARY KEY,
	root_private_key TEXT NOT NULL,
	admin_pubkey     TEXT NOT NULL DEFAULT '',
	verify_key       TEXT NOT NULL,
	verified         BOOLEAN NOT NULL DEFAULT FALSE,
	relays           TEXT NOT NULL DEFAULT '[]',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	pubkey     TEXT PRIMARY KEY,
	relays     TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS waliases (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	domain_id  TEXT NOT NULL REFERENCES domains (id) ON DELETE CASCADE,
	pubkey     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (name, domain_id)
);

CREATE TABLE IF NOT EXISTS wallets (
	id            TEXT PRIMARY KEY,
	pubkey        TEXT NOT NULL,
	config        TEXT NOT NULL DEFAULT '{}',
	provider      TEXT NOT NULL,
	walias_id     TEXT NOT NULL REFERENCES waliases (id) ON DELETE CASCADE,
	priority      INTEGER NOT NULL DEFAULT 0,
	last_event_id TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS wallets_pubkey_idx ON wallets (pubkey);
`

// querier is satisfied by both the pool and a pgx transaction, so stores
// transparently join a transaction carried in the context.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return p.pool
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = t.Rollback(ctx) }()

	if err := fn(tx.WithTx(ctx, t)); err != nil {
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return sentinel.ErrConflict
		case "23503": // foreign_key_violation
			return sentinel.ErrNotFound
		}
	}
	return err
}

// --- domains ---

func (p *Postgres) CreateDomain(ctx context.Context, d model.Domain) error {
	relays, err := marshalRelays(d.Relays)
	if err != nil {
		return err
	}
	_, err = p.q(ctx).Exec(ctx, `
		INSERT INTO domains (id, root_private_key, admin_pubkey, verify_key, verified, relays, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.RootPrivateKey, d.AdminPubkey, d.VerifyKey, d.Verified, relays, d.CreatedAt, d.UpdatedAt)
	return mapPgError(err)
}

func (p *Postgres) FindDomain(ctx context.Context, id string) (model.Domain, error) {
	var d model.Domain
	var relays string
	err := p.q(ctx).QueryRow(ctx, `
		SELECT id, root_private_key, admin_pubkey, verify_key, verified, relays, created_at, updated_at
		FROM domains WHERE id = $1`, id).
		Scan(&d.ID, &d.RootPrivateKey, &d.AdminPubkey, &d.VerifyKey, &d.Verified, &relays, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return model.Domain{}, mapPgError(err)
	}
	if d.Relays, err = unmarshalRelays(relays); err != nil {
		return model.Domain{}, err
	}
	return d, nil
}

func (p *Postgres) UpdateDomain(ctx context.Context, d model.Domain) error {
	relays, err := marshalRelays(d.Relays)
	if err != nil {
		return err
	}
	tag, err := p.q(ctx).Exec(ctx, `
		UPDATE domains
		SET root_private_key = $2, admin_pubkey = $3, verify_key = $4, verified = $5, relays = $6, updated_at = $7
		WHERE id = $1`,
		d.ID, d.RootPrivateKey, d.AdminPubkey, d.VerifyKey, d.Verified, relays, d.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteDomain(ctx context.Context, id string) error {
	tag, err := p.q(ctx).Exec(ctx, `DELETE FROM domains WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// --- users ---

func (p *Postgres) FindUser(ctx context.Context, pubkey string) (model.User, error) {
	var u model.User
	var relays string
	err := p.q(ctx).QueryRow(ctx, `
		SELECT pubkey, relays, created_at, updated_at FROM users WHERE pubkey = $1`, pubkey).
		Scan(&u.Pubkey, &relays, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, mapPgError(err)
	}
	if u.Relays, err = unmarshalRelays(relays); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (p *Postgres) EnsureUser(ctx context.Context, pubkey string, now time.Time) (model.User, error) {
	_, err := p.q(ctx).Exec(ctx, `
		INSERT INTO users (pubkey, relays, created_at, updated_at)
		VALUES ($1, '[]', $2, $2)
		ON CONFLICT (pubkey) DO UPDATE SET updated_at = $2`,
		pubkey, now)
	if err != nil {
		return model.User{}, mapPgError(err)
	}
	return p.FindUser(ctx, pubkey)
}

func (p *Postgres) SaveUserRelays(ctx context.Context, pubkey string, relays []string, now time.Time) (model.User, error) {
	encoded, err := marshalRelays(relays)
	if err != nil {
		return model.User{}, err
	}
	_, err = p.q(ctx).Exec(ctx, `
		INSERT INTO users (pubkey, relays, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (pubkey) DO UPDATE SET relays = $2, updated_at = $3`,
		pubkey, encoded, now)
	if err != nil {
		return model.User{}, mapPgError(err)
	}
	return p.FindUser(ctx, pubkey)
}

// --- waliases ---

func (p *Postgres) FindWalias(ctx context.Context, id string) (model.Walias, error) {
	var w model.Walias
	err := p.q(ctx).QueryRow(ctx, `
		SELECT id, name, domain_id, pubkey, created_at, updated_at FROM waliases WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.DomainID, &w.Pubkey, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return model.Walias{}, mapPgError(err)
	}
	return w, nil
}

func (p *Postgres) CreateWalias(ctx context.Context, w model.Walias) error {
	_, err := p.q(ctx).Exec(ctx, `
		INSERT INTO waliases (id, name, domain_id, pubkey, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.Name, w.DomainID, w.Pubkey, w.CreatedAt, w.UpdatedAt)
	return mapPgError(err)
}

func (p *Postgres) UpsertWalias(ctx context.Context, w model.Walias) error {
	_, err := p.q(ctx).Exec(ctx, `
		INSERT INTO waliases (id, name, domain_id, pubkey, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET pubkey = $4, updated_at = $6`,
		w.ID, w.Name, w.DomainID, w.Pubkey, w.CreatedAt, w.UpdatedAt)
	return mapPgError(err)
}

func (p *Postgres) UpdateWalias(ctx context.Context, w model.Walias) error {
	tag, err := p.q(ctx).Exec(ctx, `
		UPDATE waliases SET pubkey = $2, updated_at = $3 WHERE id = $1`,
		w.ID, w.Pubkey, w.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteWalias(ctx context.Context, id string) error {
	tag, err := p.q(ctx).Exec(ctx, `DELETE FROM waliases WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteWaliasesByDomain(ctx context.Context, domainID string) ([]string, error) {
	rows, err := p.q(ctx).Query(ctx, `DELETE FROM waliases WHERE domain_id = $1 RETURNING id`, domainID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	removed := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapPgError(err)
		}
		removed = append(removed, id)
	}
	return removed, mapPgError(rows.Err())
}

// --- wallets ---

func (p *Postgres) FindWallet(ctx context.Context, id string) (model.Wallet, error) {
	return p.scanWallet(p.q(ctx).QueryRow(ctx, `
		SELECT id, pubkey, config, provider, walias_id, priority, last_event_id, created_at, updated_at
		FROM wallets WHERE id = $1`, id))
}

func (p *Postgres) ListWalletsByPubkey(ctx context.Context, pubkey string) ([]model.Wallet, error) {
	rows, err := p.q(ctx).Query(ctx, `
		SELECT id, pubkey, config, provider, walias_id, priority, last_event_id, created_at, updated_at
		FROM wallets WHERE pubkey = $1 ORDER BY priority DESC, created_at`, pubkey)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []model.Wallet
	for rows.Next() {
		w, err := p.scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateWallet(ctx context.Context, w model.Wallet) error {
	config, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("marshal wallet config: %w", err)
	}
	_, err = p.q(ctx).Exec(ctx, `
		INSERT INTO wallets (id, pubkey, config, provider, walias_id, priority, last_event_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.Pubkey, string(config), w.Provider, w.WaliasID, w.Priority, w.LastEventID, w.CreatedAt, w.UpdatedAt)
	return mapPgError(err)
}

func (p *Postgres) UpdateWallet(ctx context.Context, w model.Wallet) error {
	config, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("marshal wallet config: %w", err)
	}
	tag, err := p.q(ctx).Exec(ctx, `
		UPDATE wallets
		SET config = $2, provider = $3, priority = $4, last_event_id = $5, updated_at = $6
		WHERE id = $1`,
		w.ID, string(config), w.Provider, w.Priority, w.LastEventID, w.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteWallet(ctx context.Context, id string) error {
	tag, err := p.q(ctx).Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) scanWallet(row pgx.Row) (model.Wallet, error) {
	var w model.Wallet
	var config string
	err := row.Scan(&w.ID, &w.Pubkey, &config, &w.Provider, &w.WaliasID, &w.Priority, &w.LastEventID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return model.Wallet{}, mapPgError(err)
	}
	if err := json.Unmarshal([]byte(config), &w.Config); err != nil {
		return model.Wallet{}, fmt.Errorf("unmarshal wallet config: %w", err)
	}
	return w, nil
}

func marshalRelays(relays []string) (string, error) {
	if relays == nil {
		relays = []string{}
	}
	raw, err := json.Marshal(relays)
	if err != nil {
		return "", fmt.Errorf("marshal relays: %w", err)
	}
	return string(raw), nil
}

func unmarshalRelays(raw string) ([]string, error) {
	var relays []string
	if err := json.Unmarshal([]byte(raw), &relays); err != nil {
		return nil, fmt.Errorf("unmarshal relays: %w", err)
	}
	return relays, nil
}
