package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"walias/internal/model"
	"walias/pkg/platform/sentinel"
)

// Memory is the in-memory Store used by tests and local development. Config
// blobs are round-tripped through JSON exactly like the SQL implementation
// so serialization bugs surface in unit tests.
type Memory struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	domains map[string]model.Domain
	users   map[string]model.User
	waliase map[string]model.Walias
	wallets map[string]memWallet
}

type memWallet struct {
	model.Wallet
	configJSON string
}

func NewMemory() *Memory {
	return &Memory{
		domains: make(map[string]model.Domain),
		users:   make(map[string]model.User),
		waliase: make(map[string]model.Walias),
		wallets: make(map[string]memWallet),
	}
}

// RunInTx serializes multi-step operations. There is no rollback here; the
// transactional walias claim orders its writes so that the uniqueness check
// happens before any side-effect write, which keeps the memory store
// observationally atomic for the flows the services run.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx)
}

func (m *Memory) Ping(context.Context) error { return nil }

// --- domains ---

func (m *Memory) CreateDomain(_ context.Context, d model.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.domains[d.ID]; exists {
		return sentinel.ErrConflict
	}
	m.domains[d.ID] = cloneDomain(d)
	return nil
}

func (m *Memory) FindDomain(_ context.Context, id string) (model.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.domains[id]
	if !ok {
		return model.Domain{}, sentinel.ErrNotFound
	}
	return cloneDomain(d), nil
}

func (m *Memory) UpdateDomain(_ context.Context, d model.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[d.ID]; !ok {
		return sentinel.ErrNotFound
	}
	m.domains[d.ID] = cloneDomain(d)
	return nil
}

func (m *Memory) DeleteDomain(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(m.domains, id)
	return nil
}

// --- users ---

func (m *Memory) FindUser(_ context.Context, pubkey string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[pubkey]
	if !ok {
		return model.User{}, sentinel.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) EnsureUser(_ context.Context, pubkey string, now time.Time) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[pubkey]
	if !ok {
		u = model.User{Pubkey: pubkey, Relays: []string{}, CreatedAt: now}
	}
	u.UpdatedAt = now
	m.users[pubkey] = u
	return cloneUser(u), nil
}

func (m *Memory) SaveUserRelays(_ context.Context, pubkey string, relays []string, now time.Time) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[pubkey]
	if !ok {
		u = model.User{Pubkey: pubkey, CreatedAt: now}
	}
	u.Relays = append([]string{}, relays...)
	u.UpdatedAt = now
	m.users[pubkey] = u
	return cloneUser(u), nil
}

// --- waliases ---

func (m *Memory) FindWalias(_ context.Context, id string) (model.Walias, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.waliase[id]
	if !ok {
		return model.Walias{}, sentinel.ErrNotFound
	}
	return w, nil
}

func (m *Memory) CreateWalias(_ context.Context, w model.Walias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.waliase[w.ID]; exists {
		return sentinel.ErrConflict
	}
	m.waliase[w.ID] = w
	return nil
}

func (m *Memory) UpsertWalias(_ context.Context, w model.Walias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.waliase[w.ID]; ok {
		w.CreatedAt = existing.CreatedAt
	}
	m.waliase[w.ID] = w
	return nil
}

func (m *Memory) UpdateWalias(_ context.Context, w model.Walias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.waliase[w.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	w.CreatedAt = existing.CreatedAt
	m.waliase[w.ID] = w
	return nil
}

func (m *Memory) DeleteWalias(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.waliase[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(m.waliase, id)
	return nil
}

func (m *Memory) DeleteWaliasesByDomain(_ context.Context, domainID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := []string{}
	for id, w := range m.waliase {
		if w.DomainID == domainID {
			delete(m.waliase, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// --- wallets ---

func (m *Memory) FindWallet(_ context.Context, id string) (model.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return model.Wallet{}, sentinel.ErrNotFound
	}
	return inflateWallet(w)
}

func (m *Memory) ListWalletsByPubkey(_ context.Context, pubkey string) ([]model.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Wallet
	for _, w := range m.wallets {
		if w.Pubkey != pubkey {
			continue
		}
		inflated, err := inflateWallet(w)
		if err != nil {
			return nil, err
		}
		out = append(out, inflated)
	}
	return out, nil
}

func (m *Memory) CreateWallet(_ context.Context, w model.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.wallets[w.ID]; exists {
		return sentinel.ErrConflict
	}
	mw, err := deflateWallet(w)
	if err != nil {
		return err
	}
	m.wallets[w.ID] = mw
	return nil
}

func (m *Memory) UpdateWallet(_ context.Context, w model.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.wallets[w.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	w.CreatedAt = existing.CreatedAt
	mw, err := deflateWallet(w)
	if err != nil {
		return err
	}
	m.wallets[w.ID] = mw
	return nil
}

func (m *Memory) DeleteWallet(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(m.wallets, id)
	return nil
}

// --- helpers ---

func cloneDomain(d model.Domain) model.Domain {
	d.Relays = append([]string(nil), d.Relays...)
	return d
}

func cloneUser(u model.User) model.User {
	u.Relays = append([]string{}, u.Relays...)
	return u
}

func deflateWallet(w model.Wallet) (memWallet, error) {
	raw, err := json.Marshal(w.Config)
	if err != nil {
		return memWallet{}, err
	}
	w.Config = nil
	return memWallet{Wallet: w, configJSON: string(raw)}, nil
}

func inflateWallet(mw memWallet) (model.Wallet, error) {
	w := mw.Wallet
	if err := json.Unmarshal([]byte(mw.configJSON), &w.Config); err != nil {
		return model.Wallet{}, err
	}
	return w, nil
}
