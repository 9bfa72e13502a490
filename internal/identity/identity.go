// Package identity decides who a vote belongs to: the signed-in account,
// or an anonymous token generated once per client and reused afterwards.
package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// AnonPrefix marks anonymous identities so they can never collide with an
// account id.
const AnonPrefix = "anon:"

type Identity struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"anonymous"`
}

// TokenStore persists the anonymous token on the client side. Load
// returns "" when no token has been stored yet.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
}

type Resolver struct {
	store    TokenStore
	newToken func() string

	mu sync.Mutex
}

func NewResolver(store TokenStore) *Resolver {
	return &Resolver{store: store, newToken: uuid.NewString}
}

// Resolve returns the account identity when accountID is set. Otherwise
// it returns the stored anonymous token, generating and storing one on
// first use.
func (r *Resolver) Resolve(accountID string) (Identity, error) {
	if accountID != "" {
		return Identity{ID: accountID}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.store.Load()
	if err != nil {
		return Identity{}, fmt.Errorf("load anonymous token: %w", err)
	}
	if token != "" {
		if _, err := uuid.Parse(token); err == nil {
			return anonymous(token), nil
		}
	}

	token = r.newToken()
	if err := r.store.Save(token); err != nil {
		return Identity{}, fmt.Errorf("save anonymous token: %w", err)
	}
	return anonymous(token), nil
}

func anonymous(token string) Identity {
	return Identity{ID: AnonPrefix + token, Anonymous: true}
}

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	token string
	saves int
}

func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.saves++
	return nil
}

// Saves reports how many times a token was written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
