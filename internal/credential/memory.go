package credential

import (
	"context"
	"sync"

	"otpauth/internal/models"
)

type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]models.Account)}
}

func (s *MemoryStore) Get(_ context.Context, email string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[key(email)]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (s *MemoryStore) Set(_ context.Context, email string, acct models.Account) error {
	k := key(email)
	acct = cloneAccount(acct)
	acct.Email = k
	s.mu.Lock()
	s.accounts[k] = acct
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Has(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[key(email)]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, email string) (bool, error) {
	k := key(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[k]; !ok {
		return false, nil
	}
	delete(s.accounts, k)
	return true, nil
}

// cloneAccount copies the pointer fields so callers cannot mutate stored state.
func cloneAccount(a models.Account) models.Account {
	if a.VerifiedAt != nil {
		t := *a.VerifiedAt
		a.VerifiedAt = &t
	}
	if a.LastLogin != nil {
		t := *a.LastLogin
		a.LastLogin = &t
	}
	return a
}
