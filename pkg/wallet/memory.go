package wallet

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store
type MemoryStore struct {
	mu     sync.RWMutex
	eoas   map[string]*EOA
	smarts map[string]*SmartAccount
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		eoas:   make(map[string]*EOA),
		smarts: make(map[string]*SmartAccount),
	}
}

// PutWallet registers an EOA
func (s *MemoryStore) PutWallet(userID string, eoa *EOA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eoas[userID] = eoa
}

// PutSmartWallet registers a smart account
func (s *MemoryStore) PutSmartWallet(userID string, account *SmartAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smarts[userID] = account
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*EOA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eoas[userID], nil
}

func (s *MemoryStore) GetSmartWallet(_ context.Context, userID string) (*SmartAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.smarts[userID]
	if !ok {
		return nil, nil
	}
	// Callers may mutate the handle
	copied := *account
	return &copied, nil
}
