// Package keystore holds key material at rest. Only the signer package is
// permitted to consume it; every retrieval returns a fresh copy so callers
// can zero their copy without affecting the store.
package keystore

import (
	"fmt"
	"sync"

	xerrors "AgentGuard-Chain/internal/errors"
)

// Store abstracts key-at-rest storage keyed by wallet identifier.
type Store interface {
	// Retrieve returns a fresh copy of the raw key bytes for the wallet.
	Retrieve(walletID string) ([]byte, error)
}

// MemoryStore keeps key material in process memory. Intended for tests and
// local simulation only.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string][]byte)}
}

// Put stores a copy of the key bytes under the wallet identifier.
func (s *MemoryStore) Put(walletID string, key []byte) {
	clone := make([]byte, len(key))
	copy(clone, key)
	s.mu.Lock()
	s.keys[walletID] = clone
	s.mu.Unlock()
}

// Retrieve implements Store.
func (s *MemoryStore) Retrieve(walletID string) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.keys[walletID]
	s.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("钱包 %s 没有对应的密钥", walletID),
			xerrors.WithMetadata("wallet_id", walletID))
	}
	clone := make([]byte, len(key))
	copy(clone, key)
	return clone, nil
}
