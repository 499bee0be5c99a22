package facilitator

import (
	"strings"
	"sync"
	"time"

	"github.com/vorpalengineering/x402-agent/types"
)

type nonceState int

const (
	nonceInFlight nonceState = iota
	nonceUsed
)

type nonceEntry struct {
	state   nonceState
	expires time.Time
}

// NonceStore enforces at-most-once settlement per authorization. A nonce is
// in flight while its transfer is submitted and used once it has been
// submitted; failed submissions release it.
type NonceStore struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	now     func() time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{
		entries: make(map[string]nonceEntry),
		now:     time.Now,
	}
}

// NonceKey identifies an authorization on-chain
func NonceKey(network, asset, payer, nonce string) string {
	return strings.ToLower(strings.Join([]string{network, asset, payer, nonce}, "|"))
}

// CheckAndMark claims key until expires. It reports false if the key is
// already in flight or used.
func (s *NonceStore) CheckAndMark(key string, expires time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if _, exists := s.entries[key]; exists {
		return false
	}
	s.entries[key] = nonceEntry{state: nonceInFlight, expires: expires}
	return true
}

func (s *NonceStore) Complete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok {
		entry.state = nonceUsed
		s.entries[key] = entry
	}
}

func (s *NonceStore) Fail(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && entry.state == nonceInFlight {
		delete(s.entries, key)
	}
}

func (s *NonceStore) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.entries[key]
	return exists
}

// pruneLocked drops used nonces whose authorization has expired; the
// signature can no longer be replayed on-chain after that.
func (s *NonceStore) pruneLocked() {
	now := s.now()
	for key, entry := range s.entries {
		if entry.state == nonceUsed && now.After(entry.expires) {
			delete(s.entries, key)
		}
	}
}

// SettlementStore maps provisional payment references to transactions
type SettlementStore struct {
	mu      sync.RWMutex
	records map[string]types.SettlementStatus
}

func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		records: make(map[string]types.SettlementStatus),
	}
}

func (s *SettlementStore) Put(status types.SettlementStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[status.Reference] = status
}

func (s *SettlementStore) Get(reference string) (types.SettlementStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.records[reference]
	return status, ok
}
