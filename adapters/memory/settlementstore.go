package memory

import (
	"context"
	"sync"

	"github.com/credix/creditgate/ports"
)

// SettlementStore is an in-memory append-only settlement journal.
type SettlementStore struct {
	mu      sync.RWMutex
	entries []ports.Settlement
}

// NewSettlementStore creates an empty in-memory journal.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{}
}

// Record appends a settlement entry.
func (s *SettlementStore) Record(_ context.Context, entry ports.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListRecent returns the latest entries for a service, newest first.
func (s *SettlementStore) ListRecent(_ context.Context, serviceID string, limit int) ([]ports.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ports.Settlement
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].ServiceID == serviceID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// All returns every recorded entry (for testing).
func (s *SettlementStore) All() []ports.Settlement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.Settlement, len(s.entries))
	copy(out, s.entries)
	return out
}

// Ensure interface compliance.
var _ ports.SettlementStore = (*SettlementStore)(nil)
