package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process
// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	records []OperationRecord
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

// getOrCreate must be called with the lock held.
func (s *MemoryStore) getOrCreate(clientIdentity string) *Entry {
	entry, ok := s.entries[clientIdentity]
	if !ok {
		entry = &Entry{
			ClientIdentity:      clientIdentity,
			OperationsRemaining: InitialCredits,
			LastUpdated:         time.Now(),
		}
		s.entries[clientIdentity] = entry
	}
	return entry
}

// Peek implements Store.
func (s *MemoryStore) Peek(ctx context.Context, clientIdentity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(clientIdentity).OperationsRemaining, nil
}

// Debit implements Store.
func (s *MemoryStore) Debit(ctx context.Context, clientIdentity string, cost int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.getOrCreate(clientIdentity)
	if entry.OperationsRemaining <= 0 {
		return 0, ErrInsufficientCredits
	}

	entry.OperationsRemaining -= cost
	if entry.OperationsRemaining < 0 {
		entry.OperationsRemaining = 0
	}
	entry.LastUpdated = time.Now()

	s.records = append(s.records, OperationRecord{
		ID:             uuid.NewString(),
		ClientIdentity: clientIdentity,
		CreditsUsed:    cost,
		Timestamp:      entry.LastUpdated,
	})

	return entry.OperationsRemaining, nil
}

// Records returns a copy of the audit trail for an identity. The serving
// path never calls this; it exists for inspection and tests.
func (s *MemoryStore) Records(clientIdentity string) []OperationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []OperationRecord
	for _, rec := range s.records {
		if rec.ClientIdentity == clientIdentity {
			out = append(out, rec)
		}
	}
	return out
}
