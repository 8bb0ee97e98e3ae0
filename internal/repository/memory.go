package repository

import (
	"context"
	"sync"

	"taxledger/internal/domain"
)

// MemoryLedgerStore is an in-memory ledger store with the same append-only
// contract as the postgres one. Used in tests and for local runs without a
// database. Reads return copies, so a reader's slice never observes a later
// append.
type MemoryLedgerStore struct {
	mu     sync.RWMutex
	chains map[string][]domain.LedgerEntry
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{chains: make(map[string][]domain.LedgerEntry)}
}

func (s *MemoryLedgerStore) Append(ctx context.Context, e domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[e.AssessmentID]

	latestHash := domain.GenesisHash
	if n := len(chain); n > 0 {
		latestHash = chain[n-1].CurrentHash
	}

	// Optimistic concurrency: the entry must extend the chain the caller
	// actually read.
	if e.Sequence != int64(len(chain))+1 || e.PreviousHash != latestHash {
		return domain.ErrConcurrentAppend
	}

	s.chains[e.AssessmentID] = append(chain, e)
	return nil
}

func (s *MemoryLedgerStore) ReadAll(ctx context.Context, assessmentID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[assessmentID]
	out := make([]domain.LedgerEntry, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *MemoryLedgerStore) ReadLatest(ctx context.Context, assessmentID string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[assessmentID]
	if len(chain) == 0 {
		return nil, nil
	}
	e := chain[len(chain)-1]
	return &e, nil
}

// Tamper overwrites a stored entry in place. It exists only so integrity
// tests can simulate after-the-fact modification of history; nothing in the
// engine calls it.
func (s *MemoryLedgerStore) Tamper(assessmentID string, index int, mutate func(*domain.LedgerEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[assessmentID]
	if index < 0 || index >= len(chain) {
		return
	}
	mutate(&chain[index])
}
