package store

import (
	"context"
	"sort"
	"sync"

	"github.com/papertrade/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	balances  map[string]*model.Balance
	positions map[model.PositionKey]*model.Position
	txns      []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]*model.Balance),
		positions: make(map[model.PositionKey]*model.Position),
	}
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, symbol string, class model.AssetClass) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[model.PositionKey{UserID: userID, Symbol: symbol, AssetClass: class}]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].LastUpdated.Equal(positions[j].LastUpdated) {
			return positions[i].Symbol < positions[j].Symbol
		}
		return positions[i].LastUpdated.After(positions[j].LastUpdated)
	})
	return positions, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	// Ledger is append-ordered; walk backwards for newest-first.
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].UserID == userID {
			result = append(result, s.txns[i])
		}
	}

	if offset > 0 {
		if offset >= len(result) {
			return nil, nil
		}
		result = result[offset:]
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) GetTransactionByKey(_ context.Context, userID, idempotencyKey string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.txns {
		if s.txns[i].UserID == userID && s.txns[i].IdempotencyKey == idempotencyKey {
			copy := s.txns[i]
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txns = append(s.txns, *tx)
	return nil
}

// ApplyTrade applies the whole commit under one write lock, so readers
// never observe a balance debit without its position credit.
func (s *MemoryStore) ApplyTrade(_ context.Context, commit *TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if commit.Balance != nil {
		b := *commit.Balance
		s.balances[b.UserID] = &b
	}
	for _, p := range commit.UpsertPositions {
		copy := *p
		s.positions[copy.Key()] = &copy
	}
	for _, key := range commit.DeletePositions {
		delete(s.positions, key)
	}
	if commit.Transaction != nil {
		s.txns = append(s.txns, *commit.Transaction)
	}
	return nil
}
