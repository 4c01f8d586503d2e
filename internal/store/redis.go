package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for balances and position lists. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	data, err := s.rdb.Get(ctx, balanceKey(userID)).Bytes()
	if err == nil {
		var b model.Balance
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, balanceKey(userID), b)
	return b, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) ApplyTrade(ctx context.Context, commit *TradeCommit) error {
	if err := s.primary.ApplyTrade(ctx, commit); err != nil {
		return err
	}
	if commit.Balance != nil {
		s.invalidateUser(ctx, commit.Balance.UserID)
	} else if commit.Transaction != nil {
		s.invalidateUser(ctx, commit.Transaction.UserID)
	}
	return nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	// Audit rows touch neither balances nor positions; nothing to invalidate.
	return s.primary.InsertTransaction(ctx, tx)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, userID, symbol string, class model.AssetClass) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, symbol, class)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID, limit, offset)
}

func (s *CachedStore) GetTransactionByKey(ctx context.Context, userID, idempotencyKey string) (*model.Transaction, error) {
	return s.primary.GetTransactionByKey(ctx, userID, idempotencyKey)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidateUser(ctx context.Context, userID string) {
	s.rdb.Del(ctx, balanceKey(userID), positionsKey(userID))
}

func balanceKey(uid string) string   { return fmt.Sprintf("balance:%s", uid) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
