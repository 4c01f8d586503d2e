// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/papertrade/ledger-engine/internal/model"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("store: not found")

// TradeCommit is the full set of mutations one ledger operation produces.
// Stores apply it atomically: either every part persists or none does.
type TradeCommit struct {
	Balance         *model.Balance      // upserted
	UpsertPositions []*model.Position   // created or replaced
	DeletePositions []model.PositionKey // full exits
	Transaction     *model.Transaction  // appended
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Balance / position reads ---

	// GetBalance retrieves a user's balance. ErrNotFound if the user has
	// never traded.
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)

	// GetPosition retrieves one holding. ErrNotFound when absent (including
	// after a full exit).
	GetPosition(ctx context.Context, userID, symbol string, class model.AssetClass) (*model.Position, error)

	// ListPositions returns all of a user's holdings, most recently
	// updated first.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Transaction log ---

	// ListTransactions returns a user's transactions newest-first.
	// limit <= 0 means no limit.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error)

	// GetTransactionByKey looks up a transaction by its client-supplied
	// idempotency key. ErrNotFound when no such submission exists.
	GetTransactionByKey(ctx context.Context, userID, idempotencyKey string) (*model.Transaction, error)

	// InsertTransaction appends a single transaction record. Used for
	// FAILED audit rows; committed trades go through ApplyTrade.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// --- Atomic commit ---

	// ApplyTrade persists one operation's balance upsert, position
	// upserts/deletes, and transaction append as a single atomic unit.
	ApplyTrade(ctx context.Context, commit *TradeCommit) error
}
