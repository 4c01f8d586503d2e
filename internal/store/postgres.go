package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

const balanceColumns = `user_id, cash_balance::TEXT, total_trades, successful_trades,
       win_rate::TEXT, total_realized_pnl::TEXT, last_trade_at`

func scanBalance(row pgx.Row) (*model.Balance, error) {
	var b model.Balance
	var cash, winRate, realized string

	err := row.Scan(&b.UserID, &cash, &b.TotalTrades, &b.SuccessfulTrades,
		&winRate, &realized, &b.LastTradeAt)
	if err != nil {
		return nil, err
	}

	b.CashBalance, _ = decimal.NewFromString(cash)
	b.WinRate, _ = decimal.NewFromString(winRate)
	b.TotalRealizedPnL, _ = decimal.NewFromString(realized)
	return &b, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	b, err := scanBalance(s.pool.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", userID, err)
	}
	return b, nil
}

const positionColumns = `user_id, symbol, asset_class,
       quantity::TEXT, avg_price::TEXT, total_invested::TEXT, last_updated`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, avg, invested string

	err := row.Scan(&p.UserID, &p.Symbol, &p.AssetClass, &qty, &avg, &invested, &p.LastUpdated)
	if err != nil {
		return nil, err
	}

	p.Quantity, _ = decimal.NewFromString(qty)
	p.AvgPrice, _ = decimal.NewFromString(avg)
	p.TotalInvested, _ = decimal.NewFromString(invested)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string, class model.AssetClass) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND symbol = $2 AND asset_class = $3`,
		userID, symbol, string(class)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s/%s: %w", userID, symbol, class, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 ORDER BY last_updated DESC, symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

const txColumns = `id, user_id, symbol, asset_class, action,
       quantity::TEXT, unit_price::TEXT, gross_total::TEXT, fee::TEXT,
       net_total::TEXT, realized_pnl::TEXT, status, failure_reason,
       COALESCE(idempotency_key, ''), swap_details, timestamp`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var qty, price, gross, fee, net, pnl string
	var swapJSON []byte

	err := row.Scan(&t.ID, &t.UserID, &t.Symbol, &t.AssetClass, &t.Action,
		&qty, &price, &gross, &fee, &net, &pnl,
		&t.Status, &t.FailureReason, &t.IdempotencyKey, &swapJSON, &t.Timestamp)
	if err != nil {
		return nil, err
	}

	t.Quantity, _ = decimal.NewFromString(qty)
	t.UnitPrice, _ = decimal.NewFromString(price)
	t.GrossTotal, _ = decimal.NewFromString(gross)
	t.Fee, _ = decimal.NewFromString(fee)
	t.NetTotal, _ = decimal.NewFromString(net)
	t.RealizedPnL, _ = decimal.NewFromString(pnl)

	if len(swapJSON) > 0 {
		var sd model.SwapDetails
		if json.Unmarshal(swapJSON, &sd) == nil {
			t.Swap = &sd
		}
	}
	return &t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions
	      WHERE user_id = $1 ORDER BY timestamp DESC, id`
	args := []any{userID}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) GetTransactionByKey(ctx context.Context, userID, idempotencyKey string) (*model.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = $1 AND idempotency_key = $2`, userID, idempotencyKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by key: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return insertTransaction(ctx, s.pool, tx)
}

// pgxExecer covers both *pgxpool.Pool and pgx.Tx.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTransaction(ctx context.Context, db pgxExecer, tx *model.Transaction) error {
	var swapJSON []byte
	if tx.Swap != nil {
		var err error
		swapJSON, err = json.Marshal(tx.Swap)
		if err != nil {
			return fmt.Errorf("marshal swap details: %w", err)
		}
	}

	var idemKey any
	if tx.IdempotencyKey != "" {
		idemKey = tx.IdempotencyKey
	}

	_, err := db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, symbol, asset_class, action,
		    quantity, unit_price, gross_total, fee, net_total, realized_pnl,
		    status, failure_reason, idempotency_key, swap_details, timestamp)
		 VALUES ($1, $2, $3, $4, $5,
		    $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		    $12, $13, $14, $15, $16)`,
		tx.ID, tx.UserID, tx.Symbol, string(tx.AssetClass), string(tx.Action),
		tx.Quantity.String(), tx.UnitPrice.String(), tx.GrossTotal.String(),
		tx.Fee.String(), tx.NetTotal.String(), tx.RealizedPnL.String(),
		string(tx.Status), tx.FailureReason, idemKey, swapJSON, tx.Timestamp,
	)
	return err
}

// ApplyTrade commits the balance upsert, position upserts/deletes, and
// transaction append inside one database transaction.
func (s *PostgresStore) ApplyTrade(ctx context.Context, commit *TradeCommit) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if b := commit.Balance; b != nil {
			_, err := tx.Exec(ctx,
				`INSERT INTO balances (user_id, cash_balance, total_trades,
				    successful_trades, win_rate, total_realized_pnl, last_trade_at)
				 VALUES ($1, $2::NUMERIC, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
				 ON CONFLICT (user_id) DO UPDATE SET
				    cash_balance = EXCLUDED.cash_balance,
				    total_trades = EXCLUDED.total_trades,
				    successful_trades = EXCLUDED.successful_trades,
				    win_rate = EXCLUDED.win_rate,
				    total_realized_pnl = EXCLUDED.total_realized_pnl,
				    last_trade_at = EXCLUDED.last_trade_at`,
				b.UserID, b.CashBalance.String(), b.TotalTrades,
				b.SuccessfulTrades, b.WinRate.String(),
				b.TotalRealizedPnL.String(), b.LastTradeAt,
			)
			if err != nil {
				return fmt.Errorf("upsert balance: %w", err)
			}
		}

		for _, p := range commit.UpsertPositions {
			_, err := tx.Exec(ctx,
				`INSERT INTO positions (user_id, symbol, asset_class,
				    quantity, avg_price, total_invested, last_updated)
				 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
				 ON CONFLICT (user_id, symbol, asset_class) DO UPDATE SET
				    quantity = EXCLUDED.quantity,
				    avg_price = EXCLUDED.avg_price,
				    total_invested = EXCLUDED.total_invested,
				    last_updated = EXCLUDED.last_updated`,
				p.UserID, p.Symbol, string(p.AssetClass),
				p.Quantity.String(), p.AvgPrice.String(),
				p.TotalInvested.String(), p.LastUpdated,
			)
			if err != nil {
				return fmt.Errorf("upsert position %s: %w", p.Symbol, err)
			}
		}

		for _, key := range commit.DeletePositions {
			_, err := tx.Exec(ctx,
				`DELETE FROM positions
				 WHERE user_id = $1 AND symbol = $2 AND asset_class = $3`,
				key.UserID, key.Symbol, string(key.AssetClass),
			)
			if err != nil {
				return fmt.Errorf("delete position %s: %w", key.Symbol, err)
			}
		}

		if commit.Transaction != nil {
			if err := insertTransaction(ctx, tx, commit.Transaction); err != nil {
				return fmt.Errorf("append transaction: %w", err)
			}
		}
		return nil
	})
}
