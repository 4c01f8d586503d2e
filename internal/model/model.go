// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass identifies the market a symbol trades in.
type AssetClass string

const (
	AssetStock  AssetClass = "STOCK"
	AssetCrypto AssetClass = "CRYPTO"
)

// Action is the kind of ledger operation a transaction records.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionSwap Action = "SWAP"
)

// TxStatus is the terminal state of a transaction record.
type TxStatus string

const (
	TxCompleted TxStatus = "COMPLETED"
	TxFailed    TxStatus = "FAILED"
)

var (
	// StartingCash is the virtual endowment credited on a user's first trade.
	StartingCash = decimal.NewFromInt(100000)

	// FeeRate is the trading fee applied to gross value on Buy and Sell.
	// Swaps carry no fee.
	FeeRate = decimal.NewFromFloat(0.001)
)

// ErrInvalidAssetClass is returned when an asset class string is not
// STOCK or CRYPTO.
var ErrInvalidAssetClass = errors.New("model: invalid asset class")

// ParseAssetClass validates and normalizes an asset class string.
func ParseAssetClass(s string) (AssetClass, error) {
	switch AssetClass(strings.ToUpper(strings.TrimSpace(s))) {
	case AssetStock:
		return AssetStock, nil
	case AssetCrypto:
		return AssetCrypto, nil
	default:
		return "", fmt.Errorf("%w: %q (expected STOCK or CRYPTO)", ErrInvalidAssetClass, s)
	}
}

// NormalizeSymbol upper-cases and trims a ticker symbol. Returns "" for
// input that is blank after trimming.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Position is one user's holding in one symbol of one asset class.
// A position with zero quantity is never persisted; full exits delete
// the row.
type Position struct {
	UserID        string          `json:"user_id" db:"user_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	AssetClass    AssetClass      `json:"asset_class" db:"asset_class"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price" db:"avg_price"`           // weighted-average cost per unit
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"` // quantity * avgPrice, fees folded in
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
}

// Key returns the unique (user, symbol, class) identity of the position.
func (p *Position) Key() PositionKey {
	return PositionKey{UserID: p.UserID, Symbol: p.Symbol, AssetClass: p.AssetClass}
}

// PositionKey uniquely identifies a position row.
type PositionKey struct {
	UserID     string
	Symbol     string
	AssetClass AssetClass
}

// Balance is a user's cash account and lifetime trading statistics.
type Balance struct {
	UserID           string          `json:"user_id" db:"user_id"`
	CashBalance      decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	TotalTrades      int64           `json:"total_trades" db:"total_trades"`
	SuccessfulTrades int64           `json:"successful_trades" db:"successful_trades"`
	WinRate          decimal.Decimal `json:"win_rate" db:"win_rate"` // successfulTrades / totalTrades * 100
	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl" db:"total_realized_pnl"`
	LastTradeAt      *time.Time      `json:"last_trade_at,omitempty" db:"last_trade_at"`
}

// NewBalance creates a fresh balance with the starting endowment.
func NewBalance(userID string) *Balance {
	return &Balance{
		UserID:           userID,
		CashBalance:      StartingCash,
		WinRate:          decimal.Zero,
		TotalRealizedPnL: decimal.Zero,
	}
}

// RecalcWinRate recomputes the derived win-rate percentage.
func (b *Balance) RecalcWinRate() {
	if b.TotalTrades == 0 {
		b.WinRate = decimal.Zero
		return
	}
	b.WinRate = decimal.NewFromInt(b.SuccessfulTrades).
		Div(decimal.NewFromInt(b.TotalTrades)).
		Mul(decimal.NewFromInt(100)).Round(2)
}

// SwapDetails records the counter-leg of a SWAP transaction.
type SwapDetails struct {
	ToSymbol     string          `json:"to_symbol"`
	ToAssetClass AssetClass      `json:"to_asset_class"`
	ToAmount     decimal.Decimal `json:"to_amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"` // audit only, supplied by the quote service
}

// Transaction is an immutable record of one executed (or rejected and
// audited) ledger operation. Once written with status COMPLETED it is
// never modified or deleted.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	AssetClass     AssetClass      `json:"asset_class" db:"asset_class"`
	Action         Action          `json:"action" db:"action"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"`
	GrossTotal     decimal.Decimal `json:"gross_total" db:"gross_total"`
	Fee            decimal.Decimal `json:"fee" db:"fee"`
	NetTotal       decimal.Decimal `json:"net_total" db:"net_total"` // cost on BUY, proceeds on SELL
	RealizedPnL    decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Status         TxStatus        `json:"status" db:"status"`
	FailureReason  string          `json:"failure_reason,omitempty" db:"failure_reason"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Swap           *SwapDetails    `json:"swap,omitempty" db:"swap"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// PortfolioHolding is a position annotated with mark-to-market valuation.
// Valuation fields are computed on read against the price oracle and are
// never persisted.
type PortfolioHolding struct {
	Position
	Priced        bool            `json:"priced"` // false when the oracle had no quote
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"` // marketValue - totalInvested
}

// Portfolio aggregates a user's cash, holdings, and P&L for the read path.
type Portfolio struct {
	UserID           string             `json:"user_id"`
	CashBalance      decimal.Decimal    `json:"cash_balance"`
	Holdings         []PortfolioHolding `json:"holdings"`
	TotalMarketValue decimal.Decimal    `json:"total_market_value"`
	TotalUnrealized  decimal.Decimal    `json:"total_unrealized_pnl"`
	TotalRealizedPnL decimal.Decimal    `json:"total_realized_pnl"`
	WinRate          decimal.Decimal    `json:"win_rate"`
}
