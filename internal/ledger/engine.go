// Package ledger implements the paper-trading position ledger: Buy, Sell,
// and Swap execution against a virtual cash balance, with an append-only
// transaction log and per-user serialization.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/oracle"
	"github.com/papertrade/ledger-engine/internal/store"
)

// Engine executes ledger operations. Mutations for one user are serialized
// through a keyed lock; the store's ApplyTrade makes each operation's
// balance/position/transaction writes atomic.
type Engine struct {
	store  store.Store
	oracle oracle.Oracle
	locks  *userLocks
	hub    *Hub // optional WebSocket hub for real-time broadcasts
}

// NewEngine creates a ledger engine. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewEngine(st store.Store, orc oracle.Oracle, hub *Hub) *Engine {
	return &Engine{
		store:  st,
		oracle: orc,
		locks:  newUserLocks(),
		hub:    hub,
	}
}

// --- Orders ---

// BuyOrder is a validated request to buy quantity units at the current
// oracle price.
type BuyOrder struct {
	UserID         string
	Symbol         string
	AssetClass     model.AssetClass
	Quantity       decimal.Decimal
	IdempotencyKey string
}

func (o *BuyOrder) validate() error {
	return validateOrderLeg(o.UserID, &o.Symbol, o.AssetClass, o.Quantity)
}

// SellOrder is a validated request to sell quantity units at the current
// oracle price.
type SellOrder struct {
	UserID         string
	Symbol         string
	AssetClass     model.AssetClass
	Quantity       decimal.Decimal
	IdempotencyKey string
}

func (o *SellOrder) validate() error {
	return validateOrderLeg(o.UserID, &o.Symbol, o.AssetClass, o.Quantity)
}

// SwapOrder converts a holding (or a cash-equivalent draw) directly into
// another holding. Amounts come from an already-obtained quote; the engine
// only guarantees the two legs commit together.
type SwapOrder struct {
	UserID         string
	FromSymbol     string
	FromAssetClass model.AssetClass
	ToSymbol       string
	ToAssetClass   model.AssetClass
	FromAmount     decimal.Decimal
	ToAmount       decimal.Decimal
	ExchangeRate   decimal.Decimal // audit only
	IdempotencyKey string
}

func (o *SwapOrder) validate() error {
	if err := validateOrderLeg(o.UserID, &o.FromSymbol, o.FromAssetClass, o.FromAmount); err != nil {
		return err
	}
	if err := validateOrderLeg(o.UserID, &o.ToSymbol, o.ToAssetClass, o.ToAmount); err != nil {
		return err
	}
	if o.FromSymbol == o.ToSymbol && o.FromAssetClass == o.ToAssetClass {
		return fmt.Errorf("%w: swap source and destination are the same holding", ErrInvalidRequest)
	}
	return nil
}

func validateOrderLeg(userID string, symbol *string, class model.AssetClass, amount decimal.Decimal) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	*symbol = model.NormalizeSymbol(*symbol)
	if *symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if class != model.AssetStock && class != model.AssetCrypto {
		return fmt.Errorf("%w: asset class must be STOCK or CRYPTO", ErrInvalidRequest)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	return nil
}

// --- Buy ---

// Buy executes a market buy: debits cash by gross + fee and credits the
// position at weighted-average cost.
func (e *Engine) Buy(ctx context.Context, order BuyOrder) (*model.Transaction, error) {
	start := time.Now()
	if err := order.validate(); err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	// Oracle lookup happens before the critical section so network latency
	// is never paid under the user's lock.
	price, err := e.lookupPrice(ctx, order.Symbol, order.AssetClass)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.acquire(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	if tx, ok := e.replay(ctx, order.UserID, order.IdempotencyKey); ok {
		return tx, nil
	}

	balance, err := e.loadOrCreateBalance(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	gross := price.Mul(order.Quantity)
	fee := gross.Mul(model.FeeRate)
	totalCost := gross.Add(fee)

	if balance.CashBalance.LessThan(totalCost) {
		err := fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientFunds, totalCost.StringFixed(2), balance.CashBalance.StringFixed(2))
		e.auditRejection(ctx, order.UserID, order.Symbol, order.AssetClass,
			model.ActionBuy, order.Quantity, price, gross, fee, totalCost, err)
		return nil, err
	}

	now := time.Now().UTC()
	balance.CashBalance = balance.CashBalance.Sub(totalCost)
	balance.TotalTrades++
	balance.RecalcWinRate()
	balance.LastTradeAt = &now

	position, err := e.store.GetPosition(ctx, order.UserID, order.Symbol, order.AssetClass)
	switch {
	case errors.Is(err, store.ErrNotFound):
		position = &model.Position{
			UserID:        order.UserID,
			Symbol:        order.Symbol,
			AssetClass:    order.AssetClass,
			Quantity:      order.Quantity,
			AvgPrice:      price,
			TotalInvested: totalCost,
		}
	case err != nil:
		return nil, fmt.Errorf("load position: %w", err)
	default:
		position.Quantity = position.Quantity.Add(order.Quantity)
		position.TotalInvested = position.TotalInvested.Add(totalCost)
		position.AvgPrice = position.TotalInvested.Div(position.Quantity)
	}
	position.LastUpdated = now

	tx := &model.Transaction{
		ID:             uuid.New().String(),
		UserID:         order.UserID,
		Symbol:         order.Symbol,
		AssetClass:     order.AssetClass,
		Action:         model.ActionBuy,
		Quantity:       order.Quantity,
		UnitPrice:      price,
		GrossTotal:     gross,
		Fee:            fee,
		NetTotal:       totalCost,
		Status:         model.TxCompleted,
		IdempotencyKey: order.IdempotencyKey,
		Timestamp:      now,
	}

	commit := &store.TradeCommit{
		Balance:         balance,
		UpsertPositions: []*model.Position{position},
		Transaction:     tx,
	}
	if err := e.store.ApplyTrade(ctx, commit); err != nil {
		return nil, fmt.Errorf("commit buy: %w", err)
	}

	e.recordExecution(tx, start)
	slog.Info("buy executed",
		"user", order.UserID,
		"symbol", order.Symbol,
		"class", order.AssetClass,
		"qty", order.Quantity.String(),
		"price", price.String(),
		"cost", totalCost.String(),
	)
	return tx, nil
}

// --- Sell ---

// Sell executes a market sell: debits the position, credits cash with
// proceeds net of fee, and realizes P&L against weighted-average cost.
func (e *Engine) Sell(ctx context.Context, order SellOrder) (*model.Transaction, error) {
	start := time.Now()
	if err := order.validate(); err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	// Cheap existence precheck before paying for the oracle round-trip.
	// Quantity is re-validated under the lock before anything mutates.
	if _, err := e.store.GetPosition(ctx, order.UserID, order.Symbol, order.AssetClass); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err := fmt.Errorf("%w: no %s holding in %s", ErrNoPosition, order.AssetClass, order.Symbol)
			e.auditRejection(ctx, order.UserID, order.Symbol, order.AssetClass,
				model.ActionSell, order.Quantity, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, err)
			return nil, err
		}
		return nil, fmt.Errorf("load position: %w", err)
	}

	price, err := e.lookupPrice(ctx, order.Symbol, order.AssetClass)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.acquire(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	if tx, ok := e.replay(ctx, order.UserID, order.IdempotencyKey); ok {
		return tx, nil
	}

	position, err := e.store.GetPosition(ctx, order.UserID, order.Symbol, order.AssetClass)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Sold out by a concurrent request between precheck and lock.
			err := fmt.Errorf("%w: no %s holding in %s", ErrNoPosition, order.AssetClass, order.Symbol)
			e.auditRejection(ctx, order.UserID, order.Symbol, order.AssetClass,
				model.ActionSell, order.Quantity, price, decimal.Zero, decimal.Zero, decimal.Zero, err)
			return nil, err
		}
		return nil, fmt.Errorf("load position: %w", err)
	}

	gross := price.Mul(order.Quantity)
	fee := gross.Mul(model.FeeRate)
	proceeds := gross.Sub(fee)

	if order.Quantity.GreaterThan(position.Quantity) {
		err := fmt.Errorf("%w: you own %s", ErrInsufficientShares, position.Quantity.String())
		e.auditRejection(ctx, order.UserID, order.Symbol, order.AssetClass,
			model.ActionSell, order.Quantity, price, gross, fee, proceeds, err)
		return nil, err
	}

	costBasis := position.AvgPrice.Mul(order.Quantity)
	profit := proceeds.Sub(costBasis)

	balance, err := e.loadOrCreateBalance(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	balance.CashBalance = balance.CashBalance.Add(proceeds)
	balance.TotalTrades++
	if profit.IsPositive() {
		balance.SuccessfulTrades++
	}
	balance.RecalcWinRate()
	balance.TotalRealizedPnL = balance.TotalRealizedPnL.Add(profit)
	balance.LastTradeAt = &now

	commit := &store.TradeCommit{Balance: balance}
	if order.Quantity.Equal(position.Quantity) {
		// Full exit: the row is deleted, never left at zero quantity.
		commit.DeletePositions = []model.PositionKey{position.Key()}
	} else {
		remaining := position.Quantity.Sub(order.Quantity)
		// Proportional reduction preserves the per-unit cost basis.
		position.TotalInvested = position.TotalInvested.Mul(remaining).Div(position.Quantity)
		position.Quantity = remaining
		position.LastUpdated = now
		commit.UpsertPositions = []*model.Position{position}
	}

	tx := &model.Transaction{
		ID:             uuid.New().String(),
		UserID:         order.UserID,
		Symbol:         order.Symbol,
		AssetClass:     order.AssetClass,
		Action:         model.ActionSell,
		Quantity:       order.Quantity,
		UnitPrice:      price,
		GrossTotal:     gross,
		Fee:            fee,
		NetTotal:       proceeds,
		RealizedPnL:    profit,
		Status:         model.TxCompleted,
		IdempotencyKey: order.IdempotencyKey,
		Timestamp:      now,
	}
	commit.Transaction = tx

	if err := e.store.ApplyTrade(ctx, commit); err != nil {
		return nil, fmt.Errorf("commit sell: %w", err)
	}

	e.recordExecution(tx, start)
	slog.Info("sell executed",
		"user", order.UserID,
		"symbol", order.Symbol,
		"class", order.AssetClass,
		"qty", order.Quantity.String(),
		"price", price.String(),
		"proceeds", proceeds.String(),
		"realized_pnl", profit.String(),
	)
	return tx, nil
}

// --- Swap ---

// Swap atomically converts one holding (or a cash draw) into another.
// The exchange rate is trusted from the caller's quote; no oracle lookup
// and no fee. The credited leg is booked at a unit price of 1.
func (e *Engine) Swap(ctx context.Context, order SwapOrder) (*model.Transaction, error) {
	start := time.Now()
	if err := order.validate(); err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	release, err := e.locks.acquire(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	if tx, ok := e.replay(ctx, order.UserID, order.IdempotencyKey); ok {
		return tx, nil
	}

	balance, err := e.loadOrCreateBalance(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	commit := &store.TradeCommit{}

	// Source leg: debit the held position when it covers fromAmount,
	// otherwise treat fromAmount as a cash-equivalent draw.
	source, err := e.store.GetPosition(ctx, order.UserID, order.FromSymbol, order.FromAssetClass)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load source position: %w", err)
	}

	switch {
	case source != nil && source.Quantity.GreaterThanOrEqual(order.FromAmount):
		if source.Quantity.Equal(order.FromAmount) {
			commit.DeletePositions = append(commit.DeletePositions, source.Key())
		} else {
			remaining := source.Quantity.Sub(order.FromAmount)
			source.TotalInvested = source.TotalInvested.Mul(remaining).Div(source.Quantity)
			source.Quantity = remaining
			source.LastUpdated = now
			commit.UpsertPositions = append(commit.UpsertPositions, source)
		}
	case balance.CashBalance.GreaterThanOrEqual(order.FromAmount):
		balance.CashBalance = balance.CashBalance.Sub(order.FromAmount)
	case source != nil:
		err := fmt.Errorf("%w: you own %s %s and cash cannot cover the rest",
			ErrInsufficientShares, source.Quantity.String(), order.FromSymbol)
		e.auditRejection(ctx, order.UserID, order.FromSymbol, order.FromAssetClass,
			model.ActionSwap, order.FromAmount, decimal.NewFromInt(1),
			order.FromAmount, decimal.Zero, order.FromAmount, err)
		return nil, err
	default:
		err := fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientFunds, order.FromAmount.StringFixed(2), balance.CashBalance.StringFixed(2))
		e.auditRejection(ctx, order.UserID, order.FromSymbol, order.FromAssetClass,
			model.ActionSwap, order.FromAmount, decimal.NewFromInt(1),
			order.FromAmount, decimal.Zero, order.FromAmount, err)
		return nil, err
	}

	// Destination leg: weighted-average credit with toAmount as the
	// quantity delta and fromAmount as the dollar cost added. Source units
	// are valued at 1 per unit, so fromAmount is the drawn value either way.
	dest, err := e.store.GetPosition(ctx, order.UserID, order.ToSymbol, order.ToAssetClass)
	switch {
	case errors.Is(err, store.ErrNotFound):
		dest = &model.Position{
			UserID:        order.UserID,
			Symbol:        order.ToSymbol,
			AssetClass:    order.ToAssetClass,
			Quantity:      order.ToAmount,
			AvgPrice:      order.FromAmount.Div(order.ToAmount),
			TotalInvested: order.FromAmount,
		}
	case err != nil:
		return nil, fmt.Errorf("load destination position: %w", err)
	default:
		dest.Quantity = dest.Quantity.Add(order.ToAmount)
		dest.TotalInvested = dest.TotalInvested.Add(order.FromAmount)
		dest.AvgPrice = dest.TotalInvested.Div(dest.Quantity)
	}
	dest.LastUpdated = now
	commit.UpsertPositions = append(commit.UpsertPositions, dest)

	balance.TotalTrades++
	balance.RecalcWinRate()
	balance.LastTradeAt = &now
	commit.Balance = balance

	tx := &model.Transaction{
		ID:             uuid.New().String(),
		UserID:         order.UserID,
		Symbol:         order.FromSymbol,
		AssetClass:     order.FromAssetClass,
		Action:         model.ActionSwap,
		Quantity:       order.FromAmount,
		UnitPrice:      decimal.NewFromInt(1),
		GrossTotal:     order.FromAmount,
		Fee:            decimal.Zero,
		NetTotal:       order.FromAmount,
		Status:         model.TxCompleted,
		IdempotencyKey: order.IdempotencyKey,
		Swap: &model.SwapDetails{
			ToSymbol:     order.ToSymbol,
			ToAssetClass: order.ToAssetClass,
			ToAmount:     order.ToAmount,
			ExchangeRate: order.ExchangeRate,
		},
		Timestamp: now,
	}
	commit.Transaction = tx

	if err := e.store.ApplyTrade(ctx, commit); err != nil {
		return nil, fmt.Errorf("commit swap: %w", err)
	}

	e.recordExecution(tx, start)
	slog.Info("swap executed",
		"user", order.UserID,
		"from", order.FromSymbol,
		"to", order.ToSymbol,
		"from_amount", order.FromAmount.String(),
		"to_amount", order.ToAmount.String(),
		"rate", order.ExchangeRate.String(),
	)
	return tx, nil
}

// --- Reads ---

// GetBalance returns the user's balance. A user who has never traded gets
// the starting endowment; the row itself is only created by the first
// mutating operation.
func (e *Engine) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	balance, err := e.store.GetBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewBalance(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return balance, nil
}

// GetPosition returns one holding, or ErrNoPosition.
func (e *Engine) GetPosition(ctx context.Context, userID, symbol string, class model.AssetClass) (*model.Position, error) {
	symbol = model.NormalizeSymbol(symbol)
	p, err := e.store.GetPosition(ctx, userID, symbol, class)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no %s holding in %s", ErrNoPosition, class, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	return p, nil
}

// Portfolio returns all holdings marked to market at current oracle prices.
// Holdings whose quote is unavailable are included unpriced rather than
// failing the whole read.
func (e *Engine) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	balance, err := e.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	portfolio := &model.Portfolio{
		UserID:           userID,
		CashBalance:      balance.CashBalance,
		Holdings:         make([]model.PortfolioHolding, 0, len(positions)),
		TotalMarketValue: decimal.Zero,
		TotalUnrealized:  decimal.Zero,
		TotalRealizedPnL: balance.TotalRealizedPnL,
		WinRate:          balance.WinRate,
	}

	for _, p := range positions {
		holding := model.PortfolioHolding{Position: p}
		price, err := e.lookupPrice(ctx, p.Symbol, p.AssetClass)
		if err != nil {
			slog.Warn("portfolio quote unavailable", "user", userID, "symbol", p.Symbol, "err", err)
		} else {
			holding.Priced = true
			holding.CurrentPrice = price
			holding.MarketValue = price.Mul(p.Quantity)
			holding.UnrealizedPnL = holding.MarketValue.Sub(p.TotalInvested)
			portfolio.TotalMarketValue = portfolio.TotalMarketValue.Add(holding.MarketValue)
			portfolio.TotalUnrealized = portfolio.TotalUnrealized.Add(holding.UnrealizedPnL)
		}
		portfolio.Holdings = append(portfolio.Holdings, holding)
	}

	return portfolio, nil
}

// ListTransactions returns a page of the user's transactions, newest first.
func (e *Engine) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]model.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return e.store.ListTransactions(ctx, userID, pageSize, (page-1)*pageSize)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// --- Internals ---

func (e *Engine) lookupPrice(ctx context.Context, symbol string, class model.AssetClass) (decimal.Decimal, error) {
	start := time.Now()
	price, err := e.oracle.GetPrice(ctx, symbol, class)
	metrics.OracleLookups.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return price, nil
}

func (e *Engine) loadOrCreateBalance(ctx context.Context, userID string) (*model.Balance, error) {
	balance, err := e.store.GetBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewBalance(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return balance, nil
}

// replay returns the previously committed transaction for an idempotency
// key, if any. Must be called inside the user's critical section.
func (e *Engine) replay(ctx context.Context, userID, key string) (*model.Transaction, bool) {
	if key == "" {
		return nil, false
	}
	tx, err := e.store.GetTransactionByKey(ctx, userID, key)
	if err != nil {
		return nil, false
	}
	slog.Info("idempotent replay", "user", userID, "key", key, "tx", tx.ID)
	return tx, true
}

// auditRejection appends a FAILED transaction so rejected submissions stay
// visible in history. Balance and positions are untouched.
func (e *Engine) auditRejection(ctx context.Context, userID, symbol string, class model.AssetClass,
	action model.Action, qty, price, gross, fee, net decimal.Decimal, cause error) {

	metrics.TradeRejections.WithLabelValues(rejectionReason(cause)).Inc()

	tx := &model.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Symbol:        symbol,
		AssetClass:    class,
		Action:        action,
		Quantity:      qty,
		UnitPrice:     price,
		GrossTotal:    gross,
		Fee:           fee,
		NetTotal:      net,
		Status:        model.TxFailed,
		FailureReason: cause.Error(),
		Timestamp:     time.Now().UTC(),
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		slog.Warn("failed to audit rejection", "user", userID, "err", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrNoPosition):
		return "no_position"
	default:
		return "other"
	}
}

func (e *Engine) recordExecution(tx *model.Transaction, start time.Time) {
	metrics.TradesTotal.WithLabelValues(string(tx.Action)).Inc()
	metrics.TradeLatency.WithLabelValues(string(tx.Action)).Observe(time.Since(start).Seconds())

	if e.hub != nil {
		event := TradeEvent{
			Type:       "trade_executed",
			UserID:     tx.UserID,
			Action:     string(tx.Action),
			Symbol:     tx.Symbol,
			AssetClass: string(tx.AssetClass),
			Quantity:   tx.Quantity.String(),
			UnitPrice:  tx.UnitPrice.String(),
			NetTotal:   tx.NetTotal.String(),
		}
		if tx.Swap != nil {
			event.ToSymbol = tx.Swap.ToSymbol
			event.ToAmount = tx.Swap.ToAmount.String()
		}
		e.hub.Broadcast(event)
	}
}
