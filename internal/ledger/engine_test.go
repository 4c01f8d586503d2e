package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/oracle"
	"github.com/papertrade/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates an engine backed by the in-memory store and a static
// oracle pre-seeded with a few quotes.
func newTestEnv(t *testing.T) (*ledger.Engine, *store.MemoryStore, *oracle.Static) {
	t.Helper()
	ms := store.NewMemoryStore()
	orc := oracle.NewStatic()
	orc.Set("AAPL", model.AssetStock, d(100))
	orc.Set("TSLA", model.AssetStock, d(250))
	orc.Set("BTC", model.AssetCrypto, d(50000))
	orc.Set("ETH", model.AssetCrypto, d(2000))
	return ledger.NewEngine(ms, orc, nil), ms, orc
}

func mustBuy(t *testing.T, e *ledger.Engine, user, symbol string, class model.AssetClass, qty decimal.Decimal) *model.Transaction {
	t.Helper()
	tx, err := e.Buy(context.Background(), ledger.BuyOrder{
		UserID: user, Symbol: symbol, AssetClass: class, Quantity: qty,
	})
	if err != nil {
		t.Fatalf("buy %s %s failed: %v", qty, symbol, err)
	}
	return tx
}

// --- Buy ---

func TestBuy_CreatesPositionAtOraclePrice(t *testing.T) {
	e, _, _ := newTestEnv(t)

	tx := mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10))

	if tx.Action != model.ActionBuy || tx.Status != model.TxCompleted {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if !tx.UnitPrice.Equal(d(100)) {
		t.Errorf("unit price = %s, want 100", tx.UnitPrice)
	}
	// totalCost = 10*100 * 1.001 = 1001
	if !tx.NetTotal.Equal(d(1001)) {
		t.Errorf("net total = %s, want 1001", tx.NetTotal)
	}

	pos, err := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.Quantity.Equal(d(10)) {
		t.Errorf("quantity = %s, want 10", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d(100)) {
		t.Errorf("avg price = %s, want 100", pos.AvgPrice)
	}
	if !pos.TotalInvested.Equal(d(1001)) {
		t.Errorf("total invested = %s, want 1001", pos.TotalInvested)
	}
}

func TestBuy_DebitsExactTotalCost(t *testing.T) {
	e, _, _ := newTestEnv(t)

	before, _ := e.GetBalance(context.Background(), "user1")
	tx := mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(3))
	after, _ := e.GetBalance(context.Background(), "user1")

	delta := after.CashBalance.Sub(before.CashBalance)
	if !delta.Equal(tx.NetTotal.Neg()) {
		t.Errorf("cash delta = %s, want %s", delta, tx.NetTotal.Neg())
	}
	if after.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1", after.TotalTrades)
	}
	if after.LastTradeAt == nil {
		t.Error("expected last_trade_at to be set")
	}
}

func TestBuy_WeightedAverage(t *testing.T) {
	e, _, orc := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10)) // 10 @ 100, cost 1001
	orc.Set("AAPL", model.AssetStock, d(200))
	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10)) // 10 @ 200, cost 2002

	pos, err := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.Quantity.Equal(d(20)) {
		t.Errorf("quantity = %s, want 20", pos.Quantity)
	}
	if !pos.TotalInvested.Equal(d(3003)) {
		t.Errorf("total invested = %s, want 3003", pos.TotalInvested)
	}
	// avgPrice == totalInvested / quantity after every buy.
	want := pos.TotalInvested.Div(pos.Quantity)
	if !pos.AvgPrice.Equal(want) {
		t.Errorf("avg price = %s, want %s", pos.AvgPrice, want)
	}
}

func TestBuy_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	e, _, _ := newTestEnv(t)

	// 10 BTC @ 50000 = 500500 with fee, far over the 100000 endowment.
	_, err := e.Buy(context.Background(), ledger.BuyOrder{
		UserID: "user1", Symbol: "BTC", AssetClass: model.AssetCrypto, Quantity: d(10),
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, _ := e.GetBalance(context.Background(), "user1")
	if !balance.CashBalance.Equal(model.StartingCash) {
		t.Errorf("cash = %s, want untouched %s", balance.CashBalance, model.StartingCash)
	}
	if balance.TotalTrades != 0 {
		t.Errorf("total trades = %d, want 0", balance.TotalTrades)
	}
	if _, err := e.GetPosition(context.Background(), "user1", "BTC", model.AssetCrypto); !errors.Is(err, ledger.ErrNoPosition) {
		t.Errorf("expected no position, got %v", err)
	}
}

func TestBuy_RejectionIsAudited(t *testing.T) {
	e, _, _ := newTestEnv(t)

	e.Buy(context.Background(), ledger.BuyOrder{
		UserID: "user1", Symbol: "BTC", AssetClass: model.AssetCrypto, Quantity: d(10),
	})

	txns, err := e.ListTransactions(context.Background(), "user1", 1, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected 1 audit transaction, got %d", len(txns))
	}
	if txns[0].Status != model.TxFailed {
		t.Errorf("status = %s, want FAILED", txns[0].Status)
	}
	if txns[0].FailureReason == "" {
		t.Error("expected failure reason to be recorded")
	}
}

func TestBuy_PriceUnavailable(t *testing.T) {
	e, _, _ := newTestEnv(t)

	_, err := e.Buy(context.Background(), ledger.BuyOrder{
		UserID: "user1", Symbol: "DOGE", AssetClass: model.AssetCrypto, Quantity: d(1),
	})
	if !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}

	balance, _ := e.GetBalance(context.Background(), "user1")
	if !balance.CashBalance.Equal(model.StartingCash) {
		t.Errorf("cash = %s, want untouched", balance.CashBalance)
	}
}

func TestBuy_InvalidRequest(t *testing.T) {
	e, _, _ := newTestEnv(t)

	cases := []ledger.BuyOrder{
		{Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(1)},
		{UserID: "u", AssetClass: model.AssetStock, Quantity: d(1)},
		{UserID: "u", Symbol: "AAPL", AssetClass: "BOND", Quantity: d(1)},
		{UserID: "u", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(0)},
		{UserID: "u", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(-5)},
	}
	for i, order := range cases {
		if _, err := e.Buy(context.Background(), order); !errors.Is(err, ledger.ErrInvalidRequest) {
			t.Errorf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestBuy_SymbolNormalized(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "  aapl ", model.AssetStock, d(1))

	if _, err := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock); err != nil {
		t.Errorf("expected normalized AAPL position, got %v", err)
	}
}

func TestBuy_IdempotentReplay(t *testing.T) {
	e, _, _ := newTestEnv(t)

	order := ledger.BuyOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock,
		Quantity: d(10), IdempotencyKey: "order-123",
	}

	tx1, err := e.Buy(context.Background(), order)
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	tx2, err := e.Buy(context.Background(), order)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if tx1.ID != tx2.ID {
		t.Errorf("replay returned new transaction %s, want %s", tx2.ID, tx1.ID)
	}

	// Only one execution took effect.
	pos, _ := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	if !pos.Quantity.Equal(d(10)) {
		t.Errorf("quantity = %s, want 10 (single execution)", pos.Quantity)
	}
	balance, _ := e.GetBalance(context.Background(), "user1")
	if balance.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1", balance.TotalTrades)
	}
}

// --- Sell ---

func TestSell_RealizesProfit(t *testing.T) {
	e, _, orc := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10)) // invested 1001, avg 100.1
	orc.Set("AAPL", model.AssetStock, d(150))

	tx, err := e.Sell(context.Background(), ledger.SellOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(10),
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	// proceeds = 1500 - 1.5 = 1498.5; cost basis = 100.1 * 10 = 1001
	if !tx.NetTotal.Equal(d(1498.5)) {
		t.Errorf("proceeds = %s, want 1498.5", tx.NetTotal)
	}
	if !tx.RealizedPnL.Equal(d(497.5)) {
		t.Errorf("realized pnl = %s, want 497.5", tx.RealizedPnL)
	}

	balance, _ := e.GetBalance(context.Background(), "user1")
	if !balance.TotalRealizedPnL.Equal(d(497.5)) {
		t.Errorf("total realized pnl = %s, want 497.5", balance.TotalRealizedPnL)
	}
	if balance.SuccessfulTrades != 1 {
		t.Errorf("successful trades = %d, want 1", balance.SuccessfulTrades)
	}
	if balance.TotalTrades != 2 {
		t.Errorf("total trades = %d, want 2", balance.TotalTrades)
	}
	if !balance.WinRate.Equal(d(50)) {
		t.Errorf("win rate = %s, want 50", balance.WinRate)
	}
}

func TestSell_CreditsExactProceeds(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10))
	before, _ := e.GetBalance(context.Background(), "user1")

	tx, err := e.Sell(context.Background(), ledger.SellOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(4),
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	after, _ := e.GetBalance(context.Background(), "user1")
	delta := after.CashBalance.Sub(before.CashBalance)
	if !delta.Equal(tx.NetTotal) {
		t.Errorf("cash delta = %s, want +%s", delta, tx.NetTotal)
	}
}

func TestSell_PartialPreservesAvgPrice(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10))
	pos, _ := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	avgBefore := pos.AvgPrice

	_, err := e.Sell(context.Background(), ledger.SellOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(4),
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	pos, _ = e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	if !pos.Quantity.Equal(d(6)) {
		t.Errorf("quantity = %s, want 6", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(avgBefore) {
		t.Errorf("avg price changed on partial sell: %s -> %s", avgBefore, pos.AvgPrice)
	}
	// totalInvested reduced proportionally: invested * 6/10.
	want := d(1001).Mul(d(6)).Div(d(10))
	if !pos.TotalInvested.Equal(want) {
		t.Errorf("total invested = %s, want %s", pos.TotalInvested, want)
	}
}

func TestSell_FullExitDeletesPosition(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10))

	_, err := e.Sell(context.Background(), ledger.SellOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(10),
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if _, err := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock); !errors.Is(err, ledger.ErrNoPosition) {
		t.Errorf("expected position deleted, got %v", err)
	}
}

func TestSell_InsufficientSharesLeavesStateUntouched(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(5))
	before, _ := e.GetBalance(context.Background(), "user1")

	_, err := e.Sell(context.Background(), ledger.SellOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(8),
	})
	if !errors.Is(err, ledger.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	// Message states the owned quantity.
	if want := "you own 5"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should contain %q", err.Error(), want)
	}

	after, _ := e.GetBalance(context.Background(), "user1")
	if !after.CashBalance.Equal(before.CashBalance) {
		t.Error("cash mutated on rejected sell")
	}
	pos, _ := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	if !pos.Quantity.Equal(d(5)) {
		t.Errorf("quantity = %s, want untouched 5", pos.Quantity)
	}
}

func TestSell_NoPosition(t *testing.T) {
	e, _, _ := newTestEnv(t)

	_, err := e.Sell(context.Background(), ledger.SellOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(1),
	})
	if !errors.Is(err, ledger.ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestSell_LossDoesNotCountAsWin(t *testing.T) {
	e, _, orc := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10))
	orc.Set("AAPL", model.AssetStock, d(50))

	tx, err := e.Sell(context.Background(), ledger.SellOrder{
		UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(10),
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !tx.RealizedPnL.IsNegative() {
		t.Fatalf("expected loss, got %s", tx.RealizedPnL)
	}

	balance, _ := e.GetBalance(context.Background(), "user1")
	if balance.SuccessfulTrades != 0 {
		t.Errorf("successful trades = %d, want 0", balance.SuccessfulTrades)
	}
	if !balance.WinRate.Equal(d(0)) {
		t.Errorf("win rate = %s, want 0", balance.WinRate)
	}
}

func TestSell_ConcurrentRace(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(100))

	// Two concurrent sells of 60 each against a 100-unit holding:
	// exactly one must succeed.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.Sell(context.Background(), ledger.SellOrder{
				UserID: "user1", Symbol: "AAPL", AssetClass: model.AssetStock, Quantity: d(60),
			})
		}(i)
	}
	wg.Wait()

	var successes, rejections int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrInsufficientShares):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || rejections != 1 {
		t.Fatalf("got %d successes and %d rejections, want exactly 1 and 1", successes, rejections)
	}

	pos, err := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.Quantity.Equal(d(40)) {
		t.Errorf("quantity = %s, want 40", pos.Quantity)
	}
}

// --- Swap ---

func TestSwap_CashLeg(t *testing.T) {
	e, ms, _ := newTestEnv(t)

	// Seed a user with exactly 1000 cash and no positions.
	ms.ApplyTrade(context.Background(), &store.TradeCommit{
		Balance: &model.Balance{UserID: "user1", CashBalance: d(1000)},
	})

	tx, err := e.Swap(context.Background(), ledger.SwapOrder{
		UserID:     "user1",
		FromSymbol: "USD", FromAssetClass: model.AssetStock,
		ToSymbol: "ETH", ToAssetClass: model.AssetCrypto,
		FromAmount: d(500), ToAmount: d(2), ExchangeRate: d(250),
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	if tx.Action != model.ActionSwap {
		t.Errorf("action = %s, want SWAP", tx.Action)
	}
	if tx.Swap == nil || tx.Swap.ToSymbol != "ETH" || !tx.Swap.ToAmount.Equal(d(2)) {
		t.Errorf("swap details missing or wrong: %+v", tx.Swap)
	}

	balance, _ := e.GetBalance(context.Background(), "user1")
	if !balance.CashBalance.Equal(d(500)) {
		t.Errorf("cash = %s, want 500", balance.CashBalance)
	}

	pos, err := e.GetPosition(context.Background(), "user1", "ETH", model.AssetCrypto)
	if err != nil {
		t.Fatalf("get ETH position: %v", err)
	}
	if !pos.Quantity.Equal(d(2)) {
		t.Errorf("quantity = %s, want 2", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d(250)) {
		t.Errorf("avg price = %s, want 250", pos.AvgPrice)
	}

	txns, _ := e.ListTransactions(context.Background(), "user1", 1, 10)
	if len(txns) != 1 {
		t.Errorf("expected exactly 1 transaction, got %d", len(txns))
	}
}

func TestSwap_PositionLegPartial(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10)) // invested 1001

	_, err := e.Swap(context.Background(), ledger.SwapOrder{
		UserID:     "user1",
		FromSymbol: "AAPL", FromAssetClass: model.AssetStock,
		ToSymbol: "BTC", ToAssetClass: model.AssetCrypto,
		FromAmount: d(4), ToAmount: d(0.01), ExchangeRate: d(400),
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	src, _ := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock)
	if !src.Quantity.Equal(d(6)) {
		t.Errorf("source quantity = %s, want 6", src.Quantity)
	}
	// Proportional reduction: 1001 * 6/10.
	if want := d(1001).Mul(d(6)).Div(d(10)); !src.TotalInvested.Equal(want) {
		t.Errorf("source invested = %s, want %s", src.TotalInvested, want)
	}

	dst, err := e.GetPosition(context.Background(), "user1", "BTC", model.AssetCrypto)
	if err != nil {
		t.Fatalf("get BTC position: %v", err)
	}
	if !dst.Quantity.Equal(d(0.01)) {
		t.Errorf("dest quantity = %s, want 0.01", dst.Quantity)
	}
	if !dst.TotalInvested.Equal(d(4)) {
		t.Errorf("dest invested = %s, want 4", dst.TotalInvested)
	}
}

func TestSwap_PositionLegFullExit(t *testing.T) {
	e, _, _ := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10))

	_, err := e.Swap(context.Background(), ledger.SwapOrder{
		UserID:     "user1",
		FromSymbol: "AAPL", FromAssetClass: model.AssetStock,
		ToSymbol: "ETH", ToAssetClass: model.AssetCrypto,
		FromAmount: d(10), ToAmount: d(0.5), ExchangeRate: d(20),
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	if _, err := e.GetPosition(context.Background(), "user1", "AAPL", model.AssetStock); !errors.Is(err, ledger.ErrNoPosition) {
		t.Errorf("expected source deleted, got %v", err)
	}
}

func TestSwap_InsufficientCash(t *testing.T) {
	e, ms, _ := newTestEnv(t)

	ms.ApplyTrade(context.Background(), &store.TradeCommit{
		Balance: &model.Balance{UserID: "user1", CashBalance: d(100)},
	})

	_, err := e.Swap(context.Background(), ledger.SwapOrder{
		UserID:     "user1",
		FromSymbol: "USD", FromAssetClass: model.AssetStock,
		ToSymbol: "ETH", ToAssetClass: model.AssetCrypto,
		FromAmount: d(500), ToAmount: d(2), ExchangeRate: d(250),
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, _ := e.GetBalance(context.Background(), "user1")
	if !balance.CashBalance.Equal(d(100)) {
		t.Errorf("cash = %s, want untouched 100", balance.CashBalance)
	}
	if _, err := e.GetPosition(context.Background(), "user1", "ETH", model.AssetCrypto); !errors.Is(err, ledger.ErrNoPosition) {
		t.Errorf("destination leg must not be credited, got %v", err)
	}
}

func TestSwap_SameHoldingRejected(t *testing.T) {
	e, _, _ := newTestEnv(t)

	_, err := e.Swap(context.Background(), ledger.SwapOrder{
		UserID:     "user1",
		FromSymbol: "AAPL", FromAssetClass: model.AssetStock,
		ToSymbol: "AAPL", ToAssetClass: model.AssetStock,
		FromAmount: d(1), ToAmount: d(1), ExchangeRate: d(1),
	})
	if !errors.Is(err, ledger.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

// --- Reads ---

func TestGetBalance_NeverTradedGetsEndowment(t *testing.T) {
	e, ms, _ := newTestEnv(t)

	balance, err := e.GetBalance(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.CashBalance.Equal(model.StartingCash) {
		t.Errorf("cash = %s, want %s", balance.CashBalance, model.StartingCash)
	}

	// The read must not persist a row.
	if _, err := ms.GetBalance(context.Background(), "fresh"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no persisted row, got %v", err)
	}
}

func TestListTransactions_NewestFirstPaginated(t *testing.T) {
	e, _, _ := newTestEnv(t)

	for i := 0; i < 5; i++ {
		mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(1))
	}

	page1, err := e.ListTransactions(context.Background(), "user1", 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1 size = %d, want 2", len(page1))
	}
	page3, err := e.ListTransactions(context.Background(), "user1", 3, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page3) != 1 {
		t.Errorf("page 3 size = %d, want 1", len(page3))
	}

	for i := 1; i < len(page1); i++ {
		if page1[i].Timestamp.After(page1[i-1].Timestamp) {
			t.Error("transactions not ordered newest-first")
		}
	}
}

func TestPortfolio_UnrealizedPnL(t *testing.T) {
	e, _, orc := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10)) // invested 1001
	orc.Set("AAPL", model.AssetStock, d(150))

	portfolio, err := e.Portfolio(context.Background(), "user1")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if len(portfolio.Holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(portfolio.Holdings))
	}

	h := portfolio.Holdings[0]
	if !h.Priced {
		t.Fatal("expected holding to be priced")
	}
	if !h.MarketValue.Equal(d(1500)) {
		t.Errorf("market value = %s, want 1500", h.MarketValue)
	}
	if !h.UnrealizedPnL.Equal(d(499)) {
		t.Errorf("unrealized pnl = %s, want 499", h.UnrealizedPnL)
	}
}

func TestPortfolio_UnpricedHoldingIncluded(t *testing.T) {
	e, _, orc := newTestEnv(t)

	mustBuy(t, e, "user1", "AAPL", model.AssetStock, d(10))
	orc.Unset("AAPL", model.AssetStock)

	portfolio, err := e.Portfolio(context.Background(), "user1")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if len(portfolio.Holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(portfolio.Holdings))
	}
	if portfolio.Holdings[0].Priced {
		t.Error("expected holding to be unpriced")
	}
	if !portfolio.TotalMarketValue.Equal(d(0)) {
		t.Errorf("total market value = %s, want 0", portfolio.TotalMarketValue)
	}
}
