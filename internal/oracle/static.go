package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// Static serves prices from a fixed in-memory table. Used in tests and as
// the development fallback when no vendor is configured.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a static oracle, optionally pre-seeded.
func NewStatic() *Static {
	return &Static{prices: make(map[string]decimal.Decimal)}
}

// Set installs or replaces the price for one symbol.
func (s *Static) Set(symbol string, class model.AssetClass, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[quoteKey(model.NormalizeSymbol(symbol), class)] = price
}

// Unset removes a symbol, making its price unavailable.
func (s *Static) Unset(symbol string, class model.AssetClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, quoteKey(model.NormalizeSymbol(symbol), class))
}

func (s *Static) GetPrice(_ context.Context, symbol string, class model.AssetClass) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[quoteKey(model.NormalizeSymbol(symbol), class)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s (%s)", ErrUnavailable, symbol, class)
	}
	return price, nil
}
