// Package oracle provides current USD unit prices for stock and crypto
// symbols. The ledger engine treats the oracle as an opaque collaborator:
// a symbol either has a price right now or it does not.
package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// ErrUnavailable is returned when no price can be supplied: unknown
// symbol, vendor error, or lookup timeout. Callers abort the operation
// and may retry.
var ErrUnavailable = errors.New("oracle: price unavailable")

// Oracle resolves a current unit price in USD for a symbol.
type Oracle interface {
	GetPrice(ctx context.Context, symbol string, class model.AssetClass) (decimal.Decimal, error)
}
