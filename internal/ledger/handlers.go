package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/store"
)

// Handlers exposes the engine over HTTP. Request bodies are structured
// per-operation and validated at the boundary before entering the engine.
type Handlers struct {
	engine *Engine
}

// NewHandlers wraps an engine for HTTP delivery.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Routes mounts all ledger endpoints on a chi router.
func (h *Handlers) Routes(r chi.Router) {
	r.Post("/trades/buy", h.Buy)
	r.Post("/trades/sell", h.Sell)
	r.Post("/trades/swap", h.Swap)
	r.Get("/balance/{userID}", h.GetBalance)
	r.Get("/positions/{userID}", h.ListPositions)
	r.Get("/positions/{userID}/{assetClass}/{symbol}", h.GetPosition)
	r.Get("/portfolio/{userID}", h.GetPortfolio)
	r.Get("/transactions/{userID}", h.ListTransactions)
}

// --- Request types ---

// BuyRequest is the JSON body for POST /trades/buy.
type BuyRequest struct {
	UserID         string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	AssetClass     string          `json:"asset_class"`
	Quantity       decimal.Decimal `json:"quantity"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// SellRequest is the JSON body for POST /trades/sell.
type SellRequest struct {
	UserID         string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	AssetClass     string          `json:"asset_class"`
	Quantity       decimal.Decimal `json:"quantity"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// SwapRequest is the JSON body for POST /trades/swap.
type SwapRequest struct {
	UserID         string          `json:"user_id"`
	FromSymbol     string          `json:"from_symbol"`
	FromAssetClass string          `json:"from_asset_class"`
	ToSymbol       string          `json:"to_symbol"`
	ToAssetClass   string          `json:"to_asset_class"`
	FromAmount     decimal.Decimal `json:"from_amount"`
	ToAmount       decimal.Decimal `json:"to_amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// --- Trade handlers ---

// Buy handles POST /api/v1/trades/buy.
func (h *Handlers) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	class, err := model.ParseAssetClass(req.AssetClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := h.engine.Buy(r.Context(), BuyOrder{
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		AssetClass:     class,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// Sell handles POST /api/v1/trades/sell.
func (h *Handlers) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	class, err := model.ParseAssetClass(req.AssetClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := h.engine.Sell(r.Context(), SellOrder{
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		AssetClass:     class,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// Swap handles POST /api/v1/trades/swap.
func (h *Handlers) Swap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	fromClass, err := model.ParseAssetClass(req.FromAssetClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	toClass, err := model.ParseAssetClass(req.ToAssetClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := h.engine.Swap(r.Context(), SwapOrder{
		UserID:         req.UserID,
		FromSymbol:     req.FromSymbol,
		FromAssetClass: fromClass,
		ToSymbol:       req.ToSymbol,
		ToAssetClass:   toClass,
		FromAmount:     req.FromAmount,
		ToAmount:       req.ToAmount,
		ExchangeRate:   req.ExchangeRate,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// --- Read handlers ---

// GetBalance handles GET /api/v1/balance/{userID}.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.engine.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetPosition handles GET /api/v1/positions/{userID}/{assetClass}/{symbol}.
func (h *Handlers) GetPosition(w http.ResponseWriter, r *http.Request) {
	class, err := model.ParseAssetClass(chi.URLParam(r, "assetClass"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	position, err := h.engine.GetPosition(r.Context(),
		chi.URLParam(r, "userID"), chi.URLParam(r, "symbol"), class)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// ListPositions handles GET /api/v1/positions/{userID}.
func (h *Handlers) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.engine.store.ListPositions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
func (h *Handlers) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := h.engine.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// ListTransactions handles GET /api/v1/transactions/{userID}?page=&page_size=.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	txns, err := h.engine.ListTransactions(r.Context(), chi.URLParam(r, "userID"), page, pageSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNoPosition):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrConcurrentModification):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
