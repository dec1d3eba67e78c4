package invest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/api"
	"github.com/sproutfin/wallet-engine/internal/model"
	"github.com/sproutfin/wallet-engine/internal/store"
)

// BuyRequest is the JSON body for the buy endpoints.
type BuyRequest struct {
	UserID   string          `json:"user_id"`
	AssetID  string          `json:"asset_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SellRequest is the JSON body for POST /investments/sell: full liquidation
// of one holding (harvest for plants, sell-all for stocks).
type SellRequest struct {
	UserID    string `json:"user_id"`
	HoldingID string `json:"holding_id"`
}

// StockSellRequest is the JSON body for POST /stocks/sell: a partial sale
// quoted in shares, not holdings.
type StockSellRequest struct {
	UserID   string          `json:"user_id"`
	AssetID  string          `json:"asset_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Handlers exposes the holdings manager over HTTP.
type Handlers struct {
	service *Service
	store   store.Store
}

// NewHandlers creates the investment HTTP surface.
func NewHandlers(s *Service, st store.Store) *Handlers {
	return &Handlers{service: s, store: st}
}

// GetPlants handles GET /api/v1/investments/plants, the plant catalog.
func (h *Handlers) GetPlants(w http.ResponseWriter, r *http.Request) {
	h.writeCatalog(w, r, model.AssetPlant)
}

// GetStocks handles the stock catalog listings with day-over-day
// price change.
func (h *Handlers) GetStocks(w http.ResponseWriter, r *http.Request) {
	assets, err := h.store.ListAssets(r.Context(), model.AssetStock)
	if err != nil {
		api.WriteError(w, "failed to load catalog", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		change, pct := h.priceChange(r, &a)
		out = append(out, map[string]any{
			"asset":                a,
			"price_change":         change,
			"price_change_percent": pct,
		})
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// GetStock handles GET /api/v1/stocks/{assetID}: one stock with its
// price history.
func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	asset, err := h.store.GetAsset(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteError(w, "asset not found", http.StatusNotFound)
			return
		}
		api.WriteError(w, "failed to load asset", http.StatusInternalServerError)
		return
	}

	history, err := h.store.GetPriceHistory(r.Context(), assetID, 30)
	if err != nil {
		api.WriteError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.PricePoint{}
	}

	change, pct := h.priceChange(r, asset)
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"asset":                asset,
		"price_change":         change,
		"price_change_percent": pct,
		"history":              history,
	})
}

// GetPortfolio handles GET /api/v1/investments/portfolio/{userID}
func (h *Handlers) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	p, err := h.service.Portfolio(r.Context(), userID)
	if err != nil {
		api.WriteError(w, "failed to build portfolio", http.StatusInternalServerError)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

// PostBuy handles POST /api/v1/investments/buy and POST /api/v1/stocks/buy.
func (h *Handlers) PostBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.AssetID == "" {
		api.WriteError(w, "user_id and asset_id are required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Buy(r.Context(), req.UserID, req.AssetID, req.Quantity)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

// PostSell handles POST /api/v1/investments/sell: full liquidation of one
// holding by ID.
func (h *Handlers) PostSell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.HoldingID == "" {
		api.WriteError(w, "user_id and holding_id are required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Sell(r.Context(), req.UserID, req.HoldingID)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

// PostStockSell handles POST /api/v1/stocks/sell: partial sale by share
// count.
func (h *Handlers) PostStockSell(w http.ResponseWriter, r *http.Request) {
	var req StockSellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.AssetID == "" {
		api.WriteError(w, "user_id and asset_id are required", http.StatusBadRequest)
		return
	}

	result, err := h.service.SellStock(r.Context(), req.UserID, req.AssetID, req.Quantity)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (h *Handlers) writeCatalog(w http.ResponseWriter, r *http.Request, kind model.AssetKind) {
	assets, err := h.store.ListAssets(r.Context(), kind)
	if err != nil {
		api.WriteError(w, "failed to load catalog", http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	api.WriteJSON(w, http.StatusOK, assets)
}

// priceChange compares the current price to the previous day's close. With
// fewer than two history points the change is zero.
func (h *Handlers) priceChange(r *http.Request, a *model.Asset) (decimal.Decimal, decimal.Decimal) {
	history, err := h.store.GetPriceHistory(r.Context(), a.ID, 2)
	if err != nil || len(history) < 2 {
		return decimal.Zero, decimal.Zero
	}
	prev := history[1].Price
	if prev.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	change := a.CurrentPrice.Sub(prev)
	return change, change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
}

func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		api.WriteError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, ErrInvalidLotSize),
		errors.Is(err, ErrInsufficientQuantity),
		errors.Is(err, ErrAssetInactive):
		api.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrMarketClosed):
		api.WriteError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrHoldingNotFound), errors.Is(err, store.ErrNotFound):
		api.WriteError(w, "not found", http.StatusNotFound)
	default:
		api.WriteError(w, "trade failed", http.StatusInternalServerError)
	}
}
