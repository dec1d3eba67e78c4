package market

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/api"
	"github.com/sproutfin/wallet-engine/internal/model"
	"github.com/sproutfin/wallet-engine/internal/store"
)

// Handlers exposes the admin simulation, news, and catalog endpoints plus
// the public market-status endpoint.
type Handlers struct {
	engine    *Engine
	scheduler *Scheduler
	store     store.Store
}

// NewHandlers wires the market HTTP surface. scheduler may be nil when the
// daily scheduler is disabled.
func NewHandlers(engine *Engine, scheduler *Scheduler, st store.Store) *Handlers {
	return &Handlers{engine: engine, scheduler: scheduler, store: st}
}

// GetMarketStatus handles GET /api/v1/stocks/market-status
func (h *Handlers) GetMarketStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]bool{
		"is_open": h.engine.State().IsOpen(h.engine.now()),
	})
}

// GetSchedulerStatus handles GET /api/v1/admin/investments/scheduler-status
func (h *Handlers) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	lastDay, err := h.store.LastSimulationDay(r.Context())
	if err != nil {
		api.WriteError(w, "failed to read simulation state", http.StatusInternalServerError)
		return
	}

	status := model.MarketStatus{
		Open:             h.engine.State().IsOpen(h.engine.now()),
		LastRunDay:       lastDay,
		SchedulerRunning: h.scheduler != nil && h.scheduler.Running(),
	}

	resp := map[string]any{
		"scheduler_running": status.SchedulerRunning,
		"ran_today":         status.LastRunDay == h.engine.now().Format("2006-01-02"),
		"last_run_day":      status.LastRunDay,
		"jobs":              []map[string]any{},
	}
	if h.scheduler != nil {
		if next := h.scheduler.NextRun(); !next.IsZero() {
			resp["jobs"] = []map[string]any{{"next_run_time": next}}
		}
	}

	api.WriteJSON(w, http.StatusOK, resp)
}

// PostSimulateDay handles POST /api/v1/admin/investments/simulate-day
// Manual trigger of the idempotent daily simulation.
func (h *Handlers) PostSimulateDay(w http.ResponseWriter, r *http.Request) {
	err := h.engine.RunDay(r.Context(), h.engine.now())
	if errors.Is(err, ErrAlreadyRanToday) {
		// Reported, not a failure that aborts the operator's workflow.
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"ran":    false,
			"reason": "already ran today",
		})
		return
	}
	if err != nil {
		api.WriteError(w, "simulation failed", http.StatusInternalServerError)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"ran": true})
}

// PostSimulateFluctuation handles POST /api/v1/admin/investments/simulate-fluctuation
// Intraday price move without consuming the daily run.
func (h *Handlers) PostSimulateFluctuation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Fluctuate(r.Context(), h.engine.now()); err != nil {
		api.WriteError(w, "fluctuation failed", http.StatusInternalServerError)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"ran": true})
}

// CreateNewsRequest is the JSON body for POST /api/v1/admin/stock-news.
type CreateNewsRequest struct {
	Headline      string           `json:"headline"`
	Impact        model.NewsImpact `json:"impact_type"`
	ImpactPercent decimal.Decimal  `json:"impact_percent"`
	StockID       string           `json:"stock_id,omitempty"`
	Category      string           `json:"category,omitempty"`
}

// PostNews handles POST /api/v1/admin/stock-news
func (h *Handlers) PostNews(w http.ResponseWriter, r *http.Request) {
	var req CreateNewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	n := &model.NewsEvent{
		Headline:      req.Headline,
		Impact:        req.Impact,
		ImpactPercent: req.ImpactPercent,
		StockID:       req.StockID,
		Category:      req.Category,
	}
	if err := h.engine.CreateNews(r.Context(), n); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteError(w, "target stock not found", http.StatusNotFound)
			return
		}
		api.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	api.WriteJSON(w, http.StatusCreated, n)
}

// GetNews handles GET /api/v1/admin/stock-news
func (h *Handlers) GetNews(w http.ResponseWriter, r *http.Request) {
	pendingOnly := r.URL.Query().Get("pending") == "true"
	events, err := h.store.ListNewsEvents(r.Context(), pendingOnly)
	if err != nil {
		api.WriteError(w, "failed to list news events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.NewsEvent{}
	}
	api.WriteJSON(w, http.StatusOK, events)
}

// PostApplyNews handles POST /api/v1/admin/stock-news/{newsID}/apply
func (h *Handlers) PostApplyNews(w http.ResponseWriter, r *http.Request) {
	newsID := chi.URLParam(r, "newsID")

	n, err := h.engine.ApplyNews(r.Context(), newsID, h.engine.now())
	if err != nil {
		switch {
		case errors.Is(err, ErrNewsAlreadyApplied):
			api.WriteError(w, "news event already applied", http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			api.WriteError(w, "news event not found", http.StatusNotFound)
		default:
			api.WriteError(w, "failed to apply news event", http.StatusInternalServerError)
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, n)
}

// CreateAssetRequest is the JSON body for POST /api/v1/admin/assets.
type CreateAssetRequest struct {
	Kind          model.AssetKind `json:"kind"`
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	BasePrice     decimal.Decimal `json:"base_price"`
	MinLotSize    decimal.Decimal `json:"min_lot_size"`
	GrowthRateMin decimal.Decimal `json:"growth_rate_min,omitempty"`
	GrowthRateMax decimal.Decimal `json:"growth_rate_max,omitempty"`
	MaturityDays  int             `json:"maturity_days,omitempty"`
	Volatility    decimal.Decimal `json:"volatility,omitempty"`
	RiskLevel     string          `json:"risk_level,omitempty"`
	DividendYield decimal.Decimal `json:"dividend_yield,omitempty"`
	Category      string          `json:"category,omitempty"`
}

// PostAsset handles POST /api/v1/admin/assets
func (h *Handlers) PostAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind != model.AssetPlant && req.Kind != model.AssetStock {
		api.WriteError(w, "kind must be plant or stock", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || req.BasePrice.LessThanOrEqual(decimal.Zero) {
		api.WriteError(w, "symbol and a positive base_price are required", http.StatusBadRequest)
		return
	}
	if req.MinLotSize.LessThanOrEqual(decimal.Zero) {
		req.MinLotSize = decimal.NewFromInt(1)
	}

	a := &model.Asset{
		ID:            uuid.New().String(),
		Kind:          req.Kind,
		Symbol:        req.Symbol,
		Name:          req.Name,
		BasePrice:     req.BasePrice,
		CurrentPrice:  req.BasePrice,
		MinLotSize:    req.MinLotSize,
		Active:        true,
		GrowthRateMin: req.GrowthRateMin,
		GrowthRateMax: req.GrowthRateMax,
		MaturityDays:  req.MaturityDays,
		Volatility:    req.Volatility,
		RiskLevel:     req.RiskLevel,
		DividendYield: req.DividendYield,
		Category:      req.Category,
		CreatedAt:     h.engine.now(),
	}
	if err := h.store.CreateAsset(r.Context(), a); err != nil {
		api.WriteError(w, err.Error(), http.StatusConflict)
		return
	}

	api.WriteJSON(w, http.StatusCreated, a)
}

// OverridePriceRequest is the JSON body for the manual admin price override.
type OverridePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// PatchAssetPrice handles PATCH /api/v1/admin/assets/{assetID}/price
// Manual override: a catalog edit, not a ledger event. Existing holdings
// keep their cost basis; the next simulation tick walks from here.
func (h *Handlers) PatchAssetPrice(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	var req OverridePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		api.WriteError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	a, err := h.store.GetAsset(r.Context(), assetID)
	if err != nil {
		api.WriteError(w, "asset not found", http.StatusNotFound)
		return
	}

	day := h.engine.now().Format("2006-01-02")
	if err := h.store.SetAssetPrice(r.Context(), assetID, req.Price, day); err != nil {
		api.WriteError(w, "failed to override price", http.StatusInternalServerError)
		return
	}

	h.engine.broadcast(a, req.Price, day)
	slog.Info("manual price override",
		"asset", a.Symbol, "old", a.CurrentPrice.String(), "new", req.Price.String())
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"asset_id": assetID,
		"price":    req.Price,
	})
}
