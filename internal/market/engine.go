package market

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/metrics"
	"github.com/sproutfin/wallet-engine/internal/model"
	"github.com/sproutfin/wallet-engine/internal/store"
)

// Errors surfaced by the simulation and news layers. The store-level CAS
// sentinels are re-exported so callers need not import the store package.
var (
	ErrAlreadyRanToday    = store.ErrAlreadyRanToday
	ErrNewsAlreadyApplied = store.ErrNewsAlreadyApplied
	ErrNotStock           = errors.New("market: news target must be a stock")
)

// priceFloor keeps every simulated price strictly positive regardless of the
// volatility draw.
var priceFloor = decimal.NewFromFloat(0.01)

// Engine advances asset prices: a bounded random walk for stocks, an
// upward-only growth curve for plants. Per-asset updates are independent;
// the per-day idempotence lives in the store's check-and-set.
type Engine struct {
	store store.Store
	state *State
	hub   *Hub

	mu  sync.Mutex
	rng *rand.Rand

	now func() time.Time
}

// NewEngine creates a price simulation engine. Pass nil for hub if no
// WebSocket broadcasting is needed.
func NewEngine(st store.Store, state *State, hub *Hub) *Engine {
	return &Engine{
		store: st,
		state: state,
		hub:   hub,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// State returns the trading-window state machine.
func (e *Engine) State() *State { return e.state }

// RunDay is the idempotent daily simulation trigger: at most one price
// advance per calendar day. A duplicate trigger returns ErrAlreadyRanToday
// and leaves every price unchanged.
func (e *Engine) RunDay(ctx context.Context, now time.Time) error {
	day := now.Format("2006-01-02")

	if err := e.store.MarkSimulationRun(ctx, day); err != nil {
		if errors.Is(err, ErrAlreadyRanToday) {
			metrics.SimulationRuns.WithLabelValues("duplicate").Inc()
		} else {
			metrics.SimulationRuns.WithLabelValues("error").Inc()
		}
		return err
	}

	start := time.Now()
	if err := e.advanceAll(ctx, day); err != nil {
		metrics.SimulationRuns.WithLabelValues("error").Inc()
		e.releaseDay(ctx, day)
		return err
	}
	if err := e.applyPendingNews(ctx, now); err != nil {
		metrics.SimulationRuns.WithLabelValues("error").Inc()
		e.releaseDay(ctx, day)
		return err
	}

	metrics.SimulationRuns.WithLabelValues("ok").Inc()
	metrics.SimulationDuration.Observe(time.Since(start).Seconds())
	slog.Info("daily simulation complete", "day", day)
	return nil
}

// releaseDay gives the day back after a failed run so it can be triggered
// again. Assets that already advanced take one extra step on the retry,
// bounded the same as an intraday fluctuation, and the day's history row
// is overwritten.
func (e *Engine) releaseDay(ctx context.Context, day string) {
	if err := e.store.ClearSimulationRun(ctx, day); err != nil {
		slog.Error("failed to release simulation day", "day", day, "err", err)
	}
}

// Fluctuate advances prices without consuming the daily run: the intraday
// fluctuation path. The day's history row is overwritten.
func (e *Engine) Fluctuate(ctx context.Context, now time.Time) error {
	return e.advanceAll(ctx, now.Format("2006-01-02"))
}

func (e *Engine) advanceAll(ctx context.Context, day string) error {
	assets, err := e.store.ListAssets(ctx, "")
	if err != nil {
		return err
	}

	for i := range assets {
		a := &assets[i]
		if !a.Active {
			continue
		}
		next := e.nextPrice(a)
		if next.Equal(a.CurrentPrice) {
			continue
		}
		if err := e.store.SetAssetPrice(ctx, a.ID, next, day); err != nil {
			return fmt.Errorf("advance %s: %w", a.Symbol, err)
		}
		e.broadcast(a, next, day)
	}
	return nil
}

// nextPrice computes one simulation step for an asset.
func (e *Engine) nextPrice(a *model.Asset) decimal.Decimal {
	switch a.Kind {
	case model.AssetStock:
		// draw ∈ [-volatility, +volatility], floored so the price can
		// never touch zero.
		draw := a.Volatility.Mul(decimal.NewFromFloat(e.uniform()*2 - 1))
		next := a.CurrentPrice.Mul(decimal.NewFromInt(1).Add(draw)).Round(4)
		if next.LessThan(priceFloor) {
			next = priceFloor
		}
		return next
	case model.AssetPlant:
		// Catalog reference curve: midpoint growth, never downward. The
		// per-holding value uses PlantValue instead.
		mid := a.GrowthRateMin.Add(a.GrowthRateMax).Div(decimal.NewFromInt(2))
		return a.CurrentPrice.Mul(decimal.NewFromInt(1).Add(mid)).Round(4)
	default:
		return a.CurrentPrice
	}
}

func (e *Engine) uniform() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) broadcast(a *model.Asset, price decimal.Decimal, day string) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(PriceMessage{
		Type:    "price_tick",
		AssetID: a.ID,
		Symbol:  a.Symbol,
		Kind:    string(a.Kind),
		Price:   price.String(),
		Day:     day,
	})
}

// PlantValue computes the current unit value of a plant holding: the
// purchase price compounded by a daily growth factor drawn uniformly from
// [GrowthRateMin, GrowthRateMax], capped at MaturityDays. The draw sequence
// is seeded from the holding ID, so the same plot always grows the same way
// so the valuation is reproducible. Bounded randomness with no downside.
func PlantValue(a *model.Asset, h *model.Holding, asOf time.Time) decimal.Decimal {
	days := int(asOf.Sub(h.PurchaseDate).Hours() / 24)
	if days < 0 {
		days = 0
	}
	if a.MaturityDays > 0 && days > a.MaturityDays {
		days = a.MaturityDays
	}

	min := a.GrowthRateMin.InexactFloat64()
	max := a.GrowthRateMax.InexactFloat64()

	seed := fnv.New64a()
	seed.Write([]byte(h.ID))
	rng := rand.New(rand.NewSource(int64(seed.Sum64())))

	value := h.PurchasePrice
	for i := 0; i < days; i++ {
		g := min + rng.Float64()*(max-min)
		value = value.Mul(decimal.NewFromFloat(1 + g))
	}
	return value.Round(4)
}

// Matured reports whether a plant holding has reached its maturity date.
func Matured(a *model.Asset, h *model.Holding, asOf time.Time) bool {
	if a.MaturityDays <= 0 {
		return true
	}
	return asOf.Sub(h.PurchaseDate).Hours() >= float64(a.MaturityDays)*24
}
