package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/metrics"
	"github.com/sproutfin/wallet-engine/internal/model"
)

// CreateNews validates and stores an admin-authored news event. The target
// is a single stock, a category, or, when both are empty, the whole
// market.
func (e *Engine) CreateNews(ctx context.Context, n *model.NewsEvent) error {
	switch n.Impact {
	case model.ImpactPositive, model.ImpactNegative, model.ImpactNeutral:
	default:
		return fmt.Errorf("market: invalid impact type %q", n.Impact)
	}
	if n.Impact != model.ImpactNeutral && n.ImpactPercent.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("market: impact percent must be positive")
	}
	if n.StockID != "" && n.Category != "" {
		return fmt.Errorf("market: news targets a stock or a category, not both")
	}
	if n.StockID != "" {
		a, err := e.store.GetAsset(ctx, n.StockID)
		if err != nil {
			return err
		}
		if a.Kind != model.AssetStock {
			return ErrNotStock
		}
	}

	n.ID = uuid.New().String()
	n.Applied = false
	n.CreatedAt = e.now()
	return e.store.CreateNewsEvent(ctx, n)
}

// ApplyNews consumes a news event exactly once: the applied flag is
// check-and-set first, so a concurrent or repeated apply is rejected with
// ErrNewsAlreadyApplied instead of double-shocking the price.
func (e *Engine) ApplyNews(ctx context.Context, id string, now time.Time) (*model.NewsEvent, error) {
	n, err := e.store.GetNewsEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := e.store.MarkNewsApplied(ctx, id, now); err != nil {
		return nil, err
	}

	if n.Impact != model.ImpactNeutral {
		if err := e.shockPrices(ctx, n, now); err != nil {
			return nil, err
		}
	}

	n.Applied = true
	n.AppliedAt = &now
	metrics.NewsApplied.Inc()
	slog.Info("news event applied",
		"id", n.ID, "impact", n.Impact, "percent", n.ImpactPercent.String(),
		"stock", n.StockID, "category", n.Category)
	return n, nil
}

func (e *Engine) shockPrices(ctx context.Context, n *model.NewsEvent, now time.Time) error {
	factor := decimal.NewFromInt(1)
	pct := n.ImpactPercent.Div(decimal.NewFromInt(100))
	if n.Impact == model.ImpactPositive {
		factor = factor.Add(pct)
	} else {
		factor = factor.Sub(pct)
	}

	day := now.Format("2006-01-02")
	targets, err := e.newsTargets(ctx, n)
	if err != nil {
		return err
	}

	for i := range targets {
		a := &targets[i]
		next := a.CurrentPrice.Mul(factor).Round(4)
		if next.LessThan(priceFloor) {
			next = priceFloor
		}
		if err := e.store.SetAssetPrice(ctx, a.ID, next, day); err != nil {
			return fmt.Errorf("shock %s: %w", a.Symbol, err)
		}
		e.broadcast(a, next, day)
	}
	return nil
}

func (e *Engine) newsTargets(ctx context.Context, n *model.NewsEvent) ([]model.Asset, error) {
	if n.StockID != "" {
		a, err := e.store.GetAsset(ctx, n.StockID)
		if err != nil {
			return nil, err
		}
		return []model.Asset{*a}, nil
	}

	stocks, err := e.store.ListAssets(ctx, model.AssetStock)
	if err != nil {
		return nil, err
	}
	if n.Global() {
		return stocks, nil
	}

	var matched []model.Asset
	for _, a := range stocks {
		if a.Category == n.Category {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

// applyPendingNews consumes every unapplied event during the daily run.
// Events applied concurrently by an admin are skipped by the per-event CAS.
func (e *Engine) applyPendingNews(ctx context.Context, now time.Time) error {
	pending, err := e.store.ListNewsEvents(ctx, true)
	if err != nil {
		return err
	}
	for _, n := range pending {
		if _, err := e.ApplyNews(ctx, n.ID, now); err != nil {
			if errors.Is(err, ErrNewsAlreadyApplied) {
				continue
			}
			return err
		}
	}
	return nil
}
