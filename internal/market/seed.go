package market

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/model"
)

type seedAsset struct {
	kind     model.AssetKind
	symbol   string
	name     string
	price    float64
	lot      float64
	gMin     float64 // plants
	gMax     float64
	maturity int
	vol      float64 // stocks
	risk     string
	dividend float64
	category string
}

var defaultCatalog = []seedAsset{
	{kind: model.AssetPlant, symbol: "SUNFLR", name: "Sunflower", price: 10, lot: 1, gMin: 0.01, gMax: 0.03, maturity: 30},
	{kind: model.AssetPlant, symbol: "TOMATO", name: "Tomato Vine", price: 15, lot: 1, gMin: 0.015, gMax: 0.04, maturity: 45},
	{kind: model.AssetPlant, symbol: "OAKTRE", name: "Little Oak", price: 25, lot: 1, gMin: 0.005, gMax: 0.02, maturity: 90},
	{kind: model.AssetPlant, symbol: "BAMBOO", name: "Lucky Bamboo", price: 12, lot: 1, gMin: 0.02, gMax: 0.05, maturity: 21},

	{kind: model.AssetStock, symbol: "LMNADE", name: "Lemonade Stand Co", price: 30, lot: 1, vol: 0.04, risk: "low", dividend: 0.01, category: "food"},
	{kind: model.AssetStock, symbol: "ROBOTZ", name: "Robotz Toys", price: 55, lot: 1, vol: 0.08, risk: "medium", dividend: 0, category: "tech"},
	{kind: model.AssetStock, symbol: "PETPAL", name: "PetPal Supplies", price: 42, lot: 1, vol: 0.05, risk: "low", dividend: 0.02, category: "retail"},
	{kind: model.AssetStock, symbol: "ROCKET", name: "Rocket Rides", price: 80, lot: 1, vol: 0.12, risk: "high", dividend: 0, category: "tech"},
	{kind: model.AssetStock, symbol: "CHOCCO", name: "Chocco Works", price: 25, lot: 1, vol: 0.06, risk: "medium", dividend: 0.015, category: "food"},
	{kind: model.AssetStock, symbol: "GAMERZ", name: "Gamerz Arcade", price: 64, lot: 2, vol: 0.10, risk: "high", dividend: 0, category: "tech"},
}

// SeedDefaults inserts a starter catalog when the asset table is empty, so a
// fresh deployment has something to plant and trade.
func (e *Engine) SeedDefaults(ctx context.Context) error {
	existing, err := e.store.ListAssets(ctx, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	now := e.now()
	for _, s := range defaultCatalog {
		price := decimal.NewFromFloat(s.price)
		a := &model.Asset{
			ID:            uuid.New().String(),
			Kind:          s.kind,
			Symbol:        s.symbol,
			Name:          s.name,
			BasePrice:     price,
			CurrentPrice:  price,
			MinLotSize:    decimal.NewFromFloat(s.lot),
			Active:        true,
			GrowthRateMin: decimal.NewFromFloat(s.gMin),
			GrowthRateMax: decimal.NewFromFloat(s.gMax),
			MaturityDays:  s.maturity,
			Volatility:    decimal.NewFromFloat(s.vol),
			RiskLevel:     s.risk,
			DividendYield: decimal.NewFromFloat(s.dividend),
			Category:      s.category,
			CreatedAt:     now,
		}
		if err := e.store.CreateAsset(ctx, a); err != nil {
			return err
		}
	}

	slog.Info("seeded default catalog", "assets", len(defaultCatalog))
	return nil
}
