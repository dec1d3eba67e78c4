package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/market"
	"github.com/sproutfin/wallet-engine/internal/model"
	"github.com/sproutfin/wallet-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var simNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*market.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	state, err := market.ParseWindows([]string{"09:00-17:00"})
	if err != nil {
		t.Fatalf("ParseWindows: %v", err)
	}
	return market.NewEngine(ms, state, nil), ms
}

func seedStock(t *testing.T, ms *store.MemoryStore, symbol string, price, vol float64, category string) *model.Asset {
	t.Helper()
	a := &model.Asset{
		ID:           uuid.New().String(),
		Kind:         model.AssetStock,
		Symbol:       symbol,
		Name:         symbol,
		BasePrice:    d(price),
		CurrentPrice: d(price),
		MinLotSize:   decimal.NewFromInt(1),
		Volatility:   d(vol),
		Category:     category,
		Active:       true,
		CreatedAt:    simNow,
	}
	if err := ms.CreateAsset(context.Background(), a); err != nil {
		t.Fatalf("seed stock %s: %v", symbol, err)
	}
	return a
}

func seedPlant(t *testing.T, ms *store.MemoryStore, symbol string, price float64) *model.Asset {
	t.Helper()
	a := &model.Asset{
		ID:            uuid.New().String(),
		Kind:          model.AssetPlant,
		Symbol:        symbol,
		Name:          symbol,
		BasePrice:     d(price),
		CurrentPrice:  d(price),
		MinLotSize:    decimal.NewFromInt(1),
		GrowthRateMin: d(0.01),
		GrowthRateMax: d(0.03),
		MaturityDays:  7,
		Active:        true,
		CreatedAt:     simNow,
	}
	if err := ms.CreateAsset(context.Background(), a); err != nil {
		t.Fatalf("seed plant %s: %v", symbol, err)
	}
	return a
}

func price(t *testing.T, ms *store.MemoryStore, id string) decimal.Decimal {
	t.Helper()
	a, err := ms.GetAsset(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	return a.CurrentPrice
}

func TestRunDay_Idempotent(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "LMNADE", 20, 0.05, "food")

	if err := engine.RunDay(ctx, simNow); err != nil {
		t.Fatalf("first RunDay: %v", err)
	}
	after := price(t, ms, stock.ID)

	err := engine.RunDay(ctx, simNow.Add(2*time.Hour))
	if !errors.Is(err, market.ErrAlreadyRanToday) {
		t.Fatalf("second RunDay: got %v, want ErrAlreadyRanToday", err)
	}
	if got := price(t, ms, stock.ID); !got.Equal(after) {
		t.Errorf("duplicate run moved price: %s → %s", after, got)
	}

	// The next calendar day is a fresh run.
	if err := engine.RunDay(ctx, simNow.AddDate(0, 0, 1)); err != nil {
		t.Errorf("next-day RunDay: %v", err)
	}
}

func TestRunDay_PlantGrowsByMidpoint(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	plant := seedPlant(t, ms, "SUNFLR", 100)

	if err := engine.RunDay(ctx, simNow); err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	// Midpoint of [0.01, 0.03] is 0.02.
	if got := price(t, ms, plant.ID); !got.Equal(d(102)) {
		t.Errorf("plant price = %s, want 102", got)
	}
}

func TestRunDay_SkipsInactiveAssets(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "LMNADE", 20, 0.5, "food")
	if err := ms.SetAssetActive(ctx, stock.ID, false); err != nil {
		t.Fatalf("SetAssetActive: %v", err)
	}

	if err := engine.RunDay(ctx, simNow); err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if got := price(t, ms, stock.ID); !got.Equal(d(20)) {
		t.Errorf("inactive asset moved: %s", got)
	}
}

func TestFluctuate_PriceFloor(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	// Extreme volatility hammering a tiny price: the floor must hold.
	stock := seedStock(t, ms, "CRASHY", 0.02, 0.99, "tech")

	for i := 0; i < 200; i++ {
		if err := engine.Fluctuate(ctx, simNow.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Fluctuate %d: %v", i, err)
		}
		if got := price(t, ms, stock.ID); got.LessThan(d(0.01)) {
			t.Fatalf("price fell below floor: %s", got)
		}
	}
}

func TestPlantValue_DeterministicAndCapped(t *testing.T) {
	_, ms := newTestEngine(t)
	plant := seedPlant(t, ms, "SUNFLR", 25)

	h := &model.Holding{
		ID:            "plot-1",
		UserID:        "kid1",
		AssetID:       plant.ID,
		Quantity:      decimal.NewFromInt(1),
		PurchasePrice: d(25),
		PurchaseDate:  simNow,
	}

	day3 := simNow.AddDate(0, 0, 3)
	if a, b := market.PlantValue(plant, h, day3), market.PlantValue(plant, h, day3); !a.Equal(b) {
		t.Errorf("valuation not deterministic: %s vs %s", a, b)
	}

	// Growth never dips below the purchase price.
	prev := d(25)
	for day := 1; day <= 7; day++ {
		v := market.PlantValue(plant, h, simNow.AddDate(0, 0, day))
		if v.LessThan(prev) {
			t.Errorf("day %d value %s dipped below %s", day, v, prev)
		}
		prev = v
	}

	// Compounding stops at maturity.
	atMaturity := market.PlantValue(plant, h, simNow.AddDate(0, 0, 7))
	longAfter := market.PlantValue(plant, h, simNow.AddDate(0, 0, 90))
	if !atMaturity.Equal(longAfter) {
		t.Errorf("value kept growing past maturity: %s vs %s", atMaturity, longAfter)
	}

	// A different plot grows along its own curve.
	other := &model.Holding{ID: "plot-2", PurchasePrice: d(25), PurchaseDate: simNow}
	if market.PlantValue(plant, h, day3).Equal(market.PlantValue(plant, other, day3)) {
		t.Log("two plots drew identical curves; acceptable but unusual")
	}

	if !market.Matured(plant, h, simNow.AddDate(0, 0, 7)) {
		t.Error("Matured false at maturity date")
	}
	if market.Matured(plant, h, day3) {
		t.Error("Matured true before maturity date")
	}
}

func TestCreateNews_Validation(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "LMNADE", 20, 0.05, "food")
	plant := seedPlant(t, ms, "SUNFLR", 25)

	cases := []struct {
		name string
		n    model.NewsEvent
	}{
		{"bad impact", model.NewsEvent{Headline: "h", Impact: "sideways", ImpactPercent: d(5)}},
		{"zero percent", model.NewsEvent{Headline: "h", Impact: model.ImpactPositive}},
		{"both targets", model.NewsEvent{Headline: "h", Impact: model.ImpactPositive, ImpactPercent: d(5), StockID: stock.ID, Category: "food"}},
		{"plant target", model.NewsEvent{Headline: "h", Impact: model.ImpactPositive, ImpactPercent: d(5), StockID: plant.ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := tc.n
			if err := engine.CreateNews(ctx, &n); err == nil {
				t.Error("CreateNews succeeded, want error")
			}
		})
	}

	ok := model.NewsEvent{Headline: "lemonade craze", Impact: model.ImpactPositive, ImpactPercent: d(10), StockID: stock.ID}
	if err := engine.CreateNews(ctx, &ok); err != nil {
		t.Fatalf("valid news rejected: %v", err)
	}
	if ok.ID == "" {
		t.Error("CreateNews did not assign an ID")
	}
}

func TestApplyNews_SingleApplication(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "LMNADE", 20, 0.05, "food")

	n := model.NewsEvent{Headline: "heat wave", Impact: model.ImpactPositive, ImpactPercent: d(10), StockID: stock.ID}
	if err := engine.CreateNews(ctx, &n); err != nil {
		t.Fatalf("CreateNews: %v", err)
	}

	applied, err := engine.ApplyNews(ctx, n.ID, simNow)
	if err != nil {
		t.Fatalf("ApplyNews: %v", err)
	}
	if !applied.Applied || applied.AppliedAt == nil {
		t.Error("event not marked applied")
	}
	if got := price(t, ms, stock.ID); !got.Equal(d(22)) {
		t.Errorf("price = %s, want 22", got)
	}

	if _, err := engine.ApplyNews(ctx, n.ID, simNow); !errors.Is(err, market.ErrNewsAlreadyApplied) {
		t.Fatalf("second apply: got %v, want ErrNewsAlreadyApplied", err)
	}
	if got := price(t, ms, stock.ID); !got.Equal(d(22)) {
		t.Errorf("second apply moved price: %s", got)
	}
}

func TestApplyNews_NegativeShockFloored(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "CRASHY", 0.011, 0.05, "tech")

	n := model.NewsEvent{Headline: "scandal", Impact: model.ImpactNegative, ImpactPercent: d(99), StockID: stock.ID}
	if err := engine.CreateNews(ctx, &n); err != nil {
		t.Fatalf("CreateNews: %v", err)
	}
	if _, err := engine.ApplyNews(ctx, n.ID, simNow); err != nil {
		t.Fatalf("ApplyNews: %v", err)
	}
	if got := price(t, ms, stock.ID); !got.Equal(d(0.01)) {
		t.Errorf("price = %s, want floor 0.01", got)
	}
}

func TestApplyNews_CategoryAndGlobalTargets(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	food := seedStock(t, ms, "LMNADE", 20, 0.05, "food")
	tech := seedStock(t, ms, "ROBOTZ", 50, 0.05, "tech")
	plant := seedPlant(t, ms, "SUNFLR", 25)

	catNews := model.NewsEvent{Headline: "food boom", Impact: model.ImpactPositive, ImpactPercent: d(10), Category: "food"}
	if err := engine.CreateNews(ctx, &catNews); err != nil {
		t.Fatalf("CreateNews: %v", err)
	}
	if _, err := engine.ApplyNews(ctx, catNews.ID, simNow); err != nil {
		t.Fatalf("ApplyNews: %v", err)
	}
	if got := price(t, ms, food.ID); !got.Equal(d(22)) {
		t.Errorf("food price = %s, want 22", got)
	}
	if got := price(t, ms, tech.ID); !got.Equal(d(50)) {
		t.Errorf("tech price moved on food news: %s", got)
	}

	global := model.NewsEvent{Headline: "market rally", Impact: model.ImpactPositive, ImpactPercent: d(10)}
	if err := engine.CreateNews(ctx, &global); err != nil {
		t.Fatalf("CreateNews: %v", err)
	}
	if _, err := engine.ApplyNews(ctx, global.ID, simNow); err != nil {
		t.Fatalf("ApplyNews: %v", err)
	}
	if got := price(t, ms, food.ID); !got.Equal(d(24.2)) {
		t.Errorf("food price = %s, want 24.2", got)
	}
	if got := price(t, ms, tech.ID); !got.Equal(d(55)) {
		t.Errorf("tech price = %s, want 55", got)
	}
	// Plants never react to news.
	if got := price(t, ms, plant.ID); !got.Equal(d(25)) {
		t.Errorf("plant price moved on news: %s", got)
	}
}

func TestRunDay_ConsumesPendingNews(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "STEADY", 100, 0, "food") // zero volatility isolates the shock

	n := model.NewsEvent{Headline: "expansion", Impact: model.ImpactPositive, ImpactPercent: d(10), StockID: stock.ID}
	if err := engine.CreateNews(ctx, &n); err != nil {
		t.Fatalf("CreateNews: %v", err)
	}

	if err := engine.RunDay(ctx, simNow); err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if got := price(t, ms, stock.ID); !got.Equal(d(110)) {
		t.Errorf("price = %s, want 110", got)
	}

	pending, err := ms.ListNewsEvents(ctx, true)
	if err != nil {
		t.Fatalf("ListNewsEvents: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d events still pending after run", len(pending))
	}
}

func TestNewScheduler_InvalidTime(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := market.NewScheduler(engine, "25:99"); err == nil {
		t.Error("NewScheduler accepted an invalid time")
	}
	if _, err := market.NewScheduler(engine, "09:00"); err != nil {
		t.Errorf("NewScheduler rejected a valid time: %v", err)
	}
}

// brokenPriceStore fails SetAssetPrice a set number of times to simulate a
// storage fault partway through a simulation pass.
type brokenPriceStore struct {
	store.Store
	faults int
}

func (b *brokenPriceStore) SetAssetPrice(ctx context.Context, id string, price decimal.Decimal, day string) error {
	if b.faults > 0 {
		b.faults--
		return errors.New("storage fault")
	}
	return b.Store.SetAssetPrice(ctx, id, price, day)
}

func TestRunDay_ReleasesDayOnFailure(t *testing.T) {
	ms := store.NewMemoryStore()
	bs := &brokenPriceStore{Store: ms, faults: 1}
	state, err := market.ParseWindows([]string{"09:00-17:00"})
	if err != nil {
		t.Fatalf("ParseWindows: %v", err)
	}
	engine := market.NewEngine(bs, state, nil)
	ctx := context.Background()
	// A plant always moves by the midpoint rate, so the price write is
	// guaranteed to happen and trip the fault.
	seedPlant(t, ms, "TOMATO", 100)

	if err := engine.RunDay(ctx, simNow); err == nil {
		t.Fatal("RunDay: want error when a price write fails")
	}

	// The failed run must not have consumed the day.
	if err := engine.RunDay(ctx, simNow.Add(time.Hour)); err != nil {
		t.Fatalf("retried RunDay: got %v, want success", err)
	}
	if err := engine.RunDay(ctx, simNow.Add(2*time.Hour)); !errors.Is(err, market.ErrAlreadyRanToday) {
		t.Fatalf("third RunDay: got %v, want ErrAlreadyRanToday", err)
	}
}
