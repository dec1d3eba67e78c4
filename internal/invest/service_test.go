package invest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/market"
	"github.com/sproutfin/wallet-engine/internal/model"
	"github.com/sproutfin/wallet-engine/internal/retry"
	"github.com/sproutfin/wallet-engine/internal/store"
	"github.com/sproutfin/wallet-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testNow is noon, inside the open window used below.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func mustWindows(t *testing.T, specs ...string) *market.State {
	t.Helper()
	state, err := market.ParseWindows(specs)
	if err != nil {
		t.Fatalf("ParseWindows: %v", err)
	}
	return state
}

// newTestService builds a holdings manager over an in-memory store with a
// pinned clock. The default window keeps the market open at testNow.
func newTestService(t *testing.T, windows ...string) (*Service, *wallet.Service, *store.MemoryStore) {
	t.Helper()
	if len(windows) == 0 {
		windows = []string{"00:00-23:59"}
	}
	ms := store.NewMemoryStore()
	w := wallet.NewService(ms)
	svc := NewService(ms, w, mustWindows(t, windows...))
	svc.now = func() time.Time { return testNow }
	return svc, w, ms
}

func seedStock(t *testing.T, ms *store.MemoryStore, id string, price float64, lot int64) *model.Asset {
	t.Helper()
	a := &model.Asset{
		ID:           id,
		Symbol:       "TST-" + id,
		Name:         "Test Stock " + id,
		Kind:         model.AssetStock,
		CurrentPrice: d(price),
		MinLotSize:   decimal.NewFromInt(lot),
		Volatility:   d(0.05),
		Active:       true,
		CreatedAt:    testNow,
	}
	if err := ms.CreateAsset(context.Background(), a); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return a
}

func seedPlant(t *testing.T, ms *store.MemoryStore, id string, price float64, maturityDays int) *model.Asset {
	t.Helper()
	a := &model.Asset{
		ID:            id,
		Symbol:        "PLT-" + id,
		Name:          "Test Plant " + id,
		Kind:          model.AssetPlant,
		CurrentPrice:  d(price),
		MinLotSize:    decimal.NewFromInt(1),
		GrowthRateMin: d(0.01),
		GrowthRateMax: d(0.03),
		MaturityDays:  maturityDays,
		Active:        true,
		CreatedAt:     testNow,
	}
	if err := ms.CreateAsset(context.Background(), a); err != nil {
		t.Fatalf("seed plant: %v", err)
	}
	return a
}

func fund(t *testing.T, w *wallet.Service, userID string, amount float64) {
	t.Helper()
	if _, err := w.Credit(context.Background(), userID, model.AccountInvesting, d(amount), model.TxnDeposit, "seed"); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func investingBalance(t *testing.T, w *wallet.Service, userID string) decimal.Decimal {
	t.Helper()
	accounts, err := w.Balances(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	for _, a := range accounts {
		if a.Type == model.AccountInvesting {
			return a.Balance
		}
	}
	t.Fatal("investing account not found")
	return decimal.Zero
}

func TestBuyThenSell_RoundTrip(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedStock(t, ms, "s1", 30, 1)
	fund(t, w, "kid1", 100)

	buy, err := svc.Buy(ctx, "kid1", "s1", d(2))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !buy.Amount.Equal(d(60)) {
		t.Errorf("cost = %s, want 60", buy.Amount)
	}
	if got := investingBalance(t, w, "kid1"); !got.Equal(d(40)) {
		t.Errorf("balance after buy = %s, want 40", got)
	}
	if !buy.Holding.AverageBuyPrice.Equal(d(30)) || !buy.Holding.Quantity.Equal(d(2)) {
		t.Errorf("holding = qty %s @ %s, want 2 @ 30", buy.Holding.Quantity, buy.Holding.AverageBuyPrice)
	}

	// Price moves; cost basis must not.
	if err := ms.SetAssetPrice(ctx, "s1", d(45), "2026-03-11"); err != nil {
		t.Fatalf("SetAssetPrice: %v", err)
	}

	sell, err := svc.SellStock(ctx, "kid1", "s1", d(1))
	if err != nil {
		t.Fatalf("SellStock: %v", err)
	}
	if !sell.Amount.Equal(d(45)) {
		t.Errorf("proceeds = %s, want 45", sell.Amount)
	}
	if !sell.RealizedPnL.Equal(d(15)) {
		t.Errorf("realized = %s, want 15", sell.RealizedPnL)
	}
	if got := investingBalance(t, w, "kid1"); !got.Equal(d(85)) {
		t.Errorf("balance after sell = %s, want 85", got)
	}
	if !sell.Holding.Quantity.Equal(d(1)) || !sell.Holding.AverageBuyPrice.Equal(d(30)) {
		t.Errorf("remaining = qty %s @ %s, want 1 @ 30", sell.Holding.Quantity, sell.Holding.AverageBuyPrice)
	}
}

func TestBuy_WeightedAverageCostBasis(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedStock(t, ms, "s1", 30, 1)
	fund(t, w, "kid1", 1000)

	if _, err := svc.Buy(ctx, "kid1", "s1", d(2)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if err := ms.SetAssetPrice(ctx, "s1", d(45), "2026-03-11"); err != nil {
		t.Fatalf("SetAssetPrice: %v", err)
	}
	second, err := svc.Buy(ctx, "kid1", "s1", d(2))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}

	// (30*2 + 45*2) / 4 = 37.5
	if !second.Holding.Quantity.Equal(d(4)) {
		t.Errorf("qty = %s, want 4", second.Holding.Quantity)
	}
	if !second.Holding.AverageBuyPrice.Equal(d(37.5)) {
		t.Errorf("avg = %s, want 37.5", second.Holding.AverageBuyPrice)
	}
}

func TestBuy_LotSize(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedStock(t, ms, "s1", 10, 2)
	fund(t, w, "kid1", 1000)

	if _, err := svc.Buy(ctx, "kid1", "s1", d(3)); !errors.Is(err, ErrInvalidLotSize) {
		t.Errorf("odd lot: got %v, want ErrInvalidLotSize", err)
	}
	if _, err := svc.Buy(ctx, "kid1", "s1", d(0)); !errors.Is(err, ErrInvalidLotSize) {
		t.Errorf("zero qty: got %v, want ErrInvalidLotSize", err)
	}
	if _, err := svc.Buy(ctx, "kid1", "s1", d(-2)); !errors.Is(err, ErrInvalidLotSize) {
		t.Errorf("negative qty: got %v, want ErrInvalidLotSize", err)
	}
	if _, err := svc.Buy(ctx, "kid1", "s1", d(4)); err != nil {
		t.Errorf("valid lot: %v", err)
	}
}

func TestBuy_MarketClosedGatesStocksOnly(t *testing.T) {
	// Window ends at 10:00; testNow is noon, so the market is closed.
	svc, w, ms := newTestService(t, "09:00-10:00")
	ctx := context.Background()
	seedStock(t, ms, "s1", 10, 1)
	seedPlant(t, ms, "p1", 25, 7)
	fund(t, w, "kid1", 1000)

	if _, err := svc.Buy(ctx, "kid1", "s1", d(1)); !errors.Is(err, ErrMarketClosed) {
		t.Errorf("stock buy while closed: got %v, want ErrMarketClosed", err)
	}
	if _, err := svc.Buy(ctx, "kid1", "p1", d(1)); err != nil {
		t.Errorf("plant buy while closed: %v", err)
	}
}

func TestBuy_InactiveAsset(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	a := seedStock(t, ms, "s1", 10, 1)
	fund(t, w, "kid1", 1000)

	if err := ms.SetAssetActive(ctx, a.ID, false); err != nil {
		t.Fatalf("SetAssetActive: %v", err)
	}
	if _, err := svc.Buy(ctx, "kid1", "s1", d(1)); !errors.Is(err, ErrAssetInactive) {
		t.Errorf("got %v, want ErrAssetInactive", err)
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedStock(t, ms, "s1", 30, 1)
	fund(t, w, "kid1", 50)

	if _, err := svc.Buy(ctx, "kid1", "s1", d(2)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	// Rejected buy must not create a holding.
	if _, err := ms.GetHolding(ctx, "kid1", "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("holding exists after rejected buy: %v", err)
	}
	if got := investingBalance(t, w, "kid1"); !got.Equal(d(50)) {
		t.Errorf("balance = %s, want 50", got)
	}
}

func TestSellStock_MoreThanHeld(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedStock(t, ms, "s1", 10, 1)
	fund(t, w, "kid1", 1000)

	if _, err := svc.Buy(ctx, "kid1", "s1", d(2)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := svc.SellStock(ctx, "kid1", "s1", d(3)); !errors.Is(err, ErrInsufficientQuantity) {
		t.Errorf("got %v, want ErrInsufficientQuantity", err)
	}
}

func TestSellStock_FullSaleDeletesHolding(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedStock(t, ms, "s1", 10, 1)
	fund(t, w, "kid1", 1000)

	if _, err := svc.Buy(ctx, "kid1", "s1", d(2)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	result, err := svc.SellStock(ctx, "kid1", "s1", d(2))
	if err != nil {
		t.Fatalf("SellStock: %v", err)
	}
	if result.Holding != nil {
		t.Errorf("expected no remaining holding, got qty %s", result.Holding.Quantity)
	}
	if _, err := ms.GetHolding(ctx, "kid1", "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("holding still present: %v", err)
	}
}

func TestSellPlant_HarvestAtGrownValue(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	plant := seedPlant(t, ms, "p1", 25, 7)
	fund(t, w, "kid1", 100)

	buy, err := svc.Buy(ctx, "kid1", "p1", d(1))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}

	// Harvest well past maturity; growth must cap at MaturityDays.
	harvestAt := testNow.AddDate(0, 0, 30)
	svc.now = func() time.Time { return harvestAt }

	holding, err := ms.GetHoldingByID(ctx, buy.Holding.ID)
	if err != nil {
		t.Fatalf("GetHoldingByID: %v", err)
	}
	want := market.PlantValue(plant, holding, harvestAt)

	sell, err := svc.SellPlant(ctx, "kid1", buy.Holding.ID)
	if err != nil {
		t.Fatalf("SellPlant: %v", err)
	}
	if !sell.Price.Equal(want) {
		t.Errorf("unit value = %s, want %s", sell.Price, want)
	}
	if sell.Price.LessThanOrEqual(d(25)) {
		t.Errorf("grown value %s should exceed purchase price 25", sell.Price)
	}
	if !sell.RealizedPnL.Equal(want.Sub(d(25))) {
		t.Errorf("realized = %s, want %s", sell.RealizedPnL, want.Sub(d(25)))
	}

	// Wallet: 100 - 25 + harvest value.
	wantBalance := d(75).Add(want)
	if got := investingBalance(t, w, "kid1"); !got.Equal(wantBalance) {
		t.Errorf("balance = %s, want %s", got, wantBalance)
	}
	if _, err := ms.GetHoldingByID(ctx, buy.Holding.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("plot still present after harvest: %v", err)
	}
}

func TestSellPlant_OtherUsersHoldingHidden(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedPlant(t, ms, "p1", 25, 7)
	fund(t, w, "kid1", 100)

	buy, err := svc.Buy(ctx, "kid1", "p1", d(1))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := svc.SellPlant(ctx, "kid2", buy.Holding.ID); !errors.Is(err, ErrHoldingNotFound) {
		t.Errorf("got %v, want ErrHoldingNotFound", err)
	}
}

func TestPlantBuys_SeparatePlots(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedPlant(t, ms, "p1", 25, 7)
	fund(t, w, "kid1", 100)

	first, err := svc.Buy(ctx, "kid1", "p1", d(1))
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	second, err := svc.Buy(ctx, "kid1", "p1", d(1))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if first.Holding.ID == second.Holding.ID {
		t.Error("plant buys merged into one plot")
	}

	holdings, err := ms.ListHoldings(ctx, "kid1")
	if err != nil {
		t.Fatalf("ListHoldings: %v", err)
	}
	if len(holdings) != 2 {
		t.Errorf("expected 2 plots, got %d", len(holdings))
	}
}

func TestPortfolio_Valuation(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	seedStock(t, ms, "s1", 30, 1)
	seedPlant(t, ms, "p1", 25, 7)
	fund(t, w, "kid1", 1000)

	if _, err := svc.Buy(ctx, "kid1", "s1", d(2)); err != nil {
		t.Fatalf("stock buy: %v", err)
	}
	if _, err := svc.Buy(ctx, "kid1", "p1", d(1)); err != nil {
		t.Fatalf("plant buy: %v", err)
	}
	if err := ms.SetAssetPrice(ctx, "s1", d(45), "2026-03-11"); err != nil {
		t.Fatalf("SetAssetPrice: %v", err)
	}

	p, err := svc.Portfolio(ctx, "kid1")
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if len(p.Holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(p.Holdings))
	}
	// 2×30 stock + 1×25 plant
	if !p.TotalCost.Equal(d(85)) {
		t.Errorf("total cost = %s, want 85", p.TotalCost)
	}
	// Stock leg alone is worth 90 now; the plant at day zero is worth its
	// purchase price, so the total must be at least 115.
	if p.TotalValue.LessThan(d(115)) {
		t.Errorf("total value = %s, want >= 115", p.TotalValue)
	}
	if !p.UnrealizedPnL.Equal(p.TotalValue.Sub(p.TotalCost)) {
		t.Errorf("unrealized %s != value %s - cost %s", p.UnrealizedPnL, p.TotalValue, p.TotalCost)
	}

	// Valuation is a pure read: repeating it changes nothing.
	again, err := svc.Portfolio(ctx, "kid1")
	if err != nil {
		t.Fatalf("Portfolio again: %v", err)
	}
	if !again.TotalValue.Equal(p.TotalValue) {
		t.Errorf("valuation drifted: %s then %s", p.TotalValue, again.TotalValue)
	}
}

// faultyStore wraps the memory store and fails holding writes a set number
// of times, standing in for a storage layer having a bad moment.
type faultyStore struct {
	store.Store
	mu           sync.Mutex
	saveFaults   int
	deleteFaults int
}

func (f *faultyStore) SaveHolding(ctx context.Context, h *model.Holding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveFaults > 0 {
		f.saveFaults--
		return errors.New("storage fault")
	}
	return f.Store.SaveHolding(ctx, h)
}

func (f *faultyStore) DeleteHolding(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteFaults > 0 {
		f.deleteFaults--
		return errors.New("storage fault")
	}
	return f.Store.DeleteHolding(ctx, id)
}

// newFaultyService is newTestService over a fault-injecting store, with the
// retry loop tightened so tests stay fast.
func newFaultyService(t *testing.T, fs *faultyStore) (*Service, *wallet.Service) {
	t.Helper()
	w := wallet.NewService(fs)
	svc := NewService(fs, w, mustWindows(t, "00:00-23:59"))
	svc.now = func() time.Time { return testNow }
	svc.retryCfg = retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return svc, w
}

func TestSellStock_ConcurrentFullSells(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "stk-1", 10, 1)
	fund(t, w, "kid-1", 100)

	if _, err := svc.Buy(ctx, "kid-1", stock.ID, d(2)); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SellStock(ctx, "kid-1", stock.ID, d(2)); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("concurrent full sells: %d succeeded, want exactly 1", got)
	}
	if got := investingBalance(t, w, "kid-1"); !got.Equal(d(100)) {
		t.Errorf("investing balance = %s, want 100 (shares sold once)", got)
	}
	if _, err := ms.GetHolding(ctx, "kid-1", stock.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("holding after full sale: got %v, want ErrNotFound", err)
	}
}

func TestBuy_ConcurrentBuysMergeOnePosition(t *testing.T) {
	svc, w, ms := newTestService(t)
	ctx := context.Background()
	stock := seedStock(t, ms, "stk-1", 10, 1)
	fund(t, w, "kid-1", 100)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Buy(ctx, "kid-1", stock.ID, d(1)); err != nil {
				t.Errorf("Buy: %v", err)
			}
		}()
	}
	wg.Wait()

	holdings, err := ms.ListHoldings(ctx, "kid-1")
	if err != nil {
		t.Fatalf("ListHoldings: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("got %d holdings, want 1 merged position", len(holdings))
	}
	if !holdings[0].Quantity.Equal(d(4)) {
		t.Errorf("quantity = %s, want 4", holdings[0].Quantity)
	}
	if !holdings[0].AverageBuyPrice.Equal(d(10)) {
		t.Errorf("average buy price = %s, want 10", holdings[0].AverageBuyPrice)
	}
	if got := investingBalance(t, w, "kid-1"); !got.Equal(d(60)) {
		t.Errorf("investing balance = %s, want 60", got)
	}
}

func TestBuy_HoldingWriteRetried(t *testing.T) {
	fs := &faultyStore{Store: store.NewMemoryStore(), saveFaults: 1}
	svc, w := newFaultyService(t, fs)
	ctx := context.Background()
	stock := seedStock(t, fs.Store.(*store.MemoryStore), "stk-1", 10, 1)
	fund(t, w, "kid-1", 100)

	res, err := svc.Buy(ctx, "kid-1", stock.ID, d(1))
	if err != nil {
		t.Fatalf("Buy with one transient fault: %v", err)
	}
	if res.Holding == nil || !res.Holding.Quantity.Equal(d(1)) {
		t.Fatalf("holding = %+v, want quantity 1", res.Holding)
	}
	if got := investingBalance(t, w, "kid-1"); !got.Equal(d(90)) {
		t.Errorf("investing balance = %s, want 90", got)
	}
}

func TestBuy_FailedHoldingWriteRefunded(t *testing.T) {
	fs := &faultyStore{Store: store.NewMemoryStore(), saveFaults: 10}
	svc, w := newFaultyService(t, fs)
	ctx := context.Background()
	stock := seedStock(t, fs.Store.(*store.MemoryStore), "stk-1", 10, 1)
	fund(t, w, "kid-1", 100)

	if _, err := svc.Buy(ctx, "kid-1", stock.ID, d(1)); err == nil {
		t.Fatal("Buy: want error when the holding cannot be written")
	}
	if got := investingBalance(t, w, "kid-1"); !got.Equal(d(100)) {
		t.Errorf("investing balance = %s, want 100 (debit refunded)", got)
	}
	if _, err := fs.Store.GetHolding(ctx, "kid-1", stock.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("holding after failed buy: got %v, want ErrNotFound", err)
	}
}

func TestSellStock_FailedDeleteReversed(t *testing.T) {
	fs := &faultyStore{Store: store.NewMemoryStore()}
	svc, w := newFaultyService(t, fs)
	ctx := context.Background()
	stock := seedStock(t, fs.Store.(*store.MemoryStore), "stk-1", 10, 1)
	fund(t, w, "kid-1", 100)

	if _, err := svc.Buy(ctx, "kid-1", stock.ID, d(2)); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	fs.mu.Lock()
	fs.deleteFaults = 10
	fs.mu.Unlock()

	if _, err := svc.SellStock(ctx, "kid-1", stock.ID, d(2)); err == nil {
		t.Fatal("SellStock: want error when the holding cannot be deleted")
	}
	if got := investingBalance(t, w, "kid-1"); !got.Equal(d(80)) {
		t.Errorf("investing balance = %s, want 80 (proceeds reversed)", got)
	}
	h, err := fs.Store.GetHolding(ctx, "kid-1", stock.ID)
	if err != nil {
		t.Fatalf("GetHolding: %v", err)
	}
	if !h.Quantity.Equal(d(2)) {
		t.Errorf("holding quantity = %s, want 2 (sale rolled back)", h.Quantity)
	}
}
