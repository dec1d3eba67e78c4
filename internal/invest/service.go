// Package invest implements the holdings manager: opening, increasing, and
// liquidating investment positions against the asset catalog, with the
// ledger debited and credited through the wallet service.
//
// All monetary values use shopspring/decimal, never float64 for money.
package invest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/market"
	"github.com/sproutfin/wallet-engine/internal/metrics"
	"github.com/sproutfin/wallet-engine/internal/model"
	"github.com/sproutfin/wallet-engine/internal/retry"
	"github.com/sproutfin/wallet-engine/internal/store"
	"github.com/sproutfin/wallet-engine/internal/wallet"
)

var (
	ErrInvalidLotSize       = errors.New("invest: quantity must be a positive multiple of the minimum lot size")
	ErrInsufficientQuantity = errors.New("invest: sell quantity exceeds held quantity")
	ErrMarketClosed         = errors.New("invest: market is closed for stock trading")
	ErrAssetInactive        = errors.New("invest: asset is not active")
	ErrHoldingNotFound      = errors.New("invest: holding not found")

	// ErrInsufficientFunds is re-exported so handlers need not import the
	// wallet package to classify a failed buy.
	ErrInsufficientFunds = wallet.ErrInsufficientFunds
)

// Service owns the holding lifecycle. The market state machine gates stock
// trades; plants may be planted and harvested at any time.
//
// Every holding mutation runs under the position lock for its (user, asset)
// pair, held from the holding read through the ledger move to the holding
// write. The lock order is always position lock first, then the wallet's
// account locks inside Credit/Debit.
type Service struct {
	store    store.Store
	wallet   *wallet.Service
	state    *market.State
	locks    *positionLocks
	retryCfg retry.Config
	now      func() time.Time
}

// NewService creates a holdings manager.
func NewService(st store.Store, w *wallet.Service, state *market.State) *Service {
	return &Service{
		store:    st,
		wallet:   w,
		state:    state,
		locks:    newPositionLocks(),
		retryCfg: retry.DefaultConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TradeResult reports one executed buy or sell.
type TradeResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Holding     *model.Holding     `json:"holding,omitempty"`
	Quantity    decimal.Decimal    `json:"quantity"`
	Price       decimal.Decimal    `json:"price"`
	Amount      decimal.Decimal    `json:"amount"`
	RealizedPnL decimal.Decimal    `json:"realized_pnl,omitempty"`
}

// Buy opens or increases a position. The investing account is debited for
// quantity × current price in one atomic ledger mutation; the holding's
// average cost is the quantity-weighted average of its buys, never touched
// by market moves.
func (s *Service) Buy(ctx context.Context, userID, assetID string, quantity decimal.Decimal) (*TradeResult, error) {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !asset.Active {
		return nil, ErrAssetInactive
	}
	if err := checkLot(quantity, asset.MinLotSize); err != nil {
		return nil, err
	}
	if asset.Kind == model.AssetStock && !s.state.IsOpen(s.now()) {
		return nil, ErrMarketClosed
	}

	price := asset.CurrentPrice
	cost := quantity.Mul(price)

	unlock := s.locks.acquire(userID, asset.ID)
	defer unlock()

	txn, err := s.wallet.Debit(ctx, userID, model.AccountInvesting, cost, model.TxnPurchase,
		fmt.Sprintf("buy %s × %s @ %s", asset.Symbol, quantity, price))
	if err != nil {
		return nil, err
	}

	holding, err := s.upsertHolding(ctx, userID, asset, quantity, price)
	if err != nil {
		s.refund(ctx, userID, cost, txn.ID, err)
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(asset.Kind), "buy").Inc()
	slog.Info("buy executed",
		"user", userID, "asset", asset.Symbol, "qty", quantity.String(),
		"price", price.String(), "cost", cost.String(), "txn", txn.ID)

	return &TradeResult{
		Transaction: txn,
		Holding:     holding,
		Quantity:    quantity,
		Price:       price,
		Amount:      cost,
	}, nil
}

// upsertHolding merges a stock buy into the existing position; every plant
// buy opens a fresh single-lot plot. Caller holds the position lock.
func (s *Service) upsertHolding(ctx context.Context, userID string, asset *model.Asset, quantity, price decimal.Decimal) (*model.Holding, error) {
	now := s.now()

	if asset.Kind == model.AssetStock {
		existing, err := s.store.GetHolding(ctx, userID, asset.ID)
		if err == nil {
			oldCost := existing.AverageBuyPrice.Mul(existing.Quantity)
			newQty := existing.Quantity.Add(quantity)
			existing.AverageBuyPrice = oldCost.Add(price.Mul(quantity)).Div(newQty)
			existing.Quantity = newQty
			existing.UpdatedAt = now
			if err := s.saveHolding(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	h := &model.Holding{
		ID:              uuid.New().String(),
		UserID:          userID,
		AssetID:         asset.ID,
		Quantity:        quantity,
		AverageBuyPrice: price,
		PurchasePrice:   price,
		PurchaseDate:    now,
		UpdatedAt:       now,
	}
	if err := s.saveHolding(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// saveHolding and removeHolding retry transient storage faults so a trade
// whose ledger leg already committed rarely needs compensation.
func (s *Service) saveHolding(ctx context.Context, h *model.Holding) error {
	return retry.Do(ctx, s.retryCfg, "save holding", func() error {
		return s.store.SaveHolding(ctx, h)
	})
}

func (s *Service) removeHolding(ctx context.Context, id string) error {
	return retry.Do(ctx, s.retryCfg, "delete holding", func() error {
		return s.store.DeleteHolding(ctx, id)
	})
}

// refund reverses the debit of a buy whose holding write could not be
// persisted, so a failed buy leaves no money moved.
func (s *Service) refund(ctx context.Context, userID string, amount decimal.Decimal, txnID string, cause error) {
	_, err := s.wallet.Credit(ctx, userID, model.AccountInvesting, amount, model.TxnDeposit,
		fmt.Sprintf("refund for failed buy (txn %s)", txnID))
	if err != nil {
		slog.Error("buy left ledger and holdings inconsistent",
			"user", userID, "txn", txnID, "amount", amount.String(),
			"cause", cause, "refund_err", err)
	}
}

// reverse claws back the credit of a sell whose holding write could not be
// persisted. The debit can only fail if the balance moved under us, in which
// case the transaction IDs logged here are the reconciliation trail.
func (s *Service) reverse(ctx context.Context, userID string, amount decimal.Decimal, txnID string, cause error) {
	_, err := s.wallet.Debit(ctx, userID, model.AccountInvesting, amount, model.TxnPurchase,
		fmt.Sprintf("reversal of failed sell (txn %s)", txnID))
	if err != nil {
		slog.Error("sell left ledger and holdings inconsistent",
			"user", userID, "txn", txnID, "amount", amount.String(),
			"cause", cause, "reverse_err", err)
	}
}

// SellStock partially or fully liquidates a stock position at the current
// price. The average buy price of the remainder never changes on a sell.
func (s *Service) SellStock(ctx context.Context, userID, assetID string, quantity decimal.Decimal) (*TradeResult, error) {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !asset.Active {
		return nil, ErrAssetInactive
	}
	if err := checkLot(quantity, asset.MinLotSize); err != nil {
		return nil, err
	}
	if !s.state.IsOpen(s.now()) {
		return nil, ErrMarketClosed
	}

	unlock := s.locks.acquire(userID, assetID)
	defer unlock()

	holding, err := s.store.GetHolding(ctx, userID, assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	if quantity.GreaterThan(holding.Quantity) {
		return nil, ErrInsufficientQuantity
	}

	price := asset.CurrentPrice
	proceeds := quantity.Mul(price)
	realized := price.Sub(holding.AverageBuyPrice).Mul(quantity)

	txn, err := s.wallet.Credit(ctx, userID, model.AccountInvesting, proceeds, model.TxnDeposit,
		fmt.Sprintf("sell %s × %s @ %s", asset.Symbol, quantity, price))
	if err != nil {
		return nil, err
	}

	holding.Quantity = holding.Quantity.Sub(quantity)
	holding.UpdatedAt = s.now()

	var remaining *model.Holding
	if holding.Quantity.IsZero() {
		if err := s.removeHolding(ctx, holding.ID); err != nil {
			s.reverse(ctx, userID, proceeds, txn.ID, err)
			return nil, err
		}
	} else {
		if err := s.saveHolding(ctx, holding); err != nil {
			s.reverse(ctx, userID, proceeds, txn.ID, err)
			return nil, err
		}
		remaining = holding
	}

	metrics.TradesTotal.WithLabelValues(string(model.AssetStock), "sell").Inc()
	slog.Info("sell executed",
		"user", userID, "asset", asset.Symbol, "qty", quantity.String(),
		"price", price.String(), "proceeds", proceeds.String(),
		"realized_pnl", realized.String(), "txn", txn.ID)

	return &TradeResult{
		Transaction: txn,
		Holding:     remaining,
		Quantity:    quantity,
		Price:       price,
		Amount:      proceeds,
		RealizedPnL: realized,
	}, nil
}

// SellPlant fully liquidates a plant plot at its grown value: purchase price
// compounded by the plot's deterministic growth curve, capped at maturity.
// Plants are exempt from the market gate.
func (s *Service) SellPlant(ctx context.Context, userID, holdingID string) (*TradeResult, error) {
	// First read only learns the asset ID for the lock key; the plot is
	// re-read under the lock before anything moves.
	holding, err := s.store.GetHoldingByID(ctx, holdingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	if holding.UserID != userID {
		return nil, ErrHoldingNotFound
	}

	unlock := s.locks.acquire(userID, holding.AssetID)
	defer unlock()

	holding, err = s.store.GetHoldingByID(ctx, holdingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	if holding.UserID != userID {
		return nil, ErrHoldingNotFound
	}

	asset, err := s.store.GetAsset(ctx, holding.AssetID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	unit := market.PlantValue(asset, holding, now)
	proceeds := unit.Mul(holding.Quantity)
	realized := unit.Sub(holding.PurchasePrice).Mul(holding.Quantity)

	txn, err := s.wallet.Credit(ctx, userID, model.AccountInvesting, proceeds, model.TxnDeposit,
		fmt.Sprintf("harvest %s × %s @ %s", asset.Symbol, holding.Quantity, unit))
	if err != nil {
		return nil, err
	}

	if err := s.removeHolding(ctx, holding.ID); err != nil {
		s.reverse(ctx, userID, proceeds, txn.ID, err)
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(model.AssetPlant), "sell").Inc()
	slog.Info("harvest executed",
		"user", userID, "asset", asset.Symbol, "qty", holding.Quantity.String(),
		"unit_value", unit.String(), "proceeds", proceeds.String(),
		"realized_pnl", realized.String(), "txn", txn.ID)

	return &TradeResult{
		Transaction: txn,
		Quantity:    holding.Quantity,
		Price:       unit,
		Amount:      proceeds,
		RealizedPnL: realized,
	}, nil
}

// Sell liquidates a holding by ID: plants are harvested in full; stock
// holdings are fully sold at the current price through the market gate.
func (s *Service) Sell(ctx context.Context, userID, holdingID string) (*TradeResult, error) {
	holding, err := s.store.GetHoldingByID(ctx, holdingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	if holding.UserID != userID {
		return nil, ErrHoldingNotFound
	}

	asset, err := s.store.GetAsset(ctx, holding.AssetID)
	if err != nil {
		return nil, err
	}
	if asset.Kind == model.AssetPlant {
		return s.SellPlant(ctx, userID, holdingID)
	}
	return s.SellStock(ctx, userID, holding.AssetID, holding.Quantity)
}

// Portfolio values every holding at the current price (stocks) or grown
// value (plants). Pure read: valuation never mutates state, and the totals
// are the sums of the parts.
func (s *Service) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Portfolio{
		UserID:        userID,
		Holdings:      []model.HoldingView{},
		TotalCost:     decimal.Zero,
		TotalValue:    decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}

	for _, h := range holdings {
		asset, err := s.store.GetAsset(ctx, h.AssetID)
		if err != nil {
			return nil, err
		}

		var unit decimal.Decimal
		if asset.Kind == model.AssetPlant {
			unit = market.PlantValue(asset, &h, now)
		} else {
			unit = asset.CurrentPrice
		}

		cost := h.AverageBuyPrice.Mul(h.Quantity)
		value := unit.Mul(h.Quantity)

		p.Holdings = append(p.Holdings, model.HoldingView{
			Holding:       h,
			Symbol:        asset.Symbol,
			Name:          asset.Name,
			Kind:          asset.Kind,
			CurrentPrice:  unit,
			CurrentValue:  value,
			UnrealizedPnL: value.Sub(cost),
		})
		p.TotalCost = p.TotalCost.Add(cost)
		p.TotalValue = p.TotalValue.Add(value)
	}

	p.UnrealizedPnL = p.TotalValue.Sub(p.TotalCost)
	return p, nil
}

// checkLot enforces that quantity is a positive multiple of the minimum lot.
func checkLot(quantity, minLot decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidLotSize
	}
	if minLot.IsPositive() && !quantity.Mod(minLot).IsZero() {
		return ErrInvalidLotSize
	}
	return nil
}
