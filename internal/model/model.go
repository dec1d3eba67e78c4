// Package model defines the core domain types shared across the wallet
// engine. All monetary values use shopspring/decimal, never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType names one of the four fixed accounts every user owns.
type AccountType string

const (
	AccountSpending  AccountType = "spending"
	AccountSavings   AccountType = "savings"
	AccountInvesting AccountType = "investing"
	AccountGifting   AccountType = "gifting"
)

// AccountTypes lists the four accounts in creation order.
var AccountTypes = []AccountType{
	AccountSpending, AccountSavings, AccountInvesting, AccountGifting,
}

// Valid reports whether t is one of the four known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountSpending, AccountSavings, AccountInvesting, AccountGifting:
		return true
	}
	return false
}

// Account is one of a user's four named balances. Balance may go negative
// only through the penalty operation, never through a transfer or purchase.
type Account struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Type      AccountType     `json:"account_type" db:"account_type"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxnDeposit    TransactionType = "deposit"
	TxnWithdrawal TransactionType = "withdrawal"
	TxnTransfer   TransactionType = "transfer"
	TxnPurchase   TransactionType = "purchase"
	TxnReward     TransactionType = "reward"
	TxnPenalty    TransactionType = "penalty"
)

// Transaction is an immutable ledger record. Once created, these are never
// modified or deleted. Every ledger mutation produces exactly one.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Type        TransactionType `json:"transaction_type" db:"transaction_type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	FromAccount AccountType     `json:"from_account,omitempty" db:"from_account"`
	ToAccount   AccountType     `json:"to_account,omitempty" db:"to_account"`
	Description string          `json:"description" db:"description"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// AssetKind distinguishes the two tradable asset families.
type AssetKind string

const (
	AssetPlant AssetKind = "plant"
	AssetStock AssetKind = "stock"
)

// Asset is a catalog entry priced by the simulation engine. Plants carry the
// growth fields; stocks carry the volatility fields. The unused family's
// fields stay at their zero values.
type Asset struct {
	ID           string          `json:"id" db:"id"`
	Kind         AssetKind       `json:"kind" db:"kind"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Name         string          `json:"name" db:"name"`
	BasePrice    decimal.Decimal `json:"base_price" db:"base_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	MinLotSize   decimal.Decimal `json:"min_lot_size" db:"min_lot_size"`
	Active       bool            `json:"is_active" db:"is_active"`

	// Plant growth model: daily growth factor drawn from [min, max];
	// compounding stops after MaturityDays.
	GrowthRateMin decimal.Decimal `json:"growth_rate_min,omitempty" db:"growth_rate_min"`
	GrowthRateMax decimal.Decimal `json:"growth_rate_max,omitempty" db:"growth_rate_max"`
	MaturityDays  int             `json:"maturity_days,omitempty" db:"maturity_days"`

	// Stock random-walk model.
	Volatility    decimal.Decimal `json:"volatility,omitempty" db:"volatility"`
	RiskLevel     string          `json:"risk_level,omitempty" db:"risk_level"`
	DividendYield decimal.Decimal `json:"dividend_yield,omitempty" db:"dividend_yield"`
	Category      string          `json:"category,omitempty" db:"category"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Holding is one user's position in one asset. Plant holdings are single-lot
// (planted once, fully liquidated); stock holdings support partial sells with
// a running weighted-average cost basis.
type Holding struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	AssetID         string          `json:"asset_id" db:"asset_id"`
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price" db:"average_buy_price"`
	PurchasePrice   decimal.Decimal `json:"purchase_price" db:"purchase_price"`
	PurchaseDate    time.Time       `json:"purchase_date" db:"purchase_date"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// PricePoint is one row of an asset's append-only daily price series.
// A second tick on the same calendar day overwrites the row for that day.
type PricePoint struct {
	AssetID string          `json:"asset_id" db:"asset_id"`
	Day     string          `json:"day" db:"day"` // YYYY-MM-DD
	Price   decimal.Decimal `json:"price" db:"price"`
}

// NewsImpact is the direction of a news event's price shock.
type NewsImpact string

const (
	ImpactPositive NewsImpact = "positive"
	ImpactNegative NewsImpact = "negative"
	ImpactNeutral  NewsImpact = "neutral"
)

// NewsEvent is an admin-authored one-time percentage shock targeting a
// single stock, a whole category, or the entire market. Applied flips
// exactly once; a second apply is rejected.
type NewsEvent struct {
	ID            string          `json:"id" db:"id"`
	Headline      string          `json:"headline" db:"headline"`
	Impact        NewsImpact      `json:"impact_type" db:"impact_type"`
	ImpactPercent decimal.Decimal `json:"impact_percent" db:"impact_percent"`
	StockID       string          `json:"stock_id,omitempty" db:"stock_id"`
	Category      string          `json:"category,omitempty" db:"category"`
	Applied       bool            `json:"is_applied" db:"is_applied"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	AppliedAt     *time.Time      `json:"applied_at,omitempty" db:"applied_at"`
}

// Global reports whether the event shocks the whole market (no stock and no
// category target).
func (n *NewsEvent) Global() bool {
	return n.StockID == "" && n.Category == ""
}

// MarketStatus is the externally visible trading/scheduler state.
type MarketStatus struct {
	Open             bool       `json:"is_open"`
	LastRunDay       string     `json:"ran_today,omitempty"`
	SchedulerRunning bool       `json:"scheduler_running"`
	NextRunAt        *time.Time `json:"next_run_time,omitempty"`
}

// HoldingView is a holding enriched with live valuation for display.
type HoldingView struct {
	Holding
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Kind          AssetKind       `json:"kind"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates all holdings for a user with P&L totals. Building it
// is a pure read; valuation never mutates state.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Holdings      []HoldingView   `json:"holdings"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	TotalValue    decimal.Decimal `json:"total_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}
