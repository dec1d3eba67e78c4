// Package store defines the persistence interface for the wallet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNewsAlreadyApplied is returned by MarkNewsApplied when the event's
	// applied flag was already set. The check-and-set is atomic.
	ErrNewsAlreadyApplied = errors.New("store: news event already applied")

	// ErrAlreadyRanToday is returned by MarkSimulationRun when a run for the
	// given day is already recorded. The check-and-set is atomic.
	ErrAlreadyRanToday = errors.New("store: simulation already ran today")
)

// BalanceChange is a signed delta against one account, applied as part of an
// atomic ledger mutation.
type BalanceChange struct {
	AccountID string
	Delta     decimal.Decimal
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Creating an account that already
	// exists for the same (user, type) pair is a no-op.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves one of a user's named accounts.
	GetAccount(ctx context.Context, userID string, typ model.AccountType) (*model.Account, error)

	// ListAccounts returns all accounts for a user.
	ListAccounts(ctx context.Context, userID string) ([]model.Account, error)

	// --- Immutable ledger ---

	// ApplyTransaction applies every balance delta and appends exactly one
	// transaction record, all-or-nothing. This is the only way balances move.
	ApplyTransaction(ctx context.Context, changes []BalanceChange, txn *model.Transaction) error

	// ListTransactions returns a user's most recent transactions, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// --- Asset catalog ---

	CreateAsset(ctx context.Context, a *model.Asset) error
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// ListAssets returns assets of one kind, or all assets when kind is empty.
	ListAssets(ctx context.Context, kind model.AssetKind) ([]model.Asset, error)

	// SetAssetPrice updates current_price and upserts the price history row
	// for day atomically. A second write for the same day overwrites.
	SetAssetPrice(ctx context.Context, id string, price decimal.Decimal, day string) error

	SetAssetActive(ctx context.Context, id string, active bool) error

	// GetPriceHistory returns the most recent price points, newest first.
	GetPriceHistory(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error)

	// --- Holdings ---

	GetHolding(ctx context.Context, userID, assetID string) (*model.Holding, error)
	GetHoldingByID(ctx context.Context, id string) (*model.Holding, error)
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// SaveHolding inserts or replaces a holding by ID.
	SaveHolding(ctx context.Context, h *model.Holding) error
	DeleteHolding(ctx context.Context, id string) error

	// --- News events ---

	CreateNewsEvent(ctx context.Context, n *model.NewsEvent) error
	GetNewsEvent(ctx context.Context, id string) (*model.NewsEvent, error)

	// ListNewsEvents returns events, optionally only unapplied ones.
	ListNewsEvents(ctx context.Context, pendingOnly bool) ([]model.NewsEvent, error)

	// MarkNewsApplied atomically flips the applied flag. Returns
	// ErrNewsAlreadyApplied when it was already set.
	MarkNewsApplied(ctx context.Context, id string, at time.Time) error

	// --- Market state ---

	// LastSimulationDay returns the day (YYYY-MM-DD) of the last recorded
	// simulation run, or "" when none has run.
	LastSimulationDay(ctx context.Context) (string, error)

	// MarkSimulationRun atomically records that the daily simulation ran for
	// day. Returns ErrAlreadyRanToday when day is already recorded.
	MarkSimulationRun(ctx context.Context, day string) error

	// ClearSimulationRun releases a consumed day so a run that failed
	// partway can be triggered again. Clearing an unrecorded day is a no-op.
	ClearSimulationRun(ctx context.Context, day string) error
}
