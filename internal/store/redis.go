package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: asset catalog entries and account lists.
// Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountsKey(a.UserID))
	return nil
}

func (s *CachedStore) ApplyTransaction(ctx context.Context, changes []BalanceChange, txn *model.Transaction) error {
	if err := s.primary.ApplyTransaction(ctx, changes, txn); err != nil {
		return err
	}
	// Balances moved; next read re-populates.
	s.rdb.Del(ctx, accountsKey(txn.UserID))
	return nil
}

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.cacheAsset(ctx, a)
	return nil
}

func (s *CachedStore) SetAssetPrice(ctx context.Context, id string, price decimal.Decimal, day string) error {
	if err := s.primary.SetAssetPrice(ctx, id, price, day); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetKey(id))
	return nil
}

func (s *CachedStore) SetAssetActive(ctx context.Context, id string, active bool) error {
	if err := s.primary.SetAssetActive(ctx, id, active); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	data, err := s.rdb.Get(ctx, assetKey(id)).Bytes()
	if err == nil {
		var a model.Asset
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAsset(ctx, a)
	return a, nil
}

func (s *CachedStore) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	data, err := s.rdb.Get(ctx, accountsKey(userID)).Bytes()
	if err == nil {
		var accounts []model.Account
		if json.Unmarshal(data, &accounts) == nil {
			return accounts, nil
		}
	}

	accounts, err := s.primary.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(accounts); err == nil {
		s.rdb.Set(ctx, accountsKey(userID), data, s.ttl)
	}
	return accounts, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string, typ model.AccountType) (*model.Account, error) {
	return s.primary.GetAccount(ctx, userID, typ)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID, limit)
}

func (s *CachedStore) ListAssets(ctx context.Context, kind model.AssetKind) ([]model.Asset, error) {
	return s.primary.ListAssets(ctx, kind)
}

func (s *CachedStore) GetPriceHistory(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error) {
	return s.primary.GetPriceHistory(ctx, assetID, limit)
}

func (s *CachedStore) GetHolding(ctx context.Context, userID, assetID string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, assetID)
}

func (s *CachedStore) GetHoldingByID(ctx context.Context, id string) (*model.Holding, error) {
	return s.primary.GetHoldingByID(ctx, id)
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	return s.primary.ListHoldings(ctx, userID)
}

func (s *CachedStore) SaveHolding(ctx context.Context, h *model.Holding) error {
	return s.primary.SaveHolding(ctx, h)
}

func (s *CachedStore) DeleteHolding(ctx context.Context, id string) error {
	return s.primary.DeleteHolding(ctx, id)
}

func (s *CachedStore) CreateNewsEvent(ctx context.Context, n *model.NewsEvent) error {
	return s.primary.CreateNewsEvent(ctx, n)
}

func (s *CachedStore) GetNewsEvent(ctx context.Context, id string) (*model.NewsEvent, error) {
	return s.primary.GetNewsEvent(ctx, id)
}

func (s *CachedStore) ListNewsEvents(ctx context.Context, pendingOnly bool) ([]model.NewsEvent, error) {
	return s.primary.ListNewsEvents(ctx, pendingOnly)
}

func (s *CachedStore) MarkNewsApplied(ctx context.Context, id string, at time.Time) error {
	return s.primary.MarkNewsApplied(ctx, id, at)
}

func (s *CachedStore) LastSimulationDay(ctx context.Context) (string, error) {
	return s.primary.LastSimulationDay(ctx)
}

func (s *CachedStore) MarkSimulationRun(ctx context.Context, day string) error {
	return s.primary.MarkSimulationRun(ctx, day)
}

func (s *CachedStore) ClearSimulationRun(ctx context.Context, day string) error {
	return s.primary.ClearSimulationRun(ctx, day)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAsset(ctx context.Context, a *model.Asset) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, assetKey(a.ID), data, s.ttl)
	}
}

func assetKey(id string) string     { return fmt.Sprintf("asset:%s", id) }
func accountsKey(uid string) string { return fmt.Sprintf("accounts:%s", uid) }
