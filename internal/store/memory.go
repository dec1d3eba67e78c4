package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account // by account ID
	transactions []model.Transaction
	assets       map[string]*model.Asset
	history      map[string][]model.PricePoint // assetID → ascending by day
	holdings     map[string]*model.Holding     // by holding ID
	news         map[string]*model.NewsEvent
	runDays      map[string]bool
	lastRunDay   string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		assets:   make(map[string]*model.Asset),
		history:  make(map[string][]model.PricePoint),
		holdings: make(map[string]*model.Holding),
		news:     make(map[string]*model.NewsEvent),
		runDays:  make(map[string]bool),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.UserID == a.UserID && existing.Type == a.Type {
			return nil // already provisioned
		}
	}

	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string, typ model.AccountType) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.UserID == userID && a.Type == typ {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("account %s/%s: %w", userID, typ, ErrNotFound)
}

func (s *MemoryStore) ListAccounts(_ context.Context, userID string) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []model.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			accounts = append(accounts, *a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Type < accounts[j].Type })
	return accounts, nil
}

func (s *MemoryStore) ApplyTransaction(_ context.Context, changes []BalanceChange, txn *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every target first so the mutation is all-or-nothing.
	for _, ch := range changes {
		if _, ok := s.accounts[ch.AccountID]; !ok {
			return fmt.Errorf("account %s: %w", ch.AccountID, ErrNotFound)
		}
	}

	for _, ch := range changes {
		a := s.accounts[ch.AccountID]
		a.Balance = a.Balance.Add(ch.Delta)
		a.UpdatedAt = txn.Timestamp
	}
	s.transactions = append(s.transactions, *txn)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID != userID {
			continue
		}
		result = append(result, s.transactions[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assets {
		if existing.Symbol == a.Symbol {
			return fmt.Errorf("asset with symbol %s already exists", a.Symbol)
		}
	}

	cp := *a
	s.assets[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAssets(_ context.Context, kind model.AssetKind) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var assets []model.Asset
	for _, a := range s.assets {
		if kind != "" && a.Kind != kind {
			continue
		}
		assets = append(assets, *a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (s *MemoryStore) SetAssetPrice(_ context.Context, id string, price decimal.Decimal, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	a.CurrentPrice = price

	points := s.history[id]
	for i := range points {
		if points[i].Day == day {
			points[i].Price = price // same-day re-tick overwrites
			return nil
		}
	}
	s.history[id] = append(points, model.PricePoint{AssetID: id, Day: day, Price: price})
	return nil
}

func (s *MemoryStore) SetAssetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	a.Active = active
	return nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, assetID string, limit int) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.history[assetID]
	var result []model.PricePoint
	for i := len(points) - 1; i >= 0; i-- {
		result = append(result, points[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, assetID string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, h := range s.holdings {
		if h.UserID == userID && h.AssetID == assetID {
			cp := *h
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("holding %s/%s: %w", userID, assetID, ErrNotFound)
}

func (s *MemoryStore) GetHoldingByID(_ context.Context, id string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[id]
	if !ok {
		return nil, fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, h := range s.holdings {
		if h.UserID == userID {
			holdings = append(holdings, *h)
		}
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].PurchaseDate.Before(holdings[j].PurchaseDate) })
	return holdings, nil
}

func (s *MemoryStore) SaveHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *h
	s.holdings[h.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holdings[id]; !ok {
		return fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	delete(s.holdings, id)
	return nil
}

func (s *MemoryStore) CreateNewsEvent(_ context.Context, n *model.NewsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	s.news[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetNewsEvent(_ context.Context, id string) (*model.NewsEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.news[id]
	if !ok {
		return nil, fmt.Errorf("news event %s: %w", id, ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListNewsEvents(_ context.Context, pendingOnly bool) ([]model.NewsEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.NewsEvent
	for _, n := range s.news {
		if pendingOnly && n.Applied {
			continue
		}
		events = append(events, *n)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (s *MemoryStore) MarkNewsApplied(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.news[id]
	if !ok {
		return fmt.Errorf("news event %s: %w", id, ErrNotFound)
	}
	if n.Applied {
		return ErrNewsAlreadyApplied
	}
	n.Applied = true
	n.AppliedAt = &at
	return nil
}

func (s *MemoryStore) LastSimulationDay(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunDay, nil
}

func (s *MemoryStore) MarkSimulationRun(_ context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runDays[day] {
		return ErrAlreadyRanToday
	}
	s.runDays[day] = true
	s.lastRunDay = day
	return nil
}

func (s *MemoryStore) ClearSimulationRun(_ context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runDays, day)
	if s.lastRunDay == day {
		s.lastRunDay = ""
		for d := range s.runDays {
			if d > s.lastRunDay {
				s.lastRunDay = d
			}
		}
	}
	return nil
}
