// Package wallet implements the account ledger: four named accounts per
// user, atomic transfers between them, and the credit/debit/penalty
// primitives other subsystems build on. Every mutation appends exactly one
// immutable transaction record.
//
// All monetary values use shopspring/decimal, never float64 for money.
package wallet

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
	"github.com/sproutfin/wallet-engine/internal/retry"
	"github.com/sproutfin/wallet-engine/internal/store"
)

var (
	ErrInvalidAccountPair = errors.New("wallet: source and destination accounts must differ")
	ErrInvalidAccountType = errors.New("wallet: unknown account type")
	ErrInvalidAmount      = errors.New("wallet: amount must be positive")
	ErrInsufficientFunds  = errors.New("wallet: insufficient funds")
)

// Service is the account ledger. Mutations are serialized per account via
// striped locks; a transfer acquires both of its accounts in a fixed global
// order before reading either balance.
type Service struct {
	store store.Store
	locks *accountLocks
	retry retry.Config
	now   func() time.Time
}

// NewService creates a new ledger service.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		locks: newAccountLocks(),
		retry: retry.DefaultConfig(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Balances returns the user's four accounts, provisioning any that are
// missing with a zero balance.
func (s *Service) Balances(ctx context.Context, userID string) ([]model.Account, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == len(model.AccountTypes) {
		return accounts, nil
	}

	have := make(map[model.AccountType]bool, len(accounts))
	for _, a := range accounts {
		have[a.Type] = true
	}
	for _, typ := range model.AccountTypes {
		if have[typ] {
			continue
		}
		now := s.now()
		a := &model.Account{
			ID:        uuid.New().String(),
			UserID:    userID,
			Type:      typ,
			Balance:   decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateAccount(ctx, a); err != nil {
			return nil, fmt.Errorf("provision %s account: %w", typ, err)
		}
	}
	return s.store.ListAccounts(ctx, userID)
}

// account resolves one of the user's named accounts, provisioning on first
// touch.
func (s *Service) account(ctx context.Context, userID string, typ model.AccountType) (*model.Account, error) {
	a, err := s.store.GetAccount(ctx, userID, typ)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := s.Balances(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.GetAccount(ctx, userID, typ)
}

// Transfer atomically moves amount between two of the user's accounts and
// records one transfer transaction. Transfers never drive the source
// negative.
func (s *Service) Transfer(ctx context.Context, userID string, from, to model.AccountType, amount decimal.Decimal) (*model.Transaction, error) {
	if !from.Valid() || !to.Valid() {
		return nil, ErrInvalidAccountType
	}
	if from == to {
		return nil, ErrInvalidAccountPair
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	src, err := s.account(ctx, userID, from)
	if err != nil {
		return nil, err
	}
	dst, err := s.account(ctx, userID, to)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(src.ID, dst.ID)
	defer unlock()

	// Re-read under lock; the pre-lock copy may be stale.
	src, err = s.store.GetAccount(ctx, userID, from)
	if err != nil {
		return nil, err
	}
	if src.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	txn := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        model.TxnTransfer,
		Amount:      amount,
		FromAccount: from,
		ToAccount:   to,
		Description: fmt.Sprintf("transfer %s → %s", from, to),
		Timestamp:   s.now(),
	}
	changes := []store.BalanceChange{
		{AccountID: src.ID, Delta: amount.Neg()},
		{AccountID: dst.ID, Delta: amount},
	}

	if err := s.apply(ctx, "wallet.transfer", changes, txn); err != nil {
		return nil, err
	}

	metrics.LedgerMutations.WithLabelValues(string(model.TxnTransfer)).Inc()
	slog.Info("transfer applied",
		"user", userID, "from", from, "to", to, "amount", amount.String(), "txn", txn.ID)
	return txn, nil
}

// Credit adds amount to one of the user's accounts (chore rewards, quest
// rewards, parent gifts, sale proceeds).
func (s *Service) Credit(ctx context.Context, userID string, acct model.AccountType, amount decimal.Decimal, txnType model.TransactionType, description string) (*model.Transaction, error) {
	if !acct.Valid() {
		return nil, ErrInvalidAccountType
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	a, err := s.account(ctx, userID, acct)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(a.ID)
	defer unlock()

	txn := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        txnType,
		Amount:      amount,
		ToAccount:   acct,
		Description: description,
		Timestamp:   s.now(),
	}
	changes := []store.BalanceChange{{AccountID: a.ID, Delta: amount}}

	if err := s.apply(ctx, "wallet.credit", changes, txn); err != nil {
		return nil, err
	}

	metrics.LedgerMutations.WithLabelValues(string(txnType)).Inc()
	slog.Info("credit applied",
		"user", userID, "account", acct, "amount", amount.String(), "type", txnType, "txn", txn.ID)
	return txn, nil
}

// Debit removes amount from one of the user's accounts (purchases,
// withdrawals). Unlike Penalize, a debit fails rather than go negative.
func (s *Service) Debit(ctx context.Context, userID string, acct model.AccountType, amount decimal.Decimal, txnType model.TransactionType, description string) (*model.Transaction, error) {
	if !acct.Valid() {
		return nil, ErrInvalidAccountType
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	a, err := s.account(ctx, userID, acct)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(a.ID)
	defer unlock()

	a, err = s.store.GetAccount(ctx, userID, acct)
	if err != nil {
		return nil, err
	}
	if a.Balance.LessThan(amount) {
		metrics.InsufficientFundsTotal.Inc()
		return nil, ErrInsufficientFunds
	}

	txn := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        txnType,
		Amount:      amount,
		FromAccount: acct,
		Description: description,
		Timestamp:   s.now(),
	}
	changes := []store.BalanceChange{{AccountID: a.ID, Delta: amount.Neg()}}

	if err := s.apply(ctx, "wallet.debit", changes, txn); err != nil {
		return nil, err
	}

	metrics.LedgerMutations.WithLabelValues(string(txnType)).Inc()
	slog.Info("debit applied",
		"user", userID, "account", acct, "amount", amount.String(), "type", txnType, "txn", txn.ID)
	return txn, nil
}

// Penalize removes amount without a balance check; the penalty path is the
// only way an account may go negative.
func (s *Service) Penalize(ctx context.Context, userID string, acct model.AccountType, amount decimal.Decimal, description string) (*model.Transaction, error) {
	if !acct.Valid() {
		return nil, ErrInvalidAccountType
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	a, err := s.account(ctx, userID, acct)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(a.ID)
	defer unlock()

	txn := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        model.TxnPenalty,
		Amount:      amount,
		FromAccount: acct,
		Description: description,
		Timestamp:   s.now(),
	}
	changes := []store.BalanceChange{{AccountID: a.ID, Delta: amount.Neg()}}

	if err := s.apply(ctx, "wallet.penalty", changes, txn); err != nil {
		return nil, err
	}

	metrics.LedgerMutations.WithLabelValues(string(model.TxnPenalty)).Inc()
	slog.Info("penalty applied",
		"user", userID, "account", acct, "amount", amount.String(), "txn", txn.ID)
	return txn, nil
}

// History returns the user's most recent transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}

// apply commits a validated mutation, retrying storage faults only. The
// operation is all-or-nothing at the store, so a retried failure has no
// partial state to clean up.
func (s *Service) apply(ctx context.Context, op string, changes []store.BalanceChange, txn *model.Transaction) error {
	return retry.Do(ctx, s.retry, op, func() error {
		return s.store.ApplyTransaction(ctx, changes, txn)
	})
}
