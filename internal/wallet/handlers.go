package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/api"
	"github.com/sproutfin/wallet-engine/internal/model"
)

// TransferRequest is the JSON body for POST /wallet/{userID}/transfer.
type TransferRequest struct {
	FromAccount model.AccountType `json:"from_account"`
	ToAccount   model.AccountType `json:"to_account"`
	Amount      decimal.Decimal   `json:"amount"`
}

// AdjustmentRequest is the JSON body for the credit/debit/penalty endpoints
// used by the chore, quest, and gifting collaborators.
type AdjustmentRequest struct {
	Account model.AccountType     `json:"account"`
	Amount  decimal.Decimal       `json:"amount"`
	Type    model.TransactionType `json:"transaction_type,omitempty"`
	Reason  string                `json:"reason,omitempty"`
}

// GetWallet handles GET /api/v1/wallet/{userID}
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	accounts, err := s.Balances(r.Context(), userID)
	if err != nil {
		api.WriteError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}

	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"accounts": accounts,
		"total":    total,
	})
}

// PostTransfer handles POST /api/v1/wallet/{userID}/transfer
func (s *Service) PostTransfer(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	txn, err := s.Transfer(r.Context(), userID, req.FromAccount, req.ToAccount, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, txn)
}

// GetTransactions handles GET /api/v1/wallet/{userID}/transactions
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	txns, err := s.History(r.Context(), userID, limit)
	if err != nil {
		api.WriteError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	api.WriteJSON(w, http.StatusOK, txns)
}

// PostCredit handles POST /api/v1/wallet/{userID}/credit
func (s *Service) PostCredit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = model.TxnDeposit
	}

	txn, err := s.Credit(r.Context(), userID, req.Account, req.Amount, req.Type, req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, txn)
}

// PostDebit handles POST /api/v1/wallet/{userID}/debit
func (s *Service) PostDebit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = model.TxnWithdrawal
	}

	txn, err := s.Debit(r.Context(), userID, req.Account, req.Amount, req.Type, req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, txn)
}

// PostPenalty handles POST /api/v1/wallet/{userID}/penalty
func (s *Service) PostPenalty(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	txn, err := s.Penalize(r.Context(), userID, req.Account, req.Amount, req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, txn)
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		api.WriteError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, ErrInvalidAccountPair),
		errors.Is(err, ErrInvalidAccountType),
		errors.Is(err, ErrInvalidAmount):
		api.WriteError(w, err.Error(), http.StatusBadRequest)
	default:
		api.WriteError(w, "ledger operation failed", http.StatusInternalServerError)
	}
}
