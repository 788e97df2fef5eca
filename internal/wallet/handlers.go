// Package wallet — HTTP handlers for deposits, withdrawals, and balance
// queries. The payment gateway confirms an external payment and then calls
// the deposit endpoint; the engine never talks to the gateway directly.
package wallet

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
)

// DepositRequest is the JSON body for POST /wallet/{userID}/deposit.
type DepositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"` // gateway transaction reference
}

// WithdrawRequest is the JSON body for POST /wallet/{userID}/withdraw.
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// HandleDeposit handles POST /api/v1/wallet/{userID}/deposit
func (l *Ledger) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := l.Credit(r.Context(), userID, req.Amount, model.EntryDeposit, req.Reference)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "deposit failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// HandleWithdraw handles POST /api/v1/wallet/{userID}/withdraw
func (l *Ledger) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := l.Debit(r.Context(), userID, req.Amount, model.EntryWithdrawal, "")
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, "insufficient funds", http.StatusConflict)
		default:
			writeError(w, "withdrawal failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// HandleBalance handles GET /api/v1/wallet/{userID}
func (l *Ledger) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := l.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{"balance": balance})
}

// HandleEntries handles GET /api/v1/wallet/{userID}/entries
func (l *Ledger) HandleEntries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, err := l.Entries(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.WalletLedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
