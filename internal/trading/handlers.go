package trading

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/risk"
	"github.com/optionleague/contest-engine/internal/store"
)

// OpenTradeRequest is the JSON body for POST /trades.
type OpenTradeRequest struct {
	UserID    string          `json:"user_id"`
	ContestID string          `json:"contest_id"`
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// MarkRequest is the JSON body for POST /trades/{tradeID}/mark, used by the
// market-data collaborator to push quotes.
type MarkRequest struct {
	Price    decimal.Decimal `json:"price"`
	MarkedAt time.Time       `json:"marked_at,omitempty"`
}

// HandleOpenTrade handles POST /api/v1/trades
func (s *Service) HandleOpenTrade(w http.ResponseWriter, r *http.Request) {
	var req OpenTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ContestID == "" {
		writeError(w, "user_id and contest_id are required", http.StatusBadRequest)
		return
	}

	t, err := s.OpenTrade(r.Context(), req.UserID, req.ContestID, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

// HandleCloseTrade handles POST /api/v1/trades/{tradeID}/close
func (s *Service) HandleCloseTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	t, err := s.CloseTrade(r.Context(), tradeID)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// HandleMark handles POST /api/v1/trades/{tradeID}/mark
func (s *Service) HandleMark(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	markedAt := req.MarkedAt
	if markedAt.IsZero() {
		markedAt = time.Now().UTC()
	}

	if err := s.UpdatePrice(r.Context(), tradeID, req.Price, markedAt); err != nil {
		writeTradeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "marked"})
}

// HandleWallet handles GET /api/v1/contests/{contestID}/wallet/{userID}
func (s *Service) HandleWallet(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")
	userID := chi.URLParam(r, "userID")

	vw, err := s.Wallet(r.Context(), contestID, userID)
	if err != nil {
		writeError(w, "virtual wallet not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vw)
}

// HandleTrades handles GET /api/v1/contests/{contestID}/trades/{userID}
func (s *Service) HandleTrades(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")
	userID := chi.URLParam(r, "userID")

	trades, err := s.Trades(r.Context(), contestID, userID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// writeTradeError maps trading sentinels to HTTP statuses. Every business
// rejection is a 4xx the presentation layer can show; only infrastructure
// failures surface as 500.
func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidTrade):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrMarketClosed),
		errors.Is(err, ErrContestNotActive),
		errors.Is(err, ErrTradeLimitExceeded),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, risk.ErrPositionLimitExceeded),
		errors.Is(err, store.ErrAlreadyClosed):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "trade operation failed", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
