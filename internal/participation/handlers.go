package participation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/optionleague/contest-engine/internal/contest"
	"github.com/optionleague/contest-engine/internal/store"
)

// JoinRequest is the JSON body for POST /contests/{contestID}/join.
type JoinRequest struct {
	UserID string `json:"user_id"`
}

// HandleJoin handles POST /api/v1/contests/{contestID}/join
func (m *Manager) HandleJoin(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	p, err := m.Join(r.Context(), req.UserID, contestID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "contest not found", http.StatusNotFound)
		case errors.Is(err, contest.ErrNotJoinable):
			writeError(w, "contest is not joinable", http.StatusConflict)
		case errors.Is(err, store.ErrAlreadyJoined):
			writeError(w, "already joined this contest", http.StatusConflict)
		case errors.Is(err, store.ErrContestFull):
			writeError(w, "contest is full", http.StatusConflict)
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, "insufficient wallet balance", http.StatusConflict)
		default:
			writeError(w, "failed to join contest", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
