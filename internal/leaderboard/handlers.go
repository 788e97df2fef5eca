package leaderboard

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
)

// HandleLeaderboard handles GET /api/v1/contests/{contestID}/leaderboard
func (e *Engine) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")

	entries, err := e.Compute(r.Context(), contestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "contest not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to compute leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
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
