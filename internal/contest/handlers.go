package contest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/prize"
	"github.com/optionleague/contest-engine/internal/store"
)

// HandleCreate handles POST /api/v1/contests
func (r *Registry) HandleCreate(w http.ResponseWriter, req *http.Request) {
	var sp Spec
	if err := json.NewDecoder(req.Body).Decode(&sp); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := r.Create(req.Context(), sp)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSpec),
			errors.Is(err, prize.ErrOverAllocated),
			errors.Is(err, prize.ErrNegativeAmount):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			writeError(w, "failed to create contest", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

// HandlePublish handles POST /api/v1/contests/{contestID}/publish
func (r *Registry) HandlePublish(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "contestID")

	c, err := r.Publish(req.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "contest not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidTransition):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, prize.ErrOverAllocated), errors.Is(err, prize.ErrNegativeAmount):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			writeError(w, "failed to publish contest", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// HandleCancel handles POST /api/v1/contests/{contestID}/cancel
func (r *Registry) HandleCancel(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "contestID")

	if err := r.Cancel(req.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "contest not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, store.ErrConflict):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "failed to cancel contest", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": model.StatusCancelled})
}

// HandleGet handles GET /api/v1/contests/{contestID}
func (r *Registry) HandleGet(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "contestID")

	c, err := r.Get(req.Context(), id)
	if err != nil {
		writeError(w, "contest not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// HandleList handles GET /api/v1/contests
// Optionally filtered by ?status=<lifecycle state>.
func (r *Registry) HandleList(w http.ResponseWriter, req *http.Request) {
	var (
		contests []model.Contest
		err      error
	)
	if status := req.URL.Query().Get("status"); status != "" {
		contests, err = r.store.ListContestsByStatus(req.Context(), status)
	} else {
		contests, err = r.store.ListContests(req.Context())
	}
	if err != nil {
		writeError(w, "failed to list contests", http.StatusInternalServerError)
		return
	}
	if contests == nil {
		contests = []model.Contest{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contests)
}

// HandleCapacity handles GET /api/v1/contests/{contestID}/capacity
func (r *Registry) HandleCapacity(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "contestID")

	remaining, err := r.CapacityRemaining(req.Context(), id)
	if err != nil {
		writeError(w, "contest not found", http.StatusNotFound)
		return
	}
	joinable, err := r.IsJoinable(req.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, "contest not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"capacity_remaining": remaining,
		"joinable":           joinable,
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
