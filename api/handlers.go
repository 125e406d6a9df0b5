package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"leaderboard-server/auth"
	"leaderboard-server/core"
	"leaderboard-server/ledger"
	"leaderboard-server/scoreerrors"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	Service  *core.Service
	Resolver auth.Resolver
}

// NewHandler creates a new API handler with the given dependencies.
func NewHandler(svc *core.Service, resolver auth.Resolver) *Handler {
	return &Handler{Service: svc, Resolver: resolver}
}

// CORS sets CORS headers on the response. Call before writing body.
func CORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Principal-ID")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// submitRequest is the POST /api/actions payload.
type submitRequest struct {
	ActionID       string    `json:"action_id"`
	ActionType     string    `json:"action_type"`
	ScoreIncrement int64     `json:"score_increment"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// errorBody is the structured error carried in failed responses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// submitResponse is the POST /api/actions response.
type submitResponse struct {
	Success      bool       `json:"success"`
	NewScore     *int64     `json:"new_score,omitempty"`
	NewRank      *int       `json:"new_rank,omitempty"`
	PreviousRank *int       `json:"previous_rank,omitempty"`
	Error        *errorBody `json:"error,omitempty"`
}

// SubmitAction applies one score action for the authenticated principal.
func (h *Handler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	principalID, err := h.Resolver.Resolve(r)
	if err != nil {
		writeSubmitError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSubmitError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if _, err := uuid.Parse(req.ActionID); err != nil {
		writeSubmitError(w, http.StatusBadRequest, "validation_failed", "action_id must be a UUID")
		return
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = time.Now().UTC()
	}

	res, err := h.Service.Submit(r.Context(), principalID, core.SubmitRequest{
		ActionID:   req.ActionID,
		ActionType: req.ActionType,
		Value:      req.ScoreIncrement,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		status, code := submitStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("submit failed", "tag", "api", "principal", principalID, "err", err)
		}
		writeSubmitError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success:      true,
		NewScore:     &res.NewScore,
		NewRank:      res.NewRank,
		PreviousRank: res.PreviousRank,
	})
}

// submitStatus maps a submission error to its HTTP status and stable code.
func submitStatus(err error) (int, string) {
	switch {
	case errors.Is(err, scoreerrors.ErrValidationFailed):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, scoreerrors.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, scoreerrors.ErrLockContended):
		return http.StatusConflict, "action_in_flight"
	case errors.Is(err, scoreerrors.ErrDuplicateAction):
		return http.StatusConflict, "duplicate_action"
	case errors.Is(err, scoreerrors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// LeaderboardResponse is the JSON structure for /api/leaderboard.
type LeaderboardResponse struct {
	Entries     []leaderboardEntry `json:"entries"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type leaderboardEntry struct {
	PrincipalID string `json:"principal_id"`
	Score       int64  `json:"score"`
	Rank        int    `json:"rank"`
}

// Leaderboard returns the current top-K snapshot.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := h.Service.Leaderboard(r.Context())
	if err != nil {
		slog.Error("leaderboard query failed", "tag", "api", "err", err)
		http.Error(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}

	resp := LeaderboardResponse{Entries: []leaderboardEntry{}, GeneratedAt: snap.GeneratedAt}
	for _, e := range snap.Entries {
		resp.Entries = append(resp.Entries, leaderboardEntry{PrincipalID: e.PrincipalID, Score: e.Score, Rank: e.Rank})
	}
	writeJSON(w, http.StatusOK, resp)
}

// History returns the action history for the authenticated principal.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	principalID, err := h.Resolver.Resolve(r)
	if err != nil {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.Service.History(r.Context(), principalID, limit)
	if err != nil {
		slog.Error("history query failed", "tag", "api", "principal", principalID, "err", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []ledger.ActionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeSubmitError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, submitResponse{
		Success: false,
		Error:   &errorBody{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "tag", "api", "err", err)
	}
}
