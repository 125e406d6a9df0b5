package core

import (
	"context"
	"log/slog"
	"time"

	"leaderboard-server/anomaly"
	"leaderboard-server/gatekeeper"
	"leaderboard-server/leaderboard"
	"leaderboard-server/ledger"
)

// Service runs one submission through the full pipeline: gatekeeper checks,
// ledger commit, leaderboard impact, change notification (via the cache's
// publish hook) and out-of-band anomaly observation.
type Service struct {
	gate    *gatekeeper.Gatekeeper
	ledger  ledger.Ledger
	cache   *leaderboard.Cache
	monitor *anomaly.Monitor
}

// SubmitRequest is one score-increasing action.
type SubmitRequest struct {
	ActionID   string
	ActionType string
	Value      int64
	OccurredAt time.Time
}

// SubmitResult reports the committed score and the principal's board movement.
// Rank fields are nil when the principal is outside the top K.
type SubmitResult struct {
	NewScore     int64
	NewRank      *int
	PreviousRank *int
}

// NewService wires the pipeline together.
func NewService(gate *gatekeeper.Gatekeeper, led ledger.Ledger, cache *leaderboard.Cache, monitor *anomaly.Monitor) *Service {
	return &Service{gate: gate, ledger: led, cache: cache, monitor: monitor}
}

// Submit applies one action for the principal. The returned error is one of
// the scoreerrors sentinels (possibly wrapped); any successful ledger commit
// is reflected in the result even if downstream bookkeeping degrades.
func (s *Service) Submit(ctx context.Context, principalID string, req SubmitRequest) (*SubmitResult, error) {
	before := s.cache.Current()

	if err := s.gate.Admit(principalID, req.ActionID, req.ActionType, req.Value, req.OccurredAt); err != nil {
		return nil, err
	}
	// Scoped acquisition: the advisory lock is released on every exit path.
	defer s.gate.Release(principalID, req.ActionID)

	newScore, err := s.ledger.Apply(ctx, ledger.ActionRecord{
		ActionID:    req.ActionID,
		PrincipalID: principalID,
		ActionType:  req.ActionType,
		Value:       req.Value,
		OccurredAt:  req.OccurredAt,
	})
	if err != nil {
		return nil, err
	}

	// A failed recompute only delays freshness; the TTL path catches up.
	if err := s.cache.OnCommit(ctx, principalID, newScore); err != nil {
		slog.Warn("leaderboard recompute failed after commit", "tag", "cache", "err", err)
	}

	s.monitor.Observe(principalID, req.ActionType, req.Value, time.Now().UTC())

	result := &SubmitResult{NewScore: newScore}
	if rank, ok := before.RankOf(principalID); ok {
		result.PreviousRank = &rank
	}
	if rank, ok := s.cache.Current().RankOf(principalID); ok {
		result.NewRank = &rank
	}
	return result, nil
}

// Leaderboard returns the current snapshot, recomputing if it is stale.
func (s *Service) Leaderboard(ctx context.Context) (*leaderboard.Snapshot, error) {
	return s.cache.Query(ctx)
}

// History returns the principal's committed actions, newest first.
func (s *Service) History(ctx context.Context, principalID string, limit int) ([]ledger.ActionRecord, error) {
	return s.ledger.ListActionsByPrincipal(ctx, principalID, limit)
}

// Score returns the principal's aggregate, or (nil, nil) when it has none.
func (s *Service) Score(ctx context.Context, principalID string) (*ledger.Aggregate, error) {
	return s.ledger.GetAggregate(ctx, principalID)
}
