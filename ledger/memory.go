package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"leaderboard-server/scoreerrors"
)

// Memory is an in-process Ledger with the same semantics as Postgres:
// globally unique action ids and a serialized read-modify-write per
// aggregate. Used in tests and when no DATABASE_URL is configured.
type Memory struct {
	mu         sync.Mutex
	actions    map[string]ActionRecord   // action_id -> record
	history    map[string][]ActionRecord // principal_id -> records, oldest first
	aggregates map[string]*Aggregate
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		actions:    make(map[string]ActionRecord),
		history:    make(map[string][]ActionRecord),
		aggregates: make(map[string]*Aggregate),
	}
}

// Apply commits rec exactly once; a second record with the same ActionID is
// rejected with scoreerrors.ErrDuplicateAction.
func (m *Memory) Apply(_ context.Context, rec ActionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.actions[rec.ActionID]; exists {
		return 0, scoreerrors.ErrDuplicateAction
	}
	rec.AppliedAt = time.Now().UTC()
	m.actions[rec.ActionID] = rec
	m.history[rec.PrincipalID] = append(m.history[rec.PrincipalID], rec)

	agg := m.aggregates[rec.PrincipalID]
	if agg == nil {
		agg = &Aggregate{PrincipalID: rec.PrincipalID}
		m.aggregates[rec.PrincipalID] = agg
	}
	agg.CurrentScore += rec.Value
	agg.TotalActions++
	agg.LastActionAt = rec.AppliedAt
	return agg.CurrentScore, nil
}

// TopAggregates returns up to limit aggregates, score descending, ties broken
// by ascending principal id.
func (m *Memory) TopAggregates(_ context.Context, limit int) ([]Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Aggregate, 0, len(m.aggregates))
	for _, agg := range m.aggregates {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentScore != out[j].CurrentScore {
			return out[i].CurrentScore > out[j].CurrentScore
		}
		return out[i].PrincipalID < out[j].PrincipalID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAggregate returns one principal's aggregate, or (nil, nil) if absent.
func (m *Memory) GetAggregate(_ context.Context, principalID string) (*Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := m.aggregates[principalID]
	if agg == nil {
		return nil, nil
	}
	cp := *agg
	return &cp, nil
}

// ListActionsByPrincipal returns the principal's actions, newest first.
func (m *Memory) ListActionsByPrincipal(_ context.Context, principalID string, limit int) ([]ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.history[principalID]
	if limit <= 0 {
		limit = 50
	}
	out := make([]ActionRecord, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

// Close is a no-op for the in-memory ledger.
func (m *Memory) Close() {}

// Ensure *Memory implements Ledger at compile time.
var _ Ledger = (*Memory)(nil)
