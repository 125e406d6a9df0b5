package ledger

import (
	"context"
	"time"
)

// ActionRecord is one committed scoring event. Immutable once applied;
// ActionID is globally unique and is the replay-prevention key.
type ActionRecord struct {
	ActionID    string    `json:"action_id"`
	PrincipalID string    `json:"principal_id"`
	ActionType  string    `json:"action_type"`
	Value       int64     `json:"value"`
	OccurredAt  time.Time `json:"occurred_at"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Aggregate is the per-principal score total. Owned and mutated only by the
// ledger, under transaction: CurrentScore always equals the sum of Value over
// the principal's committed actions.
type Aggregate struct {
	PrincipalID  string    `json:"principal_id"`
	CurrentScore int64     `json:"current_score"`
	TotalActions int64     `json:"total_actions"`
	LastActionAt time.Time `json:"last_action_at"`
}

// Ledger abstracts the durable action/aggregate store. Implementations can be
// swapped between Postgres (production) and Memory (tests, local dev).
type Ledger interface {
	// Apply commits rec and returns the principal's new score. Returns
	// scoreerrors.ErrDuplicateAction if rec.ActionID was already committed,
	// or an error wrapping scoreerrors.ErrServiceUnavailable once the
	// transient retry budget is exhausted.
	Apply(ctx context.Context, rec ActionRecord) (newScore int64, err error)

	// TopAggregates returns up to limit aggregates ordered by score
	// descending, ties broken by ascending principal id.
	TopAggregates(ctx context.Context, limit int) ([]Aggregate, error)

	// GetAggregate returns one principal's aggregate, or (nil, nil) if the
	// principal has no committed actions.
	GetAggregate(ctx context.Context, principalID string) (*Aggregate, error)

	// ListActionsByPrincipal returns the principal's committed actions,
	// most recently applied first, up to limit.
	ListActionsByPrincipal(ctx context.Context, principalID string, limit int) ([]ActionRecord, error)

	Close()
}
