package verifier

import (
	"time"

	"leaderboard-server/config"
)

// Verifier defines the interface all action-type verifiers implement.
// Adding a new scoring action type means writing a Verifier and registering
// it; no central dispatch to edit.
type Verifier interface {
	ActionType() string
	Description() string
	// Bounds returns the inclusive [min, max] value range for this action type.
	Bounds() (min, max int64)
	// Verify runs type-specific checks beyond the value bounds.
	Verify(principalID string, value int64, occurredAt time.Time) bool
}

// Registry holds all registered verifiers indexed by action type.
type Registry struct {
	verifiers map[string]Verifier
	order     []string // registration order for deterministic All()
}

// NewRegistry creates a new empty verifier registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// Register adds a verifier to the registry.
func (r *Registry) Register(v Verifier) {
	at := v.ActionType()
	if _, exists := r.verifiers[at]; !exists {
		r.order = append(r.order, at)
	}
	r.verifiers[at] = v
}

// Get returns the verifier for the given action type.
func (r *Registry) Get(actionType string) (Verifier, bool) {
	v, ok := r.verifiers[actionType]
	return v, ok
}

// All returns all registered verifiers in registration order.
func (r *Registry) All() []Verifier {
	out := make([]Verifier, 0, len(r.order))
	for _, at := range r.order {
		out = append(out, r.verifiers[at])
	}
	return out
}

// RegisterAll registers all built-in verifiers on the registry using the
// given verifier config. Call this from main (or server setup) so adding a
// new action type only requires registering it here.
func RegisterAll(r *Registry, cfg *config.VerifiersConfig) {
	if cfg == nil {
		cfg = &config.VerifiersConfig{}
	}
	r.Register(&TaskCompletion{Min: cfg.TaskCompletion.MinValue, Max: cfg.TaskCompletion.MaxValue})
	r.Register(&ReferralBonus{Min: cfg.ReferralBonus.MinValue, Max: cfg.ReferralBonus.MaxValue})
	r.Register(&DailyStreak{Min: cfg.DailyStreak.MinValue, Max: cfg.DailyStreak.MaxValue})
	r.Register(&BonusEvent{Min: cfg.BonusEvent.MinValue, Max: cfg.BonusEvent.MaxValue})
}
