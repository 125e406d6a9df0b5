package gatekeeper

import (
	"fmt"
	"time"

	"leaderboard-server/config"
	"leaderboard-server/scoreerrors"
	"leaderboard-server/verifier"
)

// Gatekeeper deduplicates, rate-limits and serializes concurrent submissions
// of the same logical action before they reach the ledger. Checks run in
// order: value verification, rate window, advisory lock. The rate counter is
// consumed only once all three pass.
type Gatekeeper struct {
	verifiers *verifier.Registry
	locks     *LockTable
	rates     *RateWindow
}

// New creates a Gatekeeper from the service config and verifier registry.
func New(cfg *config.Config, reg *verifier.Registry) *Gatekeeper {
	return &Gatekeeper{
		verifiers: reg,
		locks:     NewLockTable(time.Duration(cfg.LockTTLMS) * time.Millisecond),
		rates:     NewRateWindow(time.Duration(cfg.RateWindowSec)*time.Second, cfg.RateLimitMax),
	}
}

// Admit runs the pre-ledger checks for one submission. On success the
// advisory lock for (principalID, actionID) is held and the caller must call
// Release on every exit path.
func (g *Gatekeeper) Admit(principalID, actionID, actionType string, value int64, occurredAt time.Time) error {
	v, ok := g.verifiers.Get(actionType)
	if !ok {
		return fmt.Errorf("%w: unknown action type %q", scoreerrors.ErrValidationFailed, actionType)
	}
	if !v.Verify(principalID, value, occurredAt) {
		min, max := v.Bounds()
		return fmt.Errorf("%w: value %d not accepted for %q (bounds %d-%d)",
			scoreerrors.ErrValidationFailed, value, actionType, min, max)
	}

	if !g.rates.Allowed(principalID, actionType) {
		return fmt.Errorf("%w: %q window exhausted for principal %s",
			scoreerrors.ErrRateLimited, actionType, principalID)
	}

	if !g.locks.TryAcquire(principalID, actionID) {
		return fmt.Errorf("%w: action %s", scoreerrors.ErrLockContended, actionID)
	}

	g.rates.Increment(principalID, actionType)
	return nil
}

// Release frees the advisory lock taken by a successful Admit.
func (g *Gatekeeper) Release(principalID, actionID string) {
	g.locks.Release(principalID, actionID)
}
