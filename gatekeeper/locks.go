package gatekeeper

import (
	"sync"
	"time"
)

type lockKey struct {
	principalID string
	actionID    string
}

// LockTable is a process-local advisory lock table keyed by
// (principal_id, action_id). Holds are TTL-bounded so a crashed holder cannot
// permanently block retries of the same action. The ledger's uniqueness
// constraint remains the correctness guarantee; these locks only avoid wasted
// transactional work under contention.
type LockTable struct {
	mu   sync.Mutex
	ttl  time.Duration
	held map[lockKey]time.Time // key -> expiry
}

// NewLockTable creates a lock table with the given hold TTL.
func NewLockTable(ttl time.Duration) *LockTable {
	return &LockTable{
		ttl:  ttl,
		held: make(map[lockKey]time.Time),
	}
}

// TryAcquire attempts to take the lock, failing fast if it is already held
// and not yet expired.
func (lt *LockTable) TryAcquire(principalID, actionID string) bool {
	key := lockKey{principalID, actionID}
	now := time.Now()

	lt.mu.Lock()
	defer lt.mu.Unlock()

	if expiry, ok := lt.held[key]; ok && now.Before(expiry) {
		return false
	}
	lt.held[key] = now.Add(lt.ttl)
	return true
}

// Release frees the lock. Safe to call for a lock that already expired.
func (lt *LockTable) Release(principalID, actionID string) {
	key := lockKey{principalID, actionID}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	delete(lt.held, key)
}

// Held reports whether the lock is currently held (and unexpired).
func (lt *LockTable) Held(principalID, actionID string) bool {
	key := lockKey{principalID, actionID}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	expiry, ok := lt.held[key]
	return ok && time.Now().Before(expiry)
}
