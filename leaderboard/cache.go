package leaderboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"leaderboard-server/ledger"
)

// Entry is one ranked row of a snapshot.
type Entry struct {
	PrincipalID string `json:"principal_id"`
	Score       int64  `json:"score"`
	Rank        int    `json:"rank"`
}

// Snapshot is an immutable top-K view. It is built fully, then published by
// swapping a single reference; it is never mutated in place.
type Snapshot struct {
	Entries     []Entry   `json:"entries"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RankOf returns the principal's rank within the snapshot.
func (s *Snapshot) RankOf(principalID string) (int, bool) {
	for _, e := range s.Entries {
		if e.PrincipalID == principalID {
			return e.Rank, true
		}
	}
	return 0, false
}

// AggregateSource is the slice of the ledger the cache reads from.
type AggregateSource interface {
	TopAggregates(ctx context.Context, limit int) ([]ledger.Aggregate, error)
}

// Cache maintains the current top-K snapshot. Readers load the snapshot
// reference atomically and never block on a recompute in progress; writers
// serialize through refreshMu.
type Cache struct {
	source AggregateSource
	size   int
	ttl    time.Duration

	cur       atomic.Pointer[Snapshot]
	refreshMu sync.Mutex

	// publish, when set, is invoked with (old, new) after every swap.
	publish func(old, new *Snapshot)
}

// New creates a cache over source holding at most size entries, considered
// stale ttl after each recompute. The initial snapshot is empty and already
// stale, so the first Query recomputes.
func New(source AggregateSource, size int, ttl time.Duration) *Cache {
	c := &Cache{source: source, size: size, ttl: ttl}
	c.cur.Store(&Snapshot{})
	return c
}

// SetPublish installs the hook called after every snapshot swap.
func (c *Cache) SetPublish(fn func(old, new *Snapshot)) {
	c.publish = fn
}

// Current returns the published snapshot without freshness checks.
func (c *Cache) Current() *Snapshot {
	return c.cur.Load()
}

// Query returns the current snapshot, recomputing first if it is older than
// the TTL. This is the fallback that bounds staleness even when commit
// notifications are lost.
func (c *Cache) Query(ctx context.Context) (*Snapshot, error) {
	s := c.cur.Load()
	if time.Since(s.GeneratedAt) < c.ttl {
		return s, nil
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	// Another caller may have refreshed while we waited.
	if s = c.cur.Load(); time.Since(s.GeneratedAt) < c.ttl {
		return s, nil
	}
	return c.refreshLocked(ctx)
}

// OnCommit decides cheaply whether the commit can affect the top K and
// recomputes only then. The snapshot is affected when the principal is
// already ranked, when the board is not yet full, or when the new score
// reaches the current lowest ranked score (a tie can still displace on the
// principal-id tie-break).
func (c *Cache) OnCommit(ctx context.Context, principalID string, newScore int64) error {
	s := c.cur.Load()
	if !c.commitAffects(s, principalID, newScore) {
		return nil
	}
	_, err := c.Refresh(ctx)
	return err
}

func (c *Cache) commitAffects(s *Snapshot, principalID string, newScore int64) bool {
	if _, ok := s.RankOf(principalID); ok {
		return true
	}
	if len(s.Entries) < c.size {
		return true
	}
	lowest := s.Entries[len(s.Entries)-1].Score
	return newScore >= lowest
}

// Refresh unconditionally recomputes the snapshot from the ledger and
// publishes it.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cache) refreshLocked(ctx context.Context) (*Snapshot, error) {
	aggs, err := c.source.TopAggregates(ctx, c.size)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(aggs))
	for i, a := range aggs {
		entries[i] = Entry{PrincipalID: a.PrincipalID, Score: a.CurrentScore, Rank: i + 1}
	}
	snap := &Snapshot{Entries: entries, GeneratedAt: time.Now().UTC()}
	old := c.cur.Swap(snap)
	if c.publish != nil {
		c.publish(old, snap)
	}
	return snap, nil
}
