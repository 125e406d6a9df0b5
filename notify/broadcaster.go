package notify

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"leaderboard-server/leaderboard"
)

// Update is one leaderboard change delivered to subscribers. Sequence is a
// per-subscriber monotonic counter so clients can order updates and detect
// gaps after a drop.
type Update struct {
	Timestamp         time.Time           `json:"timestamp"`
	Entries           []leaderboard.Entry `json:"entries"`
	ChangedPrincipals []string            `json:"changed_principals"`
	Sequence          uint64              `json:"sequence"`
}

// Subscriber is one live update stream. C is closed when the subscriber is
// unsubscribed or dropped for falling behind.
type Subscriber struct {
	C   <-chan Update
	ch  chan Update
	seq uint64
}

// Broadcaster fans leaderboard deltas out to subscribers. Delivery is
// best-effort: a subscriber whose buffer is full is dropped rather than
// allowed to stall the broadcast or the write path.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscriber]bool
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to buffer
// pending updates each.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subs:   make(map[*Subscriber]bool),
		buffer: buffer,
	}
}

// Subscribe registers a new update stream.
func (b *Broadcaster) Subscribe() *Subscriber {
	ch := make(chan Update, b.buffer)
	s := &Subscriber{C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = true
	return s
}

// Unsubscribe removes the subscriber and closes its stream. Idempotent.
func (b *Broadcaster) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(s)
}

func (b *Broadcaster) dropLocked(s *Subscriber) {
	if b.subs[s] {
		delete(b.subs, s)
		close(s.ch)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish compares the two snapshots and fans out an update when membership
// or rank order changed. No-op diffs are suppressed to bound fan-out volume.
func (b *Broadcaster) Publish(old, new *leaderboard.Snapshot) {
	changed := diff(old, new)
	if len(changed) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.seq++
		u := Update{
			Timestamp:         new.GeneratedAt,
			Entries:           new.Entries,
			ChangedPrincipals: changed,
			Sequence:          s.seq,
		}
		select {
		case s.ch <- u:
		default:
			// Slow consumer: drop it instead of blocking everyone else.
			slog.Warn("dropping slow subscriber", "tag", "notify", "pending", len(s.ch))
			b.dropLocked(s)
		}
	}
}

// diff returns the sorted principals whose membership or rank changed between
// the snapshots. Score-only changes that leave the order intact produce no
// update.
func diff(old, new *leaderboard.Snapshot) []string {
	oldRanks := make(map[string]int)
	if old != nil {
		for _, e := range old.Entries {
			oldRanks[e.PrincipalID] = e.Rank
		}
	}

	changedSet := make(map[string]bool)
	newSeen := make(map[string]bool)
	for _, e := range new.Entries {
		newSeen[e.PrincipalID] = true
		if rank, ok := oldRanks[e.PrincipalID]; !ok || rank != e.Rank {
			changedSet[e.PrincipalID] = true
		}
	}
	for id := range oldRanks {
		if !newSeen[id] {
			changedSet[id] = true
		}
	}

	changed := make([]string, 0, len(changedSet))
	for id := range changedSet {
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed
}
