package ws

import (
	"time"

	"leaderboard-server/leaderboard"
)

// --- Server-to-client messages ---

// SnapshotMsg carries the full current leaderboard. Sent once on connect so
// the client has a baseline before incremental updates arrive.
type SnapshotMsg struct {
	Type        string              `json:"type"` // "leaderboard_snapshot"
	Entries     []leaderboard.Entry `json:"entries"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// UpdateMsg carries one leaderboard change. Sequence is per connection and
// monotonically increasing; a gap means the client missed updates and should
// re-sync from a snapshot.
type UpdateMsg struct {
	Type              string              `json:"type"` // "leaderboard_update"
	Timestamp         time.Time           `json:"timestamp"`
	Entries           []leaderboard.Entry `json:"entries"`
	ChangedPrincipals []string            `json:"changed_principals"`
	Sequence          uint64              `json:"sequence"`
}

// ErrorMsg is sent when a client message cannot be handled.
type ErrorMsg struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
