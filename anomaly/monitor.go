package anomaly

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"leaderboard-server/config"
)

// Observation is one committed action as seen by the monitor.
type Observation struct {
	PrincipalID string
	ActionType  string
	Value       int64
	Timestamp   time.Time
}

// Auditor receives fire-and-forget anomaly flags. Flags are advisory: they
// never reject or undo a committed action.
type Auditor interface {
	Flag(principalID, reason string, details map[string]any)
}

// LogAuditor writes flags to the structured log.
type LogAuditor struct{}

// Flag logs the anomaly with tag "audit".
func (LogAuditor) Flag(principalID, reason string, details map[string]any) {
	slog.Warn("anomaly flagged", "tag", "audit", "principal", principalID, "reason", reason, "details", details)
}

// Monitor observes committed actions asynchronously and flags suspicious
// patterns. It keeps a bounded recent-history window per principal and never
// blocks the write path: observations beyond the queue are dropped.
type Monitor struct {
	cfg     config.AnomalyConfig
	auditor Auditor
	events  chan Observation

	mu          sync.Mutex
	windows     map[string][]Observation
	lastFlagged map[string]time.Time
}

// NewMonitor creates a monitor with the given thresholds and audit sink.
func NewMonitor(cfg config.AnomalyConfig, auditor Auditor) *Monitor {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 10
	}
	return &Monitor{
		cfg:         cfg,
		auditor:     auditor,
		events:      make(chan Observation, cfg.QueueSize),
		windows:     make(map[string][]Observation),
		lastFlagged: make(map[string]time.Time),
	}
}

// Run consumes observations until ctx is cancelled. Should be run as a
// goroutine.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-m.events:
			m.process(o)
		}
	}
}

// Observe enqueues one committed action. Non-blocking: when the queue is full
// the observation is dropped.
func (m *Monitor) Observe(principalID, actionType string, value int64, ts time.Time) {
	select {
	case m.events <- Observation{PrincipalID: principalID, ActionType: actionType, Value: value, Timestamp: ts}:
	default:
		slog.Warn("observation queue full, dropping", "tag", "anomaly", "principal", principalID)
	}
}

func (m *Monitor) process(o Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := append(m.windows[o.PrincipalID], o)
	if len(window) > m.cfg.HistorySize {
		window = window[len(window)-m.cfg.HistorySize:]
	}
	m.windows[o.PrincipalID] = window

	cutoff := o.Timestamp.Add(-time.Duration(m.cfg.WindowSec) * time.Second)
	high := 0
	for _, w := range window {
		if w.Value >= m.cfg.HighValueThreshold && !w.Timestamp.Before(cutoff) {
			high++
		}
	}
	if high <= m.cfg.MaxHighValue {
		return
	}

	// One flag per trailing window per principal, so a burst does not also
	// flood the audit sink.
	if last, ok := m.lastFlagged[o.PrincipalID]; ok && o.Timestamp.Sub(last) < time.Duration(m.cfg.WindowSec)*time.Second {
		return
	}
	m.lastFlagged[o.PrincipalID] = o.Timestamp
	m.auditor.Flag(o.PrincipalID, "high_value_burst", map[string]any{
		"high_value_count": high,
		"threshold":        m.cfg.HighValueThreshold,
		"window_sec":       m.cfg.WindowSec,
		"last_action_type": o.ActionType,
	})
}
