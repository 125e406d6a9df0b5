package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"leaderboard-server/leaderboard"
	"leaderboard-server/notify"
	"leaderboard-server/wsutil"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SnapshotSource provides the current leaderboard for the on-connect baseline.
type SnapshotSource interface {
	Current() *leaderboard.Snapshot
}

// Hub maintains the set of live subscriber connections and ties each one to
// a Broadcaster subscription.
type Hub struct {
	Clients     map[*Client]bool
	Register    chan *Client
	Unregister  chan *Client
	Broadcaster *notify.Broadcaster
	Snapshots   SnapshotSource
}

// NewHub creates a new Hub.
func NewHub(b *notify.Broadcaster, snapshots SnapshotSource) *Hub {
	return &Hub{
		Clients:     make(map[*Client]bool),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		Broadcaster: b,
		Snapshots:   snapshots,
	}
}

// Run starts the hub's main loop. Should be run as a goroutine. When ctx is
// cancelled, Run returns and no longer accepts new registrations.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, stopping", "tag", "ws")
			return
		case client := <-h.Register:
			h.Clients[client] = true
			slog.Info("subscriber connected", "tag", "ws", "total", len(h.Clients))

		case client := <-h.Unregister:
			if _, ok := h.Clients[client]; ok {
				delete(h.Clients, client)
				h.Broadcaster.Unsubscribe(client.sub)
				close(client.Send)
				slog.Info("subscriber disconnected", "tag", "ws", "total", len(h.Clients))
			}
		}
	}
}

// ServeWS handles WebSocket upgrade requests and creates a new subscriber
// connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "tag", "ws", "err", err)
		return
	}

	client := &Client{
		Hub:  h,
		Conn: conn,
		Send: make(chan []byte, 256),
		sub:  h.Broadcaster.Subscribe(),
	}

	h.Register <- client

	// Baseline snapshot first, then incremental updates.
	if snap := h.Snapshots.Current(); snap != nil {
		msg := SnapshotMsg{Type: "leaderboard_snapshot", Entries: snap.Entries, GeneratedAt: snap.GeneratedAt}
		if data, err := json.Marshal(msg); err == nil {
			wsutil.SafeSend(client.Send, data)
		}
	}

	go client.forwardUpdates()
	go client.WritePump()
	go client.ReadPump()
}
