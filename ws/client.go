package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"leaderboard-server/notify"
	"leaderboard-server/wsutil"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Client is a middleman between one websocket connection and the hub. The
// feed is one-way: the server pushes snapshots and updates, the client only
// keeps the connection alive.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
	sub  *notify.Subscriber
}

// forwardUpdates marshals broadcaster updates onto the send channel. It runs
// in its own goroutine per connection and exits when the subscription is
// closed, either by unregistration or because this subscriber fell behind.
func (c *Client) forwardUpdates() {
	for u := range c.sub.C {
		msg := UpdateMsg{
			Type:              "leaderboard_update",
			Timestamp:         u.Timestamp,
			Entries:           u.Entries,
			ChangedPrincipals: u.ChangedPrincipals,
			Sequence:          u.Sequence,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("marshal update", "tag", "ws", "err", err)
			continue
		}
		wsutil.SafeSend(c.Send, data)
	}
	// Subscription closed: if the broadcaster dropped us for falling
	// behind, closing the connection lets the read pump unregister.
	c.Conn.Close()
}

// ReadPump consumes control frames and client messages until the connection
// drops. It runs in its own goroutine per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "tag", "ws", "err", err)
			}
			break
		}
		// The subscription feed accepts no client commands.
		msg := ErrorMsg{Type: "error", Message: "this endpoint is a read-only feed"}
		data, _ := json.Marshal(msg)
		wsutil.SafeSend(c.Send, data)
	}
}

// WritePump pumps messages from the send channel to the websocket
// connection. It runs in its own goroutine per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
