// Package ws streams room snapshots to clients over WebSocket, backed
// by the store's Watch subscription.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errBackpressure = errors.New("backpressure")

// snapshotMessage is the wire shape of one push.
type snapshotMessage struct {
	Type string       `json:"type"` // "snapshot" or "deleted"
	Room *domain.Room `json:"room,omitempty"`
}

type Gateway struct {
	repo *core.Repository
}

func NewGateway(repo *core.Repository) *Gateway {
	return &Gateway{repo: repo}
}

// wsConn wraps the socket with a buffered send channel so the watch
// callback never blocks on a slow client.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errBackpressure
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// HandleWatch upgrades the request and relays every update of the
// requested room until the client goes away. A subscriber that cannot
// keep up is dropped rather than allowed to stall the fan-out.
func (g *Gateway) HandleWatch(ctx context.Context, c *gin.Context) {
	id := domain.RoomID(c.Param("id"))

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	conn := &wsConn{conn: socket, send: make(chan []byte, 32)}
	ctx, cancel := context.WithCancel(ctx)

	// Initial snapshot so the client renders without waiting for the
	// first change.
	if room, err := g.repo.GetRoom(ctx, id); err == nil {
		g.push(conn, snapshotMessage{Type: "snapshot", Room: room})
	}

	unwatch, err := g.repo.Watch(ctx, id, func(ev core.WatchEvent) {
		if ev.Deleted {
			g.push(conn, snapshotMessage{Type: "deleted"})
			return
		}
		g.push(conn, snapshotMessage{Type: "snapshot", Room: ev.Room})
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("room", string(id)).Msg("watch failed")
		cancel()
		conn.close()
		return
	}

	go g.writePump(ctx, conn)
	go g.readPump(ctx, conn, func() {
		unwatch()
		cancel()
	})
	log.Info().Str("module", "adapters.ws").Str("room", string(id)).Msg("watch subscriber connected")
}

func (g *Gateway) push(conn *wsConn, msg snapshotMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("marshal snapshot")
		return
	}
	if err := conn.trySend(data); err != nil {
		// Slow subscriber; it will reconnect and get a fresh snapshot.
		conn.close()
	}
}

func (g *Gateway) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump only exists to observe the close handshake; inbound
// messages are ignored.
func (g *Gateway) readPump(ctx context.Context, c *wsConn, teardown func()) {
	defer func() {
		teardown()
		c.close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
