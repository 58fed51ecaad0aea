package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	sendQueue = 64
	writeWait = 5 * time.Second
	readLimit = 4096
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// WSConnection is a subscriber endpoint. It implements core.EventSink.
type WSConnection struct {
	id   string
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWSConnection(id string, conn WSConn) *WSConnection {
	return &WSConnection{
		id:   id,
		conn: conn,
		send: make(chan core.Frame, sendQueue),
	}
}

func (c *WSConnection) ID() string { return c.id }

func (c *WSConnection) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// WritePump sends queued frames and pings every pingPeriod. It returns
// when ctx ends, the queue is closed or a write fails.
func (c *WSConnection) WritePump(ctx context.Context, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "events.conn").Str("sid", c.id).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "events.conn").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "events.conn").Str("sid", c.id).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "events.conn").Str("sid", c.id).Msg("ping failed")
				return
			}
		}
	}
}

// ReadPump drains the socket so control frames are processed. The stream
// is one-way; inbound data messages are ignored.
func (c *WSConnection) ReadPump(pingPeriod time.Duration) {
	defer c.Close()
	pongWait := pingPeriod * 10 / 9
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "events.conn").Str("sid", c.id).Msg("readPump read error")
			}
			return
		}
	}
}
