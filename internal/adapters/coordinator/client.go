// Package coordinator talks to a remote call coordinator: REST for joining
// and leaving calls, one websocket per user for auth and call events.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	maxResponseBytes = 1 << 20
	writeWait        = 5 * time.Second
)

type Options struct {
	BaseURL    string
	WSURL      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client implements core.SessionClient.
type Client struct {
	opts Options

	mu     sync.RWMutex
	creds  *domain.Credentials
	connID string
	conn   *websocket.Conn
	calls  map[string]*call
	done   chan struct{}

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:  opts,
		calls: make(map[string]*call),
	}
}

// ConnectionID is the id the coordinator assigned on connection.ok.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// Connect dials the websocket, authenticates and starts routing events.
func (c *Client) Connect(ctx context.Context, creds domain.Credentials) error {
	u, err := url.Parse(c.opts.WSURL)
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", creds.APIKey())
	u.RawQuery = q.Encode()

	conn, _, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.WSURL, err)
	}

	// Unblocks the handshake read when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	connID, err := handshake(conn, creds)
	if !stop() {
		_ = conn.Close()
		return ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.creds = &creds
	c.connID = connID
	c.conn = conn
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	log.Info().Str("module", "coordinator").Str("user", string(creds.UserID())).Str("connection_id", connID).Msg("connected")
	go c.readPump(conn, done)
	return nil
}

func handshake(conn *websocket.Conn, creds domain.Credentials) (string, error) {
	auth := authMessage{
		Type:        eventAuth,
		Token:       creds.UserToken(),
		UserDetails: wireUser{ID: string(creds.UserID())},
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return "", err
	}
	if err := conn.WriteJSON(auth); err != nil {
		return "", fmt.Errorf("send auth: %w", err)
	}

	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		return "", fmt.Errorf("read auth reply: %w", err)
	}
	switch ev.Type {
	case eventConnectionOK:
		return ev.ConnectionID, nil
	case eventConnectionError:
		msg := "unknown reason"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return "", fmt.Errorf("%w: %s", ErrAuthRejected, msg)
	default:
		return "", fmt.Errorf("unexpected auth reply %q", ev.Type)
	}
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "coordinator").Msg("readPump read error")
			} else {
				log.Debug().Err(err).Str("module", "coordinator").Msg("readPump closing")
			}
			return
		}
		c.handleEvent(conn, data)
	}
}

func (c *Client) handleEvent(conn *websocket.Conn, data []byte) {
	var ev wsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("bad event json")
		return
	}

	switch ev.Type {
	case eventHealthCheck:
		if err := c.write(conn, data); err != nil {
			log.Warn().Err(err).Str("module", "coordinator").Msg("health check reply")
		}
	case eventParticipantJoined, eventParticipantLeft:
		if ev.Participant == nil {
			log.Warn().Str("module", "coordinator").Str("type", ev.Type).Msg("event without participant")
			return
		}
		c.mu.RLock()
		cl, ok := c.calls[ev.CallCID]
		c.mu.RUnlock()
		if !ok {
			log.Debug().Str("module", "coordinator").Str("cid", ev.CallCID).Msg("event for unknown call")
			return
		}
		if ev.Type == eventParticipantJoined {
			cl.handleJoined(ev.Participant.ref())
		} else {
			cl.handleLeft(ev.Participant.ref())
		}
	default:
		log.Debug().Str("module", "coordinator").Str("type", ev.Type).Msg("ignored event")
	}
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) session() (domain.Credentials, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.creds == nil {
		return domain.Credentials{}, "", ErrNotConnected
	}
	select {
	case <-c.done:
		return domain.Credentials{}, "", ErrClosed
	default:
	}
	return *c.creds, c.connID, nil
}

func (c *Client) JoinCall(ctx context.Context, t domain.CallType, id domain.CallID, opts domain.JoinOptions) (core.Call, error) {
	creds, connID, err := c.session()
	if err != nil {
		return nil, err
	}

	var resp joinResponse
	req := joinRequest{JoinOptions: opts, ConnectionID: connID}
	if err := c.post(ctx, creds, callPath(t, id, "join"), req, &resp); err != nil {
		return nil, err
	}

	cid := resp.Call.CID
	if cid == "" {
		cid = domain.CID(t, id)
	}
	cl := newCall(c, t, id, cid)
	for _, p := range resp.Participants {
		cl.add(p.ref())
	}

	c.mu.Lock()
	c.calls[cid] = cl
	c.mu.Unlock()

	log.Info().Str("module", "coordinator").Str("cid", cid).Int("participants", len(resp.Participants)).Msg("joined call")
	return cl, nil
}

func (c *Client) leave(ctx context.Context, cl *call) error {
	c.mu.Lock()
	delete(c.calls, cl.cid)
	c.mu.Unlock()

	creds, connID, err := c.session()
	if err != nil {
		return err
	}
	body := struct {
		ConnectionID string `json:"connection_id"`
	}{connID}
	if err := c.post(ctx, creds, callPath(cl.typ, cl.id, "leave"), body, nil); err != nil {
		return err
	}
	log.Info().Str("module", "coordinator").Str("cid", cl.cid).Msg("left call")
	return nil
}

// Close shuts the websocket and waits for the read pump to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.creds = nil
	c.connID = ""
	clear(c.calls)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := conn.Close()
	<-done
	return err
}
