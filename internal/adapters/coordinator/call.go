package coordinator

import (
	"context"
	"sync"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
)

type leftEvent struct {
	sessionID string
	userID    domain.UserID
}

// call tracks the remote members of one joined call. Events for session
// ids already known still reach subscribers; only the set dedups.
type call struct {
	client *Client
	typ    domain.CallType
	id     domain.CallID
	cid    string

	mu    sync.RWMutex
	order []string
	bySID map[string]domain.ParticipantRef

	joined core.Observers[domain.ParticipantRef]
	left   core.Observers[leftEvent]
}

func newCall(client *Client, t domain.CallType, id domain.CallID, cid string) *call {
	return &call{
		client: client,
		typ:    t,
		id:     id,
		cid:    cid,
		bySID:  make(map[string]domain.ParticipantRef),
	}
}

func (c *call) ID() domain.CallID { return c.id }

func (c *call) Participants() []domain.ParticipantRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ParticipantRef, 0, len(c.order))
	for _, sid := range c.order {
		out = append(out, c.bySID[sid])
	}
	return out
}

func (c *call) add(p domain.ParticipantRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bySID[p.SessionID]; !ok {
		c.order = append(c.order, p.SessionID)
	}
	c.bySID[p.SessionID] = p
}

func (c *call) remove(sessionID string) (domain.ParticipantRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.bySID[sessionID]
	if !ok {
		return domain.ParticipantRef{}, false
	}
	delete(c.bySID, sessionID)
	for i, sid := range c.order {
		if sid == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return p, true
}

func (c *call) handleJoined(p domain.ParticipantRef) {
	c.add(p)
	c.joined.Emit(p)
}

func (c *call) handleLeft(p domain.ParticipantRef) {
	if known, ok := c.remove(p.SessionID); ok && p.UserID == "" {
		p.UserID = known.UserID
	}
	c.left.Emit(leftEvent{sessionID: p.SessionID, userID: p.UserID})
}

func (c *call) OnParticipantJoined(fn func(domain.ParticipantRef)) core.Handle {
	return c.joined.Add(fn)
}

func (c *call) OnParticipantLeft(fn func(sessionID string, userID domain.UserID)) core.Handle {
	return c.left.Add(func(e leftEvent) { fn(e.sessionID, e.userID) })
}

func (c *call) Unsubscribe(h core.Handle) {
	if !c.joined.Remove(h) {
		c.left.Remove(h)
	}
}

func (c *call) Leave(ctx context.Context) error {
	c.joined.Clear()
	c.left.Clear()
	return c.client.leave(ctx, c)
}
