package memory

import (
	"context"
	"sync"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type leftEvent struct {
	sessionID string
	userID    domain.UserID
}

// Call is a threadsafe in-memory call. Members keep arrival order.
type Call struct {
	id domain.CallID

	mu      sync.RWMutex
	order   []string
	bySID   map[string]domain.ParticipantRef
	owner   *Provider
	ownerID string

	joined core.Observers[domain.ParticipantRef]
	left   core.Observers[leftEvent]
}

func newCall(id domain.CallID) *Call {
	return &Call{
		id:    id,
		bySID: make(map[string]domain.ParticipantRef),
	}
}

func (c *Call) ID() domain.CallID { return c.id }

func (c *Call) joinedBy(p *Provider, cid string) {
	c.mu.Lock()
	c.owner = p
	c.ownerID = cid
	c.mu.Unlock()
}

func (c *Call) Participants() []domain.ParticipantRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ParticipantRef, 0, len(c.order))
	for _, sid := range c.order {
		out = append(out, c.bySID[sid])
	}
	return out
}

func (c *Call) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Call) add(p domain.ParticipantRef, notify bool) {
	c.mu.Lock()
	if _, ok := c.bySID[p.SessionID]; !ok {
		c.order = append(c.order, p.SessionID)
	}
	c.bySID[p.SessionID] = p
	c.mu.Unlock()
	log.Debug().Str("module", "memory.call").Str("call_id", string(c.id)).Str("sid", p.SessionID).Str("user", string(p.UserID)).Msg("member added")
	if notify {
		c.joined.Emit(p)
	}
}

func (c *Call) remove(sessionID string, notify bool) {
	c.mu.Lock()
	p, ok := c.bySID[sessionID]
	if ok {
		delete(c.bySID, sessionID)
		for i, sid := range c.order {
			if sid == sessionID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	log.Debug().Str("module", "memory.call").Str("call_id", string(c.id)).Str("sid", sessionID).Msg("member removed")
	if notify {
		c.left.Emit(leftEvent{sessionID: p.SessionID, userID: p.UserID})
	}
}

func (c *Call) OnParticipantJoined(fn func(domain.ParticipantRef)) core.Handle {
	return c.joined.Add(fn)
}

func (c *Call) OnParticipantLeft(fn func(sessionID string, userID domain.UserID)) core.Handle {
	return c.left.Add(func(e leftEvent) { fn(e.sessionID, e.userID) })
}

func (c *Call) Unsubscribe(h core.Handle) {
	if !c.joined.Remove(h) {
		c.left.Remove(h)
	}
}

// Subscribers reports how many handlers are registered.
func (c *Call) Subscribers() int {
	return c.joined.Len() + c.left.Len()
}

func (c *Call) Leave(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	owner, cid := c.owner, c.ownerID
	c.mu.RUnlock()
	if owner == nil {
		return ErrNotJoined
	}
	return owner.leave(cid)
}
