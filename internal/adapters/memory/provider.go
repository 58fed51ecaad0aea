// Package memory is an in-process calling backend for local runs and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("memory provider: not connected")
	ErrCallNotFound = errors.New("memory provider: call not found")
	ErrNotJoined    = errors.New("memory provider: call not joined")
)

// Provider implements core.SessionClient. Calls live as long as the
// provider does.
type Provider struct {
	// AuthFunc, when set, decides whether Connect succeeds.
	AuthFunc func(domain.Credentials) error

	mu     sync.RWMutex
	user   *domain.Credentials
	calls  map[string]*Call
	joined map[string]string // cid -> our session id in that call
}

func NewProvider() *Provider {
	return &Provider{
		calls:  make(map[string]*Call),
		joined: make(map[string]string),
	}
}

func (p *Provider) Connect(ctx context.Context, creds domain.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.AuthFunc != nil {
		if err := p.AuthFunc(creds); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = &creds
	log.Info().Str("module", "memory.provider").Str("user", string(creds.UserID())).Msg("user connected")
	return nil
}

func (p *Provider) JoinCall(ctx context.Context, t domain.CallType, id domain.CallID, opts domain.JoinOptions) (core.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cid := domain.CID(t, id)

	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	call, ok := p.calls[cid]
	if !ok {
		if !opts.Create {
			p.mu.Unlock()
			return nil, ErrCallNotFound
		}
		call = newCall(id)
		p.calls[cid] = call
	}
	// The local user is not listed among the call's members.
	sid := uuid.NewString()
	p.joined[cid] = sid
	p.mu.Unlock()

	call.joinedBy(p, cid)
	log.Info().Str("module", "memory.provider").Str("cid", cid).Str("sid", sid).Bool("ring", opts.Ring).Bool("notify", opts.Notify).Msg("joined call")
	return call, nil
}

func (p *Provider) leave(cid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sid, ok := p.joined[cid]
	if !ok {
		return ErrNotJoined
	}
	delete(p.joined, cid)
	log.Info().Str("module", "memory.provider").Str("cid", cid).Str("sid", sid).Msg("left call")
	return nil
}

// Joined reports whether the local user is currently in the call.
func (p *Provider) Joined(t domain.CallType, id domain.CallID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.joined[domain.CID(t, id)]
	return ok
}

// Seed creates a call with members already present.
func (p *Provider) Seed(t domain.CallType, id domain.CallID, members ...domain.ParticipantRef) *Call {
	cid := domain.CID(t, id)
	p.mu.Lock()
	call, ok := p.calls[cid]
	if !ok {
		call = newCall(id)
		p.calls[cid] = call
	}
	p.mu.Unlock()
	for _, m := range members {
		call.add(m, false)
	}
	return call
}

// SimulateJoin adds a member and notifies subscribers.
func (p *Provider) SimulateJoin(t domain.CallType, id domain.CallID, member domain.ParticipantRef) error {
	call, ok := p.call(t, id)
	if !ok {
		return ErrCallNotFound
	}
	call.add(member, true)
	return nil
}

// SimulateLeave removes a member and notifies subscribers.
func (p *Provider) SimulateLeave(t domain.CallType, id domain.CallID, sessionID string) error {
	call, ok := p.call(t, id)
	if !ok {
		return ErrCallNotFound
	}
	call.remove(sessionID, true)
	return nil
}

func (p *Provider) call(t domain.CallType, id domain.CallID) (*Call, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.calls[domain.CID(t, id)]
	return c, ok
}

// Close disconnects the user and drops its call memberships. Calls and
// their members stay, so the provider can be connected again.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = nil
	clear(p.joined)
	return nil
}
