package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 2 * time.Second

// activeCall is the one call the manager holds. live flips to false before
// the provider subscriptions are removed; forwarders check it under the
// dispatch lock so nothing is delivered for a detached call.
type activeCall struct {
	call    core.Call
	joinedH core.Handle
	leftH   core.Handle
	live    atomic.Bool
}

// CallSessionManager bridges a permission-gated, authenticated client and a
// single active call, republishing participant membership changes.
//
// All subscriber callbacks run one at a time under the dispatch lock, in
// the order the manager emits them. Snapshot events run on the goroutine
// calling JoinCall; provider events run on the provider's goroutine.
// Handlers must not call JoinCall, LeaveCall or Close synchronously.
type CallSessionManager struct {
	newClient    core.ClientFactory
	gate         core.PermissionGate
	pollInterval time.Duration
	callType     domain.CallType
	wait         func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	state        core.State
	initializing bool
	joining      bool
	client       core.SessionClient
	active       *activeCall

	// gen changes on every Close. Work started under an older gen is
	// abandoned when it completes.
	gen uint64

	dispatch sync.Mutex
	joined   core.Observers[domain.ParticipantRef]
	left     core.Observers[string]
	states   core.Observers[core.State]
}

type Option func(*CallSessionManager)

func WithPollInterval(d time.Duration) Option {
	return func(m *CallSessionManager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

func WithCallType(t domain.CallType) Option {
	return func(m *CallSessionManager) {
		if t != "" {
			m.callType = t
		}
	}
}

// WithWait replaces the sleep used between permission polls.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(m *CallSessionManager) {
		if wait != nil {
			m.wait = wait
		}
	}
}

func NewCallSessionManager(newClient core.ClientFactory, gate core.PermissionGate, opts ...Option) *CallSessionManager {
	m := &CallSessionManager{
		newClient:    newClient,
		gate:         gate,
		pollInterval: DefaultPollInterval,
		callType:     domain.DefaultCallType,
		wait:         sleepCtx,
		state:        core.StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *CallSessionManager) State() core.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveCall reports the id of the current call, if any.
func (m *CallSessionManager) ActiveCall() (domain.CallID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.call.ID(), true
}

// Initialize waits for microphone permission, then authenticates creds with
// a new client. Only ctx cancellation ends the permission wait early.
func (m *CallSessionManager) Initialize(ctx context.Context, creds domain.Credentials) error {
	m.mu.Lock()
	switch {
	case m.state == core.StateConnected || m.state == core.StateInCall:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case m.initializing:
		m.mu.Unlock()
		return ErrInitializing
	}
	m.initializing = true
	gen := m.gen
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.initializing = false
		m.mu.Unlock()
	}()

	logger := log.With().Str("module", "app.calls").Str("user", string(creds.UserID())).Logger()

	if err := m.awaitPermission(ctx); err != nil {
		logger.Warn().Err(err).Msg("permission wait aborted")
		return err
	}
	if m.closedSince(gen) {
		return ErrClosed
	}

	client := m.newClient()
	if err := client.Connect(ctx, creds); err != nil {
		logger.Error().Err(err).Msg("connect failed")
		if cerr := client.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("close after failed connect")
		}
		m.setState(core.StateDisconnected)
		return &ConnectError{UserID: creds.UserID(), Err: err}
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		logger.Warn().Msg("manager closed while connecting, dropping client")
		if cerr := client.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("close abandoned client")
		}
		return ErrClosed
	}
	m.client = client
	m.state = core.StateConnected
	m.mu.Unlock()
	m.emitState(core.StateConnected)
	logger.Info().Msg("user connected")
	return nil
}

func (m *CallSessionManager) awaitPermission(ctx context.Context) error {
	m.gate.RequestPermission(domain.PermissionMicrophone)
	for !m.gate.HasPermission(domain.PermissionMicrophone) {
		log.Info().Str("module", "app.calls").Dur("retry_in", m.pollInterval).Msg("waiting for microphone permission")
		if err := m.wait(ctx, m.pollInterval); err != nil {
			return err
		}
	}
	return nil
}

// JoinCall silently creates-or-joins callID. Members already present are
// emitted as joined before JoinCall returns; later changes arrive through
// the provider subscription.
func (m *CallSessionManager) JoinCall(ctx context.Context, callID string) error {
	id, err := domain.NewCallID(callID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCallID, err)
	}

	m.mu.Lock()
	switch {
	case m.state == core.StateInCall || m.joining:
		m.mu.Unlock()
		return ErrAlreadyInCall
	case m.state != core.StateConnected:
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.joining = true
	client := m.client
	gen := m.gen
	m.mu.Unlock()

	logger := log.With().Str("module", "app.calls").Str("call_id", string(id)).Logger()

	call, err := client.JoinCall(ctx, m.callType, id, domain.SilentJoin())
	if err != nil {
		m.mu.Lock()
		m.joining = false
		m.mu.Unlock()
		logger.Error().Err(err).Msg("join failed")
		return &JoinError{CallID: id, Err: err}
	}

	if m.closedSince(gen) {
		m.mu.Lock()
		m.joining = false
		m.mu.Unlock()
		logger.Warn().Msg("manager closed while joining, leaving call")
		if lerr := call.Leave(ctx); lerr != nil {
			logger.Debug().Err(lerr).Msg("leave abandoned call")
		}
		return ErrClosed
	}

	ac := &activeCall{call: call}
	ac.live.Store(true)

	snapshot := call.Participants()
	m.dispatch.Lock()
	for _, p := range snapshot {
		m.joined.Emit(p)
	}
	m.dispatch.Unlock()

	// A member joining between the snapshot and these two calls is missed.
	ac.joinedH = call.OnParticipantJoined(func(p domain.ParticipantRef) {
		m.forwardJoined(ac, p)
	})
	ac.leftH = call.OnParticipantLeft(func(sessionID string, _ domain.UserID) {
		m.forwardLeft(ac, sessionID)
	})

	m.mu.Lock()
	m.joining = false
	if m.gen != gen {
		m.mu.Unlock()
		logger.Warn().Msg("manager closed while joining, leaving call")
		m.detach(ac)
		if lerr := call.Leave(ctx); lerr != nil {
			logger.Debug().Err(lerr).Msg("leave abandoned call")
		}
		return ErrClosed
	}
	m.active = ac
	m.state = core.StateInCall
	m.mu.Unlock()
	m.emitState(core.StateInCall)

	logger.Info().Int("participants", len(snapshot)).Msg("joined call")
	return nil
}

func (m *CallSessionManager) forwardJoined(ac *activeCall, p domain.ParticipantRef) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()
	if !ac.live.Load() {
		return
	}
	m.joined.Emit(p)
}

func (m *CallSessionManager) forwardLeft(ac *activeCall, sessionID string) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()
	if !ac.live.Load() {
		return
	}
	m.left.Emit(sessionID)
}

// LeaveCall unsubscribes from the active call, leaves it and clears it.
// With no active call it logs a warning and returns ErrNoActiveSession.
func (m *CallSessionManager) LeaveCall(ctx context.Context) error {
	m.mu.Lock()
	ac := m.active
	m.active = nil
	m.mu.Unlock()

	if ac == nil {
		log.Warn().Str("module", "app.calls").Msg("leave request ignored, there is no active call to leave")
		return ErrNoActiveSession
	}

	id := ac.call.ID()
	m.detach(ac)
	err := ac.call.Leave(ctx)

	m.mu.Lock()
	if m.state == core.StateInCall {
		m.state = core.StateConnected
	}
	m.mu.Unlock()
	m.emitState(core.StateConnected)

	logger := log.With().Str("module", "app.calls").Str("call_id", string(id)).Logger()
	if err != nil {
		logger.Error().Err(err).Msg("leave failed")
		return &LeaveError{CallID: id, Err: err}
	}
	logger.Info().Msg("left call")
	return nil
}

// detach stops forwarding for ac and removes its provider subscriptions.
func (m *CallSessionManager) detach(ac *activeCall) {
	ac.live.Store(false)
	ac.call.Unsubscribe(ac.joinedH)
	ac.call.Unsubscribe(ac.leftH)
	// Wait out any forwarder that passed the live check before the flip.
	m.dispatch.Lock()
	m.dispatch.Unlock()
}

func (m *CallSessionManager) closedSince(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen
}

// Close leaves any active call and closes the client. A JoinCall or
// Initialize still in flight returns ErrClosed and undoes its own work.
func (m *CallSessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	m.mu.Unlock()

	var errs []error
	if err := m.LeaveCall(ctx); err != nil && !errors.Is(err, ErrNoActiveSession) {
		errs = append(errs, err)
	}

	m.mu.Lock()
	client := m.client
	m.client = nil
	wasConnected := m.state == core.StateConnected
	if wasConnected {
		m.state = core.StateDisconnected
	}
	m.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close client: %w", err))
		}
	}
	if wasConnected {
		m.emitState(core.StateDisconnected)
	}
	return errors.Join(errs...)
}

func (m *CallSessionManager) OnParticipantJoined(fn func(domain.ParticipantRef)) core.Handle {
	return m.joined.Add(fn)
}

func (m *CallSessionManager) OnParticipantLeft(fn func(sessionID string)) core.Handle {
	return m.left.Add(fn)
}

func (m *CallSessionManager) OnStateChange(fn func(core.State)) core.Handle {
	return m.states.Add(fn)
}

// Unsubscribe removes a handler registered with any of the On* methods.
func (m *CallSessionManager) Unsubscribe(h core.Handle) bool {
	return m.joined.Remove(h) || m.left.Remove(h) || m.states.Remove(h)
}

func (m *CallSessionManager) setState(s core.State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.emitState(s)
}

func (m *CallSessionManager) emitState(s core.State) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()
	m.states.Emit(s)
}
