package core

import (
	"context"

	"github.com/dkeye/AudioRooms/internal/domain"
)

// SessionClient is the calling backend as the manager sees it.
// Adapters own the network; the manager never touches transport.
type SessionClient interface {
	// Connect authenticates the user. It returns once the backend accepted
	// or rejected the credentials.
	Connect(ctx context.Context, creds domain.Credentials) error
	// JoinCall creates-or-joins a call depending on opts.
	JoinCall(ctx context.Context, t domain.CallType, id domain.CallID, opts domain.JoinOptions) (Call, error)
	Close() error
}

// Call is one joined call held by the provider.
type Call interface {
	ID() domain.CallID
	// Participants returns a copy of the members present right now.
	Participants() []domain.ParticipantRef
	OnParticipantJoined(fn func(domain.ParticipantRef)) Handle
	OnParticipantLeft(fn func(sessionID string, userID domain.UserID)) Handle
	Unsubscribe(h Handle)
	Leave(ctx context.Context) error
}

// ClientFactory builds a fresh client for each Initialize attempt.
type ClientFactory func() SessionClient

// PermissionGate resolves device permissions outside the process.
type PermissionGate interface {
	RequestPermission(p domain.Permission)
	HasPermission(p domain.Permission) bool
}
