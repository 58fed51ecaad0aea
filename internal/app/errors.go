package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/AudioRooms/internal/domain"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrInitializing     = errors.New("initialization in progress")
	ErrAlreadyInCall    = errors.New("already in a call")
	ErrNoActiveSession  = errors.New("no active call to leave")
	ErrInvalidCallID    = errors.New("invalid call id")

	// ErrClosed is returned by work that Close overtook. It matches
	// ErrNotConnected.
	ErrClosed = fmt.Errorf("%w: manager closed", ErrNotConnected)
)

// ConnectError is returned when the backend rejected or could not be
// reached during Initialize.
type ConnectError struct {
	UserID domain.UserID
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect user %q: %v", e.UserID, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// JoinError wraps a provider failure while joining.
type JoinError struct {
	CallID domain.CallID
	Err    error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join call %q: %v", e.CallID, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// LeaveError wraps a provider failure while leaving. The session is
// already detached when it is returned.
type LeaveError struct {
	CallID domain.CallID
	Err    error
}

func (e *LeaveError) Error() string {
	return fmt.Sprintf("leave call %q: %v", e.CallID, e.Err)
}

func (e *LeaveError) Unwrap() error { return e.Err }
