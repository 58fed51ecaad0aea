package domain

import "errors"

const MaxCallIDLen = 64

var (
	ErrCallIDEmpty   = errors.New("call id empty")
	ErrCallIDTooLong = errors.New("call id too long")
)

type (
	CallID   string
	CallType string
)

const DefaultCallType CallType = "default"

func NewCallID(raw string) (CallID, error) {
	if len(raw) == 0 {
		return "", ErrCallIDEmpty
	}
	if len(raw) > MaxCallIDLen {
		return "", ErrCallIDTooLong
	}
	return CallID(raw), nil
}

// CID is the provider-wide call identifier, "<type>:<id>".
func CID(t CallType, id CallID) string {
	return string(t) + ":" + string(id)
}

// JoinOptions mirror the provider's join flags.
type JoinOptions struct {
	Create bool `json:"create"`
	Ring   bool `json:"ring"`
	Notify bool `json:"notify"`
}

// SilentJoin creates the call if needed and never rings or notifies members.
func SilentJoin() JoinOptions {
	return JoinOptions{Create: true}
}

type Permission string

const PermissionMicrophone Permission = "microphone"
