// Package domain holds the value types shared by every layer and the
// validation that builds them.
package domain

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAPIKeyEmpty    = errors.New("api key empty")
	ErrUserIDEmpty    = errors.New("user id empty")
	ErrUserTokenEmpty = errors.New("user token empty")
	ErrTokenUserID    = errors.New("token user_id claim does not match user id")
)

type UserID string

// Credentials identify one user against the calling backend.
// Fields are unexported so a value can't change after NewCredentials.
type Credentials struct {
	apiKey    string
	userID    UserID
	userToken string
}

// NewCredentials validates the triple. A JWT token that carries a user_id
// claim must name the same user; opaque tokens are passed through.
func NewCredentials(apiKey string, userID UserID, userToken string) (Credentials, error) {
	if apiKey == "" {
		return Credentials{}, ErrAPIKeyEmpty
	}
	if userID == "" {
		return Credentials{}, ErrUserIDEmpty
	}
	if userToken == "" {
		return Credentials{}, ErrUserTokenEmpty
	}
	if claimed, ok := tokenUserID(userToken); ok && claimed != string(userID) {
		return Credentials{}, fmt.Errorf("%w: token=%q user=%q", ErrTokenUserID, claimed, userID)
	}
	return Credentials{apiKey: apiKey, userID: userID, userToken: userToken}, nil
}

func (c Credentials) APIKey() string    { return c.apiKey }
func (c Credentials) UserID() UserID    { return c.userID }
func (c Credentials) UserToken() string { return c.userToken }

// String never prints the token.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{user=%s}", c.userID)
}

// tokenUserID reads the user_id claim without verifying the signature.
// Verification is the backend's job; this only catches mismatched config.
func tokenUserID(token string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", false
	}
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
