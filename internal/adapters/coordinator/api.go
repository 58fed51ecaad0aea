package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dkeye/AudioRooms/internal/domain"
)

var (
	ErrNotConnected = errors.New("coordinator: not connected")
	ErrAuthRejected = errors.New("coordinator: authentication rejected")
	ErrClosed       = errors.New("coordinator: connection closed")
)

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coordinator: http %d", e.StatusCode)
	}
	return fmt.Sprintf("coordinator: http %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireUser struct {
	ID string `json:"id"`
}

type wireParticipant struct {
	UserSessionID string   `json:"user_session_id"`
	User          wireUser `json:"user"`
}

func (p wireParticipant) ref() domain.ParticipantRef {
	return domain.ParticipantRef{SessionID: p.UserSessionID, UserID: domain.UserID(p.User.ID)}
}

// Event types on the websocket.
const (
	eventAuth              = "auth"
	eventConnectionOK      = "connection.ok"
	eventConnectionError   = "connection.error"
	eventHealthCheck       = "health.check"
	eventParticipantJoined = "call.session_participant_joined"
	eventParticipantLeft   = "call.session_participant_left"
)

type authMessage struct {
	Type        string   `json:"type"`
	Token       string   `json:"token"`
	UserDetails wireUser `json:"user_details"`
}

type wsEvent struct {
	Type         string           `json:"type"`
	ConnectionID string           `json:"connection_id,omitempty"`
	CallCID      string           `json:"call_cid,omitempty"`
	Participant  *wireParticipant `json:"participant,omitempty"`
	Error        *apiErrorBody    `json:"error,omitempty"`
}

type joinRequest struct {
	domain.JoinOptions
	ConnectionID string `json:"connection_id"`
}

type joinResponse struct {
	Call struct {
		CID string `json:"cid"`
	} `json:"call"`
	Participants []wireParticipant `json:"participants"`
}

func callPath(t domain.CallType, id domain.CallID, action string) string {
	return "/call/" + url.PathEscape(string(t)) + "/" + url.PathEscape(string(id)) + "/" + action
}

// post sends body as JSON and decodes a 2xx answer into out (if non-nil).
func (c *Client) post(ctx context.Context, creds domain.Credentials, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	u, err := url.Parse(strings.TrimRight(c.opts.BaseURL, "/") + path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", creds.APIKey())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", creds.UserToken())
	req.Header.Set("Stream-Auth-Type", "jwt")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var b apiErrorBody
		if json.Unmarshal(raw, &b) == nil {
			apiErr.Code = b.Code
			apiErr.Message = b.Message
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
