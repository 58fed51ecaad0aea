package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

type fakeCoordinator struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	auth     authMessage
	apiKey   string
	joins    []joinRequest
	leaves   []string
	headers  http.Header
	joinCode int

	inbound chan []byte
	ready   chan struct{}
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	f := &fakeCoordinator{
		t:       t,
		inbound: make(chan []byte, 16),
		ready:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /video/connect", f.handleConnect)
	mux.HandleFunc("POST /video/call/{type}/{id}/join", f.handleJoin)
	mux.HandleFunc("POST /video/call/{type}/{id}/leave", f.handleLeave)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCoordinator) options() Options {
	return Options{
		BaseURL: f.srv.URL + "/video",
		WSURL:   "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/video/connect",
	}
}

func (f *fakeCoordinator) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	var auth authMessage
	if err := conn.ReadJSON(&auth); err != nil {
		conn.Close()
		return
	}
	f.mu.Lock()
	f.auth = auth
	f.apiKey = r.URL.Query().Get("api_key")
	f.mu.Unlock()

	if auth.Token == "bad" {
		_ = conn.WriteJSON(wsEvent{Type: eventConnectionError, Error: &apiErrorBody{Code: 40, Message: "token expired"}})
		conn.Close()
		return
	}
	_ = conn.WriteJSON(wsEvent{Type: eventConnectionOK, ConnectionID: "conn-1"})

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	close(f.ready)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.inbound <- data
	}
}

func (f *fakeCoordinator) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.joins = append(f.joins, req)
	f.headers = r.Header.Clone()
	code := f.joinCode
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if code != 0 {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"code":16,"message":"call is full"}`))
		return
	}
	cid := r.PathValue("type") + ":" + r.PathValue("id")
	_, _ = w.Write([]byte(`{"call":{"cid":"` + cid + `"},"participants":[` +
		`{"user_session_id":"p1","user":{"id":"alice"}},` +
		`{"user_session_id":"p2","user":{"id":"bob"}}]}`))
}

func (f *fakeCoordinator) handleLeave(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.leaves = append(f.leaves, r.PathValue("type")+":"+r.PathValue("id"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeCoordinator) push(ev wsEvent) {
	f.t.Helper()
	select {
	case <-f.ready:
	case <-time.After(2 * time.Second):
		f.t.Fatal("client never connected")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteJSON(ev); err != nil {
		f.t.Fatalf("push: %v", err)
	}
}

func testCreds(t *testing.T, token string) domain.Credentials {
	t.Helper()
	c, err := domain.NewCredentials("k", "u1", token)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func connectedClient(t *testing.T, f *fakeCoordinator) *Client {
	t.Helper()
	c := New(f.options())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, testCreds(t, "t1")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectAuthenticates(t *testing.T) {
	f := newFakeCoordinator(t)
	c := connectedClient(t, f)

	if got := c.ConnectionID(); got != "conn-1" {
		t.Errorf("ConnectionID = %q, want conn-1", got)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := authMessage{Type: eventAuth, Token: "t1", UserDetails: wireUser{ID: "u1"}}
	if diff := cmp.Diff(want, f.auth); diff != "" {
		t.Errorf("auth message mismatch (-want +got):\n%s", diff)
	}
	if f.apiKey != "k" {
		t.Errorf("api_key = %q, want k", f.apiKey)
	}
}

func TestConnectRejected(t *testing.T) {
	f := newFakeCoordinator(t)
	c := New(f.options())
	err := c.Connect(context.Background(), testCreds(t, "bad"))
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("err = %v, want ErrAuthRejected", err)
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("err = %v, want server message", err)
	}
	if _, err := c.JoinCall(context.Background(), domain.DefaultCallType, "room-1", domain.SilentJoin()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("JoinCall after rejection = %v, want ErrNotConnected", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1", WSURL: "ws://127.0.0.1:1/connect"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, testCreds(t, "t1")); err == nil {
		t.Fatal("Connect succeeded against a closed port")
	}
}

func TestJoinCall(t *testing.T) {
	f := newFakeCoordinator(t)
	c := connectedClient(t, f)

	call, err := c.JoinCall(context.Background(), domain.DefaultCallType, "room-1", domain.SilentJoin())
	if err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	if call.ID() != "room-1" {
		t.Errorf("ID = %q", call.ID())
	}
	want := []domain.ParticipantRef{{SessionID: "p1", UserID: "alice"}, {SessionID: "p2", UserID: "bob"}}
	if diff := cmp.Diff(want, call.Participants()); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	wantReq := []joinRequest{{JoinOptions: domain.JoinOptions{Create: true}, ConnectionID: "conn-1"}}
	if diff := cmp.Diff(wantReq, f.joins); diff != "" {
		t.Errorf("join request mismatch (-want +got):\n%s", diff)
	}
	if got := f.headers.Get("Authorization"); got != "t1" {
		t.Errorf("Authorization = %q", got)
	}
	if got := f.headers.Get("Stream-Auth-Type"); got != "jwt" {
		t.Errorf("Stream-Auth-Type = %q", got)
	}
}

func TestJoinCallAPIError(t *testing.T) {
	f := newFakeCoordinator(t)
	f.joinCode = http.StatusForbidden
	c := connectedClient(t, f)

	_, err := c.JoinCall(context.Background(), domain.DefaultCallType, "room-1", domain.SilentJoin())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	want := APIError{StatusCode: http.StatusForbidden, Code: 16, Message: "call is full"}
	if *apiErr != want {
		t.Errorf("APIError = %+v, want %+v", *apiErr, want)
	}
}

func TestParticipantEventsRouted(t *testing.T) {
	f := newFakeCoordinator(t)
	c := connectedClient(t, f)
	call, err := c.JoinCall(context.Background(), domain.DefaultCallType, "room-1", domain.SilentJoin())
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 4)
	call.OnParticipantJoined(func(p domain.ParticipantRef) { got <- "joined:" + p.SessionID + "/" + string(p.UserID) })
	call.OnParticipantLeft(func(sid string, uid domain.UserID) { got <- "left:" + sid + "/" + string(uid) })

	// Events for other calls are dropped.
	f.push(wsEvent{Type: eventParticipantJoined, CallCID: "default:other", Participant: &wireParticipant{UserSessionID: "zz", User: wireUser{ID: "z"}}})
	f.push(wsEvent{Type: eventParticipantJoined, CallCID: "default:room-1", Participant: &wireParticipant{UserSessionID: "p3", User: wireUser{ID: "carol"}}})
	f.push(wsEvent{Type: eventParticipantLeft, CallCID: "default:room-1", Participant: &wireParticipant{UserSessionID: "p1"}})

	var events []string
	for len(events) < 2 {
		select {
		case e := <-got:
			events = append(events, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", events)
		}
	}
	if diff := cmp.Diff([]string{"joined:p3/carol", "left:p1/alice"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	wantMembers := []domain.ParticipantRef{{SessionID: "p2", UserID: "bob"}, {SessionID: "p3", UserID: "carol"}}
	if diff := cmp.Diff(wantMembers, call.Participants()); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
}

func TestHealthCheckEchoed(t *testing.T) {
	f := newFakeCoordinator(t)
	connectedClient(t, f)

	f.push(wsEvent{Type: eventHealthCheck, ConnectionID: "conn-1"})
	select {
	case data := <-f.inbound:
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != eventHealthCheck {
			t.Errorf("echo type = %q", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("health check not echoed")
	}
}

func TestLeaveStopsRouting(t *testing.T) {
	f := newFakeCoordinator(t)
	c := connectedClient(t, f)
	call, err := c.JoinCall(context.Background(), domain.DefaultCallType, "room-1", domain.SilentJoin())
	if err != nil {
		t.Fatal(err)
	}
	if err := call.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	f.mu.Lock()
	leaves := append([]string(nil), f.leaves...)
	f.mu.Unlock()
	if diff := cmp.Diff([]string{"default:room-1"}, leaves); diff != "" {
		t.Errorf("leaves mismatch (-want +got):\n%s", diff)
	}

	c.mu.RLock()
	n := len(c.calls)
	c.mu.RUnlock()
	if n != 0 {
		t.Errorf("%d calls still routed after leave", n)
	}
}

func TestCloseEndsSession(t *testing.T) {
	f := newFakeCoordinator(t)
	c := connectedClient(t, f)
	_ = c.Close()
	if _, err := c.JoinCall(context.Background(), domain.DefaultCallType, "room-1", domain.SilentJoin()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("JoinCall after Close = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
