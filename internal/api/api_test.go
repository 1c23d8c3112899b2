// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package api

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/driftline/driftline/internal/auth"
	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/hub"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
	"github.com/driftline/driftline/internal/presence"
	"github.com/driftline/driftline/internal/registry"
	"github.com/driftline/driftline/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Format: "json", Output: io.Discard})
}

// apiHarness stands up the full pipeline behind the router: registry, hub,
// bus, forwarder, reaction store, and presence tracker.
type apiHarness struct {
	t   *testing.T
	srv *httptest.Server
	dir *registry.StaticDirectory
	reg *registry.Registry
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	dir := registry.NewStaticDirectory()
	dir.PutUser(event.UserRef{UserID: 1, Username: "ada", DisplayName: "Ada"})
	dir.PutUser(event.UserRef{UserID: 2, Username: "kay", DisplayName: "Kay"})
	dir.SetChannelMembers(1, []int64{1, 2})

	reg := registry.New(dir)
	h := hub.New(reg)
	bus := hub.NewBus()
	fwd := hub.NewForwarder(bus, h)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.RunWithContext(ctx) }()
	go func() { _ = fwd.Serve(ctx) }()
	select {
	case <-fwd.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder never became ready")
	}

	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	reactions := store.NewReactionStore(db, dir)
	tracker := presence.NewTracker(reg, bus, dir)

	users := auth.NewStaticUsers()
	if _, err := users.Add("ada", "Ada", "pw-ada"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := users.Add("kay", "Kay", "pw-kay"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	authSvc := auth.NewService("0123456789abcdef0123456789abcdef", time.Hour, "driftline_token", false, users)

	origins := []string{"http://localhost:3000"}
	handler := NewHandler(authSvc, reg, h, bus, reactions, tracker, dir, origins)
	srv := httptest.NewServer(NewRouter(handler, RouterConfig{
		CORSOrigins:     origins,
		RateLimit:       1000,
		RateLimitWindow: time.Minute,
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = bus.Close()
		_ = db.Close()
	})

	return &apiHarness{t: t, srv: srv, dir: dir, reg: reg}
}

func (h *apiHarness) login(username, password string) string {
	h.t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(h.srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		h.t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("login status = %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		h.t.Fatalf("decode login response: %v", err)
	}
	if envelope.Data.Token == "" {
		h.t.Fatal("login returned no token")
	}
	return envelope.Data.Token
}

func (h *apiHarness) do(method, path, token string, payload any) *http.Response {
	h.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, body)
	if err != nil {
		h.t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// dialWS opens an authenticated WebSocket stream against the harness.
func (h *apiHarness) dialWS(token string) *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		h.t.Fatalf("dial websocket: %v", err)
	}
	h.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// wsNext reads frames until one of the wanted kind arrives. Presence churn
// from other connections is skipped.
func wsNext(t *testing.T, conn *websocket.Conn, kind event.Kind) *event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read websocket frame: %v", err)
		}
		e, err := event.DecodeFrame(raw)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if e.Kind == kind {
			return e
		}
	}
	t.Fatalf("no %s frame within deadline", kind)
	return nil
}

func TestLogin_SetsCookie(t *testing.T) {
	h := newAPIHarness(t)

	body, _ := json.Marshal(map[string]string{"username": "ada", "password": "pw-ada"})
	resp, err := http.Post(h.srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "driftline_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	h := newAPIHarness(t)

	body, _ := json.Marshal(map[string]string{"username": "ada", "password": "nope"})
	resp, err := http.Post(h.srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedRoutes_RequireAuth(t *testing.T) {
	h := newAPIHarness(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/events"},
		{http.MethodPost, "/api/v1/typing"},
		{http.MethodPost, "/api/v1/messages"},
		{http.MethodPut, "/api/v1/presence/status"},
	}
	for _, p := range paths {
		resp := h.do(p.method, p.path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", p.method, p.path, resp.StatusCode)
		}
	}
}

func TestPostMessage_ReachesChannelMemberOverWS(t *testing.T) {
	h := newAPIHarness(t)
	adaToken := h.login("ada", "pw-ada")
	kayToken := h.login("kay", "pw-kay")

	conn := h.dialWS(kayToken)

	resp := h.do(http.MethodPost, "/api/v1/messages", adaToken, map[string]any{
		"conversationId": 1,
		"body":           "hello channel",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post message status = %d", resp.StatusCode)
	}

	e := wsNext(t, conn, event.KindMessage)
	var msg event.MessagePayload
	if err := e.DecodePayload(&msg); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if msg.Body != "hello channel" || msg.Author.Username != "ada" {
		t.Errorf("message = %+v", msg)
	}
}

func TestToggleReaction_PushesSnapshotEndToEnd(t *testing.T) {
	h := newAPIHarness(t)
	adaToken := h.login("ada", "pw-ada")
	kayToken := h.login("kay", "pw-kay")

	conn := h.dialWS(kayToken)

	togglesBefore := testutil.ToFloat64(metrics.ReactionToggles)

	toggle := map[string]any{"emoji": "👍", "conversationId": 1}
	resp := h.do(http.MethodPost, "/api/v1/messages/99/reactions", adaToken, toggle)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("toggle status = %d", resp.StatusCode)
	}

	// One toggle counts exactly once.
	if got := testutil.ToFloat64(metrics.ReactionToggles) - togglesBefore; got != 1 {
		t.Errorf("reaction toggle counter delta = %v, want 1", got)
	}

	e := wsNext(t, conn, event.KindReactionUpdate)
	var snap event.ReactionSnapshot
	if err := e.DecodePayload(&snap); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if snap.MessageID != 99 || len(snap.Reactions) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	group := snap.Reactions[0]
	if group.Emoji != "👍" || len(group.Users) != 1 || group.Users[0].Username != "ada" {
		t.Errorf("group = %+v", group)
	}

	// Second toggle removes; the pushed snapshot is empty.
	resp = h.do(http.MethodPost, "/api/v1/messages/99/reactions", adaToken, toggle)
	resp.Body.Close()
	e = wsNext(t, conn, event.KindReactionUpdate)
	if err := e.DecodePayload(&snap); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if len(snap.Reactions) != 0 {
		t.Errorf("snapshot after second toggle = %+v, want empty", snap.Reactions)
	}
}

func TestToggleReaction_ViaWebSocketFrame(t *testing.T) {
	h := newAPIHarness(t)
	adaToken := h.login("ada", "pw-ada")

	conn := h.dialWS(adaToken)

	body, _ := json.Marshal(event.ReactionToggleRequest{
		MessageID:      7,
		Emoji:          "🎉",
		ConversationID: 1,
	})
	frame, _ := json.Marshal(event.Frame{Type: event.FrameTypeReactionToggle, Data: body})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	e := wsNext(t, conn, event.KindReactionUpdate)
	var snap event.ReactionSnapshot
	if err := e.DecodePayload(&snap); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if snap.MessageID != 7 || len(snap.Reactions) != 1 || snap.Reactions[0].Emoji != "🎉" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestToggleReaction_InvalidMessageID(t *testing.T) {
	h := newAPIHarness(t)
	token := h.login("ada", "pw-ada")

	resp := h.do(http.MethodPost, "/api/v1/messages/zero/reactions", token, map[string]any{
		"emoji": "👍", "conversationId": 1,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTyping_ReachesOtherMember(t *testing.T) {
	h := newAPIHarness(t)
	adaToken := h.login("ada", "pw-ada")
	kayToken := h.login("kay", "pw-kay")

	conn := h.dialWS(kayToken)

	resp := h.do(http.MethodPost, "/api/v1/typing", adaToken, map[string]any{"conversationId": 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("typing status = %d", resp.StatusCode)
	}

	e := wsNext(t, conn, event.KindTyping)
	var payload event.TypingPayload
	if err := e.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.ConversationID != 1 || payload.User.Username != "ada" {
		t.Errorf("typing = %+v", payload)
	}
}

func TestPresenceStatus_RequiresConnection(t *testing.T) {
	h := newAPIHarness(t)
	token := h.login("ada", "pw-ada")

	// No live subscriber: status changes are rejected.
	resp := h.do(http.MethodPut, "/api/v1/presence/status", token, map[string]string{"status": "busy"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("offline status = %d, want 409", resp.StatusCode)
	}

	// With a connection, busy is accepted.
	_ = h.dialWS(token)
	deadline := time.After(2 * time.Second)
	for {
		resp = h.do(http.MethodPut, "/api/v1/presence/status", token, map[string]string{"status": "busy"})
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("busy status = %d, want 200", resp.StatusCode)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Offline can never be chosen manually.
	resp = h.do(http.MethodPut, "/api/v1/presence/status", token, map[string]string{"status": "offline"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("offline request status = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocket_RejectsUnknownOrigin(t *testing.T) {
	h := newAPIHarness(t)
	token := h.login("ada", "pw-ada")

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/v1/ws"
	header := http.Header{
		"Authorization": {"Bearer " + token},
		"Origin":        {"http://evil.example"},
	}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial succeeded from disallowed origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestEvents_StreamsOverSSE(t *testing.T) {
	h := newAPIHarness(t)
	adaToken := h.login("ada", "pw-ada")
	kayToken := h.login("kay", "pw-kay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+kayToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open sse: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	post := h.do(http.MethodPost, "/api/v1/messages", adaToken, map[string]any{
		"conversationId": 1,
		"body":           "over sse",
	})
	post.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	deadline := time.AfterFunc(2*time.Second, cancel)
	defer deadline.Stop()
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		e, err := event.DecodeFrame([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if e.Kind != event.KindMessage {
			continue
		}
		var msg event.MessagePayload
		if err := e.DecodePayload(&msg); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if msg.Body != "over sse" {
			t.Errorf("message = %+v", msg)
		}
		return
	}
	t.Fatal("sse stream ended without delivering the message")
}

func TestHealthEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready"} {
		resp, err := http.Get(h.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(h.srv.URL + "/api/v1/health/ready")
	if err != nil {
		t.Fatalf("GET ready: %v", err)
	}
	defer resp.Body.Close()
	var ready struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("decode ready body: %v", err)
	}
	for _, key := range []string{"uptime_seconds", "subscribers", "users_online", "queue_depth"} {
		if _, ok := ready.Data[key]; !ok {
			t.Errorf("ready response missing %q gauge", key)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("driftline")) {
		t.Error("metrics output carries no driftline series")
	}
}
