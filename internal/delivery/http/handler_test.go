package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"device-remoting/internal/adapters/memory"
	"device-remoting/internal/core/bus"
	"device-remoting/internal/core/command"
	"device-remoting/internal/core/devices"
	"device-remoting/internal/core/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operatorToken = "ops-secret"

type testServer struct {
	*httptest.Server
	store *memory.Store
	mgr   *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithOperator(t, operatorToken)
}

func newTestServerWithOperator(t *testing.T, opToken string) *testServer {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Save(context.Background(), &devices.Device{Code: "D1", Secret: "abc", Enable: true, Version: "1.0.0"}))

	mgr := session.NewManager(session.Config{}, func() (bus.EventBus, error) {
		return bus.NewMemory(zerolog.Nop()), nil
	}, zerolog.Nop())
	svc := devices.NewService(devices.Config{TokenSecret: "test-secret"}, store.Stores(), mgr, command.NewMemoryQueue(), zerolog.Nop())

	srv := httptest.NewServer(New(svc, mgr, Options{SessionTimeout: time.Minute, OperatorToken: opToken}, zerolog.Nop()))
	t.Cleanup(func() {
		mgr.CloseAll("test done")
		srv.Close()
		_ = mgr.Close()
	})
	return &testServer{Server: srv, store: store, mgr: mgr}
}

func (s *testServer) post(t *testing.T, path, tok string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	resp := s.post(t, "/device/login", "", devices.LoginRequest{Code: "D1", Secret: "abc", ClientID: "c1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lr devices.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	require.NotEmpty(t, lr.Token)
	return lr.Token
}

func TestLoginStatuses(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"ok", devices.LoginRequest{Code: "D1", Secret: "abc"}, http.StatusOK},
		{"wrong secret", devices.LoginRequest{Code: "D1", Secret: "x"}, http.StatusUnauthorized},
		{"unknown device", devices.LoginRequest{Code: "D9", Secret: "x"}, http.StatusForbidden},
		{"empty code", devices.LoginRequest{Secret: "x"}, http.StatusBadRequest},
		{"not json", "nonsense", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.post(t, "/device/login", "", tt.body).StatusCode)
		})
	}
}

func TestAuthenticatedRoutes(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t)

	assert.Equal(t, http.StatusUnauthorized, s.post(t, "/device/ping", "", devices.PingRequest{}).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, s.post(t, "/device/ping", "garbage", devices.PingRequest{}).StatusCode)

	resp := s.post(t, "/device/ping", tok, devices.PingRequest{Time: 1, Uptime: 12})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pr devices.PingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pr))
	assert.Equal(t, int64(1), pr.Time)
	assert.Equal(t, 60, pr.Period)

	resp = s.post(t, "/device/events", tok, []devices.Event{{Name: "boot"}, {}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var n int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))
	assert.Equal(t, 1, n)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/device/upgrade?channel=stable", nil)
	require.NoError(t, err)
	req.Header.Set("X-Token", tok)
	up, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	up.Body.Close()
	assert.Equal(t, http.StatusNoContent, up.StatusCode)

	resp = s.post(t, "/device/refresh", "", devices.RefreshTokenRequest{RefreshToken: tok})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.post(t, "/device/logout?reason=test", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, s.store.Onlines())
}

func TestCommandOverWebsocket(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/device/notify?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.mgr.Get("D1") != nil }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		on := s.store.Onlines()
		return len(on) == 1 && on[0].Connected
	}, 2*time.Second, 10*time.Millisecond)

	// the device answers every command it receives
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd command.Model
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			reply, _ := json.Marshal(command.Reply{ID: cmd.ID, Status: command.StatusOK, Data: cmd.Command})
			if conn.WriteMessage(websocket.TextMessage, reply) != nil {
				return
			}
		}
	}()

	resp := s.post(t, "/devices/D1/commands", operatorToken, map[string]any{"command": "reboot", "expire": 60, "wait": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		ID    int64          `json:"id"`
		Reply *command.Reply `json:"reply"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Reply)
	assert.Equal(t, out.ID, out.Reply.ID)
	assert.Equal(t, "reboot", out.Reply.Data)

	resp = s.post(t, "/devices/D1/commands", operatorToken, map[string]any{"argument": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn.Close()
	require.Eventually(t, func() bool { return s.mgr.Get("D1") == nil }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		on := s.store.Onlines()
		return len(on) == 1 && !on[0].Connected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueuedCommandReachesPing(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t)

	resp := s.post(t, "/devices/D1/commands", operatorToken, map[string]any{"command": "sync", "queue": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.post(t, "/device/ping", tok, devices.PingRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pr devices.PingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pr))
	require.Len(t, pr.Commands, 1)
	assert.Equal(t, "sync", pr.Commands[0].Command)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCommandRoutesNeedOperatorToken(t *testing.T) {
	body := map[string]any{"command": "sync", "queue": true}

	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.post(t, "/devices/D1/commands", "", body).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, s.post(t, "/devices/D1/commands", "ops-secreT", body).StatusCode)

	// a device token is not an operator token
	tok := s.login(t)
	assert.Equal(t, http.StatusUnauthorized, s.post(t, "/devices/D1/commands", tok, body).StatusCode)

	assert.Equal(t, http.StatusOK, s.post(t, "/devices/D1/commands?token="+operatorToken, "", body).StatusCode)

	disabled := newTestServerWithOperator(t, "")
	assert.Equal(t, http.StatusForbidden, disabled.post(t, "/devices/D1/commands", operatorToken, body).StatusCode)
	assert.Equal(t, http.StatusForbidden, disabled.post(t, "/devices/D1/commands", "", body).StatusCode)
}
