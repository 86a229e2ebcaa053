package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"device-remoting/internal/core/command"
	"device-remoting/internal/core/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dial starts a server that wraps the upgraded socket in a Session and runs
// it with runCtx. The returned channel yields the session once it is running.
func dial(t *testing.T, runCtx context.Context, replies chan<- *command.Reply) (*websocket.Conn, <-chan *Session, <-chan struct{}) {
	t.Helper()
	sessions := make(chan *Session, 1)
	finished := make(chan struct{})
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := New(conn, "D1", time.Minute, nil, zerolog.Nop())
		sessions <- s
		s.Run(runCtx, func(_ context.Context, r *command.Reply) { replies <- r })
		close(finished)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, sessions, finished
}

func TestSessionOutlivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	replies := make(chan *command.Reply, 1)
	conn, sessions, finished := dial(t, ctx, replies)
	var s *Session
	select {
	case s = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("session not started")
	}

	require.NoError(t, s.HandleAsync(context.Background(), &command.Model{ID: 3, Command: "reboot"}, `{"id":3}`))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3}`, string(data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":3,"status":"ok"}`)))
	select {
	case r := <-replies:
		assert.Equal(t, int64(3), r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("reply not read")
	}
	assert.False(t, s.Disposed())

	require.NoError(t, s.Close("done"))
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after close")
	}
	assert.Equal(t, "done", s.CloseReason())
}

func TestSessionClosesWhenPeerLeaves(t *testing.T) {
	conn, sessions, finished := dial(t, context.Background(), make(chan *command.Reply, 1))
	s := <-sessions

	require.NoError(t, conn.Close())
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	assert.True(t, s.Disposed())
	assert.ErrorIs(t, s.HandleAsync(context.Background(), &command.Model{ID: 1}, "{}"), session.ErrDisposed)
}
