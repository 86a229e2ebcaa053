// Package ws implements a device session over a persistent websocket, the
// channel commands are pushed through.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"device-remoting/internal/core/command"
	"device-remoting/internal/core/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ReplyFunc receives command replies the device sends back over the socket.
type ReplyFunc func(ctx context.Context, r *command.Reply)

type Session struct {
	*session.CommandSession
	conn    *websocket.Conn
	writeMu sync.Mutex
	lg      zerolog.Logger
}

// New wraps conn; deregister is the manager's callback.
func New(conn *websocket.Conn, code string, timeout time.Duration, deregister func(session.Session), lg zerolog.Logger) *Session {
	s := &Session{conn: conn, lg: lg.With().Str("session", code).Str("transport", "ws").Logger()}
	s.CommandSession = session.NewCommandSession(session.Options{
		Code:       code,
		Timeout:    timeout,
		Deregister: deregister,
		Closer:     s.closeConn,
		Deliver:    s.deliver,
		Logger:     lg,
	})
	s.Bind(s)
	return s
}

func (s *Session) deliver(_ context.Context, _ *command.Model, raw string) error {
	return s.write(websocket.TextMessage, []byte(raw))
}

func (s *Session) write(kind int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(kind, data)
}

func (s *Session) closeConn() error {
	_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

// Run reads from the socket until it fails or the session is closed, then
// closes the session. ctx only scopes the reply callbacks. Text frames are
// decoded as command replies.
func (s *Session) Run(ctx context.Context, onReply ReplyFunc) {
	s.conn.SetPongHandler(func(string) error {
		s.Touch()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(done)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			reason := "connection closed"
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.lg.Warn().Err(err).Msg("read")
				reason = err.Error()
			}
			_ = s.Close(reason)
			return
		}
		s.Touch()
		if kind != websocket.TextMessage || onReply == nil {
			continue
		}

		var r command.Reply
		if err := json.Unmarshal(data, &r); err != nil || r.ID == 0 {
			s.lg.Debug().Str("data", string(data)).Msg("ignore non-reply message")
			continue
		}
		onReply(ctx, &r)
	}
}

func (s *Session) keepAlive(done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				_ = s.Close("ping: " + err.Error())
				return
			}
		}
	}
}
