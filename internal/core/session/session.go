// Package session keeps the registry of live device sessions and routes
// command frames from the bus to them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"device-remoting/internal/core/command"

	"github.com/rs/zerolog"
)

// Session is the server-side endpoint of one registered device.
type Session interface {
	Code() string
	Active() bool
	Disposed() bool
	// HandleAsync is called with every command routed to this device,
	// including expired ones; the session decides what to do with them and
	// returns ErrExpired when it skips one.
	HandleAsync(ctx context.Context, cmd *command.Model, raw string) error
	Close(reason string) error
	CreatedAt() time.Time
	LastActive() time.Time
}

// DeliverFunc pushes a command into the device's transport.
type DeliverFunc func(ctx context.Context, cmd *command.Model, raw string) error

var (
	ErrDisposed = errors.New("session disposed")
	// ErrExpired is returned by HandleAsync for commands past their deadline.
	ErrExpired = errors.New("command expired")
)

// Options configures a CommandSession.
type Options struct {
	Code string
	// Timeout is the idle time after which the session reports inactive. Zero disables it.
	Timeout time.Duration
	// Deregister is handed in by the Manager and called once when the session closes.
	Deregister func(Session)
	// Closer releases the underlying transport.
	Closer  func() error
	Deliver DeliverFunc
	Logger  zerolog.Logger
}

// CommandSession is the base session implementation; transports embed it or
// plug a DeliverFunc into it.
type CommandSession struct {
	code       string
	timeout    time.Duration
	deregister func(Session)
	closer     func() error
	deliver    DeliverFunc
	lg         zerolog.Logger
	now        func() time.Time
	self       Session

	mu         sync.Mutex
	created    time.Time
	lastActive time.Time
	disposed   bool
	reason     string
}

func NewCommandSession(opts Options) *CommandSession {
	now := time.Now()
	s := &CommandSession{
		code:       opts.Code,
		timeout:    opts.Timeout,
		deregister: opts.Deregister,
		closer:     opts.Closer,
		deliver:    opts.Deliver,
		lg:         opts.Logger.With().Str("session", opts.Code).Logger(),
		now:        time.Now,
		created:    now,
		lastActive: now,
	}
	s.self = s
	return s
}

// Bind tells the base which outer value is registered with the Manager, so
// deregistration matches it. Embedding types call it from their constructor.
func (s *CommandSession) Bind(outer Session) { s.self = outer }

func (s *CommandSession) Code() string { return s.code }

func (s *CommandSession) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *CommandSession) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch records activity, typically a heartbeat.
func (s *CommandSession) Touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

func (s *CommandSession) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *CommandSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	return s.timeout <= 0 || s.now().Sub(s.lastActive) < s.timeout
}

// CloseReason is the reason passed to Close, empty while open.
func (s *CommandSession) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *CommandSession) HandleAsync(ctx context.Context, cmd *command.Model, raw string) error {
	if s.Disposed() {
		return ErrDisposed
	}
	if cmd != nil && cmd.Expired(s.now()) {
		s.lg.Warn().Int64("id", cmd.ID).Str("command", cmd.Command).
			Time("expire", cmd.Expire).Msg("command expired, not delivered")
		return ErrExpired
	}
	if s.deliver == nil {
		return nil
	}

	if err := s.deliver(ctx, cmd, raw); err != nil {
		return err
	}
	s.Touch()
	return nil
}

// Close disposes the session: the transport is closed first, then the
// manager is told to forget it. Later calls are no-ops.
func (s *CommandSession) Close(reason string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.reason = reason
	s.mu.Unlock()

	var err error
	if s.closer != nil {
		err = s.closer()
	}
	if s.deregister != nil {
		s.deregister(s.self)
	}
	s.lg.Info().Str("reason", reason).Msg("session closed")
	return err
}
