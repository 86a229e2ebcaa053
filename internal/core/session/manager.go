package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"device-remoting/internal/core/bus"
	"device-remoting/internal/core/command"
	"device-remoting/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTopic       = "Commands"
	DefaultClearPeriod = 10 * time.Second
)

var (
	ErrNoPayload   = errors.New("session: command and raw message are both empty")
	ErrInvalidCode = fmt.Errorf("session: device code must be 1..%d characters without '#'", MaxCodeLength-1)
)

// BusFactory creates the bus on first use.
type BusFactory func() (bus.EventBus, error)

type Config struct {
	// Topic carries the command frames of all devices.
	Topic string
	// ClearPeriod is how often dead sessions are reaped. Zero disables the reaper.
	ClearPeriod time.Duration
}

// Manager owns the live session registry of one process.
type Manager struct {
	topic       string
	clearPeriod time.Duration
	newBus      BusFactory
	lg          zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]Session

	initMu     sync.Mutex
	bus        atomic.Pointer[busRef]
	stopReaper context.CancelFunc
	reaperDone chan struct{}
}

type busRef struct{ b bus.EventBus }

func NewManager(cfg Config, newBus BusFactory, lg zerolog.Logger) *Manager {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Manager{
		topic:       cfg.Topic,
		clearPeriod: cfg.ClearPeriod,
		newBus:      newBus,
		lg:          lg.With().Str("component", "session-manager").Logger(),
		sessions:    make(map[string]Session),
	}
}

// Add registers s under its code, replacing (without closing) any previous
// session for the same code. The bus is created first; s is not registered
// when that fails.
func (m *Manager) Add(s Session) error {
	if s == nil || !ValidCode(s.Code()) {
		return ErrInvalidCode
	}
	if _, err := m.ensureBus(); err != nil {
		return err
	}

	m.mu.Lock()
	_, replaced := m.sessions[s.Code()]
	m.sessions[s.Code()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	if replaced {
		m.lg.Warn().Str("code", s.Code()).Msg("session replaced")
	}
	m.ensureReaper()
	return nil
}

// Get returns the session registered for code, or nil.
func (m *Manager) Get(code string) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[code]
}

// Count is the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Deregister removes s if it is still the session registered for its code.
// Sessions receive it as their deregistration callback.
func (m *Manager) Deregister(s Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	if cur, ok := m.sessions[s.Code()]; ok && cur == s {
		delete(m.sessions, s.Code())
	}
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
}

// Bus returns the manager's bus, creating it if needed.
func (m *Manager) Bus() (bus.EventBus, error) { return m.ensureBus() }

func (m *Manager) ensureBus() (bus.EventBus, error) {
	if ref := m.bus.Load(); ref != nil {
		return ref.b, nil
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()
	if ref := m.bus.Load(); ref != nil {
		return ref.b, nil
	}

	b, err := m.newBus()
	if err != nil {
		return nil, fmt.Errorf("session: create bus: %w", err)
	}
	if err := b.Subscribe(m.topic, m.OnMessage); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("session: subscribe %s: %w", m.topic, err)
	}
	m.bus.Store(&busRef{b: b})
	m.lg.Info().Str("topic", m.topic).Msg("bus ready")
	return b, nil
}

func (m *Manager) ensureReaper() {
	if m.clearPeriod <= 0 {
		return
	}
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.stopReaper != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.stopReaper = cancel
	m.reaperDone = make(chan struct{})
	go m.reap(ctx, m.reaperDone)
}

func (m *Manager) reap(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(m.clearPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.RemoveNotAlive()
		}
	}
}

// PublishAsync sends cmd (or raw, when given) to the device with code through
// the bus and returns the number of subscribers notified.
func (m *Manager) PublishAsync(ctx context.Context, code string, cmd *command.Model, raw string) (int, error) {
	if !ValidCode(code) {
		return 0, ErrInvalidCode
	}
	if cmd == nil && raw == "" {
		return 0, ErrNoPayload
	}

	payload := raw
	if cmd != nil {
		if cmd.TraceID == "" {
			cmd.TraceID = traceID(ctx)
		}
		if payload == "" {
			b, err := json.Marshal(cmd)
			if err != nil {
				return 0, fmt.Errorf("session: encode command: %w", err)
			}
			payload = string(b)
		}
	}

	b, err := m.ensureBus()
	if err != nil {
		return 0, err
	}
	n, err := b.Publish(ctx, m.topic, EncodeFrame(code, payload))
	if err != nil {
		metrics.FramesPublished.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.FramesPublished.WithLabelValues("ok").Inc()
	return n, nil
}

// OnMessage routes one bus frame to the local session it addresses. Frames
// that cannot be decoded are logged and dropped.
func (m *Manager) OnMessage(ctx context.Context, frame string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.FramesRouted.WithLabelValues("failed").Inc()
			m.lg.Error().Interface("panic", r).Str("frame", abbrev(frame)).Msg("session panicked handling command")
		}
	}()

	code, payload, ok := SplitFrame(frame)
	if !ok {
		metrics.FramesRouted.WithLabelValues("malformed").Inc()
		m.lg.Warn().Str("frame", abbrev(frame)).Msg("drop frame without device code")
		return
	}

	var cmd command.Model
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		metrics.FramesRouted.WithLabelValues("malformed").Inc()
		m.lg.Error().Err(err).Str("code", code).Str("payload", abbrev(payload)).Msg("drop undecodable command")
		return
	}
	cmd.Normalize()

	s := m.Get(code)
	if s == nil {
		metrics.FramesRouted.WithLabelValues("not_here").Inc()
		return
	}
	err := s.HandleAsync(ctx, &cmd, payload)
	if errors.Is(err, ErrExpired) {
		metrics.FramesRouted.WithLabelValues("expired").Inc()
		return
	}
	if err != nil {
		metrics.FramesRouted.WithLabelValues("failed").Inc()
		m.lg.Error().Err(err).Str("code", code).Int64("id", cmd.ID).Msg("session failed to handle command")
		return
	}
	metrics.FramesRouted.WithLabelValues("delivered").Inc()
}

// RemoveNotAlive evicts sessions that are disposed or inactive. Keys are
// removed first; the sessions are closed afterwards, each on its own.
func (m *Manager) RemoveNotAlive() int {
	m.mu.RLock()
	all := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var candidates []Session
	for _, s := range all {
		if s.Disposed() || !s.Active() {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	// a session replaced during the scan stays
	m.mu.Lock()
	var dead []Session
	for _, s := range candidates {
		if cur, ok := m.sessions[s.Code()]; ok && cur == s {
			delete(m.sessions, s.Code())
			dead = append(dead, s)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	for _, s := range dead {
		m.closeSession(s, "not alive")
	}
	if len(dead) > 0 {
		metrics.SessionsReaped.Add(float64(len(dead)))
		m.lg.Info().Int("removed", len(dead)).Int("remain", n).Msg("reaped sessions")
	}
	return len(dead)
}

func (m *Manager) closeSession(s Session, reason string) {
	defer func() {
		if r := recover(); r != nil {
			m.lg.Error().Interface("panic", r).Str("code", s.Code()).Msg("session close panicked")
		}
	}()
	if s.Disposed() {
		return
	}
	if err := s.Close(reason); err != nil {
		m.lg.Warn().Err(err).Str("code", s.Code()).Msg("session close")
		return
	}
	m.lg.Debug().Str("code", s.Code()).
		Time("created", s.CreatedAt()).Time("last_active", s.LastActive()).
		Str("reason", reason).Msg("session closed")
}

// CloseAll disposes every live session, e.g. at shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.RLock()
	all := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil && !s.Disposed() {
			all = append(all, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range all {
		m.closeSession(s, reason)
	}
}

// Close stops the reaper and releases the bus. Sessions are left alone; call
// CloseAll first when shutting down.
func (m *Manager) Close() error {
	m.initMu.Lock()
	stop, done := m.stopReaper, m.reaperDone
	m.stopReaper, m.reaperDone = nil, nil
	ref := m.bus.Swap(nil)
	m.initMu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if ref != nil {
		return ref.b.Close()
	}
	return nil
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func abbrev(s string) string {
	if len(s) > 128 {
		return s[:128] + "..."
	}
	return s
}
