package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("bus closed")

const queueSize = 1024

type subscriber struct {
	h     Handler
	queue chan string
}

// Memory is the single-process bus. Every subscriber drains its own queue on
// its own goroutine, so each one sees messages in publish order.
type Memory struct {
	mu     sync.RWMutex
	topics map[string][]*subscriber
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	lg     zerolog.Logger
}

func NewMemory(lg zerolog.Logger) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		topics: make(map[string][]*subscriber),
		ctx:    ctx,
		cancel: cancel,
		lg:     lg.With().Str("bus", "memory").Logger(),
	}
}

func (m *Memory) Publish(ctx context.Context, topic, msg string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}

	subs := m.topics[topic]
	for _, s := range subs {
		select {
		case s.queue <- msg:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return len(subs), nil
}

func (m *Memory) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	s := &subscriber{h: h, queue: make(chan string, queueSize)}
	m.topics[topic] = append(m.topics[topic], s)

	m.wg.Add(1)
	go m.drain(topic, s)
	return nil
}

func (m *Memory) drain(topic string, s *subscriber) {
	defer m.wg.Done()
	for msg := range s.queue {
		m.dispatch(topic, s.h, msg)
	}
}

func (m *Memory) dispatch(topic string, h Handler, msg string) {
	defer func() {
		if r := recover(); r != nil {
			m.lg.Error().Interface("panic", r).Str("topic", topic).Msg("subscriber panicked")
		}
	}()
	h(m.ctx, msg)
}

// Close stops accepting messages and waits for queued ones to be handled.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, subs := range m.topics {
		for _, s := range subs {
			close(s.queue)
		}
	}
	m.topics = nil
	m.mu.Unlock()

	m.wg.Wait()
	m.cancel()
	return nil
}
