package devices

import (
	"context"
	"sync"
	"time"

	"device-remoting/internal/core/command"
)

type replyKey struct {
	code string
	id   int64
}

// replyWaiter parks senders until the device replies to their command.
type replyWaiter struct {
	mu      sync.Mutex
	pending map[replyKey]chan *command.Reply
}

func newReplyWaiter() *replyWaiter {
	return &replyWaiter{pending: make(map[replyKey]chan *command.Reply)}
}

// register must happen before the command is published so a fast reply is not lost.
func (w *replyWaiter) register(code string, id int64) chan *command.Reply {
	ch := make(chan *command.Reply, 1)
	w.mu.Lock()
	w.pending[replyKey{code, id}] = ch
	w.mu.Unlock()
	return ch
}

func (w *replyWaiter) unregister(code string, id int64) {
	w.mu.Lock()
	delete(w.pending, replyKey{code, id})
	w.mu.Unlock()
}

// wait returns nil on timeout and ctx.Err() on cancellation; either way the
// registration is gone afterwards.
func (w *replyWaiter) wait(ctx context.Context, code string, id int64, ch chan *command.Reply, timeout time.Duration) (*command.Reply, error) {
	defer w.unregister(code, id)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve hands r to a parked sender and reports whether there was one.
func (w *replyWaiter) resolve(code string, r *command.Reply) bool {
	key := replyKey{code, r.ID}
	w.mu.Lock()
	ch, ok := w.pending[key]
	delete(w.pending, key)
	w.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

func (w *replyWaiter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
