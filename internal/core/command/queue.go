package command

import (
	"context"
	"sync"
)

// Queue keeps commands for devices that pull them on heartbeat.
type Queue interface {
	Push(ctx context.Context, code string, cmd *Model) error
	// Acquire removes and returns up to max commands queued for code, oldest first.
	Acquire(ctx context.Context, code string, max int) ([]*Model, error)
}

type MemoryQueue struct {
	mu    sync.Mutex
	items map[string][]*Model
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make(map[string][]*Model)}
}

func (q *MemoryQueue) Push(_ context.Context, code string, cmd *Model) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[code] = append(q.items[code], cmd)
	return nil
}

func (q *MemoryQueue) Acquire(_ context.Context, code string, max int) ([]*Model, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.items[code]
	if len(list) == 0 || max <= 0 {
		return nil, nil
	}
	if max > len(list) {
		max = len(list)
	}
	out := make([]*Model, max)
	copy(out, list[:max])
	if rest := list[max:]; len(rest) > 0 {
		q.items[code] = rest
	} else {
		delete(q.items, code)
	}
	return out, nil
}
