// Package command holds the unit of work pushed from the platform to a device
// and the reply a device sends back for it.
package command

import (
	"sync/atomic"
	"time"
)

// Reply statuses reported by devices.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusCancel  = "cancel"
	StatusExpired = "expired"
)

// Model is a command addressed to one device. StartTime and Expire are UTC;
// a zero value on either means no constraint.
type Model struct {
	ID        int64     `json:"id"`
	Command   string    `json:"command"`
	Argument  string    `json:"argument,omitempty"`
	StartTime time.Time `json:"startTime"`
	Expire    time.Time `json:"expire"`
	TraceID   string    `json:"traceId,omitempty"`
}

// Reply correlates back to a Model by ID.
type Reply struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

// Normalize treats any time before year 2000 as unset and moves the rest to UTC.
func (m *Model) Normalize() {
	m.StartTime = normalize(m.StartTime)
	m.Expire = normalize(m.Expire)
}

// Expired reports whether the command has a deadline that lies before now.
func (m *Model) Expired(now time.Time) bool {
	return !m.Expire.IsZero() && now.After(m.Expire)
}

func normalize(t time.Time) time.Time {
	if t.Year() < 2000 {
		return time.Time{}
	}
	return t.UTC()
}

var lastID atomic.Int64

// NextID hands out increasing ids unique within the process, seeded from the
// wall clock so restarts do not reuse recent ids.
func NextID() int64 {
	for {
		prev := lastID.Load()
		next := time.Now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if lastID.CompareAndSwap(prev, next) {
			return next
		}
	}
}
