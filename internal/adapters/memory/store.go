// Package memory keeps device state in process memory. It backs
// single-instance deployments without a database, and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"device-remoting/internal/core/devices"
)

type Store struct {
	mu       sync.RWMutex
	nextID   uint
	devices  map[string]devices.Device
	onlines  map[string]devices.Online
	history  []devices.History
	events   []devices.Event
	releases map[string][]*devices.Release
}

func New() *Store {
	return &Store{
		devices:  make(map[string]devices.Device),
		onlines:  make(map[string]devices.Online),
		releases: make(map[string][]*devices.Release),
	}
}

// FindByCode returns a copy; callers save changes back explicitly.
func (s *Store) FindByCode(_ context.Context, code string) (*devices.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[code]
	if !ok {
		return nil, devices.ErrRecordNotFound
	}
	return &d, nil
}

func (s *Store) Save(_ context.Context, d *devices.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		s.nextID++
		d.ID = s.nextID
	}
	s.devices[d.Code] = *d
	return nil
}

func (s *Store) Find(_ context.Context, sessionID string) (*devices.Online, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.onlines[sessionID]
	if !ok {
		return nil, devices.ErrRecordNotFound
	}
	return &o, nil
}

func (s *Store) SaveOnline(_ context.Context, o *devices.Online) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlines[o.SessionID] = *o
	return nil
}

func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.onlines, sessionID)
	return nil
}

func (s *Store) Write(_ context.Context, h *devices.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.ID = uint(len(s.history) + 1)
	s.history = append(s.history, *h)
	return nil
}

func (s *Store) WriteEvents(_ context.Context, events []*devices.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.ID = uint(len(s.events) + 1)
		s.events = append(s.events, *e)
	}
	return nil
}

// Publish adds a release visible to every device on channel.
func (s *Store) Publish(channel string, r *devices.Release) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases[channel] = append(s.releases[channel], r)
}

func (s *Store) Releases(_ context.Context, _ string, channel string) ([]*devices.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*devices.Release(nil), s.releases[channel]...), nil
}

// Onlines lists online records sorted by session id.
func (s *Store) Onlines() []devices.Online {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]devices.Online, 0, len(s.onlines))
	for _, o := range s.onlines {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// History returns the audit trail in write order.
func (s *Store) History() []devices.History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]devices.History(nil), s.history...)
}

func (s *Store) Events() []devices.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]devices.Event(nil), s.events...)
}

// OnlineStore adapts the store to devices.OnlineRepository.
func (s *Store) OnlineStore() devices.OnlineRepository { return onlineStore{s} }

// Stores wires every repository of the store.
func (s *Store) Stores() devices.Stores {
	return devices.Stores{
		Devices:  s,
		Onlines:  s.OnlineStore(),
		History:  s,
		Events:   s,
		Releases: s,
	}
}

type onlineStore struct{ s *Store }

func (o onlineStore) Find(ctx context.Context, sid string) (*devices.Online, error) {
	return o.s.Find(ctx, sid)
}
func (o onlineStore) Save(ctx context.Context, r *devices.Online) error { return o.s.SaveOnline(ctx, r) }
func (o onlineStore) Delete(ctx context.Context, sid string) error    { return o.s.Delete(ctx, sid) }
