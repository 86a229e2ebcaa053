// Package cache puts a short-lived cache in front of the durable online store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"device-remoting/internal/core/devices"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by a Cache for absent keys.
var ErrMiss = errors.New("cache miss")

// Cache is a TTL key/value cache; redis and NATS KV implement it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

const keyPrefix = "online:"

// OnlineStore reads through the cache to the durable store; misses for the
// same key are collapsed into one durable lookup.
type OnlineStore struct {
	cache   Cache
	durable devices.OnlineRepository
	ttl     time.Duration
	group   singleflight.Group
	lg      zerolog.Logger
}

func NewOnlineStore(c Cache, durable devices.OnlineRepository, ttl time.Duration, lg zerolog.Logger) *OnlineStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OnlineStore{
		cache:   c,
		durable: durable,
		ttl:     ttl,
		lg:      lg.With().Str("component", "online-cache").Logger(),
	}
}

func (s *OnlineStore) Find(ctx context.Context, sessionID string) (*devices.Online, error) {
	key := keyPrefix + sessionID
	if b, err := s.cache.Get(ctx, key); err == nil {
		var o devices.Online
		if err := json.Unmarshal(b, &o); err == nil {
			return &o, nil
		}
		s.lg.Warn().Str("key", key).Msg("corrupt cache entry")
	} else if !errors.Is(err, ErrMiss) {
		s.lg.Warn().Err(err).Str("key", key).Msg("cache get")
	}

	v, err, _ := s.group.Do(sessionID, func() (any, error) {
		o, err := s.durable.Find(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s.put(ctx, o)
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	o := *v.(*devices.Online)
	return &o, nil
}

func (s *OnlineStore) Save(ctx context.Context, o *devices.Online) error {
	if err := s.durable.Save(ctx, o); err != nil {
		return err
	}
	s.put(ctx, o)
	return nil
}

func (s *OnlineStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.cache.Del(ctx, keyPrefix+sessionID); err != nil && !errors.Is(err, ErrMiss) {
		s.lg.Warn().Err(err).Str("session", sessionID).Msg("cache del")
	}
	return s.durable.Delete(ctx, sessionID)
}

func (s *OnlineStore) put(ctx context.Context, o *devices.Online) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, keyPrefix+o.SessionID, b, s.ttl); err != nil {
		s.lg.Warn().Err(err).Str("session", o.SessionID).Msg("cache set")
	}
}
