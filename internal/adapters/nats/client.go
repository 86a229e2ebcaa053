package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"device-remoting/internal/adapters/cache"
	"device-remoting/internal/core/bus"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Alias external types so callers import only our package.
type KeyValue = natsgo.KeyValue

type Client struct {
	nc *natsgo.Conn
	js natsgo.JetStreamContext
	lg zerolog.Logger
}

func New(url string, lg zerolog.Logger) (*Client, error) {
	nc, err := natsgo.Connect(url, natsgo.Name("device-remoting"))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Client{nc: nc, js: js, lg: lg.With().Str("adapter", "nats").Logger()}, nil
}

func (c *Client) Close() { _ = c.nc.Drain() }

// -------- bus.EventBus over core NATS subjects --------

type Bus struct {
	c    *Client
	subs []*natsgo.Subscription
}

var _ bus.EventBus = (*Bus)(nil)

func (c *Client) Bus() *Bus { return &Bus{c: c} }

// Publish cannot see subscribers on core NATS; success counts as one delivery.
func (b *Bus) Publish(_ context.Context, topic, msg string) (int, error) {
	if err := b.c.nc.Publish(topic, []byte(msg)); err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *Bus) Subscribe(topic string, h bus.Handler) error {
	sub, err := b.c.nc.Subscribe(topic, func(m *natsgo.Msg) {
		h(context.Background(), string(m.Data))
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

func (b *Bus) Close() error {
	var errs []error
	for _, s := range b.subs {
		errs = append(errs, s.Unsubscribe())
	}
	return errors.Join(errs...)
}

// -------- Key-value bucket (online record cache) --------

// KVCache implements cache.Cache on a JetStream KV bucket. Entries expire
// with the bucket TTL; the per-call ttl is ignored.
type KVCache struct {
	kv KeyValue
}

var _ cache.Cache = (*KVCache)(nil)

// EnsureBucket idempotently creates the bucket with the given TTL.
func (c *Client) EnsureBucket(name string, ttl time.Duration) (*KVCache, error) {
	kv, err := c.js.KeyValue(name)
	if err == nil {
		return &KVCache{kv: kv}, nil
	}
	if !errors.Is(err, natsgo.ErrBucketNotFound) {
		return nil, err
	}
	kv, err = c.js.CreateKeyValue(&natsgo.KeyValueConfig{
		Bucket:      name,
		Description: "Online device records",
		History:     1,
		TTL:         ttl,
		Replicas:    1,
	})
	if err != nil {
		return nil, err
	}
	c.lg.Info().Str("bucket", name).Dur("ttl", ttl).Msg("kv bucket created")
	return &KVCache{kv: kv}, nil
}

// NATS KV keys may not contain '@' or ':'.
func kvKey(key string) string {
	b := []byte(key)
	for i, ch := range b {
		switch ch {
		case '@', ':', ' ', '*', '>':
			b[i] = '_'
		}
	}
	return string(b)
}

func (k *KVCache) Get(_ context.Context, key string) ([]byte, error) {
	e, err := k.kv.Get(kvKey(key))
	if errors.Is(err, natsgo.ErrKeyNotFound) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return e.Value(), nil
}

func (k *KVCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	_, err := k.kv.Put(kvKey(key), val)
	return err
}

func (k *KVCache) Del(_ context.Context, key string) error {
	err := k.kv.Delete(kvKey(key))
	if errors.Is(err, natsgo.ErrKeyNotFound) {
		return nil
	}
	return err
}
