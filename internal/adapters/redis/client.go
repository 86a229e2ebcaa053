package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"device-remoting/internal/adapters/cache"
	"device-remoting/internal/core/bus"
	"device-remoting/internal/core/command"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Client struct {
	rdb *goredis.Client
	lg  zerolog.Logger
}

// New connects to redis and checks the connection.
func New(addr string, lg zerolog.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Client{rdb: rdb, lg: lg.With().Str("adapter", "redis").Logger()}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// -------- cache.Cache --------

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrMiss
	}
	return b, err
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// -------- command.Queue --------

// Queue keeps pulled commands in one redis list per device.
type Queue struct {
	c   *Client
	ttl time.Duration
}

var _ command.Queue = (*Queue)(nil)

// Queue returns a command queue whose lists expire after ttl without activity.
func (c *Client) Queue(ttl time.Duration) *Queue { return &Queue{c: c, ttl: ttl} }

func queueKey(code string) string { return "cmdq:" + code }

func (q *Queue) Push(ctx context.Context, code string, cmd *command.Model) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	pipe := q.c.rdb.TxPipeline()
	pipe.RPush(ctx, queueKey(code), b)
	if q.ttl > 0 {
		pipe.Expire(ctx, queueKey(code), q.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) Acquire(ctx context.Context, code string, max int) ([]*command.Model, error) {
	if max <= 0 {
		return nil, nil
	}
	vals, err := q.c.rdb.LPopCount(ctx, queueKey(code), max).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]*command.Model, 0, len(vals))
	for _, v := range vals {
		var m command.Model
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			q.c.lg.Warn().Err(err).Str("code", code).Msg("drop undecodable queued command")
			continue
		}
		m.Normalize()
		out = append(out, &m)
	}
	return out, nil
}

// -------- bus.EventBus --------

// Bus routes frames over redis pub/sub.
type Bus struct {
	c    *Client
	subs []*goredis.PubSub
	ctx  context.Context
	stop context.CancelFunc
}

var _ bus.EventBus = (*Bus)(nil)

func (c *Client) Bus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{c: c, ctx: ctx, stop: cancel}
}

// Publish returns the number of redis subscribers that received msg.
func (b *Bus) Publish(ctx context.Context, topic, msg string) (int, error) {
	n, err := b.c.rdb.Publish(ctx, topic, msg).Result()
	return int(n), err
}

func (b *Bus) Subscribe(topic string, h bus.Handler) error {
	ps := b.c.rdb.Subscribe(b.ctx, topic)
	if _, err := ps.Receive(b.ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.subs = append(b.subs, ps)

	go func() {
		for m := range ps.Channel() {
			h(b.ctx, m.Payload)
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	b.stop()
	var errs []error
	for _, ps := range b.subs {
		errs = append(errs, ps.Close())
	}
	return errors.Join(errs...)
}
