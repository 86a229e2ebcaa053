package redis

import (
	"context"
	"testing"
	"time"

	"device-remoting/internal/adapters/cache"
	"device-remoting/internal/core/command"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newContainerClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	c, err := New(endpoint, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisAdapters(t *testing.T) {
	c := newContainerClient(t)
	ctx := context.Background()

	t.Run("cache", func(t *testing.T) {
		_, err := c.Get(ctx, "online:1@ip")
		assert.ErrorIs(t, err, cache.ErrMiss)

		require.NoError(t, c.Set(ctx, "online:1@ip", []byte(`{"pings":1}`), time.Minute))
		b, err := c.Get(ctx, "online:1@ip")
		require.NoError(t, err)
		assert.JSONEq(t, `{"pings":1}`, string(b))

		require.NoError(t, c.Del(ctx, "online:1@ip"))
		_, err = c.Get(ctx, "online:1@ip")
		assert.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("queue", func(t *testing.T) {
		q := c.Queue(time.Minute)
		for _, name := range []string{"a", "b", "c"} {
			require.NoError(t, q.Push(ctx, "D1", &command.Model{ID: 1, Command: name}))
		}

		got, err := q.Acquire(ctx, "D1", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Command)
		assert.Equal(t, "b", got[1].Command)

		got, err = q.Acquire(ctx, "D1", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = q.Acquire(ctx, "D1", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("bus", func(t *testing.T) {
		b := c.Bus()
		defer b.Close()

		got := make(chan string, 1)
		require.NoError(t, b.Subscribe("commands", func(_ context.Context, msg string) { got <- msg }))

		n, err := b.Publish(ctx, "commands", "D1#{}")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		select {
		case msg := <-got:
			assert.Equal(t, "D1#{}", msg)
		case <-time.After(5 * time.Second):
			t.Fatal("no message")
		}
	})
}
