package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishOrder(t *testing.T) {
	b := NewMemory(zerolog.Nop())
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	require.NoError(t, b.Subscribe("t", func(_ context.Context, msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}))

	want := make([]string, 100)
	for i := range want {
		want[i] = fmt.Sprintf("m%d", i)
		n, err := b.Publish(ctx, "t", want[i])
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	// Close drains queued messages
	require.NoError(t, b.Close())
	assert.Equal(t, want, got)
}

func TestMemoryPublishCounts(t *testing.T) {
	b := NewMemory(zerolog.Nop())
	defer b.Close()
	ctx := context.Background()

	n, err := b.Publish(ctx, "t", "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	noop := func(context.Context, string) {}
	require.NoError(t, b.Subscribe("t", noop))
	require.NoError(t, b.Subscribe("t", noop))
	require.NoError(t, b.Subscribe("other", noop))

	n, err = b.Publish(ctx, "t", "x")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemorySurvivesPanickingHandler(t *testing.T) {
	b := NewMemory(zerolog.Nop())
	ctx := context.Background()

	done := make(chan string, 1)
	require.NoError(t, b.Subscribe("t", func(_ context.Context, msg string) {
		if msg == "boom" {
			panic("boom")
		}
		done <- msg
	}))

	_, err := b.Publish(ctx, "t", "boom")
	require.NoError(t, err)
	_, err = b.Publish(ctx, "t", "ok")
	require.NoError(t, err)

	select {
	case msg := <-done:
		assert.Equal(t, "ok", msg)
	case <-time.After(time.Second):
		t.Fatal("subscriber stopped after panic")
	}
	require.NoError(t, b.Close())
}

func TestMemoryClosed(t *testing.T) {
	b := NewMemory(zerolog.Nop())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Publish(context.Background(), "t", "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Subscribe("t", func(context.Context, string) {}), ErrClosed)
}
