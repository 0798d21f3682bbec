package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_GetSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, ok, err := m.Get(ctx, "ws", "github", "token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "ws", "github", "token", "gho_123"))

	value, ok, err := m.Get(ctx, "ws", "github", "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gho_123", value)

	require.NoError(t, m.Set(ctx, "ws", "github", "token", "gho_456"))
	value, _, _ = m.Get(ctx, "ws", "github", "token")
	assert.Equal(t, "gho_456", value)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(time.Minute, WithClock(c.Now))

	require.NoError(t, m.Set(ctx, "ws", "aws", "db", "pw"))

	c.Advance(59 * time.Second)
	_, ok, _ := m.Get(ctx, "ws", "aws", "db")
	assert.True(t, ok)

	c.Advance(time.Second)
	_, ok, _ = m.Get(ctx, "ws", "aws", "db")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_KeysDoNotCollide(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(time.Minute)

	require.NoError(t, m.Set(ctx, "ws-a", "github", "token", "a"))
	require.NoError(t, m.Set(ctx, "ws-b", "github", "token", "b"))

	a, _, _ := m.Get(ctx, "ws-a", "github", "token")
	b, _, _ := m.Get(ctx, "ws-b", "github", "token")
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
}

func TestMemory_Invalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(time.Minute)

	require.NoError(t, m.Set(ctx, "ws", "github", "token", "v"))
	require.NoError(t, m.Invalidate(ctx, "ws", "github", "token"))
	require.NoError(t, m.Invalidate(ctx, "ws", "github", "missing"))

	_, ok, _ := m.Get(ctx, "ws", "github", "token")
	assert.False(t, ok)
}

func TestMemory_Purge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(time.Minute, WithClock(c.Now))

	require.NoError(t, m.Set(ctx, "ws", "aws", "old", "v"))
	c.Advance(2 * time.Minute)
	require.NoError(t, m.Set(ctx, "ws", "aws", "new", "v"))

	assert.Equal(t, 1, m.Purge())
	assert.Equal(t, 1, m.Len())
}

func TestMemory_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secret := fmt.Sprintf("s%d", i%5)
			_ = m.Set(ctx, "ws", "p", secret, "v")
			_, _, _ = m.Get(ctx, "ws", "p", secret)
			if i%7 == 0 {
				_ = m.Invalidate(ctx, "ws", "p", secret)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, m.Len(), 5)
}
