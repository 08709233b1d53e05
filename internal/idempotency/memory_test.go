package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory(time.Hour)
	defer m.Close()
	ctx := context.Background()

	_, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "k", []byte(`{"success":true}`), time.Minute))
	v, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"success":true}`, string(v))

	require.NoError(t, m.Set(ctx, "k", []byte(`{"success":false}`), time.Minute))
	v, _, _ = m.Get(ctx, "k")
	assert.JSONEq(t, `{"success":false}`, string(v), "last writer wins")
}

func TestMemoryExpiryAndCleanup(t *testing.T) {
	m := NewMemory(time.Hour)
	defer m.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))
	now = now.Add(2 * time.Second)

	_, found, _ := m.Get(ctx, "short")
	assert.False(t, found)
	assert.Equal(t, 2, m.Size())

	m.cleanup()
	assert.Equal(t, 1, m.Size())
	_, found, _ = m.Get(ctx, "long")
	assert.True(t, found)
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory(time.Hour)
	defer m.Close()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[0] = 'x'
	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

func TestMemoryCloseTwice(t *testing.T) {
	m := NewMemory(0)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
