package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva/colocmap/internal/models"
)

func skipIfNoRedis(t *testing.T) *MatrixCache {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := New(Config{Addr: addr, DB: 15, TTL: time.Minute})
	if err != nil {
		t.Skipf("Skipping test, redis not available: %v", err)
		return nil
	}
	return c
}

func TestMatrixCache_SetGetInvalidate(t *testing.T) {
	c := skipIfNoRedis(t)
	if c == nil {
		return
	}
	defer c.Close()

	ctx := context.Background()
	id := uuid.New()

	_, found, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	entry := &Entry{
		Phenotypes: []string{"A", "B"},
		Matrix:     models.CorrelationMatrix{{1, -0.5}, {-0.5, 1}},
	}
	require.NoError(t, c.Set(ctx, id, entry))

	got, found, err := c.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry, got)

	require.NoError(t, c.Invalidate(ctx, id))
	_, found, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKey(t *testing.T) {
	id := uuid.MustParse("6f1c1d5e-3b0a-4d55-9a57-0c3d8f2e9b11")
	assert.Equal(t, "colocmap:matrix:6f1c1d5e-3b0a-4d55-9a57-0c3d8f2e9b11", key(id))
}

func TestNewWithClient_DefaultTTL(t *testing.T) {
	c := NewWithClient(nil, 0)
	assert.Equal(t, DefaultTTL, c.ttl)
}
