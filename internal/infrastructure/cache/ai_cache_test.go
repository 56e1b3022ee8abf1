package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*AICache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewAICache(client, Config{
		TTLSuggestions: 5 * time.Minute,
		TTLAnomalies:   time.Hour,
		TTLUserContext: 15 * time.Minute,
		TTLForecasts:   time.Hour,
	}, zap.NewNop())

	return c, mr
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "ai:suggestions:42:abc123", Key(NamespaceSuggestions, "42", "abc123"))
	assert.Equal(t, "ai:forecast:payroll:7", Key(ForecastNamespace("payroll"), "7"))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(map[string]interface{}{"user": "42", "week": "2026-W08"})
	b := Fingerprint(map[string]interface{}{"week": "2026-W08", "user": "42"})

	assert.Len(t, a, 12)
	assert.Equal(t, a, b, "insertion order must not change the digest")

	c := Fingerprint(map[string]interface{}{"user": "42", "week": "2026-W09"})
	assert.NotEqual(t, a, c)
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, NamespaceSuggestions, "42")
	assert.False(t, ok)

	c.Set(ctx, NamespaceSuggestions, `{"items":[]}`, "42")

	val, ok := c.Get(ctx, NamespaceSuggestions, "42")
	require.True(t, ok)
	assert.Equal(t, `{"items":[]}`, val)

	ttl := mr.TTL("ai:suggestions:42")
	assert.Equal(t, 5*time.Minute, ttl)

	c.Invalidate(ctx, NamespaceSuggestions, "42")
	_, ok = c.Get(ctx, NamespaceSuggestions, "42")
	assert.False(t, ok)
}

func TestCacheJSON(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Count int    `json:"count"`
		Name  string `json:"name"`
	}

	c.SetJSON(ctx, NamespaceAnomalies, payload{Count: 3, Name: "long_day"}, "42", "2026-08-24")

	var got payload
	require.True(t, c.GetJSON(ctx, NamespaceAnomalies, &got, "42", "2026-08-24"))
	assert.Equal(t, 3, got.Count)
	assert.Equal(t, "long_day", got.Name)
}

func TestCacheFailsSoftWhenStoreDown(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mr.Close()

	_, ok := c.Get(ctx, NamespaceSuggestions, "42")
	assert.False(t, ok)

	// Writes must not panic or surface errors
	c.Set(ctx, NamespaceSuggestions, "x", "42")
	c.Invalidate(ctx, NamespaceSuggestions, "42")
}

func TestCheckRateLimit(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	window := time.Minute
	limit := 3

	for i := 1; i <= limit; i++ {
		allowed, count := c.CheckRateLimit(ctx, "42", window, limit)
		assert.True(t, allowed, "call %d should be allowed", i)
		assert.Equal(t, i, count)
	}

	allowed, count := c.CheckRateLimit(ctx, "42", window, limit)
	assert.False(t, allowed, "call past the limit must be rejected")
	assert.Equal(t, limit, count, "rejected calls must not advance the counter")

	// Counters are per user
	allowed, count = c.CheckRateLimit(ctx, "99", window, limit)
	assert.True(t, allowed)
	assert.Equal(t, 1, count)

	// A fresh window starts over
	mr.FastForward(window + time.Second)
	allowed, count = c.CheckRateLimit(ctx, "42", window, limit)
	assert.True(t, allowed)
	assert.Equal(t, 1, count)
}

func TestCheckRateLimitFailsOpen(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mr.Close()

	allowed, count := c.CheckRateLimit(ctx, "42", time.Minute, 3)
	assert.True(t, allowed)
	assert.Equal(t, 0, count)
}
