package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const keyPrefix = "ai"

// Cache namespaces. Forecast namespaces are parameterized by type via
// ForecastNamespace.
const (
	NamespaceSuggestions = "suggestions"
	NamespaceAnomalies   = "anomalies"
	NamespaceUserContext = "user_context"
)

// ForecastNamespace returns the namespace for one forecast type
// (e.g. "forecast:payroll")
func ForecastNamespace(forecastType string) string {
	return "forecast:" + forecastType
}

// Config fixes the TTL per namespace
type Config struct {
	TTLSuggestions time.Duration
	TTLAnomalies   time.Duration
	TTLUserContext time.Duration
	TTLForecasts   time.Duration
}

// AICache is the shared response cache and rate-limit counter store for
// the AI subsystem. Every backing-store fault degrades: reads miss,
// writes no-op, the rate limiter allows. Callers never see a store error.
type AICache struct {
	client *redis.Client
	config Config
	logger *zap.Logger
}

// NewAICache creates the cache over a shared redis client
func NewAICache(client *redis.Client, config Config, logger *zap.Logger) *AICache {
	return &AICache{
		client: client,
		config: config,
		logger: logger,
	}
}

// Key builds the canonical cache key: ai:<namespace>:<part1>:<part2>:...
func Key(namespace string, parts ...string) string {
	return keyPrefix + ":" + namespace + ":" + strings.Join(parts, ":")
}

// Fingerprint computes a stable 12-hex-digit digest over a structured
// context. Keys are serialized in sorted order so the digest is identical
// across processes.
func Fingerprint(context map[string]interface{}) string {
	// encoding/json sorts map keys, giving a canonical serialization
	serialized, err := json.Marshal(context)
	if err != nil {
		serialized = []byte{}
	}
	digest := sha256.Sum256(serialized)
	return hex.EncodeToString(digest[:])[:12]
}

// Get returns the cached value and whether it was present. Store errors
// are reported as misses.
func (c *AICache) Get(ctx context.Context, namespace string, parts ...string) (string, bool) {
	key := Key(namespace, parts...)

	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("Cache get failed, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", false
	}
	return val, true
}

// GetJSON unmarshals a cached value into dest, reporting presence
func (c *AICache) GetJSON(ctx context.Context, namespace string, dest interface{}, parts ...string) bool {
	val, ok := c.Get(ctx, namespace, parts...)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.logger.Warn("Cache entry unmarshal failed, treating as miss",
			zap.String("namespace", namespace),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Set stores a value under the namespace's TTL. Failures are logged and
// swallowed.
func (c *AICache) Set(ctx context.Context, namespace, value string, parts ...string) {
	key := Key(namespace, parts...)

	if err := c.client.Set(ctx, key, value, c.ttlFor(namespace)).Err(); err != nil {
		c.logger.Warn("Cache set failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// SetJSON marshals and stores a value under the namespace's TTL
func (c *AICache) SetJSON(ctx context.Context, namespace string, value interface{}, parts ...string) {
	serialized, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache value marshal failed",
			zap.String("namespace", namespace),
			zap.Error(err),
		)
		return
	}
	c.Set(ctx, namespace, string(serialized), parts...)
}

// Invalidate removes one entry
func (c *AICache) Invalidate(ctx context.Context, namespace string, parts ...string) {
	key := Key(namespace, parts...)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("Cache invalidate failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// CheckRateLimit applies the windowed counter: the first request of a
// window creates the counter with the window as expiry; requests at or
// above the limit are rejected without incrementing; otherwise the count
// advances. The limiter fails open on store errors; a cache outage must
// not take AI features down with it.
func (c *AICache) CheckRateLimit(ctx context.Context, userID string, window time.Duration, limit int) (bool, int) {
	windowMinutes := int(window.Minutes())
	key := Key("ratelimit", userID, strconv.Itoa(windowMinutes))

	count, err := c.client.Get(ctx, key).Int()
	if err == redis.Nil {
		if err := c.client.Set(ctx, key, 1, window).Err(); err != nil {
			c.logger.Warn("Rate limit counter create failed, allowing",
				zap.String("key", key),
				zap.Error(err),
			)
			return true, 0
		}
		return true, 1
	}
	if err != nil {
		c.logger.Warn("Rate limit read failed, allowing",
			zap.String("key", key),
			zap.Error(err),
		)
		return true, 0
	}

	if count >= limit {
		c.logger.Debug("Rate limit exceeded",
			zap.String("user_id", userID),
			zap.Int("count", count),
			zap.Int("limit", limit),
		)
		return false, count
	}

	newCount, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Warn("Rate limit increment failed, allowing",
			zap.String("key", key),
			zap.Error(err),
		)
		return true, count
	}

	return true, int(newCount)
}

func (c *AICache) ttlFor(namespace string) time.Duration {
	switch {
	case namespace == NamespaceSuggestions:
		return orDefault(c.config.TTLSuggestions, 5*time.Minute)
	case namespace == NamespaceAnomalies:
		return orDefault(c.config.TTLAnomalies, time.Hour)
	case namespace == NamespaceUserContext:
		return orDefault(c.config.TTLUserContext, 15*time.Minute)
	case strings.HasPrefix(namespace, "forecast:"):
		return orDefault(c.config.TTLForecasts, time.Hour)
	default:
		return orDefault(0, 5*time.Minute)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
