package health

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisChecker probes the cache and rate-limit store. A redis outage
// degrades the service (cache misses, limiter fails open) rather than
// taking it down, so failures report degraded, not unhealthy.
type RedisChecker struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisChecker creates a redis health checker
func NewRedisChecker(client redis.UniversalClient, timeout time.Duration) *RedisChecker {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &RedisChecker{client: client, timeout: timeout}
}

// Name implements Checker
func (c *RedisChecker) Name() string { return "redis" }

// Check pings redis and round-trips one key
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return c.degraded(err, start)
	}

	const probeKey = "ai:health:probe"
	stamp := time.Now().UnixNano()

	if err := c.client.Set(ctx, probeKey, stamp, 10*time.Second).Err(); err != nil {
		return c.degraded(err, start)
	}
	got, err := c.client.Get(ctx, probeKey).Int64()
	if err != nil || got != stamp {
		return c.degraded(err, start)
	}
	c.client.Del(ctx, probeKey)

	return healthyResult(c.Name(), "redis reachable", start)
}

func (c *RedisChecker) degraded(err error, start time.Time) CheckResult {
	result := unhealthyResult(c.Name(), err, start)
	result.Status = StatusDegraded
	result.Message = "cache degraded, serving without it"
	return result
}
