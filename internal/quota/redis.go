package quota

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCounter keeps the daily count in Redis so that several processes
// sharing one API key also share one ceiling. Keys carry the UTC date and
// expire at the following midnight, which gives a daily reset for free.
type RedisCounter struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var _ Counter = (*RedisCounter)(nil)

// RedisOption configures RedisCounter.
type RedisOption func(*RedisCounter)

// WithKeyPrefix sets the key prefix (default "pdftrans:quota:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCounter) { c.keyPrefix = prefix }
}

// NewRedisCounter creates a Redis-backed counter on a connected client.
func NewRedisCounter(client goredis.Cmdable, opts ...RedisOption) *RedisCounter {
	c := &RedisCounter{
		client:    client,
		keyPrefix: "pdftrans:quota:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCounter) key(now time.Time) string {
	return c.keyPrefix + now.Format("2006-01-02")
}

// incrScript increments the day's key and sets its expiry on first use.
// KEYS[1] = day key
// ARGV[1] = expire_at (unix seconds)
var incrScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
    redis.call("EXPIREAT", KEYS[1], tonumber(ARGV[1]))
end
return n
`)

// Increment atomically adds one to today's counter.
func (c *RedisCounter) Increment(ctx context.Context) (int64, error) {
	now := c.now().UTC()
	n, err := incrScript.Run(ctx, c.client,
		[]string{c.key(now)},
		nextMidnightUTC(now).Unix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("quota/redis: increment: %w", err)
	}
	return n, nil
}

// Current returns today's count.
func (c *RedisCounter) Current(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, c.key(c.now().UTC())).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota/redis: current: %w", err)
	}
	return n, nil
}
