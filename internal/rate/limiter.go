package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy is a limit per fixed window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one [Limiter.Check].
type Decision struct {
	Allowed      bool
	Count        int64
	Limit        int
	TTLRemaining time.Duration
}

// INCR, then PEXPIRE only when this call created the window (or a previous
// writer died before setting one). Returns {count, pttl}.
const incrWindowScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var incrWindowLua = redis.NewScript(incrWindowScript)

// Limiter is a stateless front for the Redis counters.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

// Check counts one request against key and reports whether it is allowed.
// A store failure is returned as an error wrapping ErrRedisUnavailable and
// must not be read as a block.
func (l *Limiter) Check(ctx context.Context, key string, policy Policy) (Decision, error) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		return Decision{}, ErrInvalidPolicy
	}

	res, err := incrWindowLua.Run(ctx, l.redis, []string{key}, policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	return Decision{
		Allowed:      count <= int64(policy.Limit),
		Count:        count,
		Limit:        policy.Limit,
		TTLRemaining: ttl,
	}, nil
}
