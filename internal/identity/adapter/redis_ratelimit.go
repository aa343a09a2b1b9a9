package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	redisclient "github.com/deliberation-platform/identity/internal/redis"
)

// rateLimitScript atomically increments a counter and sets its TTL on the
// first write, without depending on EXPIRE ... NX (Redis 7.0+).
const rateLimitScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// codeRequestKeyPrefix namespaces per-client code request counters.
const codeRequestKeyPrefix = "auth_req:ip:"

// RateLimiter is a fixed-window request counter backed by Redis. It returns
// Redis errors to the caller, which decides whether to fail open or closed.
type RateLimiter struct {
	cmd    redisclient.Cmdable
	limit  int
	window time.Duration
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window
// and key.
func NewRateLimiter(cmd redisclient.Cmdable, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{cmd: cmd, limit: limit, window: window}
}

// Allow counts one request for clientKey and reports whether it is within
// the limit. On Redis failure it returns (false, err).
func (r *RateLimiter) Allow(ctx context.Context, clientKey string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.allow")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	key := codeRequestKeyPrefix + clientKey
	windowSeconds := int(r.window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	count, err := r.cmd.Eval(ctx, rateLimitScript, []string{key}, windowSeconds).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("rate limit check %q: %w", key, err)
	}

	allowed := count <= int64(r.limit)
	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))
	return allowed, nil
}
