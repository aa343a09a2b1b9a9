package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	redisclient "github.com/deliberation-platform/identity/internal/redis"
)

// seenJTIPrefix is the Redis key prefix for device token ids already used.
const seenJTIPrefix = "device_jti:"

// ReplayGuard rejects device tokens whose jti was already presented. Keys
// live as long as the token could still be accepted.
type ReplayGuard struct {
	cmd redisclient.Cmdable
}

// NewReplayGuard creates a ReplayGuard that uses cmd for Redis operations.
func NewReplayGuard(cmd redisclient.Cmdable) *ReplayGuard {
	return &ReplayGuard{cmd: cmd}
}

// Claim records jti for ttl. It returns (true, nil) the first time a jti is
// claimed, (false, nil) on reuse, and (false, err) on Redis failure, so a
// broken Redis rejects tokens instead of letting replays through.
func (g *ReplayGuard) Claim(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.replay.claim")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	if ttl < time.Second {
		ttl = time.Second
	}

	key := seenJTIPrefix + jti
	ok, err := g.cmd.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("claim jti %q: %w", jti, err)
	}
	return ok, nil
}
