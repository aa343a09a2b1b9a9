package port

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/domain"
)

var (
	rateLimitedTotal     metric.Int64Counter
	tokenReplayTotal     metric.Int64Counter
	limiterFailOpenTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("identity/port")

	rateLimitedTotal, _ = m.Int64Counter("security_rate_limited_total",
		metric.WithDescription("Total code requests refused by the per-IP limiter"))
	tokenReplayTotal, _ = m.Int64Counter("security_token_replay_total",
		metric.WithDescription("Total device tokens rejected because their jti was already used"))
	limiterFailOpenTotal, _ = m.Int64Counter("security_ratelimit_fail_open_total",
		metric.WithDescription("Total code requests allowed because the limiter was unavailable"))
}

// TokenVerifier validates a device token. *auth.DeviceVerifier satisfies it.
type TokenVerifier interface {
	Verify(token string) (*auth.DeviceClaims, error)
}

// ReplayGuard claims a token id once. *adapter.ReplayGuard satisfies it.
type ReplayGuard interface {
	Claim(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// RateLimiter counts requests per client key. *adapter.RateLimiter satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, clientKey string) (bool, error)
}

type deviceKey struct{}

func withDevice(ctx context.Context, didWrite string) context.Context {
	return context.WithValue(ctx, deviceKey{}, didWrite)
}

// DeviceFromContext returns the device identity that signed the request.
func DeviceFromContext(ctx context.Context) string {
	did, _ := ctx.Value(deviceKey{}).(string)
	return did
}

// requireDevice authenticates the bearer device token and stores the signing
// device identity in the request context. A token id is accepted once; when
// the replay guard cannot be reached the request is refused.
func (h *AuthHandler) requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := bearerToken(r)
		if token == "" {
			h.writeError(w, r, fmt.Errorf("missing device token: %w", domain.ErrUnauthorized))
			return
		}

		claims, err := h.verifier.Verify(token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		if h.replay != nil {
			ttl := claims.ExpiresAt.Sub(h.clock.Now()) + domain.DeviceTokenClockSkew
			fresh, err := h.replay.Claim(ctx, claims.ID, ttl)
			if err != nil {
				h.logger.ErrorContext(ctx, "device token replay check failed", slog.String("error", err.Error()))
				h.writeError(w, r, fmt.Errorf("device token replay check: %w", domain.ErrUnavailable))
				return
			}
			if !fresh {
				tokenReplayTotal.Add(ctx, 1)
				h.writeError(w, r, fmt.Errorf("device token already used: %w", domain.ErrUnauthorized))
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(withDevice(ctx, claims.DIDWrite())))
	})
}

// limitByClientIP applies the per-IP code request limit. Limiter faults
// let the request through.
func (h *AuthHandler) limitByClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		allowed, err := h.limiter.Allow(ctx, clientIP(r))
		if err != nil {
			limiterFailOpenTotal.Add(ctx, 1)
			h.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			rateLimitedTotal.Add(ctx, 1)
			h.writeError(w, r, fmt.Errorf("too many code requests: %w", domain.ErrRateLimited))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):])
	}
	return ""
}

// clientIP strips the port from RemoteAddr, which chi's RealIP middleware
// has already replaced with the forwarded client address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
