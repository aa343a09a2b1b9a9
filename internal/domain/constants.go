package domain

import "time"

// Authentication defaults. Each can be overridden through configuration.
const (
	// One-time codes
	OTPCodeDigits           = 6
	DefaultCodeLifetime     = 5 * time.Minute
	DefaultThrottleInterval = 3 * time.Minute
	DefaultMaxGuessAttempts = 3

	// Sessions never lapse on their own; logout collapses them.
	SessionLifetimeYears = 1000

	// Request limits for code issuance, per client IP
	CodeRequestRateLimitPerIP  = 10
	CodeRequestRateLimitWindow = 15 * time.Minute

	// Device tokens
	DeviceTokenMaxAge     = 5 * time.Minute
	DeviceTokenClockSkew  = 30 * time.Second
	MaxUserAgentLength    = 512
	UsernameAllocAttempts = 10

	// Timeout contracts
	DynamoDBTimeout = 5 * time.Second
	PostgresTimeout = 5 * time.Second
	RedisTimeout    = 2 * time.Second
	SMSTimeout      = 10 * time.Second
	RequestTimeout  = 15 * time.Second

	// Readiness probe budget for dependency pings
	ReadinessTimeout = 2 * time.Second

	// Graceful shutdown
	ShutdownDrainDelay  = 2 * time.Second
	ShutdownHTTPTimeout = 15 * time.Second
	ShutdownOTELTimeout = 5 * time.Second

	// GracefulShutdownTimeout bounds the whole drain sequence.
	GracefulShutdownTimeout = ShutdownDrainDelay + ShutdownHTTPTimeout + ShutdownOTELTimeout
)
