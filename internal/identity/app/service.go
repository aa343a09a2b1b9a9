package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/domain"
)

var tracer = otel.Tracer("identity/app")

var (
	codeRequestsTotal           metric.Int64Counter
	codeVerificationsTotal      metric.Int64Counter
	registrationsTotal          metric.Int64Counter
	loginsTotal                 metric.Int64Counter
	throttledTotal              metric.Int64Counter
	classificationMismatchTotal metric.Int64Counter
	transactionConflictsTotal   metric.Int64Counter
)

func init() {
	m := otel.Meter("identity/app")

	codeRequestsTotal, _ = m.Int64Counter("identity_code_requests_total",
		metric.WithDescription("Total one-time code requests"))
	codeVerificationsTotal, _ = m.Int64Counter("identity_code_verifications_total",
		metric.WithDescription("Total one-time code verifications by outcome"))
	registrationsTotal, _ = m.Int64Counter("identity_registrations_total",
		metric.WithDescription("Total accounts registered by method"))
	loginsTotal, _ = m.Int64Counter("identity_logins_total",
		metric.WithDescription("Total logins by method and device kind"))
	throttledTotal, _ = m.Int64Counter("security_code_throttled_total",
		metric.WithDescription("Total code requests refused by the per-phone throttle"))
	classificationMismatchTotal, _ = m.Int64Counter("security_classification_mismatch_total",
		metric.WithDescription("Total verifications whose recomputed classification differs from the issued one"))
	transactionConflictsTotal, _ = m.Int64Counter("identity_transaction_conflicts_total",
		metric.WithDescription("Total session transitions aborted by a concurrent write"))
}

// DeviceRecord is a device identity bound to an account.
type DeviceRecord struct {
	DIDWrite      string
	AccountID     string
	UserAgent     string
	SessionExpiry time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountRecord is a user account.
type AccountRecord struct {
	AccountID string
	Username  string
	CreatedAt time.Time
}

// PhoneCredentialRecord binds an account to a hashed phone number.
type PhoneCredentialRecord struct {
	PhoneHash          string
	AccountID          string
	PepperVersion      int
	CountryCallingCode string
	PhoneCountryCode   string
	LastTwoDigits      string
	CreatedAt          time.Time
}

// ZKPCredentialRecord binds an account to a proof nullifier.
type ZKPCredentialRecord struct {
	Nullifier   string
	AccountID   string
	Citizenship string
	Sex         string
	CreatedAt   time.Time
}

// AttemptRecord is the single phone authentication attempt of a device.
// The code itself is never stored, only its MAC.
type AttemptRecord struct {
	DIDWrite           string
	Type               domain.AuthType
	AccountID          string
	CodeMAC            string
	CodeExpiry         time.Time
	LastOTPSentAt      time.Time
	GuessAttempts      int
	PepperVersion      int
	PhoneHash          string
	LastTwoDigits      string
	CountryCallingCode string
	PhoneCountryCode   string
	UserAgent          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CodeClaim names the code a phone transition consumes. The transition
// commits only if, at Now, the device's attempt still carries CodeMAC, has not
// expired and has fewer than MaxGuessAttempts wrong guesses. Otherwise it
// fails with domain.ErrCodeNotLive and nothing is written.
type CodeClaim struct {
	CodeMAC          string
	MaxGuessAttempts int
}

// PhoneRegistration holds the rows created atomically when a phone number
// registers a new account. The claimed code of Device.DIDWrite is retired in
// the same transaction.
type PhoneRegistration struct {
	Account    AccountRecord
	Device     DeviceRecord
	Credential PhoneCredentialRecord
	Code       CodeClaim
	Now        time.Time
}

// ZKPRegistration holds the rows created atomically when a proof registers a
// new account.
type ZKPRegistration struct {
	Account    AccountRecord
	Device     DeviceRecord
	Credential ZKPCredentialRecord
	Now        time.Time
}

// KnownDeviceLogin renews the session of an existing device.
type KnownDeviceLogin struct {
	DIDWrite      string
	SessionExpiry time.Time
	Now           time.Time
	// RetireCode, when set, retires the claimed code in the same transaction.
	RetireCode *CodeClaim
}

// NewDeviceLogin binds a new device to an existing account.
type NewDeviceLogin struct {
	Device     DeviceRecord
	Now        time.Time
	RetireCode *CodeClaim
}

// DeviceStore reads device identities and ends their sessions.
type DeviceStore interface {
	GetDevice(ctx context.Context, didWrite string) (*DeviceRecord, error)
	EndSession(ctx context.Context, didWrite string, at time.Time) error
}

// CredentialStore looks up credentials by their hashed identifier.
type CredentialStore interface {
	GetPhoneCredential(ctx context.Context, phoneHash string) (*PhoneCredentialRecord, error)
	GetZKPCredential(ctx context.Context, nullifier string) (*ZKPCredentialRecord, error)
}

// AttemptStore persists phone authentication attempts, one per device.
type AttemptStore interface {
	GetAttempt(ctx context.Context, didWrite string) (*AttemptRecord, error)
	// CreateAttempt fails with domain.ErrConflict if the device already has one.
	CreateAttempt(ctx context.Context, record AttemptRecord) error
	// ReissueCode overwrites every field of the existing attempt except CreatedAt.
	ReissueCode(ctx context.Context, record AttemptRecord) error
	// RecordWrongGuess durably increments the guess counter and returns the new value.
	RecordWrongGuess(ctx context.Context, didWrite string, at time.Time) (int, error)
	ExpireCode(ctx context.Context, didWrite string, at time.Time) error
	ListAttemptsByPhoneHash(ctx context.Context, phoneHash string) ([]AttemptRecord, error)
}

// AuthTransactor applies session transitions atomically. Any uniqueness
// violation is reported as domain.ErrConflict and a stale code claim as
// domain.ErrCodeNotLive; in both cases nothing is persisted.
type AuthTransactor interface {
	RegisterWithPhone(ctx context.Context, params PhoneRegistration) error
	RegisterWithZKP(ctx context.Context, params ZKPRegistration) error
	LoginKnownDevice(ctx context.Context, params KnownDeviceLogin) error
	LoginNewDevice(ctx context.Context, params NewDeviceLogin) error
}

// UsernameAllocator produces a display name that is not taken yet.
type UsernameAllocator interface {
	Allocate(ctx context.Context) (string, error)
}

// OTPPolicy holds the code issuance and hashing settings. It is fixed for the
// lifetime of the service.
type OTPPolicy struct {
	CodeLifetime     time.Duration
	ThrottleInterval time.Duration
	MaxGuessAttempts int
	// DoSend delivers codes through the SMS provider; otherwise codes are logged.
	DoSend bool
	// TestCode replaces random codes when set. Must not be combined with DoSend.
	TestCode string
	// Peppers are indexed by version; new hashes use the latest version.
	Peppers domain.Peppers
}

// Validate checks the policy for inconsistent settings.
func (p OTPPolicy) Validate() error {
	if p.TestCode != "" && p.DoSend {
		return fmt.Errorf("test code and code delivery are mutually exclusive: %w", domain.ErrInvalidConfiguration)
	}
	if p.TestCode != "" && !auth.IsWellFormedCode(p.TestCode) {
		return fmt.Errorf("test code must be %d digits: %w", domain.OTPCodeDigits, domain.ErrInvalidConfiguration)
	}
	if len(p.Peppers) == 0 {
		return fmt.Errorf("at least one pepper is required: %w", domain.ErrInvalidConfiguration)
	}
	if p.CodeLifetime <= 0 || p.ThrottleInterval <= 0 || p.MaxGuessAttempts <= 0 {
		return fmt.Errorf("code lifetime, throttle interval and max guess attempts must be positive: %w", domain.ErrInvalidConfiguration)
	}
	return nil
}

// DeviceStatus is the session state of a registered device.
type DeviceStatus struct {
	AccountID     string
	SessionExpiry time.Time
	IsLoggedIn    bool
}

// AuthServiceConfig holds the dependencies for AuthService.
type AuthServiceConfig struct {
	Devices     DeviceStore
	Credentials CredentialStore
	Attempts    AttemptStore
	Transactor  AuthTransactor
	Usernames   UsernameAllocator
	SMSProvider auth.SMSProvider
	Policy      OTPPolicy
	Clock       domain.Clock
	Logger      *slog.Logger
}

// AuthService classifies device identities against phone numbers and proofs,
// issues and verifies one-time codes, and commits session transitions.
type AuthService struct {
	devices     DeviceStore
	credentials CredentialStore
	attempts    AttemptStore
	transactor  AuthTransactor
	usernames   UsernameAllocator
	smsProvider auth.SMSProvider
	policy      OTPPolicy
	clock       domain.Clock
	logger      *slog.Logger
}

// NewAuthService creates a new AuthService with the given dependencies.
func NewAuthService(cfg AuthServiceConfig) *AuthService {
	return &AuthService{
		devices:     cfg.Devices,
		credentials: cfg.Credentials,
		attempts:    cfg.Attempts,
		transactor:  cfg.Transactor,
		usernames:   cfg.Usernames,
		smsProvider: cfg.SMSProvider,
		policy:      cfg.Policy,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
}

// pepperVersion is the version used for every new hash.
func (s *AuthService) pepperVersion() int {
	return s.policy.Peppers.Latest()
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
