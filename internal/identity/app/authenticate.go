package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/observability"
	"github.com/deliberation-platform/identity/internal/phone"
)

// AuthenticateRequest asks for a one-time code to be sent to a phone number
// on behalf of a device identity.
type AuthenticateRequest struct {
	DIDWrite           string
	PhoneNumber        string
	DefaultCallingCode string
	// IsRequestingNewCode forces a new code even if the current one is still valid.
	IsRequestingNewCode bool
	UserAgent           string
}

// AuthenticateResult is the outcome of AuthenticateAttempt. On failure only
// Reason is set.
type AuthenticateResult struct {
	Success             bool
	Reason              domain.FailureReason
	CodeExpiry          time.Time
	NextCodeSoonestTime time.Time
}

func authenticateFailure(reason domain.FailureReason) *AuthenticateResult {
	return &AuthenticateResult{Success: false, Reason: reason}
}

// AuthenticateAttempt starts or continues the phone authentication of a
// device. Expected refusals (already logged in, number owned by another
// account, throttled) are returned as unsuccessful results.
func (s *AuthService) AuthenticateAttempt(ctx context.Context, req AuthenticateRequest) (*AuthenticateResult, error) {
	ctx, span := tracer.Start(ctx, "identity.authenticate_attempt")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)
	codeRequestsTotal.Add(ctx, 1)

	if _, err := domain.NewDIDWrite(req.DIDWrite); err != nil {
		return nil, failSpan(span, err)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, failSpan(span, err)
	}

	now := domain.NowSeconds(s.clock)

	status, err := s.deviceStatus(ctx, req.DIDWrite, now)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if status != nil && status.IsLoggedIn {
		return authenticateFailure(domain.ReasonAlreadyLoggedIn), nil
	}

	parsed, err := phone.Parse(req.PhoneNumber, req.DefaultCallingCode)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if parsed.RegionCode == "" {
		logger.WarnContext(ctx, "identity.phone_country_unknown",
			"did_write", req.DIDWrite,
			"country_calling_code", parsed.CountryCallingCode,
		)
	}

	version := s.pepperVersion()
	phoneHash, err := auth.HashPhone(parsed.Number, s.policy.Peppers, version)
	if err != nil {
		return nil, failSpan(span, err)
	}

	classification, err := s.classify(ctx, req.DIDWrite, phoneHash, s.phoneIdentifier())
	if err != nil {
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.String("identity.auth_type", string(classification.Type)))
	if classification.Type == domain.AuthTypeAssociatedWithAnotherUser {
		return authenticateFailure(domain.ReasonAssociatedWithAnotherUser), nil
	}

	existing, err := s.attempts.GetAttempt(ctx, req.DIDWrite)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, failSpan(span, fmt.Errorf("get attempt: %w", err))
	}

	if existing != nil && !req.IsRequestingNewCode && existing.CodeExpiry.After(now) {
		return &AuthenticateResult{
			Success:             true,
			CodeExpiry:          existing.CodeExpiry,
			NextCodeSoonestTime: existing.LastOTPSentAt.Add(s.policy.ThrottleInterval),
		}, nil
	}

	result, err := s.issueCode(ctx, codeIssue{
		didWrite:       req.DIDWrite,
		userAgent:      truncateUserAgent(req.UserAgent),
		parsed:         parsed,
		phoneHash:      phoneHash,
		pepperVersion:  version,
		classification: classification,
		existing:       existing,
		now:            now,
	})
	if err != nil {
		return nil, failSpan(span, err)
	}
	if !result.Success {
		return result, nil
	}

	logger.InfoContext(ctx, "identity.code_issued",
		"did_write", req.DIDWrite,
		"auth_type", string(classification.Type),
		"account_id", classification.AccountID,
		"code_expiry", result.CodeExpiry,
		"regenerated", existing != nil,
	)
	return result, nil
}

type codeIssue struct {
	didWrite       string
	userAgent      string
	parsed         phone.Parsed
	phoneHash      string
	pepperVersion  int
	classification Classification
	existing       *AttemptRecord
	now            time.Time
}

// issueCode generates, delivers and stores a new code, unless the phone
// number is throttled. The code is delivered before it is stored; a delivery
// failure leaves the previous attempt untouched.
func (s *AuthService) issueCode(ctx context.Context, in codeIssue) (*AuthenticateResult, error) {
	throttled, err := s.isThrottled(ctx, in.parsed.Number, in.now)
	if err != nil {
		return nil, err
	}
	if throttled {
		throttledTotal.Add(ctx, 1)
		observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "identity.code_throttled",
			"did_write", in.didWrite,
		)
		return authenticateFailure(domain.ReasonThrottled), nil
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}

	codeExpiry := in.now.Add(s.policy.CodeLifetime)
	if err := s.deliverCode(ctx, in.didWrite, in.parsed.Number, code, codeExpiry); err != nil {
		return nil, err
	}

	pepper, err := s.policy.Peppers.Get(in.pepperVersion)
	if err != nil {
		return nil, err
	}

	record := AttemptRecord{
		DIDWrite:           in.didWrite,
		Type:               in.classification.Type,
		AccountID:          in.classification.AccountID,
		CodeMAC:            auth.ComputeCodeMAC(pepper.Expose(), code, in.didWrite, in.now),
		CodeExpiry:         codeExpiry,
		LastOTPSentAt:      in.now,
		GuessAttempts:      0,
		PepperVersion:      in.pepperVersion,
		PhoneHash:          in.phoneHash,
		LastTwoDigits:      in.parsed.LastTwoDigits,
		CountryCallingCode: in.parsed.CountryCallingCode,
		PhoneCountryCode:   in.parsed.RegionCode,
		UserAgent:          in.userAgent,
		CreatedAt:          in.now,
		UpdatedAt:          in.now,
	}

	if in.existing == nil {
		if err := s.attempts.CreateAttempt(ctx, record); err != nil {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
	} else {
		if err := s.attempts.ReissueCode(ctx, record); err != nil {
			return nil, fmt.Errorf("reissue code: %w", err)
		}
	}

	return &AuthenticateResult{
		Success:             true,
		CodeExpiry:          codeExpiry,
		NextCodeSoonestTime: in.now.Add(s.policy.ThrottleInterval),
	}, nil
}

// isThrottled reports whether any device received a code for this phone
// number less than one throttle interval ago that is still live. A code whose expiry no longer equals
// sentAt + lifetime was consumed or exhausted and does not count. Hashes
// under every configured pepper version are checked, so that a pepper
// rotation does not reset the throttle.
func (s *AuthService) isThrottled(ctx context.Context, number domain.PhoneNumber, now time.Time) (bool, error) {
	hashes, err := auth.HashPhoneAllVersions(number, s.policy.Peppers)
	if err != nil {
		return false, err
	}
	windowStart := now.Add(-s.policy.ThrottleInterval)
	for _, h := range hashes {
		attempts, err := s.attempts.ListAttemptsByPhoneHash(ctx, h)
		if err != nil {
			return false, fmt.Errorf("list attempts by phone hash: %w", err)
		}
		for _, a := range attempts {
			if a.LastOTPSentAt.After(windowStart) && a.CodeExpiry.Equal(a.LastOTPSentAt.Add(s.policy.CodeLifetime)) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *AuthService) newCode() (string, error) {
	if s.policy.TestCode != "" {
		if s.policy.DoSend {
			return "", fmt.Errorf("test code cannot be sent: %w", domain.ErrInvalidConfiguration)
		}
		return s.policy.TestCode, nil
	}
	return auth.GenerateOTP()
}

func (s *AuthService) deliverCode(ctx context.Context, didWrite string, number domain.PhoneNumber, code string, expiry time.Time) error {
	if !s.policy.DoSend {
		observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "identity.code_not_sent",
			"did_write", didWrite,
			"code", code,
			"code_expiry", expiry,
		)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, domain.SMSTimeout)
	defer cancel()
	if err := s.smsProvider.SendOTP(sendCtx, number.String(), code); err != nil {
		return fmt.Errorf("deliver code: %w", errors.Join(err, domain.ErrUnavailable))
	}
	return nil
}

func truncateUserAgent(ua string) string {
	if len(ua) > domain.MaxUserAgentLength {
		return ua[:domain.MaxUserAgentLength]
	}
	return ua
}
