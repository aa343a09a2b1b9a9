package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/observability"
)

// VerifyOTPRequest submits a one-time code for the pending attempt of a device.
type VerifyOTPRequest struct {
	DIDWrite string
	Code     string
}

// VerifyResult is the outcome of a code or proof verification. On success
// AccountID and AuthType describe the committed transition.
type VerifyResult struct {
	Success   bool
	Reason    domain.FailureReason
	AccountID string
	AuthType  domain.AuthType
}

func verifyFailure(ctx context.Context, method domain.AuthMethod, reason domain.FailureReason) *VerifyResult {
	codeVerificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(method)),
		attribute.String("outcome", string(reason)),
	))
	return &VerifyResult{Success: false, Reason: reason}
}

// VerifyPhoneOTP checks a submitted code against the device's attempt and,
// on a match, registers or logs in the device. The classification is
// recomputed from the stored phone hash; what was decided when the code was
// issued is only compared for telemetry.
func (s *AuthService) VerifyPhoneOTP(ctx context.Context, req VerifyOTPRequest) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "identity.verify_phone_otp")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if _, err := domain.NewDIDWrite(req.DIDWrite); err != nil {
		return nil, failSpan(span, err)
	}

	now := domain.NowSeconds(s.clock)

	status, err := s.deviceStatus(ctx, req.DIDWrite, now)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if status != nil && status.IsLoggedIn {
		return verifyFailure(ctx, domain.AuthMethodPhone, domain.ReasonAlreadyLoggedIn), nil
	}

	if !auth.IsWellFormedCode(req.Code) {
		return nil, failSpan(span, fmt.Errorf("code must be %d digits: %w", domain.OTPCodeDigits, domain.ErrInvalidInput))
	}

	attempt, err := s.attempts.GetAttempt(ctx, req.DIDWrite)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, failSpan(span, fmt.Errorf("verify code: %w", domain.ErrNoAuthAttempt))
	}
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("get attempt: %w", err))
	}

	classification, err := s.classify(ctx, req.DIDWrite, attempt.PhoneHash, s.phoneIdentifier())
	if err != nil {
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.String("identity.auth_type", string(classification.Type)))
	s.reportClassificationDrift(ctx, attempt, classification)

	if classification.Type == domain.AuthTypeAssociatedWithAnotherUser {
		return verifyFailure(ctx, domain.AuthMethodPhone, domain.ReasonAssociatedWithAnotherUser), nil
	}

	if !attempt.CodeExpiry.After(now) {
		return verifyFailure(ctx, domain.AuthMethodPhone, domain.ReasonExpiredCode), nil
	}

	pepper, err := s.policy.Peppers.Get(attempt.PepperVersion)
	if err != nil {
		return nil, failSpan(span, err)
	}

	if !auth.VerifyCodeMAC(pepper.Expose(), req.Code, req.DIDWrite, attempt.LastOTPSentAt, attempt.CodeMAC) {
		result, err := s.recordWrongGuess(ctx, req.DIDWrite, now)
		if err != nil {
			return nil, failSpan(span, err)
		}
		logger.InfoContext(ctx, "identity.wrong_guess",
			"did_write", req.DIDWrite,
			"auth_type", string(classification.Type),
			"reason", string(result.Reason),
		)
		return result, nil
	}

	err = s.commitPhoneTransition(ctx, attempt, classification, now)
	if errors.Is(err, domain.ErrCodeNotLive) {
		// The code was retired after the read above.
		logger.InfoContext(ctx, "identity.code_retired_concurrently",
			"did_write", req.DIDWrite,
			"auth_type", string(classification.Type),
		)
		return verifyFailure(ctx, domain.AuthMethodPhone, domain.ReasonExpiredCode), nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "identity.transition_failed",
			"did_write", req.DIDWrite,
			"auth_type", string(classification.Type),
			"error", err,
		)
		return nil, failSpan(span, err)
	}

	codeVerificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(domain.AuthMethodPhone)),
		attribute.String("outcome", "success"),
	))
	logger.InfoContext(ctx, "identity.code_verified",
		"did_write", req.DIDWrite,
		"auth_type", string(classification.Type),
		"account_id", classification.AccountID,
	)

	return &VerifyResult{
		Success:   true,
		AccountID: classification.AccountID,
		AuthType:  classification.Type,
	}, nil
}

// recordWrongGuess persists the failed guess and exhausts the attempt once
// the guess budget is spent.
func (s *AuthService) recordWrongGuess(ctx context.Context, didWrite string, now time.Time) (*VerifyResult, error) {
	guesses, err := s.attempts.RecordWrongGuess(ctx, didWrite, now)
	if err != nil {
		return nil, fmt.Errorf("record wrong guess: %w", err)
	}
	if guesses >= s.policy.MaxGuessAttempts {
		if err := s.attempts.ExpireCode(ctx, didWrite, now); err != nil {
			return nil, fmt.Errorf("expire exhausted code: %w", err)
		}
		return verifyFailure(ctx, domain.AuthMethodPhone, domain.ReasonTooManyWrongGuess), nil
	}
	return verifyFailure(ctx, domain.AuthMethodPhone, domain.ReasonWrongGuess), nil
}

func (s *AuthService) reportClassificationDrift(ctx context.Context, attempt *AttemptRecord, current Classification) {
	if attempt.Type == current.Type && attempt.AccountID == current.AccountID {
		return
	}
	classificationMismatchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("issued_type", string(attempt.Type)),
		attribute.String("current_type", string(current.Type)),
	))
	observability.WithTraceID(ctx, s.logger).WarnContext(ctx, "identity.classification_changed",
		"did_write", attempt.DIDWrite,
		"issued_type", string(attempt.Type),
		"current_type", string(current.Type),
		"issued_account_id", attempt.AccountID,
		"current_account_id", current.AccountID,
	)
}
