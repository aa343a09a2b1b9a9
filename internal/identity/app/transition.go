package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deliberation-platform/identity/internal/domain"
)

// commitPhoneTransition applies the session transition of a verified phone
// attempt. Every variant retires the matched code in the same transaction,
// conditional on the code still being live.
func (s *AuthService) commitPhoneTransition(ctx context.Context, attempt *AttemptRecord, cls Classification, now time.Time) error {
	ctx, span := tracer.Start(ctx, "identity.commit_phone_transition")
	defer span.End()
	span.SetAttributes(attribute.String("identity.auth_type", string(cls.Type)))

	sessionExpiry := domain.SessionExpiryFrom(now)
	claim := CodeClaim{CodeMAC: attempt.CodeMAC, MaxGuessAttempts: s.policy.MaxGuessAttempts}

	var err error
	switch cls.Type {
	case domain.AuthTypeRegister:
		var username string
		username, err = s.usernames.Allocate(ctx)
		if err != nil {
			return failSpan(span, fmt.Errorf("allocate username: %w", err))
		}
		err = s.transactor.RegisterWithPhone(ctx, PhoneRegistration{
			Account: AccountRecord{AccountID: cls.AccountID, Username: username, CreatedAt: now},
			Device:  newDevice(attempt.DIDWrite, cls.AccountID, attempt.UserAgent, sessionExpiry, now),
			Credential: PhoneCredentialRecord{
				PhoneHash:          attempt.PhoneHash,
				AccountID:          cls.AccountID,
				PepperVersion:      attempt.PepperVersion,
				CountryCallingCode: attempt.CountryCallingCode,
				PhoneCountryCode:   attempt.PhoneCountryCode,
				LastTwoDigits:      attempt.LastTwoDigits,
				CreatedAt:          now,
			},
			Code: claim,
			Now:  now,
		})
	case domain.AuthTypeLoginKnownDevice:
		err = s.transactor.LoginKnownDevice(ctx, KnownDeviceLogin{
			DIDWrite:      attempt.DIDWrite,
			SessionExpiry: sessionExpiry,
			Now:           now,
			RetireCode:    &claim,
		})
	case domain.AuthTypeLoginNewDevice:
		err = s.transactor.LoginNewDevice(ctx, NewDeviceLogin{
			Device:     newDevice(attempt.DIDWrite, cls.AccountID, attempt.UserAgent, sessionExpiry, now),
			Now:        now,
			RetireCode: &claim,
		})
	default:
		err = fmt.Errorf("no phone transition for %q: %w", cls.Type, domain.ErrInvalidInput)
	}
	if errors.Is(err, domain.ErrCodeNotLive) {
		return fmt.Errorf("%s %s: %w", domain.AuthMethodPhone, cls.Type, err)
	}
	if err != nil {
		return failSpan(span, s.transitionError(ctx, domain.AuthMethodPhone, cls.Type, err))
	}

	s.countTransition(ctx, domain.AuthMethodPhone, cls.Type)
	return nil
}

// commitZKPTransition applies the session transition of an accepted proof.
func (s *AuthService) commitZKPTransition(ctx context.Context, didWrite, userAgent string, proof ZKPProof, cls Classification, now time.Time) error {
	ctx, span := tracer.Start(ctx, "identity.commit_zkp_transition")
	defer span.End()
	span.SetAttributes(attribute.String("identity.auth_type", string(cls.Type)))

	sessionExpiry := domain.SessionExpiryFrom(now)

	var err error
	switch cls.Type {
	case domain.AuthTypeRegister:
		var username string
		username, err = s.usernames.Allocate(ctx)
		if err != nil {
			return failSpan(span, fmt.Errorf("allocate username: %w", err))
		}
		err = s.transactor.RegisterWithZKP(ctx, ZKPRegistration{
			Account: AccountRecord{AccountID: cls.AccountID, Username: username, CreatedAt: now},
			Device:  newDevice(didWrite, cls.AccountID, userAgent, sessionExpiry, now),
			Credential: ZKPCredentialRecord{
				Nullifier:   proof.Nullifier,
				AccountID:   cls.AccountID,
				Citizenship: proof.Citizenship,
				Sex:         proof.Sex,
				CreatedAt:   now,
			},
			Now: now,
		})
	case domain.AuthTypeLoginKnownDevice:
		err = s.transactor.LoginKnownDevice(ctx, KnownDeviceLogin{
			DIDWrite:      didWrite,
			SessionExpiry: sessionExpiry,
			Now:           now,
		})
	case domain.AuthTypeLoginNewDevice:
		err = s.transactor.LoginNewDevice(ctx, NewDeviceLogin{
			Device: newDevice(didWrite, cls.AccountID, userAgent, sessionExpiry, now),
			Now:    now,
		})
	default:
		err = fmt.Errorf("no zkp transition for %q: %w", cls.Type, domain.ErrInvalidInput)
	}
	if err != nil {
		return failSpan(span, s.transitionError(ctx, domain.AuthMethodZKP, cls.Type, err))
	}

	s.countTransition(ctx, domain.AuthMethodZKP, cls.Type)
	return nil
}

func newDevice(didWrite, accountID, userAgent string, sessionExpiry, now time.Time) DeviceRecord {
	return DeviceRecord{
		DIDWrite:      didWrite,
		AccountID:     accountID,
		UserAgent:     userAgent,
		SessionExpiry: sessionExpiry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// transitionError wraps a failed transaction. Conflicts keep their sentinel
// so that callers can retry; the constraint that fired is not exposed.
func (s *AuthService) transitionError(ctx context.Context, method domain.AuthMethod, authType domain.AuthType, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		transactionConflictsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(method)),
			attribute.String("auth_type", string(authType)),
		))
	}
	return fmt.Errorf("%s %s: %w", method, authType, err)
}

func (s *AuthService) countTransition(ctx context.Context, method domain.AuthMethod, authType domain.AuthType) {
	switch authType {
	case domain.AuthTypeRegister:
		registrationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(method))))
	case domain.AuthTypeLoginKnownDevice:
		loginsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(method)),
			attribute.String("device", "known"),
		))
	case domain.AuthTypeLoginNewDevice:
		loginsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(method)),
			attribute.String("device", "new"),
		))
	}
}
