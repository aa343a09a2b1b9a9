package app

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/observability"
)

// ZKPProof holds the public outputs of an already verified zero-knowledge
// citizenship proof.
type ZKPProof struct {
	Nullifier   string
	Citizenship string
	Sex         string
}

// VerifyZKPRequest binds an accepted proof to a device identity.
type VerifyZKPRequest struct {
	DIDWrite  string
	UserAgent string
	Proof     ZKPProof
}

// VerifyZKPProof registers or logs in a device with an accepted proof. There
// is no attempt state: the transition is committed immediately.
func (s *AuthService) VerifyZKPProof(ctx context.Context, req VerifyZKPRequest) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "identity.verify_zkp_proof")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if _, err := domain.NewDIDWrite(req.DIDWrite); err != nil {
		return nil, failSpan(span, err)
	}
	if strings.TrimSpace(req.Proof.Nullifier) == "" {
		return nil, failSpan(span, fmt.Errorf("nullifier is required: %w", domain.ErrInvalidInput))
	}

	now := domain.NowSeconds(s.clock)

	status, err := s.deviceStatus(ctx, req.DIDWrite, now)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if status != nil && status.IsLoggedIn {
		return verifyFailure(ctx, domain.AuthMethodZKP, domain.ReasonAlreadyLoggedIn), nil
	}

	classification, err := s.classify(ctx, req.DIDWrite, req.Proof.Nullifier, s.zkpIdentifier())
	if err != nil {
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.String("identity.auth_type", string(classification.Type)))

	if classification.Type == domain.AuthTypeAssociatedWithAnotherUser {
		return verifyFailure(ctx, domain.AuthMethodZKP, domain.ReasonAssociatedWithAnotherUser), nil
	}

	userAgent := truncateUserAgent(req.UserAgent)
	if err := s.commitZKPTransition(ctx, req.DIDWrite, userAgent, req.Proof, classification, now); err != nil {
		logger.ErrorContext(ctx, "identity.transition_failed",
			"did_write", req.DIDWrite,
			"auth_type", string(classification.Type),
			"error", err,
		)
		return nil, failSpan(span, err)
	}

	codeVerificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(domain.AuthMethodZKP)),
		attribute.String("outcome", "success"),
	))
	logger.InfoContext(ctx, "identity.proof_accepted",
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
