package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/observability"
)

// GetDeviceStatus returns the session state of a device identity, or nil if
// the device never registered or logged in.
func (s *AuthService) GetDeviceStatus(ctx context.Context, didWrite string) (*DeviceStatus, error) {
	ctx, span := tracer.Start(ctx, "identity.get_device_status")
	defer span.End()

	if _, err := domain.NewDIDWrite(didWrite); err != nil {
		return nil, failSpan(span, err)
	}

	status, err := s.deviceStatus(ctx, didWrite, domain.NowSeconds(s.clock))
	if err != nil {
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.Bool("identity.device_known", status != nil))
	return status, nil
}

func (s *AuthService) deviceStatus(ctx context.Context, didWrite string, now time.Time) (*DeviceStatus, error) {
	device, err := s.devices.GetDevice(ctx, didWrite)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &DeviceStatus{
		AccountID:     device.AccountID,
		SessionExpiry: device.SessionExpiry,
		IsLoggedIn:    device.SessionExpiry.After(now),
	}, nil
}

// Logout ends the session of a logged-in device by collapsing its session
// expiry to now. The device stays bound to its account.
func (s *AuthService) Logout(ctx context.Context, didWrite string) error {
	ctx, span := tracer.Start(ctx, "identity.logout")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if _, err := domain.NewDIDWrite(didWrite); err != nil {
		return failSpan(span, err)
	}

	now := domain.NowSeconds(s.clock)
	status, err := s.deviceStatus(ctx, didWrite, now)
	if err != nil {
		return failSpan(span, err)
	}
	if status == nil || !status.IsLoggedIn {
		return failSpan(span, fmt.Errorf("logout: device is not logged in: %w", domain.ErrUnauthorized))
	}

	if err := s.devices.EndSession(ctx, didWrite, now); err != nil {
		return failSpan(span, fmt.Errorf("end session: %w", err))
	}

	logger.InfoContext(ctx, "identity.logged_out",
		"did_write", didWrite,
		"account_id", status.AccountID,
	)
	return nil
}
