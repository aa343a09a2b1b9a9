package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/domain"
)

func TestGetDeviceStatus_UnknownDevice(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.status(t, didA))
}

func TestGetDeviceStatus_PendingAttemptIsNotADevice(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneP)

	assert.Nil(t, f.status(t, didA))
}

func TestGetDeviceStatus_InvalidIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetDeviceStatus(context.Background(), "not-a-did")

	assert.ErrorIs(t, err, domain.ErrInvalidDeviceIdentity)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	accountID := f.register(t, didA, phoneP)
	f.clock.Advance(time.Hour)

	f.logout(t, didA)

	st := f.status(t, didA)
	require.NotNil(t, st)
	assert.False(t, st.IsLoggedIn)
	assert.Equal(t, accountID, st.AccountID, "the device stays bound to its account")
	assert.Equal(t, testStart.Add(time.Hour), st.SessionExpiry)
	assert.Contains(t, f.logs.String(), "identity.logged_out")
}

func TestLogout_OnlyEndsThatDevice(t *testing.T) {
	f := newFixture(t)
	f.register(t, didA, phoneP)
	f.requestCode(t, didB, phoneP)
	f.verify(t, didB, f.sms.last(t).code)

	f.logout(t, didA)

	assert.False(t, f.status(t, didA).IsLoggedIn)
	assert.True(t, f.status(t, didB).IsLoggedIn)
}

func TestLogout_RequiresSession(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Logout(context.Background(), didA)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	f.register(t, didA, phoneP)
	f.logout(t, didA)

	err = f.svc.Logout(context.Background(), didA)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
