package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

func TestMemoryStore_Attempts(t *testing.T) {
	ctx := context.Background()
	now := fixedTime()
	store := NewMemoryStore()

	_, err := store.GetAttempt(ctx, testDID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.CreateAttempt(ctx, sampleAttempt(testDID)))
	assert.ErrorIs(t, store.CreateAttempt(ctx, sampleAttempt(testDID)), domain.ErrConflict)

	n, err := store.RecordWrongGuess(ctx, testDID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.RecordWrongGuess(ctx, testDID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reissued := sampleAttempt(testDID)
	reissued.CodeMAC = "mac-2"
	reissued.CreatedAt = now.Add(time.Hour)
	require.NoError(t, store.ReissueCode(ctx, reissued))

	got, err := store.GetAttempt(ctx, testDID)
	require.NoError(t, err)
	assert.Equal(t, "mac-2", got.CodeMAC)
	assert.Equal(t, 0, got.GuessAttempts)
	assert.True(t, got.CreatedAt.Equal(now), "created_at is preserved")

	require.NoError(t, store.ExpireCode(ctx, testDID, now))
	got, err = store.GetAttempt(ctx, testDID)
	require.NoError(t, err)
	assert.True(t, got.CodeExpiry.Equal(now))

	require.NoError(t, store.CreateAttempt(ctx, sampleAttempt(testOtherID)))
	other := sampleAttempt("did:key:zDnaeTestDeviceThree")
	other.PhoneHash = "hash-2"
	require.NoError(t, store.CreateAttempt(ctx, other))

	list, err := store.ListAttemptsByPhoneHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	assert.ErrorIs(t, store.ReissueCode(ctx, sampleAttempt("did:key:zMissing")), domain.ErrNotFound)
	_, err = store.RecordWrongGuess(ctx, "did:key:zMissing", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_RegisterWithPhone(t *testing.T) {
	ctx := context.Background()
	now := fixedTime()

	t.Run("commits every row and retires the attempt", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateAttempt(ctx, sampleAttempt(testDID)))

		require.NoError(t, store.RegisterWithPhone(ctx, phoneRegistration()))

		dev, err := store.GetDevice(ctx, testDID)
		require.NoError(t, err)
		assert.Equal(t, "acc-1", dev.AccountID)

		cred, err := store.GetPhoneCredential(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", cred.AccountID)

		taken, err := store.UsernameTaken(ctx, "CrispGlacier0007")
		require.NoError(t, err)
		assert.True(t, taken)

		attempt, err := store.GetAttempt(ctx, testDID)
		require.NoError(t, err)
		assert.True(t, attempt.CodeExpiry.Equal(now))
	})

	t.Run("conflict leaves nothing behind", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateAttempt(ctx, sampleAttempt(testDID)))
		require.NoError(t, store.CreateAttempt(ctx, sampleAttempt(testOtherID)))
		require.NoError(t, store.RegisterWithPhone(ctx, phoneRegistration()))

		second := phoneRegistration()
		second.Account = app.AccountRecord{AccountID: "acc-2", Username: "BoldHarbor0001", CreatedAt: now}
		second.Device.DIDWrite = testOtherID
		second.Device.AccountID = "acc-2"
		second.Credential.AccountID = "acc-2"

		err := store.RegisterWithPhone(ctx, second)

		require.ErrorIs(t, err, domain.ErrConflict)
		_, err = store.GetDevice(ctx, testOtherID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		taken, err := store.UsernameTaken(ctx, "BoldHarbor0001")
		require.NoError(t, err)
		assert.False(t, taken)
		attempt, err := store.GetAttempt(ctx, testOtherID)
		require.NoError(t, err)
		assert.True(t, attempt.CodeExpiry.After(now), "attempt untouched")
	})

	t.Run("missing attempt - ErrConflict", func(t *testing.T) {
		store := NewMemoryStore()
		assert.ErrorIs(t, store.RegisterWithPhone(ctx, phoneRegistration()), domain.ErrConflict)
	})

	stale := []struct {
		name   string
		mutate func(a *app.AttemptRecord)
	}{
		{"guess budget spent - ErrCodeNotLive", func(a *app.AttemptRecord) { a.GuessAttempts = sampleClaim().MaxGuessAttempts }},
		{"code expired - ErrCodeNotLive", func(a *app.AttemptRecord) { a.CodeExpiry = now }},
		{"code reissued - ErrCodeNotLive", func(a *app.AttemptRecord) { a.CodeMAC = "mac-2" }},
	}
	for _, tt := range stale {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			attempt := sampleAttempt(testDID)
			tt.mutate(&attempt)
			require.NoError(t, store.CreateAttempt(ctx, attempt))

			err := store.RegisterWithPhone(ctx, phoneRegistration())

			require.ErrorIs(t, err, domain.ErrCodeNotLive)
			_, err = store.GetDevice(ctx, testDID)
			assert.ErrorIs(t, err, domain.ErrNotFound, "nothing committed")
		})
	}
}

func TestMemoryStore_RegisterWithZKP(t *testing.T) {
	ctx := context.Background()
	now := fixedTime()
	store := NewMemoryStore()

	reg := app.ZKPRegistration{
		Account:    app.AccountRecord{AccountID: "acc-1", Username: "CrispGlacier0007", CreatedAt: now},
		Device:     app.DeviceRecord{DIDWrite: testDID, AccountID: "acc-1", SessionExpiry: domain.SessionExpiryFrom(now)},
		Credential: app.ZKPCredentialRecord{Nullifier: "null-1", AccountID: "acc-1"},
		Now:        now,
	}
	require.NoError(t, store.RegisterWithZKP(ctx, reg))

	cred, err := store.GetZKPCredential(ctx, "null-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", cred.AccountID)

	reg.Account = app.AccountRecord{AccountID: "acc-2", Username: "BoldHarbor0001"}
	reg.Device.DIDWrite = testOtherID
	assert.ErrorIs(t, store.RegisterWithZKP(ctx, reg), domain.ErrConflict)
}

func TestMemoryStore_Logins(t *testing.T) {
	ctx := context.Background()
	now := fixedTime()
	store := NewMemoryStore()
	require.NoError(t, store.CreateAttempt(ctx, sampleAttempt(testDID)))
	require.NoError(t, store.RegisterWithPhone(ctx, phoneRegistration()))

	require.NoError(t, store.EndSession(ctx, testDID, now))
	dev, err := store.GetDevice(ctx, testDID)
	require.NoError(t, err)
	assert.True(t, dev.SessionExpiry.Equal(now))

	later := now.Add(time.Minute)
	relogin := app.KnownDeviceLogin{
		DIDWrite:      testDID,
		SessionExpiry: domain.SessionExpiryFrom(later),
		Now:           later,
		RetireCode:    claimIf(true),
	}
	assert.ErrorIs(t, store.LoginKnownDevice(ctx, relogin), domain.ErrCodeNotLive, "code consumed by the registration")
	require.NoError(t, store.ReissueCode(ctx, sampleAttempt(testDID)))
	require.NoError(t, store.LoginKnownDevice(ctx, relogin))
	dev, err = store.GetDevice(ctx, testDID)
	require.NoError(t, err)
	assert.True(t, dev.SessionExpiry.After(later))

	assert.ErrorIs(t, store.LoginKnownDevice(ctx, app.KnownDeviceLogin{DIDWrite: testOtherID, Now: later}), domain.ErrConflict)

	newDev := app.NewDeviceLogin{
		Device: app.DeviceRecord{DIDWrite: testOtherID, AccountID: "acc-1", SessionExpiry: domain.SessionExpiryFrom(later)},
		Now:    later,
	}
	require.NoError(t, store.LoginNewDevice(ctx, newDev))
	assert.ErrorIs(t, store.LoginNewDevice(ctx, newDev), domain.ErrConflict)

	newDev.Device.DIDWrite = "did:key:zDnaeTestDeviceThree"
	newDev.RetireCode = claimIf(true)
	assert.ErrorIs(t, store.LoginNewDevice(ctx, newDev), domain.ErrConflict, "no attempt to retire")

	assert.ErrorIs(t, store.EndSession(ctx, "did:key:zMissing", now), domain.ErrNotFound)
}
