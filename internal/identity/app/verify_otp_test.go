package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/identity/adapter"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

func TestVerifyPhoneOTP_RegistersNewAccount(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneP)
	pending := f.attempt(t, didA)

	out := f.verify(t, didA, f.sms.last(t).code)

	require.True(t, out.Success)
	assert.Equal(t, domain.AuthTypeRegister, out.AuthType)
	assert.Equal(t, pending.AccountID, out.AccountID)

	st := f.status(t, didA)
	require.NotNil(t, st)
	assert.True(t, st.IsLoggedIn)
	assert.Equal(t, out.AccountID, st.AccountID)
	assert.Equal(t, domain.SessionExpiryFrom(testStart), st.SessionExpiry)

	cred, err := f.store.GetPhoneCredential(context.Background(), pending.PhoneHash)
	require.NoError(t, err)
	assert.Equal(t, out.AccountID, cred.AccountID)
	assert.Equal(t, 0, cred.PepperVersion)
	assert.Equal(t, "23", cred.LastTwoDigits)
}

func TestVerifyPhoneOTP_ReplayAfterSuccess(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneP)
	code := f.sms.last(t).code
	require.True(t, f.verify(t, didA, code).Success)

	out := f.verify(t, didA, code)
	assert.False(t, out.Success)
	assert.Equal(t, domain.ReasonAlreadyLoggedIn, out.Reason)

	f.logout(t, didA)

	out = f.verify(t, didA, code)
	assert.False(t, out.Success)
	assert.Equal(t, domain.ReasonExpiredCode, out.Reason)
	assert.False(t, f.status(t, didA).IsLoggedIn)
}

func TestVerifyPhoneOTP_WrongGuessBudget(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneP)
	code := f.sms.last(t).code
	bad := wrongCode(code)

	want := []domain.FailureReason{
		domain.ReasonWrongGuess,
		domain.ReasonWrongGuess,
		domain.ReasonTooManyWrongGuess,
	}
	for i, reason := range want {
		out := f.verify(t, didA, bad)
		assert.False(t, out.Success)
		assert.Equal(t, reason, out.Reason, "guess %d", i+1)
		assert.Equal(t, i+1, f.attempt(t, didA).GuessAttempts)
	}

	out := f.verify(t, didA, code)
	assert.False(t, out.Success)
	assert.Equal(t, domain.ReasonExpiredCode, out.Reason, "the right code is useless once the budget is spent")
	assert.Nil(t, f.status(t, didA))
}

func TestVerifyPhoneOTP_WrongGuessThenRightCode(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneP)
	code := f.sms.last(t).code

	assert.Equal(t, domain.ReasonWrongGuess, f.verify(t, didA, wrongCode(code)).Reason)
	out := f.verify(t, didA, code)

	assert.True(t, out.Success)
}

func TestVerifyPhoneOTP_ExpiredCode(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneP)
	code := f.sms.last(t).code

	f.clock.Advance(5 * time.Minute)
	out := f.verify(t, didA, code)

	assert.False(t, out.Success)
	assert.Equal(t, domain.ReasonExpiredCode, out.Reason)
	assert.Equal(t, 0, f.attempt(t, didA).GuessAttempts, "an expired code does not spend guesses")
}

func TestVerifyPhoneOTP_NewDeviceJoinsAccount(t *testing.T) {
	f := newFixture(t)
	accountID := f.register(t, didA, phoneP)

	f.requestCode(t, didB, phoneP)
	out := f.verify(t, didB, f.sms.last(t).code)

	require.True(t, out.Success)
	assert.Equal(t, domain.AuthTypeLoginNewDevice, out.AuthType)
	assert.Equal(t, accountID, out.AccountID)
	assert.True(t, f.status(t, didA).IsLoggedIn, "other devices keep their session")
	assert.Equal(t, accountID, f.status(t, didB).AccountID)
}

func TestVerifyPhoneOTP_ClassificationRecomputed(t *testing.T) {
	f := newFixture(t)

	// A and B both hold codes for the same number; B registers first.
	f.requestCode(t, didA, phoneP)
	codeA := f.sms.last(t).code
	f.clock.Advance(3 * time.Minute)
	f.requestCode(t, didB, phoneP)
	accountID := f.verify(t, didB, f.sms.last(t).code).AccountID
	require.NotEmpty(t, accountID)

	out := f.verify(t, didA, codeA)

	require.True(t, out.Success)
	assert.Equal(t, domain.AuthTypeLoginNewDevice, out.AuthType)
	assert.Equal(t, accountID, out.AccountID)
	assert.Contains(t, f.logs.String(), "identity.classification_changed")
}

func TestVerifyPhoneOTP_AssociatedWithAnotherUser(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneQ)
	codeQ := f.sms.last(t).code

	// The device binds to a proof-backed account before the code is used.
	_, err := f.svc.VerifyZKPProof(context.Background(), app.VerifyZKPRequest{
		DIDWrite: didA,
		Proof:    app.ZKPProof{Nullifier: "nullifier-a"},
	})
	require.NoError(t, err)
	f.logout(t, didA)

	out := f.verify(t, didA, codeQ)

	assert.False(t, out.Success)
	assert.Equal(t, domain.ReasonAssociatedWithAnotherUser, out.Reason)
	assert.Equal(t, 0, f.attempt(t, didA).GuessAttempts)
}

func TestVerifyPhoneOTP_NoAttempt(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.VerifyPhoneOTP(context.Background(), app.VerifyOTPRequest{DIDWrite: didA, Code: "123456"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoAuthAttempt)
	assert.True(t, domain.IsClientError(err))
}

func TestVerifyPhoneOTP_MalformedCode(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, didA, phoneP)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, err := f.svc.VerifyPhoneOTP(context.Background(), app.VerifyOTPRequest{DIDWrite: didA, Code: code})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "code %q", code)
	}
	assert.Equal(t, 0, f.attempt(t, didA).GuessAttempts, "malformed codes do not spend guesses")
}

func TestVerifyPhoneOTP_LoggedInDeviceWithMalformedCode(t *testing.T) {
	f := newFixture(t)
	f.register(t, didA, phoneP)

	out := f.verify(t, didA, "12")

	assert.False(t, out.Success)
	assert.Equal(t, domain.ReasonAlreadyLoggedIn, out.Reason)
}

// pausingAttempts holds the first GetAttempt of a device until released, so
// a verification can be overtaken between reading its attempt and
// committing.
type pausingAttempts struct {
	app.AttemptStore
	did      string
	once     sync.Once
	freeOnce sync.Once
	read     chan struct{}
	release  chan struct{}
}

func (p *pausingAttempts) free() {
	p.freeOnce.Do(func() { close(p.release) })
}

func newPausingAttempts(store app.AttemptStore, did string) *pausingAttempts {
	return &pausingAttempts{
		AttemptStore: store,
		did:          did,
		read:         make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (p *pausingAttempts) GetAttempt(ctx context.Context, didWrite string) (*app.AttemptRecord, error) {
	a, err := p.AttemptStore.GetAttempt(ctx, didWrite)
	if didWrite == p.did {
		p.once.Do(func() {
			close(p.read)
			<-p.release
		})
	}
	return a, err
}

func TestVerifyPhoneOTP_CodeRetiredWhileVerifying(t *testing.T) {
	tests := []struct {
		name     string
		overtake func(t *testing.T, f *fixture, code string)
	}{
		{
			name: "guess budget exhausted",
			overtake: func(t *testing.T, f *fixture, code string) {
				bad := wrongCode(code)
				assert.Equal(t, domain.ReasonWrongGuess, f.verify(t, didA, bad).Reason)
				assert.Equal(t, domain.ReasonWrongGuess, f.verify(t, didA, bad).Reason)
				assert.Equal(t, domain.ReasonTooManyWrongGuess, f.verify(t, didA, bad).Reason)
			},
		},
		{
			name: "code consumed by another verification",
			overtake: func(t *testing.T, f *fixture, code string) {
				require.True(t, f.verify(t, didA, code).Success)
				f.logout(t, didA)
			},
		},
		{
			name: "code reissued",
			overtake: func(t *testing.T, f *fixture, _ string) {
				f.clock.Advance(4 * time.Minute)
				require.True(t, f.requestNewCode(t, didA, phoneP).Success)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.requestCode(t, didA, phoneP)
			code := f.sms.last(t).code

			gate := newPausingAttempts(f.store, didA)
			t.Cleanup(gate.free)
			paused := f.withService(func(c *app.AuthServiceConfig) { c.Attempts = gate })

			type outcome struct {
				res *app.VerifyResult
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := paused.VerifyPhoneOTP(context.Background(), app.VerifyOTPRequest{DIDWrite: didA, Code: code})
				done <- outcome{res: res, err: err}
			}()

			<-gate.read
			tt.overtake(t, f, code)
			gate.free()
			got := <-done

			require.NoError(t, got.err)
			assert.False(t, got.res.Success, "a retired code must not log the device in")
			assert.Equal(t, domain.ReasonExpiredCode, got.res.Reason)
			if st := f.status(t, didA); st != nil {
				assert.False(t, st.IsLoggedIn)
			}
		})
	}
}

// conflictingTransactor loses every registration race.
type conflictingTransactor struct {
	*adapter.MemoryStore
}

func (conflictingTransactor) RegisterWithPhone(context.Context, app.PhoneRegistration) error {
	return fmt.Errorf("dynamo tx: register_phone: %w", domain.ErrConflict)
}

func TestVerifyPhoneOTP_ConflictIsRetryable(t *testing.T) {
	f := newFixture(t)
	svc := f.withService(func(c *app.AuthServiceConfig) {
		c.Transactor = conflictingTransactor{f.store}
	})
	f.requestCode(t, didA, phoneP)
	code := f.sms.last(t).code

	_, err := svc.VerifyPhoneOTP(context.Background(), app.VerifyOTPRequest{DIDWrite: didA, Code: code})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, domain.IsRetryable(err))
	assert.Nil(t, f.status(t, didA), "nothing is committed on conflict")

	// The code was not consumed, so a retry against healthy storage succeeds.
	out := f.verify(t, didA, code)
	assert.True(t, out.Success)
}

func TestVerifyPhoneOTP_ConcurrentRegistrationsOfOneNumber(t *testing.T) {
	f := newFixture(t)

	f.requestCode(t, didA, phoneP)
	codeA := f.sms.last(t).code
	f.clock.Advance(3 * time.Minute)
	f.requestCode(t, didB, phoneP)
	codeB := f.sms.last(t).code

	first := f.verify(t, didA, codeA)
	second := f.verify(t, didB, codeB)

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, domain.AuthTypeRegister, first.AuthType)
	assert.Equal(t, domain.AuthTypeLoginNewDevice, second.AuthType)
	assert.Equal(t, first.AccountID, second.AccountID)
}
