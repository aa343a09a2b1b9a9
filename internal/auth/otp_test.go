package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/auth"
)

func TestGenerateOTP(t *testing.T) {
	t.Run("produces 6-digit string", func(t *testing.T) {
		otp, err := auth.GenerateOTP()
		require.NoError(t, err)
		assert.Regexp(t, `^\d{6}$`, otp)
		assert.True(t, auth.IsWellFormedCode(otp))
	})

	t.Run("produces different values", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			otp, err := auth.GenerateOTP()
			require.NoError(t, err)
			seen[otp] = true
		}
		assert.Greater(t, len(seen), 90, "expected at least 90 unique codes from 100 draws")
	})
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "000042", auth.FormatCode(42))
	assert.Equal(t, "123456", auth.FormatCode(123456))
	assert.Equal(t, "000000", auth.FormatCode(0))
}

func TestIsWellFormedCode(t *testing.T) {
	for _, s := range []string{"", "12345", "1234567", "12a456", " 123456", "-12345"} {
		assert.False(t, auth.IsWellFormedCode(s), "expected %q to be rejected", s)
	}
	assert.True(t, auth.IsWellFormedCode("007007"))
}

func TestCodeMAC(t *testing.T) {
	pepper := []byte("test-pepper-32-bytes-long-secret")
	sentAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	didWrite := "did:key:zDnaeTestDevice"
	stored := auth.ComputeCodeMAC(pepper, "123456", didWrite, sentAt)

	t.Run("hex HMAC-SHA256", func(t *testing.T) {
		assert.Len(t, stored, 64)
	})

	t.Run("correct code verifies", func(t *testing.T) {
		assert.True(t, auth.VerifyCodeMAC(pepper, "123456", didWrite, sentAt, stored))
	})

	t.Run("location does not matter", func(t *testing.T) {
		local := sentAt.In(time.FixedZone("UTC-5", -5*60*60))
		assert.True(t, auth.VerifyCodeMAC(pepper, "123456", didWrite, local, stored))
	})

	t.Run("mismatches reject", func(t *testing.T) {
		assert.False(t, auth.VerifyCodeMAC(pepper, "654321", didWrite, sentAt, stored))
		assert.False(t, auth.VerifyCodeMAC(pepper, "123456", "did:key:zDnaeOtherDevice", sentAt, stored))
		assert.False(t, auth.VerifyCodeMAC(pepper, "123456", didWrite, sentAt.Add(time.Second), stored))
		assert.False(t, auth.VerifyCodeMAC([]byte("another-pepper-32-bytes-long-sec"), "123456", didWrite, sentAt, stored))
	})
}
