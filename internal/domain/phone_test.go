package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/domain"
)

func TestPhoneNumber(t *testing.T) {
	t.Run("valid E.164 numbers", func(t *testing.T) {
		for _, raw := range []string{"+14155552671", "+447911123456", "+1234567", "+123456789012345"} {
			p, err := domain.NewPhoneNumber(raw)
			require.NoError(t, err, "expected %q to be valid", raw)
			assert.Equal(t, raw, p.String())
		}
	})

	t.Run("invalid numbers", func(t *testing.T) {
		for _, raw := range []string{"", "14155552671", "+0123456789", "+123456", "+1234567890123456", "+1415555abcd"} {
			_, err := domain.NewPhoneNumber(raw)
			assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber, "expected %q to be invalid", raw)
		}
	})

	t.Run("error does not echo the number", func(t *testing.T) {
		_, err := domain.NewPhoneNumber("+0987654321")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "0987654321")
	})

	t.Run("last two digits", func(t *testing.T) {
		assert.Equal(t, "71", domain.MustPhoneNumber("+14155552671").LastTwoDigits())
		assert.Equal(t, "", domain.PhoneNumber{}.LastTwoDigits())
	})
}
