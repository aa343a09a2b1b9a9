package phone_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/phone"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		defaultCode string
		wantE164    string
		wantCalling string
		wantRegion  string
	}{
		{"international US", "+1 415-555-2671", "", "+14155552671", "1", "US"},
		{"national with hint", "06 12 34 56 78", "33", "+33612345678", "33", "FR"},
		{"hint with plus", "07911 123456", "+44", "+447911123456", "44", "GB"},
		{"international wins over hint", "+33612345678", "1", "+33612345678", "33", "FR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := phone.Parse(tt.raw, tt.defaultCode)
			require.NoError(t, err)
			assert.Equal(t, tt.wantE164, got.Number.String())
			assert.Equal(t, tt.wantCalling, got.CountryCallingCode)
			assert.Equal(t, tt.wantRegion, got.RegionCode)
			assert.Equal(t, tt.wantE164[len(tt.wantE164)-2:], got.LastTwoDigits)
		})
	}
}

func TestParse_FictionalNumber(t *testing.T) {
	got, err := phone.Parse("+15550000001", "")
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", got.Number.String())
	assert.Equal(t, "1", got.CountryCallingCode)
	assert.Equal(t, "01", got.LastTwoDigits)
}

func TestParse_Errors(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		_, err := phone.Parse("not a number", "1")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	})

	t.Run("national number without hint", func(t *testing.T) {
		_, err := phone.Parse("4155552671", "")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := phone.Parse("+1 555", "")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	})

	t.Run("malformed hint", func(t *testing.T) {
		_, err := phone.Parse("+14155552671", "abc")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("unassigned calling code hint", func(t *testing.T) {
		_, err := phone.Parse("+14155552671", "999")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
