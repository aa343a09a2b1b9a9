package domain_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/domain"
)

func TestAccountID(t *testing.T) {
	t.Run("valid UUID", func(t *testing.T) {
		id, err := domain.NewAccountID("3f1c2a4e-8c1d-4a53-9a57-3e0c6a1b2c3d")
		require.NoError(t, err)
		assert.Equal(t, "3f1c2a4e-8c1d-4a53-9a57-3e0c6a1b2c3d", id.String())
		assert.False(t, id.IsZero())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := domain.NewAccountID("")
		assert.ErrorIs(t, err, domain.ErrEmptyID)
	})

	t.Run("not a UUID", func(t *testing.T) {
		_, err := domain.NewAccountID("user-1")
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("generated IDs are unique and valid", func(t *testing.T) {
		a := domain.GenerateAccountID()
		b := domain.GenerateAccountID()
		assert.NotEqual(t, a, b)
		_, err := domain.NewAccountID(a.String())
		assert.NoError(t, err)
	})
}

func TestDIDWrite(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"did:key", "did:key:zDnaerDaTF5BXEavCrfRZEk316dpbLsfPDZ3WJ5hRTPFU2169", false},
		{"did:web", "did:web:example.com", false},
		{"empty", "", true},
		{"did:key without multibase prefix", "did:key:abc", true},
		{"other method", "did:plc:abc", true},
		{"too long", "did:web:" + strings.Repeat("a", domain.MaxDIDLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := domain.NewDIDWrite(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidDeviceIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.raw, d.String())
		})
	}
}
