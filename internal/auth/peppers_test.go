package auth_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/domain"
)

func TestDecodePeppers(t *testing.T) {
	v0 := strings.Repeat("a", 32)
	v1 := strings.Repeat("b", 32)

	t.Run("ordered by version", func(t *testing.T) {
		peppers, err := auth.DecodePeppers([]string{
			base64.StdEncoding.EncodeToString([]byte(v0)),
			" " + base64.StdEncoding.EncodeToString([]byte(v1)) + " ",
		})
		require.NoError(t, err)
		require.Len(t, peppers, 2)
		assert.Equal(t, []byte(v1), peppers[1].Expose())
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := auth.DecodePeppers([]string{"not base64!"})
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := auth.DecodePeppers([]string{base64.StdEncoding.EncodeToString([]byte("short"))})
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := auth.DecodePeppers([]string{base64.StdEncoding.EncodeToString(make([]byte, 65))})
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})
}
