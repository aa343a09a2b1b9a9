package dynamo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/dynamo"
)

func TestNewClientWithEndpoint(t *testing.T) {
	client, err := dynamo.NewClient(context.Background(), dynamo.Config{
		Endpoint: "http://localhost:4566",
		Region:   "eu-central-1",
		Timeout:  5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client)
	require.NotNil(t, client.DB)
}

func TestNewClientWithDefaultEndpoint(t *testing.T) {
	client, err := dynamo.NewClient(context.Background(), dynamo.Config{
		Region:  "eu-central-1",
		Timeout: 5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client.DB)
}

func TestTimeRoundTrip(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2026, 3, 1, 13, 4, 5, 0, loc)

	s := dynamo.FormatTime(in)
	assert.Equal(t, "2026-03-01T12:04:05Z", s)

	out, err := dynamo.ParseTime(s)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
	assert.Equal(t, time.UTC, out.Location())
}

func TestParseTime(t *testing.T) {
	zero, err := dynamo.ParseTime("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = dynamo.ParseTime("yesterday")
	require.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	t.Run("conditional check failed survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("put: %w", dynamo.ErrConditionalCheckFailed())
		assert.True(t, dynamo.IsConditionalCheckFailed(err))
		assert.False(t, dynamo.IsConditionalCheckFailed(errors.New("boom")))
	})

	t.Run("transaction canceled reasons", func(t *testing.T) {
		reasons, ok := dynamo.IsTransactionCanceledException(
			dynamo.ErrTransactionCanceled("None", "", "ConditionalCheckFailed"))
		require.True(t, ok)
		assert.Equal(t, []string{"None", "", "ConditionalCheckFailed"}, reasons)

		_, ok = dynamo.IsTransactionCanceledException(errors.New("boom"))
		assert.False(t, ok)
	})
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, "abc", dynamo.S("abc").Value)
	assert.Equal(t, "42", dynamo.N(42).Value)
}
