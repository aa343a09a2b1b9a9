package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/dynamo"
)

func TestUserStore_UsernameTaken(t *testing.T) {
	tests := []struct {
		name      string
		getItemFn func(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
		want      bool
		errSubstr string
	}{
		{
			name: "taken",
			getItemFn: func(_ context.Context, params *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				assert.Equal(t, "usernames", *params.TableName)
				assert.Equal(t, "CrispGlacier0007", keyS(params.Key, "username"))
				return &dynamo.GetItemOutput{Item: map[string]dynamo.AttributeValue{
					"username": dynamo.S("CrispGlacier0007"),
				}}, nil
			},
			want: true,
		},
		{
			name: "free",
			getItemFn: func(_ context.Context, _ *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				return &dynamo.GetItemOutput{}, nil
			},
			want: false,
		},
		{
			name: "dynamo error",
			getItemFn: func(_ context.Context, _ *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				return nil, errors.New("boom")
			},
			errSubstr: "user store: username taken: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewUserStore(&stubDynamo{getItemFn: tt.getItemFn}, "usernames")

			taken, err := store.UsernameTaken(context.Background(), "CrispGlacier0007")

			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, taken)
		})
	}
}
