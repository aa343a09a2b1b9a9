package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/dynamo"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

func TestDeviceStore_GetDevice(t *testing.T) {
	now := fixedTime()

	t.Run("success - consistent read and parsed times", func(t *testing.T) {
		stub := &stubDynamo{
			getItemFn: func(_ context.Context, params *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				assert.Equal(t, "devices", *params.TableName)
				require.NotNil(t, params.ConsistentRead)
				assert.True(t, *params.ConsistentRead)
				assert.Equal(t, testDID, keyS(params.Key, "did_write"))

				av, err := dynamo.MarshalMap(toDeviceItem(app.DeviceRecord{
					DIDWrite:      testDID,
					AccountID:     "acc-1",
					UserAgent:     "ua",
					SessionExpiry: domain.SessionExpiryFrom(now),
					CreatedAt:     now,
					UpdatedAt:     now,
				}))
				require.NoError(t, err)
				return &dynamo.GetItemOutput{Item: av}, nil
			},
		}

		dev, err := NewDeviceStore(stub, "devices").GetDevice(context.Background(), testDID)

		require.NoError(t, err)
		assert.Equal(t, "acc-1", dev.AccountID)
		assert.True(t, dev.SessionExpiry.Equal(domain.SessionExpiryFrom(now)))
		assert.True(t, dev.CreatedAt.Equal(now))
	})

	t.Run("missing item - ErrNotFound", func(t *testing.T) {
		stub := &stubDynamo{
			getItemFn: func(_ context.Context, _ *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				return &dynamo.GetItemOutput{}, nil
			},
		}

		_, err := NewDeviceStore(stub, "devices").GetDevice(context.Background(), testDID)

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("dynamo error - wrapped", func(t *testing.T) {
		stub := &stubDynamo{
			getItemFn: func(_ context.Context, _ *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				return nil, errors.New("throughput exceeded")
			},
		}

		_, err := NewDeviceStore(stub, "devices").GetDevice(context.Background(), testDID)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "device store: get device: throughput exceeded")
	})
}

func TestDeviceStore_EndSession(t *testing.T) {
	now := fixedTime()

	t.Run("success - sets session_expiry with existence condition", func(t *testing.T) {
		stub := &stubDynamo{
			updateItemFn: func(_ context.Context, params *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				assert.Equal(t, testDID, keyS(params.Key, "did_write"))
				require.NotNil(t, params.UpdateExpression)
				require.NotNil(t, params.ConditionExpression)
				assert.Contains(t, *params.ConditionExpression, "attribute_exists")
				assert.Contains(t, params.ExpressionAttributeNames, "#0")

				var found bool
				for _, v := range params.ExpressionAttributeValues {
					if s, ok := v.(*dynamo.AttributeValueMemberS); ok && s.Value == "2026-02-10T12:00:00Z" {
						found = true
					}
				}
				assert.True(t, found, "expected timestamp value")
				return &dynamo.UpdateItemOutput{}, nil
			},
		}

		err := NewDeviceStore(stub, "devices").EndSession(context.Background(), testDID, now)

		require.NoError(t, err)
	})

	t.Run("unknown device - ErrNotFound", func(t *testing.T) {
		stub := &stubDynamo{
			updateItemFn: func(_ context.Context, _ *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				return nil, dynamo.ErrConditionalCheckFailed()
			},
		}

		err := NewDeviceStore(stub, "devices").EndSession(context.Background(), testDID, now)

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
