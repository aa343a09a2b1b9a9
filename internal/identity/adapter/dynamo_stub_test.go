package adapter

import (
	"context"
	"time"

	"github.com/deliberation-platform/identity/internal/dynamo"
)

// ---------------------------------------------------------------------------
// Stub: implements every narrow DynamoDB interface used by this package.
// Unset functions panic, which flags calls a test did not expect.
// ---------------------------------------------------------------------------

type stubDynamo struct {
	getItemFn            func(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	putItemFn            func(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	updateItemFn         func(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
	queryFn              func(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	transactWriteItemsFn func(ctx context.Context, params *dynamo.TransactWriteItemsInput, optFns ...func(*dynamo.Options)) (*dynamo.TransactWriteItemsOutput, error)
}

func (s *stubDynamo) GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
	return s.getItemFn(ctx, params, optFns...)
}

func (s *stubDynamo) PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	return s.putItemFn(ctx, params, optFns...)
}

func (s *stubDynamo) UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
	return s.updateItemFn(ctx, params, optFns...)
}

func (s *stubDynamo) Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
	return s.queryFn(ctx, params, optFns...)
}

func (s *stubDynamo) TransactWriteItems(ctx context.Context, params *dynamo.TransactWriteItemsInput, optFns ...func(*dynamo.Options)) (*dynamo.TransactWriteItemsOutput, error) {
	return s.transactWriteItemsFn(ctx, params, optFns...)
}

var (
	_ deviceDynamoDB     = (*stubDynamo)(nil)
	_ credentialDynamoDB = (*stubDynamo)(nil)
	_ attemptDynamoDB    = (*stubDynamo)(nil)
	_ userDynamoDB       = (*stubDynamo)(nil)
	_ txDynamoDB         = (*stubDynamo)(nil)
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const (
	testDID     = "did:key:zDnaeTestDeviceOne"
	testOtherID = "did:key:zDnaeTestDeviceTwo"
)

func fixedTime() time.Time {
	return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
}

func testTables() DynamoTables {
	return DynamoTables{
		Devices:          "devices",
		Users:            "users",
		Usernames:        "usernames",
		PhoneCredentials: "phone_credentials",
		ZKPCredentials:   "zkp_credentials",
		Attempts:         "auth_attempts_phone",
	}
}

// keyS extracts a string key attribute from a DynamoDB key or item map.
func keyS(m map[string]dynamo.AttributeValue, name string) string {
	v, ok := m[name].(*dynamo.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
}
