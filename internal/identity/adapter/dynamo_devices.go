package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/dynamo"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

// Compile-time check: DeviceStore satisfies app.DeviceStore.
var _ app.DeviceStore = (*DeviceStore)(nil)

// deviceDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the device store. The *dynamodb.Client satisfies it.
type deviceDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// DeviceStore reads device identities from the devices table.
type DeviceStore struct {
	db        deviceDynamoDB
	tableName string
}

// NewDeviceStore creates a DeviceStore backed by the given DynamoDB client.
func NewDeviceStore(db deviceDynamoDB, tableName string) *DeviceStore {
	return &DeviceStore{db: db, tableName: tableName}
}

// GetDevice retrieves a device by its did:write using a strongly consistent
// read. Returns domain.ErrNotFound when the device is unknown.
func (s *DeviceStore) GetDevice(ctx context.Context, didWrite string) (*app.DeviceRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.devices.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]dynamo.AttributeValue{"did_write": dynamo.S(didWrite)},
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("device store: get device: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("device store: get device: %w", domain.ErrNotFound)
	}

	var item deviceItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("device store: unmarshal device: %w", err)
	}
	rec, err := fromDeviceItem(item)
	if err != nil {
		return nil, fmt.Errorf("device store: %w", err)
	}
	return rec, nil
}

// EndSession sets the session expiry of an existing device to at.
// Returns domain.ErrNotFound when the device is unknown.
func (s *DeviceStore) EndSession(ctx context.Context, didWrite string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.devices.end_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	ts := dynamo.FormatTime(at)
	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(dynamo.Set(dynamo.Name("session_expiry"), dynamo.Value(ts)).
			Set(dynamo.Name("updated_at"), dynamo.Value(ts))).
		WithCondition(dynamo.AttributeExists(dynamo.Name("did_write"))).
		Build()
	if err != nil {
		return fmt.Errorf("device store: build end session expression: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       map[string]dynamo.AttributeValue{"did_write": dynamo.S(didWrite)},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("device store: end session: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("device store: end session: %w", err)
	}
	return nil
}
