package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliberation-platform/identity/internal/dynamo"
)

// userDynamoDB is the DynamoDB subset used by UserStore.
type userDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
}

// UserStore reads username reservations. It implements username.Checker.
type UserStore struct {
	db        userDynamoDB
	tableName string
}

// NewUserStore creates a UserStore backed by the given DynamoDB client.
func NewUserStore(db userDynamoDB, usernameTable string) *UserStore {
	return &UserStore{db: db, tableName: usernameTable}
}

// UsernameTaken reports whether a username is already reserved. An eventually
// consistent read is enough here: the registration transaction re-checks the
// reservation with a condition.
func (s *UserStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	ctx, span := tracer.Start(ctx, "dynamo.usernames.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:                &s.tableName,
		Key:                      map[string]dynamo.AttributeValue{"username": dynamo.S(username)},
		ProjectionExpression:     dynamo.String("#u"),
		ExpressionAttributeNames: map[string]string{"#u": "username"},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("user store: username taken: %w", err)
	}
	return out.Item != nil, nil
}
