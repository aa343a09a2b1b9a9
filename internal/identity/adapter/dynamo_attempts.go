package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/dynamo"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

var _ app.AttemptStore = (*AttemptStore)(nil)

// attemptDynamoDB is the DynamoDB subset used by AttemptStore.
type attemptDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
}

// AttemptStore persists phone authentication attempts in the
// auth_attempts_phone table, keyed by did_write with a GSI on phone_hash.
type AttemptStore struct {
	db        attemptDynamoDB
	tableName string
	indexName string
}

// NewAttemptStore creates an AttemptStore backed by the given DynamoDB client.
func NewAttemptStore(db attemptDynamoDB, tableName string) *AttemptStore {
	return &AttemptStore{
		db:        db,
		tableName: tableName,
		indexName: attemptsPhoneHashIndex,
	}
}

// GetAttempt retrieves the attempt of a device with a strongly consistent
// read. Returns domain.ErrNotFound when the device has none.
func (s *AttemptStore) GetAttempt(ctx context.Context, didWrite string) (*app.AttemptRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.attempts.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      &s.tableName,
		Key:            attemptKey(didWrite),
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("attempt store: get attempt: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("attempt store: get attempt: %w", domain.ErrNotFound)
	}

	var item attemptItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("attempt store: unmarshal attempt: %w", err)
	}
	rec, err := fromAttemptItem(item)
	if err != nil {
		return nil, fmt.Errorf("attempt store: %w", err)
	}
	return rec, nil
}

// CreateAttempt writes the first attempt of a device. Returns
// domain.ErrConflict when a concurrent request created one first.
func (s *AttemptStore) CreateAttempt(ctx context.Context, record app.AttemptRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.attempts.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	av, err := dynamo.MarshalMap(toAttemptItem(record))
	if err != nil {
		return fmt.Errorf("attempt store: marshal attempt: %w", err)
	}

	condExpr := "attribute_not_exists(did_write)"
	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: &condExpr,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("attempt store: create attempt: %w", domain.ErrConflict)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("attempt store: create attempt: %w", err)
	}
	return nil
}

// ReissueCode overwrites the code, classification and phone fields of an
// existing attempt and resets its guess counter. created_at is preserved.
func (s *AttemptStore) ReissueCode(ctx context.Context, record app.AttemptRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.attempts.reissue_code")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	item := toAttemptItem(record)
	update := dynamo.Set(dynamo.Name("auth_type"), dynamo.Value(item.AuthType)).
		Set(dynamo.Name("user_id"), dynamo.Value(item.UserID)).
		Set(dynamo.Name("code_mac"), dynamo.Value(item.CodeMAC)).
		Set(dynamo.Name("code_expiry"), dynamo.Value(item.CodeExpiry)).
		Set(dynamo.Name("last_otp_sent_at"), dynamo.Value(item.LastOTPSentAt)).
		Set(dynamo.Name("guess_attempts"), dynamo.Value(item.GuessAttempts)).
		Set(dynamo.Name("pepper_version"), dynamo.Value(item.PepperVersion)).
		Set(dynamo.Name("phone_hash"), dynamo.Value(item.PhoneHash)).
		Set(dynamo.Name("last_two_digits"), dynamo.Value(item.LastTwoDigits)).
		Set(dynamo.Name("country_calling_code"), dynamo.Value(item.CountryCallingCode)).
		Set(dynamo.Name("phone_country_code"), dynamo.Value(item.PhoneCountryCode)).
		Set(dynamo.Name("user_agent"), dynamo.Value(item.UserAgent)).
		Set(dynamo.Name("updated_at"), dynamo.Value(item.UpdatedAt))

	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(update).
		WithCondition(dynamo.AttributeExists(dynamo.Name("did_write"))).
		Build()
	if err != nil {
		return fmt.Errorf("attempt store: build reissue expression: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       attemptKey(record.DIDWrite),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("attempt store: reissue code: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("attempt store: reissue code: %w", err)
	}
	return nil
}

// RecordWrongGuess atomically increments guess_attempts and returns the
// value after the increment.
func (s *AttemptStore) RecordWrongGuess(ctx context.Context, didWrite string, at time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "dynamo.attempts.record_wrong_guess")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	updateExpr := "ADD guess_attempts :one SET updated_at = :now"
	condExpr := "attribute_exists(did_write)"

	out, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 attemptKey(didWrite),
		UpdateExpression:    &updateExpr,
		ConditionExpression: &condExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":one": dynamo.N(1),
			":now": dynamo.S(dynamo.FormatTime(at)),
		},
		ReturnValues: dynamo.ReturnValueUpdatedNew,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return 0, fmt.Errorf("attempt store: record wrong guess: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("attempt store: record wrong guess: %w", err)
	}

	n, ok := out.Attributes["guess_attempts"].(*dynamo.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attempt store: record wrong guess: guess_attempts missing from response")
	}
	count, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("attempt store: record wrong guess: parse count: %w", err)
	}
	return count, nil
}

// ExpireCode sets code_expiry to at, making the current code unusable.
func (s *AttemptStore) ExpireCode(ctx context.Context, didWrite string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.attempts.expire_code")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	update, err := expireCodeUpdate(s.tableName, didWrite, at)
	if err != nil {
		return fmt.Errorf("attempt store: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:                 update.TableName,
		Key:                       update.Key,
		UpdateExpression:          update.UpdateExpression,
		ConditionExpression:       update.ConditionExpression,
		ExpressionAttributeNames:  update.ExpressionAttributeNames,
		ExpressionAttributeValues: update.ExpressionAttributeValues,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("attempt store: expire code: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("attempt store: expire code: %w", err)
	}
	return nil
}

// ListAttemptsByPhoneHash queries the phone_hash GSI and follows pagination.
// GSI reads are eventually consistent.
func (s *AttemptStore) ListAttemptsByPhoneHash(ctx context.Context, phoneHash string) ([]app.AttemptRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.attempts.list_by_phone_hash")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "Query"),
	)

	expr, err := dynamo.NewExpressionBuilder().
		WithKeyCondition(dynamo.Key("phone_hash").Equal(dynamo.Value(phoneHash))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("attempt store: build query expression: %w", err)
	}

	var (
		records  []app.AttemptRecord
		startKey map[string]dynamo.AttributeValue
	)
	for {
		out, err := s.db.Query(ctx, &dynamo.QueryInput{
			TableName:                 &s.tableName,
			IndexName:                 &s.indexName,
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("attempt store: query by phone hash: %w", err)
		}

		for _, raw := range out.Items {
			var item attemptItem
			if err := dynamo.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("attempt store: unmarshal attempt: %w", err)
			}
			rec, err := fromAttemptItem(item)
			if err != nil {
				return nil, fmt.Errorf("attempt store: %w", err)
			}
			records = append(records, *rec)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("attempt store: query by phone hash: %w", err)
		}
		startKey = out.LastEvaluatedKey
	}
	span.SetAttributes(attribute.Int("identity.attempt_count", len(records)))
	return records, nil
}

// retireCodeUpdate builds the transition update that retires a claimed code.
// The condition fails unless the attempt still holds that code, unexpired at
// at, with guesses left.
func retireCodeUpdate(tableName, didWrite string, claim app.CodeClaim, at time.Time) (*dynamo.Update, error) {
	ts := dynamo.FormatTime(at)
	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(dynamo.Set(dynamo.Name("code_expiry"), dynamo.Value(ts)).
			Set(dynamo.Name("updated_at"), dynamo.Value(ts))).
		WithCondition(dynamo.AttributeExists(dynamo.Name("did_write")).And(
			dynamo.Name("code_mac").Equal(dynamo.Value(claim.CodeMAC)),
			dynamo.Name("code_expiry").GreaterThan(dynamo.Value(ts)),
			dynamo.Name("guess_attempts").LessThan(dynamo.Value(claim.MaxGuessAttempts)),
		)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build retire code expression: %w", err)
	}
	return &dynamo.Update{
		TableName:                 dynamo.String(tableName),
		Key:                       attemptKey(didWrite),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

func attemptKey(didWrite string) map[string]dynamo.AttributeValue {
	return map[string]dynamo.AttributeValue{"did_write": dynamo.S(didWrite)}
}

// expireCodeUpdate builds the update behind ExpireCode.
func expireCodeUpdate(tableName, didWrite string, at time.Time) (*dynamo.Update, error) {
	ts := dynamo.FormatTime(at)
	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(dynamo.Set(dynamo.Name("code_expiry"), dynamo.Value(ts)).
			Set(dynamo.Name("updated_at"), dynamo.Value(ts))).
		WithCondition(dynamo.AttributeExists(dynamo.Name("did_write"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build expire code expression: %w", err)
	}
	return &dynamo.Update{
		TableName:                 dynamo.String(tableName),
		Key:                       attemptKey(didWrite),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}
