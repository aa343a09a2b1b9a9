package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/dynamo"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

var _ app.CredentialStore = (*CredentialStore)(nil)

// credentialDynamoDB is the DynamoDB subset used by CredentialStore.
type credentialDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
}

// CredentialStore looks up phone and ZKP credentials by their hashed
// identifier. Both tables are keyed by the identifier, which is what makes
// each identifier belong to at most one account.
type CredentialStore struct {
	db         credentialDynamoDB
	phoneTable string
	zkpTable   string
}

// NewCredentialStore creates a CredentialStore backed by the given DynamoDB client.
func NewCredentialStore(db credentialDynamoDB, phoneTable, zkpTable string) *CredentialStore {
	return &CredentialStore{db: db, phoneTable: phoneTable, zkpTable: zkpTable}
}

// GetPhoneCredential returns the credential for a phone hash or domain.ErrNotFound.
func (s *CredentialStore) GetPhoneCredential(ctx context.Context, phoneHash string) (*app.PhoneCredentialRecord, error) {
	var item phoneCredentialItem
	if err := s.get(ctx, "dynamo.phone_credentials.get", s.phoneTable, "phone_hash", phoneHash, &item); err != nil {
		return nil, fmt.Errorf("credential store: get phone credential: %w", err)
	}
	createdAt, err := dynamo.ParseTime(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("credential store: phone credential: %w", err)
	}
	return &app.PhoneCredentialRecord{
		PhoneHash:          item.PhoneHash,
		AccountID:          item.UserID,
		PepperVersion:      item.PepperVersion,
		CountryCallingCode: item.CountryCallingCode,
		PhoneCountryCode:   item.PhoneCountryCode,
		LastTwoDigits:      item.LastTwoDigits,
		CreatedAt:          createdAt,
	}, nil
}

// GetZKPCredential returns the credential for a nullifier or domain.ErrNotFound.
func (s *CredentialStore) GetZKPCredential(ctx context.Context, nullifier string) (*app.ZKPCredentialRecord, error) {
	var item zkpCredentialItem
	if err := s.get(ctx, "dynamo.zkp_credentials.get", s.zkpTable, "nullifier", nullifier, &item); err != nil {
		return nil, fmt.Errorf("credential store: get zkp credential: %w", err)
	}
	createdAt, err := dynamo.ParseTime(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("credential store: zkp credential: %w", err)
	}
	return &app.ZKPCredentialRecord{
		Nullifier:   item.Nullifier,
		AccountID:   item.UserID,
		Citizenship: item.Citizenship,
		Sex:         item.Sex,
		CreatedAt:   createdAt,
	}, nil
}

func (s *CredentialStore) get(ctx context.Context, spanName, table, keyName, key string, out any) error {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	res, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      &table,
		Key:            map[string]dynamo.AttributeValue{keyName: dynamo.S(key)},
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if res.Item == nil {
		return domain.ErrNotFound
	}
	if err := dynamo.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
