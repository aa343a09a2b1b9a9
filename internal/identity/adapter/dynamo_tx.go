package adapter

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/dynamo"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

var _ app.AuthTransactor = (*Transactor)(nil)

// txDynamoDB is a narrow, consumer-defined interface for DynamoDB transaction
// operations. The *dynamodb.Client satisfies this interface.
type txDynamoDB interface {
	TransactWriteItems(ctx context.Context, params *dynamo.TransactWriteItemsInput, optFns ...func(*dynamo.Options)) (*dynamo.TransactWriteItemsOutput, error)
}

// Transactor applies session transitions as single TransactWriteItems calls.
// Every insert is guarded by attribute_not_exists on the table key and every
// update by attribute_exists, so a lost race cancels the whole transaction.
type Transactor struct {
	db     txDynamoDB
	tables DynamoTables
}

// NewTransactor creates a Transactor backed by the given DynamoDB client.
func NewTransactor(db txDynamoDB, tables DynamoTables) *Transactor {
	return &Transactor{db: db, tables: tables}
}

// retireItemName marks the attempt update whose failed condition means the
// claimed code is no longer live.
const retireItemName = "attempt_retire"

// txItem is a transaction item with a name used in error messages.
type txItem struct {
	name string
	item dynamo.TransactWriteItem
}

// RegisterWithPhone creates the account, its username reservation, the
// device and the phone credential, and retires the device's claimed code.
func (t *Transactor) RegisterWithPhone(ctx context.Context, p app.PhoneRegistration) error {
	items, err := t.accountItems(p.Account, p.Device)
	if err != nil {
		return fmt.Errorf("transactor: register with phone: %w", err)
	}

	cred, err := putNew(t.tables.PhoneCredentials, "phone_hash", phoneCredentialItem{
		PhoneHash:          p.Credential.PhoneHash,
		UserID:             p.Credential.AccountID,
		PepperVersion:      p.Credential.PepperVersion,
		CountryCallingCode: p.Credential.CountryCallingCode,
		PhoneCountryCode:   p.Credential.PhoneCountryCode,
		LastTwoDigits:      p.Credential.LastTwoDigits,
		CreatedAt:          dynamo.FormatTime(p.Credential.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("transactor: register with phone: %w", err)
	}
	retire, err := retireCodeUpdate(t.tables.Attempts, p.Device.DIDWrite, p.Code, p.Now)
	if err != nil {
		return fmt.Errorf("transactor: register with phone: %w", err)
	}

	items = append(items,
		txItem{name: "phone_credential_put", item: cred},
		txItem{name: retireItemName, item: dynamo.TransactWriteItem{Update: retire}},
	)
	return t.execute(ctx, "register with phone", items)
}

// RegisterWithZKP creates the account, its username reservation, the device
// and the ZKP credential.
func (t *Transactor) RegisterWithZKP(ctx context.Context, p app.ZKPRegistration) error {
	items, err := t.accountItems(p.Account, p.Device)
	if err != nil {
		return fmt.Errorf("transactor: register with zkp: %w", err)
	}

	cred, err := putNew(t.tables.ZKPCredentials, "nullifier", zkpCredentialItem{
		Nullifier:   p.Credential.Nullifier,
		UserID:      p.Credential.AccountID,
		Citizenship: p.Credential.Citizenship,
		Sex:         p.Credential.Sex,
		CreatedAt:   dynamo.FormatTime(p.Credential.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("transactor: register with zkp: %w", err)
	}

	items = append(items, txItem{name: "zkp_credential_put", item: cred})
	return t.execute(ctx, "register with zkp", items)
}

// LoginKnownDevice renews the session of an existing device and optionally
// retires its claimed code.
func (t *Transactor) LoginKnownDevice(ctx context.Context, p app.KnownDeviceLogin) error {
	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(dynamo.Set(dynamo.Name("session_expiry"), dynamo.Value(dynamo.FormatTime(p.SessionExpiry))).
			Set(dynamo.Name("updated_at"), dynamo.Value(dynamo.FormatTime(p.Now)))).
		WithCondition(dynamo.AttributeExists(dynamo.Name("did_write"))).
		Build()
	if err != nil {
		return fmt.Errorf("transactor: login known device: build expression: %w", err)
	}

	items := []txItem{{
		name: "device_update",
		item: dynamo.TransactWriteItem{Update: &dynamo.Update{
			TableName:                 dynamo.String(t.tables.Devices),
			Key:                       map[string]dynamo.AttributeValue{"did_write": dynamo.S(p.DIDWrite)},
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}},
	}}

	if p.RetireCode != nil {
		retire, err := retireCodeUpdate(t.tables.Attempts, p.DIDWrite, *p.RetireCode, p.Now)
		if err != nil {
			return fmt.Errorf("transactor: login known device: %w", err)
		}
		items = append(items, txItem{name: retireItemName, item: dynamo.TransactWriteItem{Update: retire}})
	}
	return t.execute(ctx, "login known device", items)
}

// LoginNewDevice binds a new device to an existing account and optionally
// retires its claimed code.
func (t *Transactor) LoginNewDevice(ctx context.Context, p app.NewDeviceLogin) error {
	device, err := putNew(t.tables.Devices, "did_write", toDeviceItem(p.Device))
	if err != nil {
		return fmt.Errorf("transactor: login new device: %w", err)
	}
	items := []txItem{{name: "device_put", item: device}}

	if p.RetireCode != nil {
		retire, err := retireCodeUpdate(t.tables.Attempts, p.Device.DIDWrite, *p.RetireCode, p.Now)
		if err != nil {
			return fmt.Errorf("transactor: login new device: %w", err)
		}
		items = append(items, txItem{name: retireItemName, item: dynamo.TransactWriteItem{Update: retire}})
	}
	return t.execute(ctx, "login new device", items)
}

// accountItems builds the three puts shared by both registrations.
func (t *Transactor) accountItems(account app.AccountRecord, device app.DeviceRecord) ([]txItem, error) {
	user, err := putNew(t.tables.Users, "user_id", userItem{
		UserID:    account.AccountID,
		Username:  account.Username,
		CreatedAt: dynamo.FormatTime(account.CreatedAt),
	})
	if err != nil {
		return nil, err
	}
	name, err := putNew(t.tables.Usernames, "username", usernameItem{
		Username: account.Username,
		UserID:   account.AccountID,
	})
	if err != nil {
		return nil, err
	}
	dev, err := putNew(t.tables.Devices, "did_write", toDeviceItem(device))
	if err != nil {
		return nil, err
	}
	return []txItem{
		{name: "user_put", item: user},
		{name: "username_put", item: name},
		{name: "device_put", item: dev},
	}, nil
}

// putNew builds a Put that fails when an item with the same key exists.
func putNew(table, keyName string, item any) (dynamo.TransactWriteItem, error) {
	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return dynamo.TransactWriteItem{}, fmt.Errorf("marshal %s item: %w", table, err)
	}
	expr, err := dynamo.NewExpressionBuilder().
		WithCondition(dynamo.AttributeNotExists(dynamo.Name(keyName))).
		Build()
	if err != nil {
		return dynamo.TransactWriteItem{}, fmt.Errorf("build %s condition: %w", table, err)
	}
	return dynamo.TransactWriteItem{Put: &dynamo.Put{
		TableName:                dynamo.String(table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	}}, nil
}

func (t *Transactor) execute(ctx context.Context, op string, items []txItem) error {
	ctx, span := tracer.Start(ctx, "dynamo.tx."+strings.ReplaceAll(op, " ", "_"))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "TransactWriteItems"),
		attribute.Int("db.dynamodb.item_count", len(items)),
	)

	transactItems := make([]dynamo.TransactWriteItem, len(items))
	names := make([]string, len(items))
	for i, it := range items {
		transactItems[i] = it.item
		names[i] = it.name
	}

	_, err := t.db.TransactWriteItems(ctx, &dynamo.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		txErr := classifyTxError(err, op, names...)
		span.RecordError(txErr)
		span.SetStatus(codes.Error, txErr.Error())
		return txErr
	}
	return nil
}

// classifyTxError inspects a TransactWriteItems error and wraps it with
// context. For TransactionCanceledException it checks each cancellation
// reason and maps ConditionalCheckFailed and TransactionConflict to
// domain.ErrConflict.
func classifyTxError(err error, op string, itemNames ...string) error {
	reasons, ok := dynamo.IsTransactionCanceledException(err)
	if !ok {
		return fmt.Errorf("transactor: %s: %w", op, err)
	}

	for i, reason := range reasons {
		name := "unknown"
		if i < len(itemNames) {
			name = itemNames[i]
		}
		switch {
		case reason == "ConditionalCheckFailed" && name == retireItemName:
			return fmt.Errorf("transactor: %s: item %d (%s) condition failed: %w",
				op, i, name, domain.ErrCodeNotLive)
		case reason == "ConditionalCheckFailed":
			return fmt.Errorf("transactor: %s: item %d (%s) condition failed: %w",
				op, i, name, domain.ErrConflict)
		case reason == "TransactionConflict":
			return fmt.Errorf("transactor: %s: item %d (%s) concurrent transaction: %w",
				op, i, name, domain.ErrConflict)
		}
	}

	return fmt.Errorf("transactor: %s: transaction canceled: %w", op, err)
}
