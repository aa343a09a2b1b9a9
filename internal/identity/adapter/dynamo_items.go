package adapter

import (
	"fmt"
	"time"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/dynamo"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

// DynamoTables names the DynamoDB tables used by the identity service.
type DynamoTables struct {
	Devices          string
	Users            string
	Usernames        string
	PhoneCredentials string
	ZKPCredentials   string
	Attempts         string
}

// attemptsPhoneHashIndex is the GSI on the attempts table keyed by phone_hash.
const attemptsPhoneHashIndex = "phone_hash-index"

// deviceItem is the DynamoDB item shape for the devices table.
type deviceItem struct {
	DIDWrite      string `dynamodbav:"did_write"`
	UserID        string `dynamodbav:"user_id"`
	UserAgent     string `dynamodbav:"user_agent"`
	SessionExpiry string `dynamodbav:"session_expiry"`
	CreatedAt     string `dynamodbav:"created_at"`
	UpdatedAt     string `dynamodbav:"updated_at"`
}

func toDeviceItem(r app.DeviceRecord) deviceItem {
	return deviceItem{
		DIDWrite:      r.DIDWrite,
		UserID:        r.AccountID,
		UserAgent:     r.UserAgent,
		SessionExpiry: dynamo.FormatTime(r.SessionExpiry),
		CreatedAt:     dynamo.FormatTime(r.CreatedAt),
		UpdatedAt:     dynamo.FormatTime(r.UpdatedAt),
	}
}

func fromDeviceItem(item deviceItem) (*app.DeviceRecord, error) {
	var p timeParser
	r := &app.DeviceRecord{
		DIDWrite:      item.DIDWrite,
		AccountID:     item.UserID,
		UserAgent:     item.UserAgent,
		SessionExpiry: p.parse(item.SessionExpiry),
		CreatedAt:     p.parse(item.CreatedAt),
		UpdatedAt:     p.parse(item.UpdatedAt),
	}
	if p.err != nil {
		return nil, fmt.Errorf("device %s: %w", item.DIDWrite, p.err)
	}
	return r, nil
}

// userItem is the DynamoDB item shape for the users table.
type userItem struct {
	UserID    string `dynamodbav:"user_id"`
	Username  string `dynamodbav:"username"`
	CreatedAt string `dynamodbav:"created_at"`
}

// usernameItem reserves a display name in the usernames table.
type usernameItem struct {
	Username string `dynamodbav:"username"`
	UserID   string `dynamodbav:"user_id"`
}

// phoneCredentialItem is the DynamoDB item shape for the phone_credentials table.
type phoneCredentialItem struct {
	PhoneHash          string `dynamodbav:"phone_hash"`
	UserID             string `dynamodbav:"user_id"`
	PepperVersion      int    `dynamodbav:"pepper_version"`
	CountryCallingCode string `dynamodbav:"country_calling_code"`
	PhoneCountryCode   string `dynamodbav:"phone_country_code,omitempty"`
	LastTwoDigits      string `dynamodbav:"last_two_digits"`
	CreatedAt          string `dynamodbav:"created_at"`
}

// zkpCredentialItem is the DynamoDB item shape for the zkp_credentials table.
type zkpCredentialItem struct {
	Nullifier   string `dynamodbav:"nullifier"`
	UserID      string `dynamodbav:"user_id"`
	Citizenship string `dynamodbav:"citizenship"`
	Sex         string `dynamodbav:"sex"`
	CreatedAt   string `dynamodbav:"created_at"`
}

// attemptItem is the DynamoDB item shape for the auth_attempts_phone table.
type attemptItem struct {
	DIDWrite           string `dynamodbav:"did_write"`
	AuthType           string `dynamodbav:"auth_type"`
	UserID             string `dynamodbav:"user_id"`
	CodeMAC            string `dynamodbav:"code_mac"`
	CodeExpiry         string `dynamodbav:"code_expiry"`
	LastOTPSentAt      string `dynamodbav:"last_otp_sent_at"`
	GuessAttempts      int    `dynamodbav:"guess_attempts"`
	PepperVersion      int    `dynamodbav:"pepper_version"`
	PhoneHash          string `dynamodbav:"phone_hash"`
	LastTwoDigits      string `dynamodbav:"last_two_digits"`
	CountryCallingCode string `dynamodbav:"country_calling_code"`
	PhoneCountryCode   string `dynamodbav:"phone_country_code,omitempty"`
	UserAgent          string `dynamodbav:"user_agent"`
	CreatedAt          string `dynamodbav:"created_at"`
	UpdatedAt          string `dynamodbav:"updated_at"`
}

func toAttemptItem(r app.AttemptRecord) attemptItem {
	return attemptItem{
		DIDWrite:           r.DIDWrite,
		AuthType:           string(r.Type),
		UserID:             r.AccountID,
		CodeMAC:            r.CodeMAC,
		CodeExpiry:         dynamo.FormatTime(r.CodeExpiry),
		LastOTPSentAt:      dynamo.FormatTime(r.LastOTPSentAt),
		GuessAttempts:      r.GuessAttempts,
		PepperVersion:      r.PepperVersion,
		PhoneHash:          r.PhoneHash,
		LastTwoDigits:      r.LastTwoDigits,
		CountryCallingCode: r.CountryCallingCode,
		PhoneCountryCode:   r.PhoneCountryCode,
		UserAgent:          r.UserAgent,
		CreatedAt:          dynamo.FormatTime(r.CreatedAt),
		UpdatedAt:          dynamo.FormatTime(r.UpdatedAt),
	}
}

func fromAttemptItem(item attemptItem) (*app.AttemptRecord, error) {
	var p timeParser
	r := &app.AttemptRecord{
		DIDWrite:           item.DIDWrite,
		Type:               domain.AuthType(item.AuthType),
		AccountID:          item.UserID,
		CodeMAC:            item.CodeMAC,
		CodeExpiry:         p.parse(item.CodeExpiry),
		LastOTPSentAt:      p.parse(item.LastOTPSentAt),
		GuessAttempts:      item.GuessAttempts,
		PepperVersion:      item.PepperVersion,
		PhoneHash:          item.PhoneHash,
		LastTwoDigits:      item.LastTwoDigits,
		CountryCallingCode: item.CountryCallingCode,
		PhoneCountryCode:   item.PhoneCountryCode,
		UserAgent:          item.UserAgent,
		CreatedAt:          p.parse(item.CreatedAt),
		UpdatedAt:          p.parse(item.UpdatedAt),
	}
	if p.err != nil {
		return nil, fmt.Errorf("attempt %s: %w", item.DIDWrite, p.err)
	}
	return r, nil
}

// timeParser parses a series of stored timestamps and keeps the first error.
type timeParser struct {
	err error
}

func (p *timeParser) parse(s string) time.Time {
	if p.err != nil {
		return time.Time{}
	}
	t, err := dynamo.ParseTime(s)
	if err != nil {
		p.err = err
	}
	return t
}
