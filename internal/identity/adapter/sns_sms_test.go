package adapter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snsPublisherStub struct {
	err   error
	input *sns.PublishInput
}

func (s *snsPublisherStub) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	s.input = in
	if s.err != nil {
		return nil, s.err
	}
	return &sns.PublishOutput{}, nil
}

func TestSNSSMSProvider_SendOTP_Success(t *testing.T) {
	stub := &snsPublisherStub{}
	provider := NewSNSSMSProvider(stub, "Delib")

	err := provider.SendOTP(context.Background(), "+15551234567", "123456")

	require.NoError(t, err)
	require.NotNil(t, stub.input)
	assert.Equal(t, "+15551234567", *stub.input.PhoneNumber)
	assert.Equal(t, "Your verification code is: 123456", *stub.input.Message)
	assert.Equal(t, "Transactional", *stub.input.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue)
	assert.Equal(t, "Delib", *stub.input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
}

func TestSNSSMSProvider_SendOTP_NoSenderID(t *testing.T) {
	stub := &snsPublisherStub{}
	provider := NewSNSSMSProvider(stub, "")

	require.NoError(t, provider.SendOTP(context.Background(), "+15551234567", "123456"))

	_, ok := stub.input.MessageAttributes["AWS.SNS.SMS.SenderID"]
	assert.False(t, ok)
}

func TestSNSSMSProvider_SendOTP_Error(t *testing.T) {
	publishErr := errors.New("sns throttled")
	stub := &snsPublisherStub{err: publishErr}
	provider := NewSNSSMSProvider(stub, "")

	err := provider.SendOTP(context.Background(), "+15551234567", "123456")

	require.Error(t, err)
	assert.ErrorIs(t, err, publishErr)
	assert.Contains(t, err.Error(), "sns sms: send code")
	assert.Contains(t, err.Error(), "***4567")
	assert.NotContains(t, err.Error(), "+15551234567")
}

func TestLogSMSProvider_SendOTP(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	provider := NewLogSMSProvider(logger)

	err := provider.SendOTP(context.Background(), "+15551234567", "987654")

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "code delivery (log-only)")
	assert.Contains(t, output, "***4567")
	assert.NotContains(t, output, "987654")
	assert.NotContains(t, output, "+15551234567")
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{name: "standard phone number", phone: "+15551234567", want: "***4567"},
		{name: "five characters", phone: "12345", want: "***2345"},
		{name: "four characters", phone: "1234", want: "****"},
		{name: "empty", phone: "", want: "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskPhone(tt.phone))
		})
	}
}
