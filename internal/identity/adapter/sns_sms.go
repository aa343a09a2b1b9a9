package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliberation-platform/identity/internal/auth"
)

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the SMS provider. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var (
	_ auth.SMSProvider = (*SNSSMSProvider)(nil)
	_ auth.SMSProvider = (*LogSMSProvider)(nil)
)

// codeMessage is the SMS body carrying a one-time code.
const codeMessage = "Your verification code is: %s"

// SNSSMSProvider delivers one-time codes via Amazon SNS SMS.
type SNSSMSProvider struct {
	client   snsPublisher
	senderID string
}

// NewSNSSMSProvider creates an SNSSMSProvider backed by the given SNS client.
// An empty senderID leaves the carrier default.
func NewSNSSMSProvider(client snsPublisher, senderID string) *SNSSMSProvider {
	return &SNSSMSProvider{client: client, senderID: senderID}
}

// SendOTP publishes the code to the given E.164 number as a transactional SMS.
func (p *SNSSMSProvider) SendOTP(ctx context.Context, phone, code string) error {
	ctx, span := tracer.Start(ctx, "sns.sms.publish")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.system", "aws_sns"))

	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	_, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(fmt.Sprintf(codeMessage, code)),
		MessageAttributes: attrs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("sns sms: send code to %s: %w", maskPhone(phone), err)
	}
	return nil
}

// LogSMSProvider is a fake SMSProvider that logs delivery instead of sending
// real SMS. Suitable for local development.
type LogSMSProvider struct {
	logger *slog.Logger
}

// NewLogSMSProvider creates a LogSMSProvider that writes delivery events to
// the given structured logger.
func NewLogSMSProvider(logger *slog.Logger) *LogSMSProvider {
	return &LogSMSProvider{logger: logger}
}

// SendOTP logs the delivery with a masked phone number. The code itself is
// never written.
func (p *LogSMSProvider) SendOTP(ctx context.Context, phone, _ string) error {
	p.logger.InfoContext(ctx, "code delivery (log-only)",
		slog.String("phone", maskPhone(phone)),
	)
	return nil
}

// maskPhone returns a masked representation of the phone number showing only
// the last 4 digits. Numbers shorter than 5 characters are fully masked.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
