package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/domain"
)

// smClient is the narrow consumer-defined interface for Secrets Manager operations.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ssmClient is the narrow consumer-defined interface for SSM Parameter Store operations.
type ssmClient interface {
	GetParameter(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error)
}

// maxPepperVersions caps how many secrets a single load fetches.
const maxPepperVersions = 64

// PepperSource locates phone hashing peppers in AWS. The SSM parameter holds
// the latest version number; each version v lives in the secret
// SecretPrefix + v as a base64 string.
type PepperSource struct {
	LatestVersionParam string
	SecretPrefix       string
}

// LoadAWSPeppers fetches every pepper version from 0 to the latest. It is
// called once at startup; the service must not start with a partial set,
// since stored hashes may reference any version.
func LoadAWSPeppers(ctx context.Context, sm smClient, ssm ssmClient, src PepperSource) (domain.Peppers, error) {
	ctx, span := tracer.Start(ctx, "aws.peppers.load")
	defer span.End()

	out, err := ssm.GetParameter(ctx, &awsssm.GetParameterInput{
		Name:           aws.String(src.LatestVersionParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching latest pepper version from SSM: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("SSM parameter %s has no value: %w", src.LatestVersionParam, domain.ErrInvalidConfiguration)
	}

	latest, err := strconv.Atoi(strings.TrimSpace(*out.Parameter.Value))
	if err != nil || latest < 0 || latest >= maxPepperVersions {
		return nil, fmt.Errorf("SSM parameter %s: latest pepper version %q out of range: %w",
			src.LatestVersionParam, *out.Parameter.Value, domain.ErrInvalidConfiguration)
	}

	encoded := make([]string, 0, latest+1)
	for v := 0; v <= latest; v++ {
		name := src.SecretPrefix + strconv.Itoa(v)
		secret, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return nil, fmt.Errorf("fetching pepper %q from Secrets Manager: %w", name, err)
		}
		if secret.SecretString == nil {
			return nil, fmt.Errorf("pepper %q has no secret string: %w", name, domain.ErrInvalidConfiguration)
		}
		encoded = append(encoded, *secret.SecretString)
	}

	peppers, err := auth.DecodePeppers(encoded)
	if err != nil {
		return nil, fmt.Errorf("loading peppers: %w", err)
	}
	return peppers, nil
}
