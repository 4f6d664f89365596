package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// TypeAWS is the placeholder type served by AWS Secrets Manager.
const TypeAWS = "aws"

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSResolver resolves "aws" placeholders by secret id. Server and partner
// scoping does not apply.
type AWSResolver struct {
	Client SecretsManagerAPI
}

// NewAWSResolver builds a resolver from the default AWS credential chain.
func NewAWSResolver(ctx context.Context, region string) (*AWSResolver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &AWSResolver{Client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (r *AWSResolver) Resolve(ctx context.Context, _ *Context, ref string) (string, bool, error) {
	secretID := ref
	out, err := r.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if out.SecretString == nil {
		return "", false, nil
	}
	return *out.SecretString, true, nil
}
