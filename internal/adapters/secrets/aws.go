package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// AWSConfig configures the Secrets Manager source.
type AWSConfig struct {
	Region string

	// Profile selects a shared-config profile for local development; the
	// default credential chain (IAM role) applies when empty.
	Profile string

	// Endpoint overrides the API endpoint, for LocalStack.
	Endpoint string

	CacheTTL time.Duration
}

// AWSSource reads secrets from AWS Secrets Manager.
type AWSSource struct {
	client *secretsmanager.Client
	cache  *cache
	logger ports.Logger
}

var _ Source = (*AWSSource)(nil)

func NewAWSSource(ctx context.Context, cfg AWSConfig, logger ports.Logger) (*AWSSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.Info("AWS secrets source initialized", ports.String("region", cfg.Region))

	return &AWSSource{
		client: secretsmanager.NewFromConfig(awsCfg, clientOpts...),
		cache:  newCache(cfg.CacheTTL),
		logger: logger,
	}, nil
}

// Lookup fetches the secret string by name or ARN.
func (s *AWSSource) Lookup(ctx context.Context, path string) (string, error) {
	if value, ok := s.cache.get(path); ok {
		return value, nil
	}

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", path, err)
	}

	value := aws.ToString(result.SecretString)
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", path)
	}

	s.logger.Debug("Secret resolved", ports.String("path", path))
	s.cache.set(path, value)
	return value, nil
}
