// Package awsconfig bootstraps aws-sdk-go-v2 clients, grounded on the
// config.LoadDefaultConfig wiring style used throughout the example
// pack's AWS-backed services.
package awsconfig

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// BedrockOptions carries the dedicated credential set the orchestrator
// uses for Bedrock calls, distinct from the ambient IAM role used for
// DynamoDB/S3/SQS/SNS (spec.md §6: BEDROCK_ACCESS_KEY/BEDROCK_SECRET_KEY/
// BEDROCK_REGION).
type BedrockOptions struct {
	AccessKey string
	SecretKey string
	Region    string
}

// LoadDefault loads the ambient AWS configuration used by every
// DynamoDB/S3/SQS/SNS client: default credential chain, default region
// resolution.
func LoadDefault(ctx context.Context) (awssdk.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("load default aws config: %w", err)
	}
	return cfg, nil
}

// LoadBedrock loads the AWS configuration used for Bedrock Runtime calls.
// When all three BedrockOptions fields are set, it overrides the region
// and credentials explicitly, matching the original handler's
// "static-keys-if-present, ambient-role-otherwise" fallback.
func LoadBedrock(ctx context.Context, opts BedrockOptions) (awssdk.Config, error) {
	if opts.AccessKey != "" && opts.SecretKey != "" && opts.Region != "" {
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(opts.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		)
		if err != nil {
			return awssdk.Config{}, fmt.Errorf("load bedrock aws config: %w", err)
		}
		return cfg, nil
	}
	return LoadDefault(ctx)
}
