// Package aws implements the lifecycle collaborators and file storage on
// top of AWS Step Functions, CloudFormation and S3.
package aws

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSConfig holds the connection settings shared by every AWS client.
type AWSConfig struct {
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `json:"session_token" yaml:"session_token"`
	RoleARN         string `json:"role_arn" yaml:"role_arn"`
	Profile         string `json:"profile" yaml:"profile"`
	// Endpoint overrides every service endpoint, for LocalStack and
	// similar emulators.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LoadConfig builds an aws.Config. Static keys take precedence over a
// shared profile; a role ARN is assumed on top of whichever base
// credentials result.
func LoadConfig(ctx context.Context, c AWSConfig) (awsv2.Config, error) {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	switch {
	case c.AccessKeyID != "" && c.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	case c.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awsv2.Config{}, fmt.Errorf("aws: load config: %w", err)
	}

	if c.RoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), c.RoleARN)
		cfg.Credentials = awsv2.NewCredentialsCache(provider)
	}
	if c.Endpoint != "" {
		cfg.BaseEndpoint = awsv2.String(c.Endpoint)
	}
	return cfg, nil
}
