package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

// Stacks is a lifecycle.StackDescriptor backed by AWS CloudFormation.
type Stacks struct {
	client CloudFormationClient
}

var _ lifecycle.StackDescriptor = (*Stacks)(nil)

// NewStacks creates a Stacks descriptor.
func NewStacks(client CloudFormationClient) *Stacks {
	return &Stacks{client: client}
}

// NewStacksFromConfig creates a Stacks descriptor using the SDK client.
func NewStacksFromConfig(cfg awsv2.Config) *Stacks {
	return NewStacks(cloudformation.NewFromConfig(cfg))
}

// StackStatus returns lifecycle.StackAbsent when the stack does not exist.
func (s *Stacks) StackStatus(ctx context.Context, stackName string) (lifecycle.StackStatus, error) {
	stack, err := s.describe(ctx, stackName)
	if err != nil {
		return lifecycle.StackAbsent, err
	}
	if stack == nil {
		return lifecycle.StackAbsent, nil
	}
	return lifecycle.StackStatus(stack.StackStatus), nil
}

// StackOutput returns the value of one stack output.
func (s *Stacks) StackOutput(ctx context.Context, stackName, outputKey string) (string, error) {
	stack, err := s.describe(ctx, stackName)
	if err != nil {
		return "", err
	}
	if stack == nil {
		return "", fmt.Errorf("stack %s does not exist: %w", stackName, lifecycle.ErrOutputNotFound)
	}
	for _, o := range stack.Outputs {
		if awsv2.ToString(o.OutputKey) == outputKey {
			return awsv2.ToString(o.OutputValue), nil
		}
	}
	return "", fmt.Errorf("stack %s output %s: %w", stackName, outputKey, lifecycle.ErrOutputNotFound)
}

// describe returns nil without error when the stack does not exist.
func (s *Stacks) describe(ctx context.Context, stackName string) (*cftypes.Stack, error) {
	out, err := s.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: awsv2.String(stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("aws: describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	return &out.Stacks[0], nil
}

// isStackMissing recognizes the error CloudFormation returns for an unknown
// stack name: a ValidationError whose message says the stack does not exist.
func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
}
