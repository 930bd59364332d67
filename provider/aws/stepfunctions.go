package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

// Cache stores execution descriptions. Any Get error is treated as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// listPageSize is how many executions are requested when looking for the
// latest one. The service returns newest first, so one page is enough.
const listPageSize = 10

// describeTTL bounds how long an execution description is cached. Input
// and start date never change for an execution.
const describeTTL = 24 * time.Hour

type executionDescription struct {
	Input map[string]any `json:"input"`
	Start time.Time      `json:"start"`
}

// StepFunctions is a lifecycle.WorkflowEngine backed by AWS Step Functions.
// Workflow identifiers are state machine ARNs.
type StepFunctions struct {
	client SFNClient
	cache  Cache
	logger *slog.Logger
	// describes collapses concurrent describes of one execution.
	describes singleflight.Group
}

var _ lifecycle.WorkflowEngine = (*StepFunctions)(nil)

// NewStepFunctions creates a StepFunctions engine. cache may be nil.
func NewStepFunctions(client SFNClient, cache Cache, logger *slog.Logger) *StepFunctions {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepFunctions{client: client, cache: cache, logger: logger}
}

// NewStepFunctionsFromConfig creates a StepFunctions engine using the SDK
// client.
func NewStepFunctionsFromConfig(cfg awsv2.Config, cache Cache, logger *slog.Logger) *StepFunctions {
	return NewStepFunctions(sfn.NewFromConfig(cfg), cache, logger)
}

// Trigger starts an execution. A nil payload is sent as an empty object.
func (s *StepFunctions) Trigger(ctx context.Context, stateMachineARN string, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("aws: encode execution input: %w", err)
	}
	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: awsv2.String(stateMachineARN),
		Name:            awsv2.String(uuid.New().String()),
		Input:           awsv2.String(string(input)),
	})
	if err != nil {
		return "", fmt.Errorf("aws: start execution of %s: %w", stateMachineARN, err)
	}
	return awsv2.ToString(out.ExecutionArn), nil
}

// LatestExecution returns the execution with the most recent start date.
func (s *StepFunctions) LatestExecution(ctx context.Context, stateMachineARN string) (*lifecycle.WorkflowExecution, error) {
	out, err := s.client.ListExecutions(ctx, &sfn.ListExecutionsInput{
		StateMachineArn: awsv2.String(stateMachineARN),
		MaxResults:      listPageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("aws: list executions of %s: %w", stateMachineARN, err)
	}

	var latest *sfntypes.ExecutionListItem
	for i := range out.Executions {
		item := &out.Executions[i]
		if latest == nil || awsv2.ToTime(item.StartDate).After(awsv2.ToTime(latest.StartDate)) {
			latest = item
		}
	}
	if latest == nil {
		return nil, nil
	}
	return &lifecycle.WorkflowExecution{
		ID:        awsv2.ToString(latest.ExecutionArn),
		Status:    lifecycle.ExecutionStatus(latest.Status),
		StartTime: awsv2.ToTime(latest.StartDate),
	}, nil
}

// ExecutionInput returns the decoded input of an execution.
func (s *StepFunctions) ExecutionInput(ctx context.Context, executionARN string) (map[string]any, error) {
	d, err := s.describe(ctx, executionARN)
	if err != nil {
		return nil, err
	}
	return d.Input, nil
}

// ExecutionStartTime returns when an execution started.
func (s *StepFunctions) ExecutionStartTime(ctx context.Context, executionARN string) (time.Time, error) {
	d, err := s.describe(ctx, executionARN)
	if err != nil {
		return time.Time{}, err
	}
	return d.Start, nil
}

func (s *StepFunctions) describe(ctx context.Context, executionARN string) (executionDescription, error) {
	key := "sfn:execution:" + executionARN
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var d executionDescription
			if err := json.Unmarshal([]byte(raw), &d); err == nil {
				return d, nil
			}
			s.logger.Warn("Discarding unreadable cached execution", "execution", executionARN)
		}
	}

	v, err, _ := s.describes.Do(key, func() (any, error) {
		return s.fetchDescription(ctx, key, executionARN)
	})
	if err != nil {
		return executionDescription{}, err
	}
	return v.(executionDescription), nil
}

func (s *StepFunctions) fetchDescription(ctx context.Context, key, executionARN string) (executionDescription, error) {
	out, err := s.client.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: awsv2.String(executionARN),
	})
	if err != nil {
		return executionDescription{}, fmt.Errorf("aws: describe execution %s: %w", executionARN, err)
	}

	d := executionDescription{Start: awsv2.ToTime(out.StartDate), Input: map[string]any{}}
	if raw := awsv2.ToString(out.Input); raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Input); err != nil {
			return executionDescription{}, fmt.Errorf("%w: execution %s: %v", lifecycle.ErrMalformedExecutionInput, executionARN, err)
		}
	}

	if s.cache != nil {
		if raw, err := json.Marshal(d); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), describeTTL); err != nil {
				s.logger.Warn("Failed to cache execution description", "execution", executionARN, "error", err)
			}
		}
	}
	return d, nil
}
