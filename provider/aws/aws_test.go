package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/aws/smithy-go"

	"github.com/GoCodeAlone/gameserver/lifecycle"
	"github.com/GoCodeAlone/gameserver/storage"
)

// ---------------------------------------------------------------------------
// Mock Step Functions client
// ---------------------------------------------------------------------------

type mockSFNClient struct {
	startExecutionFunc    func(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	listExecutionsFunc    func(ctx context.Context, params *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
	describeExecutionFunc func(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	describeCalls         atomic.Int32
}

func (m *mockSFNClient) StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	if m.startExecutionFunc != nil {
		return m.startExecutionFunc(ctx, params, optFns...)
	}
	return &sfn.StartExecutionOutput{ExecutionArn: awsv2.String("arn:aws:states:us-west-2:123456789012:execution:provision:abc")}, nil
}

func (m *mockSFNClient) ListExecutions(ctx context.Context, params *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error) {
	if m.listExecutionsFunc != nil {
		return m.listExecutionsFunc(ctx, params, optFns...)
	}
	return &sfn.ListExecutionsOutput{}, nil
}

func (m *mockSFNClient) DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
	m.describeCalls.Add(1)
	if m.describeExecutionFunc != nil {
		return m.describeExecutionFunc(ctx, params, optFns...)
	}
	return &sfn.DescribeExecutionOutput{}, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string]string{}
	}
	c.data[key] = value
	return nil
}

func TestStepFunctions_Trigger(t *testing.T) {
	var got *sfn.StartExecutionInput
	client := &mockSFNClient{
		startExecutionFunc: func(_ context.Context, params *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
			got = params
			return &sfn.StartExecutionOutput{ExecutionArn: awsv2.String("exec-1")}, nil
		},
	}
	engine := NewStepFunctions(client, nil, nil)

	id, err := engine.Trigger(context.Background(), "arn:sm:deprovision", lifecycle.NewDelayedDestroyRequest(30).Payload())
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if id != "exec-1" {
		t.Errorf("expected exec-1, got %s", id)
	}
	if awsv2.ToString(got.StateMachineArn) != "arn:sm:deprovision" {
		t.Errorf("unexpected state machine %s", awsv2.ToString(got.StateMachineArn))
	}
	if awsv2.ToString(got.Name) == "" {
		t.Error("expected a generated execution name")
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(awsv2.ToString(got.Input)), &input); err != nil {
		t.Fatalf("input is not JSON: %v", err)
	}
	if input[lifecycle.WaitSecondsBeforeDestroyKey] != float64(1800) {
		t.Errorf("unexpected input %v", input)
	}

	if _, err := engine.Trigger(context.Background(), "arn:sm:provision", nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if awsv2.ToString(got.Input) != "{}" {
		t.Errorf("expected empty object input, got %s", awsv2.ToString(got.Input))
	}
}

func TestStepFunctions_LatestExecution(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	client := &mockSFNClient{
		listExecutionsFunc: func(_ context.Context, params *sfn.ListExecutionsInput, _ ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error) {
			if awsv2.ToString(params.StateMachineArn) == "arn:sm:empty" {
				return &sfn.ListExecutionsOutput{}, nil
			}
			return &sfn.ListExecutionsOutput{Executions: []sfntypes.ExecutionListItem{
				{ExecutionArn: awsv2.String("old"), Status: sfntypes.ExecutionStatusFailed, StartDate: awsv2.Time(base)},
				{ExecutionArn: awsv2.String("new"), Status: sfntypes.ExecutionStatusRunning, StartDate: awsv2.Time(base.Add(time.Hour))},
			}}, nil
		},
	}
	engine := NewStepFunctions(client, nil, nil)

	latest, err := engine.LatestExecution(context.Background(), "arn:sm:provision")
	if err != nil {
		t.Fatalf("LatestExecution: %v", err)
	}
	if latest.ID != "new" || latest.Status != lifecycle.ExecutionRunning || !latest.StartTime.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected latest execution %+v", latest)
	}

	latest, err = engine.LatestExecution(context.Background(), "arn:sm:empty")
	if err != nil || latest != nil {
		t.Errorf("expected nil execution, got %+v, %v", latest, err)
	}
}

func TestStepFunctions_DescribeIsCached(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	client := &mockSFNClient{
		describeExecutionFunc: func(_ context.Context, _ *sfn.DescribeExecutionInput, _ ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
			return &sfn.DescribeExecutionOutput{
				Input:     awsv2.String(`{"wait_seconds_before_destroy": 3600}`),
				StartDate: awsv2.Time(start),
			}, nil
		},
	}
	engine := NewStepFunctions(client, &mapCache{}, nil)
	ctx := context.Background()

	input, err := engine.ExecutionInput(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ExecutionInput: %v", err)
	}
	if input[lifecycle.WaitSecondsBeforeDestroyKey] != float64(3600) {
		t.Errorf("unexpected input %v", input)
	}
	started, err := engine.ExecutionStartTime(ctx, "exec-1")
	if err != nil || !started.Equal(start) {
		t.Errorf("unexpected start %s, %v", started, err)
	}
	if n := client.describeCalls.Load(); n != 1 {
		t.Errorf("expected 1 describe call, got %d", n)
	}
}

func TestStepFunctions_ConcurrentDescribesShareOneCall(t *testing.T) {
	release := make(chan struct{})
	client := &mockSFNClient{
		describeExecutionFunc: func(_ context.Context, _ *sfn.DescribeExecutionInput, _ ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
			<-release
			return &sfn.DescribeExecutionOutput{Input: awsv2.String(`{"wait_seconds_before_destroy": 60}`)}, nil
		},
	}
	engine := NewStepFunctions(client, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			input, err := engine.ExecutionInput(context.Background(), "exec-1")
			if err == nil && input[lifecycle.WaitSecondsBeforeDestroyKey] != float64(60) {
				err = errors.New("unexpected input")
			}
			errs <- err
		}()
	}

	// Let every caller join the in-flight describe before it returns.
	deadline := time.Now().Add(2 * time.Second)
	for client.describeCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("ExecutionInput: %v", err)
		}
	}
	if n := client.describeCalls.Load(); n != 1 {
		t.Errorf("expected concurrent callers to share 1 describe call, got %d", n)
	}
}

func TestStepFunctions_MalformedInput(t *testing.T) {
	client := &mockSFNClient{
		describeExecutionFunc: func(_ context.Context, _ *sfn.DescribeExecutionInput, _ ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
			return &sfn.DescribeExecutionOutput{Input: awsv2.String("not json")}, nil
		},
	}
	_, err := NewStepFunctions(client, nil, nil).ExecutionInput(context.Background(), "exec-1")
	if !errors.Is(err, lifecycle.ErrMalformedExecutionInput) {
		t.Errorf("expected ErrMalformedExecutionInput, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Mock CloudFormation client
// ---------------------------------------------------------------------------

type mockCloudFormationClient struct {
	describeStacksFunc func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

func (m *mockCloudFormationClient) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return m.describeStacksFunc(ctx, params, optFns...)
}

func stackMissing(_ context.Context, params *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return nil, &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "Stack with id " + awsv2.ToString(params.StackName) + " does not exist",
	}
}

func TestStacks(t *testing.T) {
	online := &mockCloudFormationClient{
		describeStacksFunc: func(_ context.Context, _ *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{Stacks: []cftypes.Stack{{
				StackStatus: cftypes.StackStatusCreateComplete,
				Outputs: []cftypes.Output{
					{OutputKey: awsv2.String("ServerIp"), OutputValue: awsv2.String("203.0.113.5")},
				},
			}}}, nil
		},
	}
	ctx := context.Background()

	stacks := NewStacks(online)
	status, err := stacks.StackStatus(ctx, "minecraft-server")
	if err != nil || status != lifecycle.StackCreateComplete {
		t.Errorf("StackStatus = %q, %v", status, err)
	}
	ip, err := stacks.StackOutput(ctx, "minecraft-server", "ServerIp")
	if err != nil || ip != "203.0.113.5" {
		t.Errorf("StackOutput = %q, %v", ip, err)
	}
	if _, err := stacks.StackOutput(ctx, "minecraft-server", "Missing"); !errors.Is(err, lifecycle.ErrOutputNotFound) {
		t.Errorf("expected ErrOutputNotFound, got %v", err)
	}

	absent := NewStacks(&mockCloudFormationClient{describeStacksFunc: stackMissing})
	status, err = absent.StackStatus(ctx, "minecraft-server")
	if err != nil || status != lifecycle.StackAbsent {
		t.Errorf("StackStatus on missing stack = %q, %v", status, err)
	}
	if _, err := absent.StackOutput(ctx, "minecraft-server", "ServerIp"); !errors.Is(err, lifecycle.ErrOutputNotFound) {
		t.Errorf("expected ErrOutputNotFound, got %v", err)
	}

	denied := NewStacks(&mockCloudFormationClient{
		describeStacksFunc: func(_ context.Context, _ *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"}
		},
	})
	if _, err := denied.StackStatus(ctx, "minecraft-server"); err == nil {
		t.Error("expected error for access denied")
	}
}

// ---------------------------------------------------------------------------
// Mock S3 client
// ---------------------------------------------------------------------------

type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func notFound(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "not found"}
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: awsv2.Bool(false)}
	for k := range m.objects {
		if strings.HasPrefix(k, awsv2.ToString(params.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{Key: awsv2.String(k)})
		}
	}
	return out, nil
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[awsv2.ToString(params.Key)]
	if !ok {
		return nil, notFound("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[awsv2.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, awsv2.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[awsv2.ToString(params.Key)]; !ok {
		return nil, notFound("NotFound")
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3StorageWithFileManager(t *testing.T) {
	client := &mockS3Client{}
	fm := storage.NewFileManager(NewS3Storage(client, "minecraft-files"), "server", nil)
	ctx := context.Background()

	if _, err := fm.Write(ctx, "ops.json", []byte(`["steve"]`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := client.objects["server/ops.json"]; !ok {
		t.Fatalf("expected object under prefix, have %v", client.objects)
	}

	files, err := fm.List(ctx, "")
	if err != nil || len(files) != 1 || files[0] != "ops.json" {
		t.Errorf("List = %v, %v", files, err)
	}

	data, err := fm.Read(ctx, "ops.json")
	if err != nil || string(data) != `["steve"]` {
		t.Errorf("Read = %q, %v", data, err)
	}
	if _, err := fm.Read(ctx, "nope.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound, got %v", err)
	}

	if _, err := fm.Delete(ctx, "ops.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fm.Delete(ctx, "ops.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound on second delete, got %v", err)
	}
}
