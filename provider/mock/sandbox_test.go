package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

var epoch = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

func TestWorkflowEngineLatestExecution(t *testing.T) {
	clk := testclock.NewClock(epoch)
	e := NewWorkflowEngine(clk)
	ctx := context.Background()

	latest, err := e.LatestExecution(ctx, "wf")
	if err != nil || latest != nil {
		t.Fatalf("expected no execution, got %v, %v", latest, err)
	}

	first, _ := e.Trigger(ctx, "wf", nil)
	clk.Advance(time.Second)
	second, _ := e.Trigger(ctx, "wf", map[string]any{"k": "v"})

	latest, err = e.LatestExecution(ctx, "wf")
	if err != nil {
		t.Fatalf("LatestExecution: %v", err)
	}
	if latest.ID != second || latest.ID == first {
		t.Errorf("expected latest %s, got %s", second, latest.ID)
	}
	if latest.Status != lifecycle.ExecutionRunning {
		t.Errorf("expected RUNNING without a behavior, got %s", latest.Status)
	}
	if latest.Input != nil {
		t.Error("list view should not carry the input")
	}

	input, err := e.ExecutionInput(ctx, second)
	if err != nil || input["k"] != "v" {
		t.Errorf("unexpected input %v, %v", input, err)
	}
	started, err := e.ExecutionStartTime(ctx, first)
	if err != nil || !started.Equal(epoch) {
		t.Errorf("unexpected start %s, %v", started, err)
	}

	if err := e.SetStatus(first, lifecycle.ExecutionAborted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := e.SetStatus("missing", lifecycle.ExecutionAborted); err == nil {
		t.Error("expected error for unknown execution")
	}
}

func TestWorkflowEngineInjectError(t *testing.T) {
	e := NewWorkflowEngine(testclock.NewClock(epoch))
	boom := errors.New("boom")
	e.InjectError(OpTrigger, boom)
	if _, err := e.Trigger(context.Background(), "wf", nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	e.InjectError(OpTrigger, nil)
	if _, err := e.Trigger(context.Background(), "wf", nil); err != nil {
		t.Fatalf("expected cleared error, got %v", err)
	}
}

func TestSandboxProvisionAndDelayedDeprovision(t *testing.T) {
	clk := testclock.NewClock(epoch)
	cfg := DefaultSandboxConfig()
	sb := NewSandbox(clk, cfg)
	ctx := context.Background()

	if _, err := sb.Workflows.Trigger(ctx, cfg.ProvisionWorkflowID, nil); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	status, _ := sb.Stacks.StackStatus(ctx, cfg.StackName)
	if status != lifecycle.StackAbsent {
		t.Fatalf("expected absent stack while provisioning, got %q", status)
	}

	clk.Advance(cfg.ProvisionDuration)
	status, _ = sb.Stacks.StackStatus(ctx, cfg.StackName)
	if status != lifecycle.StackCreateComplete {
		t.Fatalf("expected CREATE_COMPLETE, got %q", status)
	}
	ip, err := sb.Stacks.StackOutput(ctx, cfg.StackName, cfg.ServerIPOutputKey)
	if err != nil || ip != cfg.ServerIP {
		t.Fatalf("expected ip %s, got %q, %v", cfg.ServerIP, ip, err)
	}

	payload := lifecycle.NewDelayedDestroyRequest(30).Payload()
	if _, err := sb.Workflows.Trigger(ctx, cfg.DeprovisionWorkflowID, payload); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	clk.Advance(30 * time.Minute)
	status, _ = sb.Stacks.StackStatus(ctx, cfg.StackName)
	if status != lifecycle.StackCreateComplete {
		t.Fatalf("expected stack to survive the wait, got %q", status)
	}

	clk.Advance(cfg.DeprovisionDuration)
	status, _ = sb.Stacks.StackStatus(ctx, cfg.StackName)
	if status != lifecycle.StackDeleteComplete {
		t.Fatalf("expected DELETE_COMPLETE, got %q", status)
	}
	if _, err := sb.Stacks.StackOutput(ctx, cfg.StackName, cfg.ServerIPOutputKey); !errors.Is(err, lifecycle.ErrOutputNotFound) {
		t.Errorf("expected ErrOutputNotFound, got %v", err)
	}
}

func TestSandboxRejectsWaitOutsideWindow(t *testing.T) {
	for _, minutes := range []int{29, 181} {
		sb := NewSandbox(testclock.NewClock(epoch), DefaultSandboxConfig())
		cfg := sb.Config()
		payload := lifecycle.NewDelayedDestroyRequest(minutes).Payload()
		if _, err := sb.Workflows.Trigger(context.Background(), cfg.DeprovisionWorkflowID, payload); err != nil {
			t.Fatalf("Trigger: %v", err)
		}
		latest, _ := sb.Workflows.LatestExecution(context.Background(), cfg.DeprovisionWorkflowID)
		if latest.Status != lifecycle.ExecutionFailed {
			t.Errorf("%d minutes: expected FAILED, got %s", minutes, latest.Status)
		}
	}
}

func TestFixture(t *testing.T) {
	data := []byte(`
stacks:
  - name: gameserver
    status: CREATE_COMPLETE
    outputs:
      ServerIp: 198.51.100.7
executions:
  - workflow: arn:mock:stateMachine:deprovision
    status: RUNNING
    start_time: 2026-01-02T14:00:00Z
    input:
      wait_seconds_before_destroy: 7200
`)
	f, err := ParseFixture(data)
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	sb := NewSandbox(testclock.NewClock(epoch), DefaultSandboxConfig())
	f.Apply(sb)

	ctx := context.Background()
	cfg := sb.Config()
	ip, err := sb.Stacks.StackOutput(ctx, cfg.StackName, cfg.ServerIPOutputKey)
	if err != nil || ip != "198.51.100.7" {
		t.Errorf("unexpected ip %q, %v", ip, err)
	}
	latest, err := sb.Workflows.LatestExecution(ctx, cfg.DeprovisionWorkflowID)
	if err != nil || latest == nil {
		t.Fatalf("expected seeded execution, got %v, %v", latest, err)
	}
	input, _ := sb.Workflows.ExecutionInput(ctx, latest.ID)
	req, ok, err := lifecycle.ParseDelayedDestroyRequest(input)
	if err != nil || !ok || req.WaitSeconds != 7200 {
		t.Errorf("unexpected request %+v, %v, %v", req, ok, err)
	}
}

func TestParseFixtureErrors(t *testing.T) {
	tests := map[string]string{
		"missing stack name": "stacks:\n  - status: CREATE_COMPLETE\n",
		"unknown status":     "executions:\n  - workflow: wf\n    status: PAUSED\n    start_time: 2026-01-02T14:00:00Z\n",
		"missing start":      "executions:\n  - workflow: wf\n    status: FAILED\n",
		"bad yaml":           "stacks: [",
	}
	for name, doc := range tests {
		if _, err := ParseFixture([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
