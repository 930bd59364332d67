package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/GoCodeAlone/gameserver/lifecycle"

// Settings names the external resources the controller operates on.
type Settings struct {
	ProvisionWorkflowID   string
	DeprovisionWorkflowID string
	StackName             string
	ServerIPOutputKey     string
}

// Validate checks that every resource is named.
func (s Settings) Validate() error {
	switch {
	case s.ProvisionWorkflowID == "":
		return &ValidationError{Field: "provision workflow", Reason: "must be set"}
	case s.DeprovisionWorkflowID == "":
		return &ValidationError{Field: "deprovision workflow", Reason: "must be set"}
	case s.StackName == "":
		return &ValidationError{Field: "stack name", Reason: "must be set"}
	case s.ServerIPOutputKey == "":
		return &ValidationError{Field: "server ip output key", Reason: "must be set"}
	}
	return nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used as "now" when resolving status.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctrl *Controller) { ctrl.logger = l }
}

// WithObserver registers an observer for resolutions and triggers.
func WithObserver(o Observer) Option {
	return func(ctrl *Controller) { ctrl.observer = o }
}

// Controller translates user intents into workflow triggers and status
// queries. It keeps no state between calls.
type Controller struct {
	workflows WorkflowEngine
	stacks    StackDescriptor
	settings  Settings
	clock     clock.Clock
	logger    *slog.Logger
	observer  Observer
	tracer    trace.Tracer
}

// NewController creates a Controller.
func NewController(workflows WorkflowEngine, stacks StackDescriptor, settings Settings, opts ...Option) (*Controller, error) {
	if workflows == nil || stacks == nil {
		return nil, errors.New("lifecycle: workflow engine and stack descriptor are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	c := &Controller{
		workflows: workflows,
		stacks:    stacks,
		settings:  settings,
		clock:     clock.WallClock,
		logger:    slog.Default(),
		observer:  nopObserver{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StartServer triggers the provision workflow. Callers should check that
// the server is offline first; duplicate triggers are the workflow
// engine's concern.
func (c *Controller) StartServer(ctx context.Context) (string, error) {
	return c.trigger(ctx, "start", c.settings.ProvisionWorkflowID, nil)
}

// StopServer triggers an immediate deprovision.
func (c *Controller) StopServer(ctx context.Context) (string, error) {
	return c.trigger(ctx, "stop", c.settings.DeprovisionWorkflowID, nil)
}

// StopServerAfter triggers a deprovision that waits the given number of
// minutes before destroying the server. The allowed uptime window is
// enforced by the deprovision workflow, which fails the execution when the
// delay is out of range.
func (c *Controller) StopServerAfter(ctx context.Context, minutes int) (string, error) {
	if minutes <= 0 {
		return "", &ValidationError{Field: "wait minutes", Reason: fmt.Sprintf("must be positive, got %d", minutes)}
	}
	if int64(minutes) > MaxWaitMinutes {
		return "", &ValidationError{Field: "wait minutes", Reason: fmt.Sprintf("must be at most %d, got %d", MaxWaitMinutes, minutes)}
	}
	req := NewDelayedDestroyRequest(minutes)
	return c.trigger(ctx, "stop-after", c.settings.DeprovisionWorkflowID, req.Payload())
}

// Launch starts the server for a play session when it is offline and
// schedules the automatic stop after playTimeMinutes. When the server is in
// any other state nothing is triggered. The returned resolution reflects
// the state after any trigger.
func (c *Controller) Launch(ctx context.Context, playTimeMinutes int) (Resolution, error) {
	if playTimeMinutes < MinPlayTimeMinutes {
		return Resolution{}, &ValidationError{
			Field:  "play_time_minutes",
			Reason: fmt.Sprintf("must be at least %d, got %d", MinPlayTimeMinutes, playTimeMinutes),
		}
	}
	if int64(playTimeMinutes) > MaxWaitMinutes {
		return Resolution{}, &ValidationError{
			Field:  "play_time_minutes",
			Reason: fmt.Sprintf("must be at most %d, got %d", MaxWaitMinutes, playTimeMinutes),
		}
	}

	res, err := c.Describe(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if res.Status != ServerOffline {
		c.logger.Info("Server is not offline, not starting", "status", res.Status)
		return res, nil
	}

	c.logger.Info("Server is offline, starting", "play_time_minutes", playTimeMinutes)
	provisionID, err := c.StartServer(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if _, err := c.StopServerAfter(ctx, playTimeMinutes); err != nil {
		c.logger.Error("Server started without a scheduled stop",
			"execution", provisionID, "play_time_minutes", playTimeMinutes, "error", err)
		return Resolution{}, fmt.Errorf("schedule stop for provision execution %s: %w", provisionID, err)
	}
	return c.Describe(ctx)
}

// Shutdown stops the server immediately when waitMinutes is nil, otherwise
// after *waitMinutes minutes, and returns the resulting resolution.
func (c *Controller) Shutdown(ctx context.Context, waitMinutes *int) (Resolution, error) {
	var err error
	if waitMinutes == nil {
		_, err = c.StopServer(ctx)
	} else {
		_, err = c.StopServerAfter(ctx, *waitMinutes)
	}
	if err != nil {
		return Resolution{}, err
	}
	return c.Describe(ctx)
}

// Status returns the current deployment status.
func (c *Controller) Status(ctx context.Context) (DeploymentStatus, error) {
	res, err := c.Describe(ctx)
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

// Describe fetches fresh inputs from the collaborators and resolves them.
func (c *Controller) Describe(ctx context.Context) (res Resolution, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Describe")
	defer func() {
		c.observer.ObserveResolution(res, err)
		endSpan(span, err)
	}()

	obs, err := c.observe(ctx)
	if err != nil {
		return Resolution{}, err
	}

	res, err = ResolveDetailed(obs, c.clock.Now())
	if err != nil {
		if errors.Is(err, ErrResolverContradiction) {
			c.logger.Error("Deployment status could not be resolved", "observation", obs.String(), "error", err)
		}
		return Resolution{}, err
	}
	span.SetAttributes(
		attribute.String("lifecycle.status", string(res.Status)),
		attribute.String("lifecycle.rule", string(res.Rule)),
	)
	c.logger.Debug("Deployment status resolved", "status", res.Status, "rule", res.Rule, "observation", obs.String())
	return res, nil
}

// ServerIP returns the IPv4 address published by the server stack.
func (c *Controller) ServerIP(ctx context.Context) (addr netip.Addr, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.ServerIP")
	defer func() { endSpan(span, err) }()

	raw, err := c.stacks.StackOutput(ctx, c.settings.StackName, c.settings.ServerIPOutputKey)
	if err != nil {
		if errors.Is(err, ErrOutputNotFound) {
			return netip.Addr{}, err
		}
		return netip.Addr{}, unavailable("describe stack outputs", err)
	}
	addr, err = netip.ParseAddr(raw)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("stack output %q is not an IPv4 address: %q", c.settings.ServerIPOutputKey, raw)
	}
	return addr, nil
}

// observe gathers the resolver inputs. Execution details that need an
// extra describe call are only fetched when a rule depends on them.
func (c *Controller) observe(ctx context.Context) (Observation, error) {
	var obs Observation

	stack, err := c.stacks.StackStatus(ctx, c.settings.StackName)
	if err != nil {
		return obs, unavailable("describe stack", err)
	}
	obs.Stack = stack

	obs.Provision, err = c.workflows.LatestExecution(ctx, c.settings.ProvisionWorkflowID)
	if err != nil {
		return obs, unavailable("list provision executions", err)
	}
	if obs.Provision != nil && obs.Provision.Status == ExecutionRunning {
		// Nothing else can change the answer.
		return obs, nil
	}

	obs.Deprovision, err = c.workflows.LatestExecution(ctx, c.settings.DeprovisionWorkflowID)
	if err != nil {
		return obs, unavailable("list deprovision executions", err)
	}

	if d := obs.Deprovision; d != nil && d.Status == ExecutionRunning {
		if d.Input, err = c.workflows.ExecutionInput(ctx, d.ID); err != nil {
			return obs, unavailable("describe deprovision execution input", err)
		}
		if d.StartTime, err = c.workflows.ExecutionStartTime(ctx, d.ID); err != nil {
			return obs, unavailable("describe deprovision execution start", err)
		}
	}

	if p, d := obs.Provision, obs.Deprovision; p != nil && d != nil &&
		p.Status == ExecutionFailed && d.Status == ExecutionFailed {
		if p.StartTime, err = c.workflows.ExecutionStartTime(ctx, p.ID); err != nil {
			return obs, unavailable("describe provision execution start", err)
		}
		if d.StartTime, err = c.workflows.ExecutionStartTime(ctx, d.ID); err != nil {
			return obs, unavailable("describe deprovision execution start", err)
		}
	}
	return obs, nil
}

func (c *Controller) trigger(ctx context.Context, op, workflowID string, payload map[string]any) (id string, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Trigger", trace.WithAttributes(
		attribute.String("lifecycle.operation", op),
		attribute.String("lifecycle.workflow", workflowID),
	))
	defer func() {
		c.observer.ObserveTrigger(op, err)
		endSpan(span, err)
	}()

	id, err = c.workflows.Trigger(ctx, workflowID, payload)
	if err != nil {
		return "", unavailable("trigger "+op, err)
	}
	c.logger.Info("Workflow triggered", "operation", op, "workflow", workflowID, "execution", id)
	return id, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
