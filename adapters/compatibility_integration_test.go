package adapters_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-reportflow/adapters/gocommand"
	"github.com/goliatone/go-reportflow/adapters/gojob"
	"github.com/goliatone/go-reportflow/adapters/gologger"
	reportflowcommand "github.com/goliatone/go-reportflow/command"
	"github.com/goliatone/go-reportflow/core"
	"github.com/goliatone/go-reportflow/webhooks"
	"github.com/goliatone/go-reportflow/workflow"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("reportflow", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	scheduler := gojob.NewSchedulerAdapter(enqueueProbe)
	if err := scheduler.Schedule(ctx, core.Task{
		Kind: core.TaskKindWorkflowAdvance,
		Key:  "exec-1",
		Payload: map[string]any{
			"execution_id": "exec-1",
		},
	}); err != nil {
		t.Fatalf("schedule via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != core.TaskKindWorkflowAdvance {
		t.Fatalf("expected go-job message mapping through scheduler adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("reportflow.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_CommandDispatchThroughWrappers(t *testing.T) {
	svc := &compatWorkflowService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	cancelSub, err := gocommand.RegisterAndSubscribe(adapter, reportflowcommand.NewCancelWorkflowCommand(svc))
	if err != nil {
		t.Fatalf("register cancel wrapper: %v", err)
	}
	defer cancelSub.Unsubscribe()

	skipSub, err := gocommand.RegisterAndSubscribe(adapter, reportflowcommand.NewSkipStepCommand(svc))
	if err != nil {
		t.Fatalf("register skip wrapper: %v", err)
	}
	defer skipSub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), reportflowcommand.CancelWorkflowMessage{
		ExecutionID: "exec-1",
		Reason:      "tenant request",
	}); err != nil {
		t.Fatalf("dispatch cancel: %v", err)
	}
	if svc.cancelCalls != 1 || svc.lastCancelID != "exec-1" || svc.lastCancelReason != "tenant request" {
		t.Fatalf("expected cancel wrapper invocation through dispatch")
	}

	if err := gocommand.Dispatch(context.Background(), reportflowcommand.SkipStepMessage{
		StepID: "step-9",
		Reason: "known upstream gap",
	}); err != nil {
		t.Fatalf("dispatch skip: %v", err)
	}
	if svc.skipCalls != 1 || svc.lastSkipStepID != "step-9" {
		t.Fatalf("expected skip wrapper invocation through dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "reportflow.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type compatWorkflowService struct {
	cancelCalls      int
	lastCancelID     string
	lastCancelReason string
	skipCalls        int
	lastSkipStepID   string
}

func (s *compatWorkflowService) Start(context.Context, workflow.StartRequest) (core.WorkflowExecution, error) {
	return core.WorkflowExecution{}, nil
}

func (s *compatWorkflowService) Cancel(_ context.Context, executionID string, reason string) (core.WorkflowExecution, error) {
	s.cancelCalls++
	s.lastCancelID = executionID
	s.lastCancelReason = reason
	return core.WorkflowExecution{ID: executionID, CurrentState: core.WorkflowStateCancelled}, nil
}

func (s *compatWorkflowService) Pause(_ context.Context, executionID string, _ string) (core.WorkflowExecution, error) {
	return core.WorkflowExecution{ID: executionID, CurrentState: core.WorkflowStatePaused}, nil
}

func (s *compatWorkflowService) Resume(_ context.Context, executionID string) (core.WorkflowExecution, error) {
	return core.WorkflowExecution{ID: executionID}, nil
}

func (s *compatWorkflowService) SkipStep(_ context.Context, stepID string, _ string) (core.WorkflowStep, error) {
	s.skipCalls++
	s.lastSkipStepID = stepID
	return core.WorkflowStep{ID: stepID, Status: core.StepStatusSkipped}, nil
}

var _ reportflowcommand.WorkflowService = (*compatWorkflowService)(nil)

// Ensure the webhook service contract stays satisfiable by the manager.
var _ reportflowcommand.WebhookService = (*webhooks.Manager)(nil)
