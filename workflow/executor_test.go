package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-reportflow/backoff"
	"github.com/goliatone/go-reportflow/core"
)

func newTestExecutor() (*Executor, *memStepStore, *memScheduler) {
	steps := newMemStepStore()
	scheduler := &memScheduler{}
	policy := backoff.Policy{Kind: backoff.KindExponential, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: -1}
	executor := NewExecutor(steps, scheduler, policy)
	executor.Now = testClock
	return executor, steps, scheduler
}

func seedStep(t *testing.T, steps *memStepStore, step core.WorkflowStep) core.WorkflowStep {
	t.Helper()
	if _, err := steps.CreateBatch(context.Background(), []core.WorkflowStep{step}); err != nil {
		t.Fatalf("seed step: %v", err)
	}
	return step
}

func TestExecutorRunCompletesStep(t *testing.T) {
	ctx := context.Background()
	executor, steps, scheduler := newTestExecutor()
	step := seedStep(t, steps, core.WorkflowStep{
		ID:          "step-1",
		ExecutionID: "exec-1",
		Name:        "fetch_source_data",
		Order:       1,
		Status:      core.StepStatusPending,
		MaxAttempts: 3,
	})

	runner := StepRunnerFunc(func(context.Context, core.WorkflowExecution, core.WorkflowStep, CancelCheck) (map[string]any, error) {
		return map[string]any{"rows": 42}, nil
	})
	result, err := executor.Run(ctx, core.WorkflowExecution{ID: "exec-1"}, step, runner, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %s", result.Outcome)
	}
	if result.Step.Status != core.StepStatusCompleted || result.Step.AttemptCount != 1 {
		t.Fatalf("expected completed on first attempt, got %s attempt %d", result.Step.Status, result.Step.AttemptCount)
	}
	if rows, _ := result.Step.Output["rows"].(int); rows != 42 {
		t.Fatalf("expected runner output persisted, got %v", result.Step.Output)
	}
	if result.Step.StartedAt == nil || result.Step.CompletedAt == nil || result.Step.DurationMS == nil {
		t.Fatalf("expected timing stamps on completed step")
	}
	if result.Step.NextRetryAt != nil {
		t.Fatalf("expected next_retry_at cleared on completion")
	}
	if len(scheduler.drain()) != 0 {
		t.Fatalf("expected no tasks scheduled on success")
	}
}

func TestExecutorRunBacksOffExponentially(t *testing.T) {
	ctx := context.Background()
	executor, steps, scheduler := newTestExecutor()
	step := seedStep(t, steps, core.WorkflowStep{
		ID:          "step-1",
		ExecutionID: "exec-1",
		Name:        "fetch_source_data",
		Order:       1,
		Status:      core.StepStatusPending,
		MaxAttempts: 3,
	})

	runner := StepRunnerFunc(func(context.Context, core.WorkflowExecution, core.WorkflowStep, CancelCheck) (map[string]any, error) {
		return nil, fmt.Errorf("upstream timeout")
	})

	result, err := executor.Run(ctx, core.WorkflowExecution{ID: "exec-1"}, step, runner, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if result.Outcome != OutcomeRetryAwaiting {
		t.Fatalf("expected retry outcome, got %s", result.Outcome)
	}
	if result.Step.Status != core.StepStatusRetrying {
		t.Fatalf("expected retrying status, got %s", result.Step.Status)
	}
	if result.Step.ErrorCode != "STEP_FAILED" || result.Step.ErrorMessage != "upstream timeout" {
		t.Fatalf("expected error recorded, got code=%q message=%q", result.Step.ErrorCode, result.Step.ErrorMessage)
	}
	wantFirst := testClock().Add(time.Second)
	if result.Step.NextRetryAt == nil || !result.Step.NextRetryAt.Equal(wantFirst) {
		t.Fatalf("expected first retry at %s, got %v", wantFirst, result.Step.NextRetryAt)
	}

	tasks := scheduler.drain()
	if len(tasks) != 1 || tasks[0].Kind != core.TaskKindStepRetry || tasks[0].Key != "step-1" {
		t.Fatalf("expected one step retry task, got %+v", tasks)
	}
	if !tasks[0].RunAt.Equal(wantFirst) {
		t.Fatalf("expected task run_at %s, got %s", wantFirst, tasks[0].RunAt)
	}
	if id, _ := tasks[0].Payload["execution_id"].(string); id != "exec-1" {
		t.Fatalf("expected execution id in payload, got %v", tasks[0].Payload)
	}

	// Second attempt doubles the delay.
	reloaded, err := steps.Get(ctx, "step-1")
	if err != nil {
		t.Fatalf("reload step: %v", err)
	}
	result, err = executor.Run(ctx, core.WorkflowExecution{ID: "exec-1"}, reloaded, runner, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	wantSecond := testClock().Add(2 * time.Second)
	if result.Step.NextRetryAt == nil || !result.Step.NextRetryAt.Equal(wantSecond) {
		t.Fatalf("expected second retry at %s, got %v", wantSecond, result.Step.NextRetryAt)
	}
	if result.Step.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", result.Step.AttemptCount)
	}
}

func TestExecutorRunFatalSkipsRemainingAttempts(t *testing.T) {
	ctx := context.Background()
	executor, steps, scheduler := newTestExecutor()
	step := seedStep(t, steps, core.WorkflowStep{
		ID:          "step-1",
		ExecutionID: "exec-1",
		Name:        "transform_report",
		Order:       1,
		Status:      core.StepStatusPending,
		MaxAttempts: 3,
	})

	runner := StepRunnerFunc(func(context.Context, core.WorkflowExecution, core.WorkflowStep, CancelCheck) (map[string]any, error) {
		return nil, Fatal(fmt.Errorf("report definition missing"))
	})
	result, err := executor.Run(ctx, core.WorkflowExecution{ID: "exec-1"}, step, runner, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", result.Outcome)
	}
	if result.Step.Status != core.StepStatusFailed || result.Step.AttemptCount != 1 {
		t.Fatalf("expected failure on first attempt, got %s attempt %d", result.Step.Status, result.Step.AttemptCount)
	}
	if result.Step.ErrorCode != "STEP_FATAL" {
		t.Fatalf("expected fatal error code, got %q", result.Step.ErrorCode)
	}
	if len(scheduler.drain()) != 0 {
		t.Fatalf("expected no retry task for fatal error")
	}
}

func TestExecutorRunFailsWhenBudgetSpent(t *testing.T) {
	ctx := context.Background()
	executor, steps, scheduler := newTestExecutor()
	step := seedStep(t, steps, core.WorkflowStep{
		ID:           "step-1",
		ExecutionID:  "exec-1",
		Name:         "fetch_source_data",
		Order:        1,
		Status:       core.StepStatusRetrying,
		AttemptCount: 2,
		MaxAttempts:  3,
	})

	runner := StepRunnerFunc(func(context.Context, core.WorkflowExecution, core.WorkflowStep, CancelCheck) (map[string]any, error) {
		return nil, fmt.Errorf("still unavailable")
	})
	result, err := executor.Run(ctx, core.WorkflowExecution{ID: "exec-1"}, step, runner, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome on final attempt, got %s", result.Outcome)
	}
	if result.Step.AttemptCount != 3 || result.Step.ErrorCode != "STEP_FAILED" {
		t.Fatalf("expected third attempt recorded, got attempt=%d code=%q", result.Step.AttemptCount, result.Step.ErrorCode)
	}
	if len(scheduler.drain()) != 0 {
		t.Fatalf("expected no retry task once the budget is spent")
	}
}

func TestExecutorRunRejectsExhaustedStep(t *testing.T) {
	ctx := context.Background()
	executor, steps, _ := newTestExecutor()
	step := seedStep(t, steps, core.WorkflowStep{
		ID:           "step-1",
		ExecutionID:  "exec-1",
		Name:         "fetch_source_data",
		Order:        1,
		Status:       core.StepStatusRetrying,
		AttemptCount: 3,
		MaxAttempts:  3,
	})

	_, err := executor.Run(ctx, core.WorkflowExecution{ID: "exec-1"}, step, succeedingRunner(), nil)
	if !errors.Is(err, core.ErrStepAttemptsExhausted) {
		t.Fatalf("expected attempts exhausted error, got %v", err)
	}
}

func TestExecutorSkipRecordsReason(t *testing.T) {
	ctx := context.Background()
	executor, steps, _ := newTestExecutor()
	step := seedStep(t, steps, core.WorkflowStep{
		ID:          "step-1",
		ExecutionID: "exec-1",
		Name:        "fetch_source_data",
		Order:       1,
		Status:      core.StepStatusPending,
		MaxAttempts: 3,
	})

	skipped, err := executor.Skip(ctx, step, "  source decommissioned  ")
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if skipped.Status != core.StepStatusSkipped {
		t.Fatalf("expected skipped status, got %s", skipped.Status)
	}
	if reason, _ := skipped.Metadata["skipped_reason"].(string); reason != "source decommissioned" {
		t.Fatalf("expected trimmed skip reason, got %q", reason)
	}

	completed := seedStep(t, steps, core.WorkflowStep{
		ID:          "step-2",
		ExecutionID: "exec-1",
		Name:        "transform_report",
		Order:       2,
		Status:      core.StepStatusCompleted,
		MaxAttempts: 3,
	})
	if _, err := executor.Skip(ctx, completed, "too late"); !errors.Is(err, core.ErrInvalidStepStatusTransition) {
		t.Fatalf("expected skip on completed step to fail, got %v", err)
	}
}
