package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reportflow/backoff"
	"github.com/goliatone/go-reportflow/core"
)

// Outcome is the step executor's report back to the engine.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeRetryAwaiting Outcome = "retry_awaiting"
	OutcomeFailed        Outcome = "failed"
	OutcomeSkipped       Outcome = "skipped"
)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// Fatal marks a step error as non-retryable; the executor fails the step
// immediately instead of consuming the remaining attempt budget.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// CancelCheck reports whether the owning execution was cancelled out from
// under a running step. Runners call it at safe checkpoints; a true result
// means stop and return promptly.
type CancelCheck func(ctx context.Context) (bool, error)

// StepRunner performs the actual work of one pipeline step. Implementations
// live outside this module (transformation, fetching, file transfer).
type StepRunner interface {
	RunStep(
		ctx context.Context,
		execution core.WorkflowExecution,
		step core.WorkflowStep,
		cancelled CancelCheck,
	) (map[string]any, error)
}

// StepRunnerFunc adapts a function to the StepRunner interface.
type StepRunnerFunc func(
	ctx context.Context,
	execution core.WorkflowExecution,
	step core.WorkflowStep,
	cancelled CancelCheck,
) (map[string]any, error)

func (f StepRunnerFunc) RunStep(
	ctx context.Context,
	execution core.WorkflowExecution,
	step core.WorkflowStep,
	cancelled CancelCheck,
) (map[string]any, error) {
	return f(ctx, execution, step, cancelled)
}

// StepResult carries the persisted step row alongside the outcome; Err holds
// the runner error for failed and retry-awaiting outcomes.
type StepResult struct {
	Outcome Outcome
	Step    core.WorkflowStep
	Err     error
}

// Executor runs one step attempt at a time, owns the attempt budget, and
// schedules delayed re-invocations through the queue.
type Executor struct {
	Steps     core.StepStore
	Scheduler core.Scheduler
	Backoff   backoff.Policy
	Now       func() time.Time
}

func NewExecutor(steps core.StepStore, scheduler core.Scheduler, policy backoff.Policy) *Executor {
	return &Executor{
		Steps:     steps,
		Scheduler: scheduler,
		Backoff:   policy,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Run performs one attempt of the step and persists the resulting status.
// A runner error wrapped with Fatal, or an exhausted attempt budget, yields
// OutcomeFailed; any other error schedules a retry at now + backoff.
func (x *Executor) Run(
	ctx context.Context,
	execution core.WorkflowExecution,
	step core.WorkflowStep,
	runner StepRunner,
	cancelled CancelCheck,
) (StepResult, error) {
	if x == nil || x.Steps == nil {
		return StepResult{}, fmt.Errorf("workflow: executor requires step store")
	}
	if runner == nil {
		return StepResult{}, fmt.Errorf("workflow: step runner is required")
	}
	if step.MaxAttempts <= 0 {
		step.MaxAttempts = core.DefaultStepMaxAttempts
	}
	if step.AttemptCount >= step.MaxAttempts {
		return StepResult{}, fmt.Errorf("%w: %s", core.ErrStepAttemptsExhausted, step.Name)
	}

	now := x.now()
	step.AttemptCount++
	if err := step.TransitionTo(core.StepStatusRunning, now); err != nil {
		return StepResult{}, err
	}
	step, err := x.Steps.Update(ctx, step)
	if err != nil {
		return StepResult{}, err
	}

	output, runErr := runner.RunStep(ctx, execution, step, cancelled)
	now = x.now()
	if runErr == nil {
		step.Output = output
		step.ErrorMessage = ""
		step.ErrorCode = ""
		if err := step.TransitionTo(core.StepStatusCompleted, now); err != nil {
			return StepResult{}, err
		}
		step, err = x.Steps.Update(ctx, step)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Outcome: OutcomeCompleted, Step: step}, nil
	}

	step.ErrorMessage = strings.TrimSpace(runErr.Error())
	step.ErrorCode = stepErrorCode(runErr)

	if IsFatal(runErr) || !step.RetriesRemaining() {
		if err := step.TransitionTo(core.StepStatusFailed, now); err != nil {
			return StepResult{}, err
		}
		step, err = x.Steps.Update(ctx, step)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Outcome: OutcomeFailed, Step: step, Err: runErr}, nil
	}

	delay := x.Backoff.Delay(step.AttemptCount)
	next := now.Add(delay)
	if err := step.TransitionTo(core.StepStatusRetrying, now); err != nil {
		return StepResult{}, err
	}
	step.NextRetryAt = &next
	step, err = x.Steps.Update(ctx, step)
	if err != nil {
		return StepResult{}, err
	}

	if x.Scheduler != nil {
		task := core.Task{
			Kind:  core.TaskKindStepRetry,
			Key:   step.ID,
			RunAt: next,
			Payload: map[string]any{
				"execution_id": step.ExecutionID,
				"step_id":      step.ID,
			},
		}
		if err := x.Scheduler.Schedule(ctx, task); err != nil {
			return StepResult{}, err
		}
	}
	return StepResult{Outcome: OutcomeRetryAwaiting, Step: step, Err: runErr}, nil
}

// Skip marks a pending or retrying step as skipped on explicit instruction.
// A skipped step never counts as a workflow failure.
func (x *Executor) Skip(ctx context.Context, step core.WorkflowStep, reason string) (core.WorkflowStep, error) {
	if x == nil || x.Steps == nil {
		return core.WorkflowStep{}, fmt.Errorf("workflow: executor requires step store")
	}
	if err := step.TransitionTo(core.StepStatusSkipped, x.now()); err != nil {
		return core.WorkflowStep{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason != "" {
		if step.Metadata == nil {
			step.Metadata = map[string]any{}
		}
		step.Metadata["skipped_reason"] = reason
	}
	return x.Steps.Update(ctx, step)
}

func (x *Executor) now() time.Time {
	if x != nil && x.Now != nil {
		return x.Now().UTC()
	}
	return time.Now().UTC()
}

func stepErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if IsFatal(err) {
		return "STEP_FATAL"
	}
	return "STEP_FAILED"
}
