package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reportflow/core"
	"github.com/google/uuid"
)

const stepStageMetadataKey = "stage"

// EventNotifier receives engine lifecycle notifications; events.Emitter is
// the production implementation. A nil notifier disables emission.
type EventNotifier interface {
	JobStarted(ctx context.Context, execution core.WorkflowExecution) error
	JobCompleted(ctx context.Context, execution core.WorkflowExecution) error
	JobFailed(ctx context.Context, execution core.WorkflowExecution) error
	StateChanged(ctx context.Context, execution core.WorkflowExecution, index int, change core.StateChange) error
	ValidationFailed(ctx context.Context, execution core.WorkflowExecution, step core.WorkflowStep) error
	ArtifactCreated(ctx context.Context, execution core.WorkflowExecution, artifactID string, payload map[string]any) error
}

// StepDefinition declares one retryable unit of work and the pipeline stage
// it runs under.
type StepDefinition struct {
	Name        string
	Stage       core.WorkflowState
	MaxAttempts int
	Metadata    map[string]any
}

type StartRequest struct {
	TenantID        string
	JobRunID        string
	WorkflowName    string
	WorkflowVersion string
	Context         map[string]any
	Steps           []StepDefinition
}

// Engine owns a workflow execution's lifecycle: it walks the execution
// through pipeline stages, runs steps through the executor, aggregates step
// outcomes into workflow state, and keeps the state-history audit trail.
// Every persisted state change goes through the store's guarded Transition,
// which serializes advancement per execution.
type Engine struct {
	Executions core.ExecutionStore
	Steps      core.StepStore
	Scheduler  core.Scheduler
	Executor   *Executor
	Runner     StepRunner
	Events     EventNotifier
	Metrics    core.MetricsRecorder
	Logger     core.Logger
	// ValidationPolicy decides whether validation-stage step failures block
	// the workflow; callers inject it, default blocks.
	ValidationPolicy core.ValidationFailurePolicy
	Now              func() time.Time
}

func NewEngine(
	executions core.ExecutionStore,
	steps core.StepStore,
	scheduler core.Scheduler,
	executor *Executor,
	runner StepRunner,
) *Engine {
	return &Engine{
		Executions:       executions,
		Steps:            steps,
		Scheduler:        scheduler,
		Executor:         executor,
		Runner:           runner,
		Metrics:          core.NopMetricsRecorder{},
		ValidationPolicy: core.ValidationFailureBlock,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start creates the execution and its step rows, moves the workflow from
// pending to initializing, and queues the first advancement.
func (e *Engine) Start(ctx context.Context, req StartRequest) (core.WorkflowExecution, error) {
	if err := e.requireStores(); err != nil {
		return core.WorkflowExecution{}, err
	}
	tenantID := strings.TrimSpace(req.TenantID)
	jobRunID := strings.TrimSpace(req.JobRunID)
	name := strings.TrimSpace(req.WorkflowName)
	if tenantID == "" || jobRunID == "" || name == "" {
		return core.WorkflowExecution{}, fmt.Errorf("workflow: tenant id, job run id, and workflow name are required")
	}
	if len(req.Steps) == 0 {
		return core.WorkflowExecution{}, fmt.Errorf("workflow: at least one step is required")
	}
	for _, definition := range req.Steps {
		if strings.TrimSpace(definition.Name) == "" {
			return core.WorkflowExecution{}, fmt.Errorf("workflow: step name is required")
		}
		if !stageRunnable(definition.Stage) {
			return core.WorkflowExecution{}, fmt.Errorf("workflow: step %q has invalid stage %q", definition.Name, definition.Stage)
		}
	}

	now := e.now()
	started := now
	execution := core.WorkflowExecution{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		JobRunID:        jobRunID,
		WorkflowName:    name,
		WorkflowVersion: strings.TrimSpace(req.WorkflowVersion),
		CurrentState:    core.WorkflowStatePending,
		StartedAt:       &started,
		Context:         req.Context,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	execution, err := e.Executions.Create(ctx, execution)
	if err != nil {
		return core.WorkflowExecution{}, err
	}

	steps := make([]core.WorkflowStep, 0, len(req.Steps))
	for i, definition := range req.Steps {
		maxAttempts := definition.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = core.DefaultStepMaxAttempts
		}
		metadata := map[string]any{stepStageMetadataKey: string(definition.Stage)}
		for key, value := range definition.Metadata {
			metadata[key] = value
		}
		steps = append(steps, core.WorkflowStep{
			ID:          uuid.NewString(),
			ExecutionID: execution.ID,
			Name:        strings.TrimSpace(definition.Name),
			Order:       i + 1,
			Status:      core.StepStatusPending,
			MaxAttempts: maxAttempts,
			Metadata:    metadata,
		})
	}
	if _, err := e.Steps.CreateBatch(ctx, steps); err != nil {
		return core.WorkflowExecution{}, err
	}

	e.notifyJobStarted(ctx, execution)
	if err := e.transition(ctx, &execution, core.WorkflowStateInitializing, ""); err != nil {
		return core.WorkflowExecution{}, err
	}
	if err := e.scheduleAdvance(ctx, execution.ID, now); err != nil {
		return core.WorkflowExecution{}, err
	}
	return execution, nil
}

// Advance performs one unit of workflow progress: it enters the stage of the
// next runnable step, runs one attempt of it, and folds the outcome into the
// workflow state. Stale invocations against terminal or concurrently-moved
// executions no-op.
func (e *Engine) Advance(ctx context.Context, executionID string) error {
	if err := e.requireStores(); err != nil {
		return err
	}
	execution, err := e.Executions.Get(ctx, strings.TrimSpace(executionID))
	if err != nil {
		return err
	}
	if execution.CurrentState.Terminal() || execution.CurrentState == core.WorkflowStatePaused {
		return nil
	}

	steps, err := e.Steps.ListByExecution(ctx, execution.ID)
	if err != nil {
		return err
	}
	step, ok := nextRunnableStep(steps)
	if !ok {
		return e.finish(ctx, &execution, steps)
	}

	stage, err := stageForStep(step)
	if err != nil {
		return err
	}
	if execution.CurrentState != stage {
		if err := e.enterStage(ctx, &execution, stage); err != nil {
			if errors.Is(err, core.ErrWorkflowStateStale) {
				return nil
			}
			return err
		}
	}

	result, err := e.Executor.Run(ctx, execution, step, e.Runner, e.cancelCheck(execution.ID))
	if err != nil {
		return err
	}
	return e.applyOutcome(ctx, &execution, result, stage)
}

// Cancel flips a non-terminal execution to cancelled and records the reason.
// In-flight steps observe the flip at their next checkpoint; already
// scheduled retry tasks become no-ops.
func (e *Engine) Cancel(ctx context.Context, executionID string, reason string) (core.WorkflowExecution, error) {
	if err := e.requireStores(); err != nil {
		return core.WorkflowExecution{}, err
	}
	execution, err := e.Executions.Get(ctx, strings.TrimSpace(executionID))
	if err != nil {
		return core.WorkflowExecution{}, err
	}
	if execution.CurrentState == core.WorkflowStateCancelled {
		return execution, nil
	}
	if execution.CurrentState.Terminal() {
		return core.WorkflowExecution{}, fmt.Errorf(
			"%w: %s -> %s",
			core.ErrInvalidWorkflowStateTransition, execution.CurrentState, core.WorkflowStateCancelled,
		)
	}
	execution.ErrorMessage = strings.TrimSpace(reason)
	if err := e.transition(ctx, &execution, core.WorkflowStateCancelled, reason); err != nil {
		return core.WorkflowExecution{}, err
	}
	e.incCounter(ctx, "workflow.cancelled", execution.TenantID)
	return execution, nil
}

// Pause suspends an execution from an active pipeline stage.
func (e *Engine) Pause(ctx context.Context, executionID string, note string) (core.WorkflowExecution, error) {
	if err := e.requireStores(); err != nil {
		return core.WorkflowExecution{}, err
	}
	execution, err := e.Executions.Get(ctx, strings.TrimSpace(executionID))
	if err != nil {
		return core.WorkflowExecution{}, err
	}
	if !execution.CurrentState.Pipeline() {
		return core.WorkflowExecution{}, fmt.Errorf(
			"%w: %s -> %s",
			core.ErrInvalidWorkflowStateTransition, execution.CurrentState, core.WorkflowStatePaused,
		)
	}
	if err := e.transition(ctx, &execution, core.WorkflowStatePaused, note); err != nil {
		return core.WorkflowExecution{}, err
	}
	return execution, nil
}

// Resume re-enters the stage the execution was in when paused and queues an
// advancement.
func (e *Engine) Resume(ctx context.Context, executionID string) (core.WorkflowExecution, error) {
	if err := e.requireStores(); err != nil {
		return core.WorkflowExecution{}, err
	}
	execution, err := e.Executions.Get(ctx, strings.TrimSpace(executionID))
	if err != nil {
		return core.WorkflowExecution{}, err
	}
	if execution.CurrentState != core.WorkflowStatePaused {
		return core.WorkflowExecution{}, fmt.Errorf(
			"%w: resume from %s",
			core.ErrInvalidWorkflowStateTransition, execution.CurrentState,
		)
	}
	stage := stageBeforePause(execution.History)
	if stage == "" {
		return core.WorkflowExecution{}, fmt.Errorf("workflow: execution %s has no pause entry in history", execution.ID)
	}
	if err := e.transition(ctx, &execution, stage, "resumed"); err != nil {
		return core.WorkflowExecution{}, err
	}
	if err := e.scheduleAdvance(ctx, execution.ID, e.now()); err != nil {
		return core.WorkflowExecution{}, err
	}
	return execution, nil
}

// SkipStep marks a step skipped on explicit instruction and queues an
// advancement so the pipeline moves past it.
func (e *Engine) SkipStep(ctx context.Context, stepID string, reason string) (core.WorkflowStep, error) {
	if err := e.requireStores(); err != nil {
		return core.WorkflowStep{}, err
	}
	step, err := e.Steps.Get(ctx, strings.TrimSpace(stepID))
	if err != nil {
		return core.WorkflowStep{}, err
	}
	execution, err := e.Executions.Get(ctx, step.ExecutionID)
	if err != nil {
		return core.WorkflowStep{}, err
	}
	if execution.CurrentState.Terminal() {
		return core.WorkflowStep{}, fmt.Errorf(
			"%w: skip step on %s execution",
			core.ErrInvalidStepStatusTransition, execution.CurrentState,
		)
	}
	step, err = e.Executor.Skip(ctx, step, reason)
	if err != nil {
		return core.WorkflowStep{}, err
	}
	if err := e.scheduleAdvance(ctx, execution.ID, e.now()); err != nil {
		return core.WorkflowStep{}, err
	}
	return step, nil
}

func (e *Engine) applyOutcome(
	ctx context.Context,
	execution *core.WorkflowExecution,
	result StepResult,
	stage core.WorkflowState,
) error {
	switch result.Outcome {
	case OutcomeCompleted, OutcomeSkipped:
		steps, err := e.Steps.ListByExecution(ctx, execution.ID)
		if err != nil {
			return err
		}
		execution.SetProgress(progressFor(steps))
		if err := e.save(ctx, execution); err != nil {
			return staleAsNoop(err)
		}
		if stage == core.WorkflowStateGeneratingArtifacts {
			e.notifyArtifactCreated(ctx, *execution, result.Step)
		}
		return e.scheduleAdvance(ctx, execution.ID, e.now())

	case OutcomeRetryAwaiting:
		err := e.transition(ctx, execution, core.WorkflowStateWaitingRetry, "step "+result.Step.Name+" awaiting retry")
		return staleAsNoop(err)

	case OutcomeFailed:
		if validationStage(stage) {
			e.notifyValidationFailed(ctx, *execution, result.Step)
			if e.ValidationPolicy == core.ValidationFailureContinue {
				return e.continuePastValidation(ctx, execution, result.Step)
			}
		}
		execution.FailedStep = result.Step.Name
		execution.ErrorMessage = result.Step.ErrorMessage
		execution.ErrorCode = result.Step.ErrorCode
		if err := e.transition(ctx, execution, core.WorkflowStateFailed, "step "+result.Step.Name+" failed"); err != nil {
			return staleAsNoop(err)
		}
		e.notifyJobFailed(ctx, *execution)
		e.incCounter(ctx, "workflow.failed", execution.TenantID)
		return nil
	}
	return fmt.Errorf("workflow: unknown step outcome %q", result.Outcome)
}

// continuePastValidation records the advisory failure in the context
// snapshot and keeps the pipeline moving.
func (e *Engine) continuePastValidation(
	ctx context.Context,
	execution *core.WorkflowExecution,
	step core.WorkflowStep,
) error {
	if execution.Context == nil {
		execution.Context = map[string]any{}
	}
	warnings, _ := execution.Context["validation_warnings"].([]any)
	warnings = append(warnings, map[string]any{
		"step":    step.Name,
		"message": step.ErrorMessage,
		"code":    step.ErrorCode,
	})
	execution.Context["validation_warnings"] = warnings
	if err := e.save(ctx, execution); err != nil {
		return staleAsNoop(err)
	}
	return e.scheduleAdvance(ctx, execution.ID, e.now())
}

// finish walks the execution through any remaining forward stages to
// completed once no runnable steps are left.
func (e *Engine) finish(ctx context.Context, execution *core.WorkflowExecution, steps []core.WorkflowStep) error {
	if failed, step := anyStepFailed(steps); failed && !e.advisoryFailure(step) {
		// Already handled on the failing advancement; a stale task landing
		// here must not resurrect the execution.
		if execution.CurrentState.Terminal() {
			return nil
		}
		execution.FailedStep = step.Name
		execution.ErrorMessage = step.ErrorMessage
		execution.ErrorCode = step.ErrorCode
		if err := e.transition(ctx, execution, core.WorkflowStateFailed, "step "+step.Name+" failed"); err != nil {
			return staleAsNoop(err)
		}
		e.notifyJobFailed(ctx, *execution)
		e.incCounter(ctx, "workflow.failed", execution.TenantID)
		return nil
	}

	execution.SetProgress(100)
	if err := e.walkForward(ctx, execution, core.WorkflowStateCompleted); err != nil {
		return staleAsNoop(err)
	}
	e.notifyJobCompleted(ctx, *execution)
	e.incCounter(ctx, "workflow.completed", execution.TenantID)
	if execution.DurationMS != nil && e.Metrics != nil {
		e.Metrics.ObserveHistogram(ctx, "workflow.duration_ms", float64(*execution.DurationMS), map[string]string{
			"tenant_id": execution.TenantID,
			"workflow":  execution.WorkflowName,
		})
	}
	return nil
}

// enterStage moves the execution into the stage of the step about to run.
// From waiting_retry or paused the re-entry is a single hop; from an earlier
// pipeline stage it walks forward one stage at a time so every hop lands in
// the audit trail.
func (e *Engine) enterStage(ctx context.Context, execution *core.WorkflowExecution, stage core.WorkflowState) error {
	switch execution.CurrentState {
	case core.WorkflowStateWaitingRetry, core.WorkflowStatePaused:
		return e.transition(ctx, execution, stage, "")
	}
	return e.walkForward(ctx, execution, stage)
}

func (e *Engine) walkForward(ctx context.Context, execution *core.WorkflowExecution, target core.WorkflowState) error {
	pipeline := core.PipelineStates()
	currentIndex := stateIndex(pipeline, execution.CurrentState)
	targetIndex := stateIndex(pipeline, target)
	if currentIndex < 0 || targetIndex < 0 || targetIndex < currentIndex {
		return fmt.Errorf(
			"%w: %s -> %s",
			core.ErrInvalidWorkflowStateTransition, execution.CurrentState, target,
		)
	}
	for i := currentIndex + 1; i <= targetIndex; i++ {
		if err := e.transition(ctx, execution, pipeline[i], ""); err != nil {
			return err
		}
	}
	return nil
}

// transition applies the domain transition locally, then persists it through
// the store's state-guarded update so concurrent movers lose with
// ErrWorkflowStateStale instead of clobbering each other.
func (e *Engine) transition(ctx context.Context, execution *core.WorkflowExecution, next core.WorkflowState, note string) error {
	expected := execution.CurrentState
	if err := execution.TransitionTo(next, note, e.now()); err != nil {
		return err
	}
	updated, err := e.Executions.Transition(ctx, *execution, expected)
	if err != nil {
		return err
	}
	*execution = updated
	if len(updated.History) > 0 {
		index := len(updated.History) - 1
		e.notifyStateChanged(ctx, updated, index, updated.History[index])
	}
	return nil
}

// save persists non-state fields guarded by the current state.
func (e *Engine) save(ctx context.Context, execution *core.WorkflowExecution) error {
	execution.UpdatedAt = e.now()
	updated, err := e.Executions.Transition(ctx, *execution, execution.CurrentState)
	if err != nil {
		return err
	}
	*execution = updated
	return nil
}

func (e *Engine) cancelCheck(executionID string) CancelCheck {
	return func(ctx context.Context) (bool, error) {
		execution, err := e.Executions.Get(ctx, executionID)
		if err != nil {
			return false, err
		}
		return execution.CurrentState == core.WorkflowStateCancelled, nil
	}
}

func (e *Engine) scheduleAdvance(ctx context.Context, executionID string, runAt time.Time) error {
	if e.Scheduler == nil {
		return fmt.Errorf("workflow: engine requires scheduler")
	}
	return e.Scheduler.Schedule(ctx, core.Task{
		Kind:  core.TaskKindWorkflowAdvance,
		Key:   executionID,
		RunAt: runAt,
		Payload: map[string]any{
			"execution_id": executionID,
		},
	})
}

func (e *Engine) requireStores() error {
	if e == nil || e.Executions == nil || e.Steps == nil {
		return fmt.Errorf("workflow: engine requires execution and step stores")
	}
	if e.Executor == nil {
		return fmt.Errorf("workflow: engine requires executor")
	}
	return nil
}

func (e *Engine) notifyJobStarted(ctx context.Context, execution core.WorkflowExecution) {
	if e.Events == nil {
		return
	}
	if err := e.Events.JobStarted(ctx, execution); err != nil {
		e.logger().Warn("job started event emission failed", "error", err, "execution_id", execution.ID)
	}
}

func (e *Engine) notifyJobCompleted(ctx context.Context, execution core.WorkflowExecution) {
	if e.Events == nil {
		return
	}
	if err := e.Events.JobCompleted(ctx, execution); err != nil {
		e.logger().Warn("job completed event emission failed", "error", err, "execution_id", execution.ID)
	}
}

func (e *Engine) notifyJobFailed(ctx context.Context, execution core.WorkflowExecution) {
	if e.Events == nil {
		return
	}
	if err := e.Events.JobFailed(ctx, execution); err != nil {
		e.logger().Warn("job failed event emission failed", "error", err, "execution_id", execution.ID)
	}
}

func (e *Engine) notifyStateChanged(ctx context.Context, execution core.WorkflowExecution, index int, change core.StateChange) {
	if e.Events == nil {
		return
	}
	if err := e.Events.StateChanged(ctx, execution, index, change); err != nil {
		e.logger().Warn("state change event emission failed", "error", err, "execution_id", execution.ID)
	}
}

func (e *Engine) notifyValidationFailed(ctx context.Context, execution core.WorkflowExecution, step core.WorkflowStep) {
	if e.Events == nil {
		return
	}
	if err := e.Events.ValidationFailed(ctx, execution, step); err != nil {
		e.logger().Warn("validation failed event emission failed", "error", err, "execution_id", execution.ID)
	}
}

func (e *Engine) notifyArtifactCreated(ctx context.Context, execution core.WorkflowExecution, step core.WorkflowStep) {
	if e.Events == nil {
		return
	}
	artifactID, _ := step.Output["artifact_id"].(string)
	if strings.TrimSpace(artifactID) == "" {
		return
	}
	if err := e.Events.ArtifactCreated(ctx, execution, artifactID, step.Output); err != nil {
		e.logger().Warn("artifact created event emission failed", "error", err, "execution_id", execution.ID)
	}
}

func (e *Engine) incCounter(ctx context.Context, name string, tenantID string) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.IncCounter(ctx, name, 1, map[string]string{"tenant_id": tenantID})
}

func (e *Engine) logger() core.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return glog.Nop()
}

func (e *Engine) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func staleAsNoop(err error) error {
	if errors.Is(err, core.ErrWorkflowStateStale) {
		return nil
	}
	return err
}

func nextRunnableStep(steps []core.WorkflowStep) (core.WorkflowStep, bool) {
	var candidate core.WorkflowStep
	found := false
	for _, step := range steps {
		switch step.Status {
		case core.StepStatusPending, core.StepStatusRetrying, core.StepStatusRunning:
		default:
			continue
		}
		if !found || step.Order < candidate.Order {
			candidate = step
			found = true
		}
	}
	return candidate, found
}

// advisoryFailure reports whether a failed step was absorbed by the
// continue-on-validation-failure policy instead of failing the workflow.
func (e *Engine) advisoryFailure(step core.WorkflowStep) bool {
	if e.ValidationPolicy != core.ValidationFailureContinue {
		return false
	}
	stage, err := stageForStep(step)
	if err != nil {
		return false
	}
	return validationStage(stage)
}

func anyStepFailed(steps []core.WorkflowStep) (bool, core.WorkflowStep) {
	for _, step := range steps {
		if step.Status == core.StepStatusFailed {
			return true, step
		}
	}
	return false, core.WorkflowStep{}
}

// progressFor counts completed and skipped steps against the total, rounded
// down. Failed steps never add progress.
func progressFor(steps []core.WorkflowStep) int {
	if len(steps) == 0 {
		return 0
	}
	done := 0
	for _, step := range steps {
		if step.Status == core.StepStatusCompleted || step.Status == core.StepStatusSkipped {
			done++
		}
	}
	return done * 100 / len(steps)
}

func stageForStep(step core.WorkflowStep) (core.WorkflowState, error) {
	raw, _ := step.Metadata[stepStageMetadataKey].(string)
	stage := core.WorkflowState(strings.TrimSpace(raw))
	if !stageRunnable(stage) {
		return "", fmt.Errorf("workflow: step %q has invalid stage %q", step.Name, stage)
	}
	return stage, nil
}

// stageRunnable reports whether steps may run under the stage; pending is a
// creation-only state with no step work.
func stageRunnable(stage core.WorkflowState) bool {
	return stage.Pipeline() && stage != core.WorkflowStatePending
}

func validationStage(stage core.WorkflowState) bool {
	return stage == core.WorkflowStatePreValidation || stage == core.WorkflowStatePostValidation
}

func stageBeforePause(history []core.StateChange) core.WorkflowState {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].To == core.WorkflowStatePaused {
			return history[i].From
		}
	}
	return ""
}

func stateIndex(states []core.WorkflowState, target core.WorkflowState) int {
	for i, state := range states {
		if state == target {
			return i
		}
	}
	return -1
}
