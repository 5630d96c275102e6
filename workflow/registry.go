package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-reportflow/core"
)

// RunnerRegistry routes step execution to the runner registered for the
// step's name. Hosts register one runner per step name before starting
// workflows; running a step with no registered runner is a fatal step error,
// not a retryable one.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[string]StepRunner
}

func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{runners: map[string]StepRunner{}}
}

func (r *RunnerRegistry) Register(stepName string, runner StepRunner) error {
	if r == nil {
		return fmt.Errorf("workflow: runner registry is nil")
	}
	stepName = strings.TrimSpace(stepName)
	if stepName == "" {
		return fmt.Errorf("workflow: step name is required")
	}
	if runner == nil {
		return fmt.Errorf("workflow: runner is required for step %q", stepName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runners[stepName]; exists {
		return fmt.Errorf("workflow: runner already registered for step %q", stepName)
	}
	r.runners[stepName] = runner
	return nil
}

func (r *RunnerRegistry) RegisterFunc(stepName string, runner StepRunnerFunc) error {
	return r.Register(stepName, runner)
}

func (r *RunnerRegistry) Has(stepName string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[strings.TrimSpace(stepName)]
	return ok
}

func (r *RunnerRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *RunnerRegistry) RunStep(
	ctx context.Context,
	execution core.WorkflowExecution,
	step core.WorkflowStep,
	cancelled CancelCheck,
) (map[string]any, error) {
	if r == nil {
		return nil, Fatal(fmt.Errorf("workflow: runner registry is nil"))
	}
	r.mu.RLock()
	runner, ok := r.runners[step.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, Fatal(fmt.Errorf("workflow: no runner registered for step %q", step.Name))
	}
	return runner.RunStep(ctx, execution, step, cancelled)
}

var _ StepRunner = (*RunnerRegistry)(nil)
