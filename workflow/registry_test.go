package workflow

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/goliatone/go-reportflow/core"
)

func TestRunnerRegistryRoutesByStepName(t *testing.T) {
	registry := NewRunnerRegistry()
	if err := registry.RegisterFunc("fetch_source_data", func(context.Context, core.WorkflowExecution, core.WorkflowStep, CancelCheck) (map[string]any, error) {
		return map[string]any{"rows": 3}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	output, err := registry.RunStep(context.Background(), core.WorkflowExecution{}, core.WorkflowStep{Name: "fetch_source_data"}, nil)
	if err != nil {
		t.Fatalf("run step: %v", err)
	}
	if rows, _ := output["rows"].(int); rows != 3 {
		t.Fatalf("expected registered runner output, got %v", output)
	}
	if !registry.Has("fetch_source_data") || registry.Has("transform_report") {
		t.Fatalf("unexpected registry membership")
	}
}

func TestRunnerRegistryMissingRunnerIsFatal(t *testing.T) {
	registry := NewRunnerRegistry()
	_, err := registry.RunStep(context.Background(), core.WorkflowExecution{}, core.WorkflowStep{Name: "transform_report"}, nil)
	if err == nil || !IsFatal(err) {
		t.Fatalf("expected fatal error for missing runner, got %v", err)
	}
}

func TestRunnerRegistryRegisterValidation(t *testing.T) {
	registry := NewRunnerRegistry()
	runner := StepRunnerFunc(func(context.Context, core.WorkflowExecution, core.WorkflowStep, CancelCheck) (map[string]any, error) {
		return nil, nil
	})

	if err := registry.Register("  ", runner); err == nil {
		t.Fatalf("expected error for blank step name")
	}
	if err := registry.Register("fetch_source_data", nil); err == nil {
		t.Fatalf("expected error for nil runner")
	}
	if err := registry.Register("fetch_source_data", runner); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("fetch_source_data", runner); err == nil {
		t.Fatalf("expected error for duplicate registration")
	}
}

func TestRunnerRegistryNamesSorted(t *testing.T) {
	registry := NewRunnerRegistry()
	for _, name := range []string{"transform_report", "fetch_source_data", "generate_xbrl"} {
		if err := registry.RegisterFunc(name, func(context.Context, core.WorkflowExecution, core.WorkflowStep, CancelCheck) (map[string]any, error) {
			return nil, fmt.Errorf("unused")
		}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	want := []string{"fetch_source_data", "generate_xbrl", "transform_report"}
	if got := registry.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected sorted names %v, got %v", want, got)
	}
}
