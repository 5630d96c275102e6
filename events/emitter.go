// Package events translates workflow lifecycle notifications into canonical
// event envelopes and hands them to the configured sink. Event IDs are
// derived deterministically from the logical occurrence so re-emission
// reuses the same id and downstream uniqueness constraints dedupe.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reportflow/core"
)

type Emitter struct {
	Sink core.EventSink
	Now  func() time.Time
}

func NewEmitter(sink core.EventSink) *Emitter {
	return &Emitter{
		Sink: sink,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (e *Emitter) JobStarted(ctx context.Context, execution core.WorkflowExecution) error {
	return e.emit(ctx, core.Event{
		ID:       core.DeterministicEventID(execution.ID, core.EventJobStarted, 0),
		Type:     core.EventJobStarted,
		TenantID: execution.TenantID,
		ReportID: reportIDFrom(execution),
		JobRunID: execution.JobRunID,
		Payload:  executionPayload(execution),
	})
}

func (e *Emitter) JobCompleted(ctx context.Context, execution core.WorkflowExecution) error {
	return e.emit(ctx, core.Event{
		ID:       core.DeterministicEventID(execution.ID, core.EventJobCompleted, 0),
		Type:     core.EventJobCompleted,
		TenantID: execution.TenantID,
		ReportID: reportIDFrom(execution),
		JobRunID: execution.JobRunID,
		Payload:  executionPayload(execution),
	})
}

func (e *Emitter) JobFailed(ctx context.Context, execution core.WorkflowExecution) error {
	payload := executionPayload(execution)
	payload["failed_step"] = execution.FailedStep
	payload["error_code"] = execution.ErrorCode
	payload["error_message"] = execution.ErrorMessage
	return e.emit(ctx, core.Event{
		ID:       core.DeterministicEventID(execution.ID, core.EventJobFailed, 0),
		Type:     core.EventJobFailed,
		TenantID: execution.TenantID,
		ReportID: reportIDFrom(execution),
		JobRunID: execution.JobRunID,
		Payload:  payload,
	})
}

// StateChanged derives the event id from the history index, so replaying a
// transition notification reuses the id of the original occurrence.
func (e *Emitter) StateChanged(
	ctx context.Context,
	execution core.WorkflowExecution,
	index int,
	change core.StateChange,
) error {
	if index < 0 {
		return fmt.Errorf("events: history index must not be negative")
	}
	payload := executionPayload(execution)
	payload["from_state"] = string(change.From)
	payload["to_state"] = string(change.To)
	if note := strings.TrimSpace(change.Note); note != "" {
		payload["note"] = note
	}
	return e.emit(ctx, core.Event{
		ID:         core.DeterministicEventID(execution.ID, core.EventWorkflowStateChanged, index),
		Type:       core.EventWorkflowStateChanged,
		TenantID:   execution.TenantID,
		ReportID:   reportIDFrom(execution),
		JobRunID:   execution.JobRunID,
		Payload:    payload,
		OccurredAt: change.At,
	})
}

func (e *Emitter) ValidationFailed(
	ctx context.Context,
	execution core.WorkflowExecution,
	step core.WorkflowStep,
) error {
	payload := executionPayload(execution)
	payload["step"] = step.Name
	payload["error_code"] = step.ErrorCode
	payload["error_message"] = step.ErrorMessage
	return e.emit(ctx, core.Event{
		ID:       core.DeterministicEventID(step.ID, core.EventValidationFailed, 0),
		Type:     core.EventValidationFailed,
		TenantID: execution.TenantID,
		ReportID: reportIDFrom(execution),
		JobRunID: execution.JobRunID,
		Payload:  payload,
	})
}

func (e *Emitter) ArtifactCreated(
	ctx context.Context,
	execution core.WorkflowExecution,
	artifactID string,
	payload map[string]any,
) error {
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return fmt.Errorf("events: artifact id is required")
	}
	body := executionPayload(execution)
	body["artifact_id"] = artifactID
	for key, value := range payload {
		body[key] = value
	}
	return e.emit(ctx, core.Event{
		ID:         core.DeterministicEventID(artifactID, core.EventArtifactCreated, 0),
		Type:       core.EventArtifactCreated,
		TenantID:   execution.TenantID,
		ReportID:   reportIDFrom(execution),
		JobRunID:   execution.JobRunID,
		ArtifactID: artifactID,
		Payload:    body,
	})
}

func (e *Emitter) DeliveryCompleted(ctx context.Context, delivery core.WebhookDelivery) error {
	return e.emit(ctx, deliveryEvent(core.EventDeliveryCompleted, delivery))
}

func (e *Emitter) DeliveryFailed(ctx context.Context, delivery core.WebhookDelivery) error {
	return e.emit(ctx, deliveryEvent(core.EventDeliveryFailed, delivery))
}

func (e *Emitter) emit(ctx context.Context, event core.Event) error {
	if e == nil || e.Sink == nil {
		return fmt.Errorf("events: emitter requires a sink")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	event.OccurredAt = event.OccurredAt.UTC()
	if err := event.Validate(); err != nil {
		return err
	}
	return e.Sink.Dispatch(ctx, event)
}

func (e *Emitter) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func deliveryEvent(eventType string, delivery core.WebhookDelivery) core.Event {
	return core.Event{
		ID:         core.DeterministicEventID(delivery.ID, eventType, 0),
		Type:       eventType,
		TenantID:   delivery.TenantID,
		JobRunID:   delivery.JobRunID,
		ArtifactID: delivery.ArtifactID,
		Payload: map[string]any{
			"delivery_id":          delivery.ID,
			"webhook_id":           delivery.WebhookID,
			"source_event_id":      delivery.EventID,
			"source_event_type":    delivery.EventType,
			"attempt_count":        delivery.AttemptCount,
			"response_status_code": delivery.ResponseStatusCode,
			"error_message":        delivery.ErrorMessage,
		},
	}
}

func executionPayload(execution core.WorkflowExecution) map[string]any {
	payload := map[string]any{
		"execution_id":     execution.ID,
		"job_run_id":       execution.JobRunID,
		"workflow_name":    execution.WorkflowName,
		"workflow_version": execution.WorkflowVersion,
		"current_state":    string(execution.CurrentState),
		"progress":         execution.Progress,
	}
	if report := reportIDFrom(execution); report != "" {
		payload["report_id"] = report
	}
	return payload
}

// reportIDFrom reads the optional report reference from the execution's
// context snapshot; an empty result means the event bypasses report filters.
func reportIDFrom(execution core.WorkflowExecution) string {
	raw, _ := execution.Context["report_id"].(string)
	return strings.TrimSpace(raw)
}
