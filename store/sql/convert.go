package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-reportflow/core"
)

func executionToRecord(execution core.WorkflowExecution) *executionRecord {
	return &executionRecord{
		ID:              strings.TrimSpace(execution.ID),
		TenantID:        strings.TrimSpace(execution.TenantID),
		JobRunID:        strings.TrimSpace(execution.JobRunID),
		WorkflowName:    strings.TrimSpace(execution.WorkflowName),
		WorkflowVersion: strings.TrimSpace(execution.WorkflowVersion),
		CurrentState:    string(execution.CurrentState),
		Progress:        execution.Progress,
		StartedAt:       cloneTime(execution.StartedAt),
		CompletedAt:     cloneTime(execution.CompletedAt),
		DurationMS:      cloneInt64(execution.DurationMS),
		ErrorMessage:    execution.ErrorMessage,
		ErrorCode:       execution.ErrorCode,
		FailedStep:      execution.FailedStep,
		Context:         copyAnyMap(execution.Context),
		History:         append([]core.StateChange(nil), execution.History...),
		CreatedAt:       execution.CreatedAt,
		UpdatedAt:       execution.UpdatedAt,
	}
}

func executionToDomain(record *executionRecord) core.WorkflowExecution {
	if record == nil {
		return core.WorkflowExecution{}
	}
	return core.WorkflowExecution{
		ID:              record.ID,
		TenantID:        record.TenantID,
		JobRunID:        record.JobRunID,
		WorkflowName:    record.WorkflowName,
		WorkflowVersion: record.WorkflowVersion,
		CurrentState:    core.WorkflowState(record.CurrentState),
		Progress:        record.Progress,
		StartedAt:       cloneTime(record.StartedAt),
		CompletedAt:     cloneTime(record.CompletedAt),
		DurationMS:      cloneInt64(record.DurationMS),
		ErrorMessage:    record.ErrorMessage,
		ErrorCode:       record.ErrorCode,
		FailedStep:      record.FailedStep,
		Context:         copyAnyMap(record.Context),
		History:         append([]core.StateChange(nil), record.History...),
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func stepToRecord(step core.WorkflowStep) *stepRecord {
	return &stepRecord{
		ID:           strings.TrimSpace(step.ID),
		ExecutionID:  strings.TrimSpace(step.ExecutionID),
		Name:         strings.TrimSpace(step.Name),
		Order:        step.Order,
		Status:       string(step.Status),
		StartedAt:    cloneTime(step.StartedAt),
		CompletedAt:  cloneTime(step.CompletedAt),
		DurationMS:   cloneInt64(step.DurationMS),
		AttemptCount: step.AttemptCount,
		MaxAttempts:  step.MaxAttempts,
		NextRetryAt:  cloneTime(step.NextRetryAt),
		ErrorMessage: step.ErrorMessage,
		ErrorCode:    step.ErrorCode,
		Output:       copyAnyMap(step.Output),
		Metadata:     copyAnyMap(step.Metadata),
	}
}

func stepToDomain(record *stepRecord) core.WorkflowStep {
	if record == nil {
		return core.WorkflowStep{}
	}
	return core.WorkflowStep{
		ID:           record.ID,
		ExecutionID:  record.ExecutionID,
		Name:         record.Name,
		Order:        record.Order,
		Status:       core.StepStatus(record.Status),
		StartedAt:    cloneTime(record.StartedAt),
		CompletedAt:  cloneTime(record.CompletedAt),
		DurationMS:   cloneInt64(record.DurationMS),
		AttemptCount: record.AttemptCount,
		MaxAttempts:  record.MaxAttempts,
		NextRetryAt:  cloneTime(record.NextRetryAt),
		ErrorMessage: record.ErrorMessage,
		ErrorCode:    record.ErrorCode,
		Output:       copyAnyMap(record.Output),
		Metadata:     copyAnyMap(record.Metadata),
	}
}

func webhookToRecord(webhook core.Webhook) *webhookRecord {
	return &webhookRecord{
		ID:              strings.TrimSpace(webhook.ID),
		TenantID:        strings.TrimSpace(webhook.TenantID),
		CreatedBy:       strings.TrimSpace(webhook.CreatedBy),
		Name:            strings.TrimSpace(webhook.Name),
		Description:     webhook.Description,
		URL:             strings.TrimSpace(webhook.URL),
		EncryptedSecret: append([]byte(nil), webhook.EncryptedSecret...),
		AllowedIPs:      copyStringSlice(webhook.AllowedIPs),
		Events:          copyStringSlice(webhook.Events),
		ReportIDs:       copyStringSlice(webhook.ReportIDs),
		Headers:         copyStringMap(webhook.Headers),
		TimeoutSeconds:  webhook.TimeoutSeconds,
		RetryPolicy: retryPolicyDoc{
			MaxAttempts: webhook.RetryPolicy.MaxAttempts,
			BackoffKind: strings.TrimSpace(webhook.RetryPolicy.BackoffKind),
			BaseDelayMS: webhook.RetryPolicy.BaseDelay.Milliseconds(),
			MaxDelayMS:  webhook.RetryPolicy.MaxDelay.Milliseconds(),
		},
		IsActive:             webhook.IsActive,
		TotalDeliveries:      webhook.TotalDeliveries,
		SuccessfulDeliveries: webhook.SuccessfulDeliveries,
		FailedDeliveries:     webhook.FailedDeliveries,
		LastTriggeredAt:      cloneTime(webhook.LastTriggeredAt),
		LastSuccessAt:        cloneTime(webhook.LastSuccessAt),
		LastFailureAt:        cloneTime(webhook.LastFailureAt),
		CreatedAt:            webhook.CreatedAt,
		UpdatedAt:            webhook.UpdatedAt,
	}
}

func webhookToDomain(record *webhookRecord) core.Webhook {
	if record == nil {
		return core.Webhook{}
	}
	return core.Webhook{
		ID:              record.ID,
		TenantID:        record.TenantID,
		CreatedBy:       record.CreatedBy,
		Name:            record.Name,
		Description:     record.Description,
		URL:             record.URL,
		EncryptedSecret: append([]byte(nil), record.EncryptedSecret...),
		AllowedIPs:      copyStringSlice(record.AllowedIPs),
		Events:          copyStringSlice(record.Events),
		ReportIDs:       copyStringSlice(record.ReportIDs),
		Headers:         copyStringMap(record.Headers),
		TimeoutSeconds:  record.TimeoutSeconds,
		RetryPolicy: core.RetryPolicy{
			MaxAttempts: record.RetryPolicy.MaxAttempts,
			BackoffKind: record.RetryPolicy.BackoffKind,
			BaseDelay:   time.Duration(record.RetryPolicy.BaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(record.RetryPolicy.MaxDelayMS) * time.Millisecond,
		},
		IsActive:             record.IsActive,
		TotalDeliveries:      record.TotalDeliveries,
		SuccessfulDeliveries: record.SuccessfulDeliveries,
		FailedDeliveries:     record.FailedDeliveries,
		LastTriggeredAt:      cloneTime(record.LastTriggeredAt),
		LastSuccessAt:        cloneTime(record.LastSuccessAt),
		LastFailureAt:        cloneTime(record.LastFailureAt),
		CreatedAt:            record.CreatedAt,
		UpdatedAt:            record.UpdatedAt,
	}
}

func deliveryToRecord(delivery core.WebhookDelivery) *deliveryRecord {
	return &deliveryRecord{
		ID:                 strings.TrimSpace(delivery.ID),
		WebhookID:          strings.TrimSpace(delivery.WebhookID),
		TenantID:           strings.TrimSpace(delivery.TenantID),
		EventType:          strings.TrimSpace(delivery.EventType),
		EventID:            strings.TrimSpace(delivery.EventID),
		Payload:            copyAnyMap(delivery.Payload),
		JobRunID:           strings.TrimSpace(delivery.JobRunID),
		ArtifactID:         strings.TrimSpace(delivery.ArtifactID),
		OccurredAt:         delivery.OccurredAt,
		Status:             string(delivery.Status),
		AttemptCount:       delivery.AttemptCount,
		MaxAttempts:        delivery.MaxAttempts,
		RequestURL:         delivery.RequestURL,
		RequestHeaders:     copyStringMap(delivery.RequestHeaders),
		RequestTimestamp:   cloneTime(delivery.RequestTimestamp),
		ResponseStatusCode: delivery.ResponseStatusCode,
		ResponseHeaders:    copyStringMap(delivery.ResponseHeaders),
		ResponseBody:       delivery.ResponseBody,
		ResponseTimestamp:  cloneTime(delivery.ResponseTimestamp),
		ResponseTimeMS:     cloneInt64(delivery.ResponseTimeMS),
		ErrorMessage:       delivery.ErrorMessage,
		NextRetryAt:        cloneTime(delivery.NextRetryAt),
		CompletedAt:        cloneTime(delivery.CompletedAt),
		CreatedAt:          delivery.CreatedAt,
		UpdatedAt:          delivery.UpdatedAt,
	}
}

func deliveryToDomain(record *deliveryRecord) core.WebhookDelivery {
	if record == nil {
		return core.WebhookDelivery{}
	}
	return core.WebhookDelivery{
		ID:                 record.ID,
		WebhookID:          record.WebhookID,
		TenantID:           record.TenantID,
		EventType:          record.EventType,
		EventID:            record.EventID,
		Payload:            copyAnyMap(record.Payload),
		JobRunID:           record.JobRunID,
		ArtifactID:         record.ArtifactID,
		OccurredAt:         record.OccurredAt,
		Status:             core.DeliveryStatus(record.Status),
		AttemptCount:       record.AttemptCount,
		MaxAttempts:        record.MaxAttempts,
		RequestURL:         record.RequestURL,
		RequestHeaders:     copyStringMap(record.RequestHeaders),
		RequestTimestamp:   cloneTime(record.RequestTimestamp),
		ResponseStatusCode: record.ResponseStatusCode,
		ResponseHeaders:    copyStringMap(record.ResponseHeaders),
		ResponseBody:       record.ResponseBody,
		ResponseTimestamp:  cloneTime(record.ResponseTimestamp),
		ResponseTimeMS:     cloneInt64(record.ResponseTimeMS),
		ErrorMessage:       record.ErrorMessage,
		NextRetryAt:        cloneTime(record.NextRetryAt),
		CompletedAt:        cloneTime(record.CompletedAt),
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}

func copyAnyMap(input map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range input {
		out[key] = value
	}
	return out
}

func copyStringMap(input map[string]string) map[string]string {
	out := map[string]string{}
	for key, value := range input {
		out[key] = value
	}
	return out
}

func copyStringSlice(input []string) []string {
	if input == nil {
		return []string{}
	}
	return append([]string(nil), input...)
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func cloneInt64(input *int64) *int64 {
	if input == nil {
		return nil
	}
	value := *input
	return &value
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
