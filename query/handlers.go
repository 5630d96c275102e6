package query

import (
	"context"

	"github.com/goliatone/go-reportflow/core"
)

type ExecutionReader interface {
	Get(ctx context.Context, id string) (core.WorkflowExecution, error)
	GetByJobRun(ctx context.Context, jobRunID string) (core.WorkflowExecution, error)
}

type StepReader interface {
	ListByExecution(ctx context.Context, executionID string) ([]core.WorkflowStep, error)
}

type WebhookReader interface {
	Get(ctx context.Context, id string) (core.Webhook, error)
}

type DeliveryReader interface {
	Get(ctx context.Context, id string) (core.WebhookDelivery, error)
	ListByWebhook(ctx context.Context, webhookID string, limit int) ([]core.WebhookDelivery, error)
}

type GetExecutionQuery struct {
	reader ExecutionReader
}

func NewGetExecutionQuery(reader ExecutionReader) *GetExecutionQuery {
	return &GetExecutionQuery{reader: reader}
}

func (q *GetExecutionQuery) Query(ctx context.Context, msg GetExecutionMessage) (core.WorkflowExecution, error) {
	if q == nil || q.reader == nil {
		return core.WorkflowExecution{}, queryDependencyError("query: execution reader is required")
	}
	return q.reader.Get(ctx, msg.ExecutionID)
}

type GetExecutionByJobRunQuery struct {
	reader ExecutionReader
}

func NewGetExecutionByJobRunQuery(reader ExecutionReader) *GetExecutionByJobRunQuery {
	return &GetExecutionByJobRunQuery{reader: reader}
}

func (q *GetExecutionByJobRunQuery) Query(
	ctx context.Context,
	msg GetExecutionByJobRunMessage,
) (core.WorkflowExecution, error) {
	if q == nil || q.reader == nil {
		return core.WorkflowExecution{}, queryDependencyError("query: execution reader is required")
	}
	return q.reader.GetByJobRun(ctx, msg.JobRunID)
}

type ListExecutionStepsQuery struct {
	reader StepReader
}

func NewListExecutionStepsQuery(reader StepReader) *ListExecutionStepsQuery {
	return &ListExecutionStepsQuery{reader: reader}
}

func (q *ListExecutionStepsQuery) Query(
	ctx context.Context,
	msg ListExecutionStepsMessage,
) ([]core.WorkflowStep, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: step reader is required")
	}
	return q.reader.ListByExecution(ctx, msg.ExecutionID)
}

type GetWebhookQuery struct {
	reader WebhookReader
}

func NewGetWebhookQuery(reader WebhookReader) *GetWebhookQuery {
	return &GetWebhookQuery{reader: reader}
}

func (q *GetWebhookQuery) Query(ctx context.Context, msg GetWebhookMessage) (core.Webhook, error) {
	if q == nil || q.reader == nil {
		return core.Webhook{}, queryDependencyError("query: webhook reader is required")
	}
	return q.reader.Get(ctx, msg.WebhookID)
}

type GetDeliveryQuery struct {
	reader DeliveryReader
}

func NewGetDeliveryQuery(reader DeliveryReader) *GetDeliveryQuery {
	return &GetDeliveryQuery{reader: reader}
}

func (q *GetDeliveryQuery) Query(ctx context.Context, msg GetDeliveryMessage) (core.WebhookDelivery, error) {
	if q == nil || q.reader == nil {
		return core.WebhookDelivery{}, queryDependencyError("query: delivery reader is required")
	}
	return q.reader.Get(ctx, msg.DeliveryID)
}

type ListWebhookDeliveriesQuery struct {
	reader DeliveryReader
}

func NewListWebhookDeliveriesQuery(reader DeliveryReader) *ListWebhookDeliveriesQuery {
	return &ListWebhookDeliveriesQuery{reader: reader}
}

func (q *ListWebhookDeliveriesQuery) Query(
	ctx context.Context,
	msg ListWebhookDeliveriesMessage,
) ([]core.WebhookDelivery, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: delivery reader is required")
	}
	return q.reader.ListByWebhook(ctx, msg.WebhookID, msg.Limit)
}
