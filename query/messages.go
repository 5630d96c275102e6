package query

import (
	"fmt"
	"strings"
)

const (
	TypeGetExecution          = "reportflow.query.execution.get"
	TypeGetExecutionByJobRun  = "reportflow.query.execution.get_by_job_run"
	TypeListExecutionSteps    = "reportflow.query.execution.list_steps"
	TypeGetWebhook            = "reportflow.query.webhook.get"
	TypeGetDelivery           = "reportflow.query.delivery.get"
	TypeListWebhookDeliveries = "reportflow.query.webhook.list_deliveries"
)

type GetExecutionMessage struct {
	ExecutionID string
}

func (GetExecutionMessage) Type() string { return TypeGetExecution }

func (m GetExecutionMessage) Validate() error {
	if strings.TrimSpace(m.ExecutionID) == "" {
		return fmt.Errorf("query: execution id is required")
	}
	return nil
}

type GetExecutionByJobRunMessage struct {
	JobRunID string
}

func (GetExecutionByJobRunMessage) Type() string { return TypeGetExecutionByJobRun }

func (m GetExecutionByJobRunMessage) Validate() error {
	if strings.TrimSpace(m.JobRunID) == "" {
		return fmt.Errorf("query: job run id is required")
	}
	return nil
}

type ListExecutionStepsMessage struct {
	ExecutionID string
}

func (ListExecutionStepsMessage) Type() string { return TypeListExecutionSteps }

func (m ListExecutionStepsMessage) Validate() error {
	if strings.TrimSpace(m.ExecutionID) == "" {
		return fmt.Errorf("query: execution id is required")
	}
	return nil
}

type GetWebhookMessage struct {
	WebhookID string
}

func (GetWebhookMessage) Type() string { return TypeGetWebhook }

func (m GetWebhookMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return fmt.Errorf("query: webhook id is required")
	}
	return nil
}

type GetDeliveryMessage struct {
	DeliveryID string
}

func (GetDeliveryMessage) Type() string { return TypeGetDelivery }

func (m GetDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("query: delivery id is required")
	}
	return nil
}

type ListWebhookDeliveriesMessage struct {
	WebhookID string
	Limit     int
}

func (ListWebhookDeliveriesMessage) Type() string { return TypeListWebhookDeliveries }

func (m ListWebhookDeliveriesMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return fmt.Errorf("query: webhook id is required")
	}
	if m.Limit < 0 {
		return fmt.Errorf("query: limit must be >= 0")
	}
	return nil
}
