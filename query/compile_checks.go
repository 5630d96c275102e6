package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-reportflow/core"
)

var (
	_ gocmd.Querier[GetExecutionMessage, core.WorkflowExecution]          = (*GetExecutionQuery)(nil)
	_ gocmd.Querier[GetExecutionByJobRunMessage, core.WorkflowExecution]  = (*GetExecutionByJobRunQuery)(nil)
	_ gocmd.Querier[ListExecutionStepsMessage, []core.WorkflowStep]       = (*ListExecutionStepsQuery)(nil)
	_ gocmd.Querier[GetWebhookMessage, core.Webhook]                      = (*GetWebhookQuery)(nil)
	_ gocmd.Querier[GetDeliveryMessage, core.WebhookDelivery]             = (*GetDeliveryQuery)(nil)
	_ gocmd.Querier[ListWebhookDeliveriesMessage, []core.WebhookDelivery] = (*ListWebhookDeliveriesQuery)(nil)
)
