package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[StartWorkflowMessage]       = (*StartWorkflowCommand)(nil)
	_ gocmd.Commander[CancelWorkflowMessage]      = (*CancelWorkflowCommand)(nil)
	_ gocmd.Commander[PauseWorkflowMessage]       = (*PauseWorkflowCommand)(nil)
	_ gocmd.Commander[ResumeWorkflowMessage]      = (*ResumeWorkflowCommand)(nil)
	_ gocmd.Commander[SkipStepMessage]            = (*SkipStepCommand)(nil)
	_ gocmd.Commander[RetryDeliveryMessage]       = (*RetryDeliveryCommand)(nil)
	_ gocmd.Commander[CreateWebhookMessage]       = (*CreateWebhookCommand)(nil)
	_ gocmd.Commander[RotateWebhookSecretMessage] = (*RotateWebhookSecretCommand)(nil)
	_ gocmd.Commander[SetWebhookActiveMessage]    = (*SetWebhookActiveCommand)(nil)
)
