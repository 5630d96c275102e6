package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	WorkflowErrorBadInput          = "WORKFLOW_BAD_INPUT"
	WorkflowErrorNotFound          = "WORKFLOW_NOT_FOUND"
	WorkflowErrorInvalidTransition = "WORKFLOW_INVALID_TRANSITION"
	WorkflowErrorStateConflict     = "WORKFLOW_STATE_CONFLICT"
	WorkflowErrorStepFailed        = "WORKFLOW_STEP_FAILED"
	WorkflowErrorDeliveryFailed    = "WORKFLOW_DELIVERY_FAILED"
	WorkflowErrorInternal          = "WORKFLOW_INTERNAL_ERROR"
)

func workflowErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureWorkflowErrorEnvelope(richErr)
	}

	switch {
	case goerrors.Is(err, ErrExecutionNotFound),
		goerrors.Is(err, ErrStepNotFound),
		goerrors.Is(err, ErrWebhookNotFound),
		goerrors.Is(err, ErrDeliveryNotFound):
		return newWorkflowError(err.Error(), goerrors.CategoryNotFound, WorkflowErrorNotFound)
	case goerrors.Is(err, ErrWorkflowStateStale):
		return newWorkflowError(err.Error(), goerrors.CategoryConflict, WorkflowErrorStateConflict)
	case goerrors.Is(err, ErrInvalidWorkflowStateTransition),
		goerrors.Is(err, ErrInvalidStepStatusTransition),
		goerrors.Is(err, ErrInvalidDeliveryStatusTransition):
		return newWorkflowError(err.Error(), goerrors.CategoryConflict, WorkflowErrorInvalidTransition)
	case goerrors.Is(err, ErrStepAttemptsExhausted):
		return newWorkflowError(err.Error(), goerrors.CategoryOperation, WorkflowErrorStepFailed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "unknown"):
		return newWorkflowError(err.Error(), goerrors.CategoryBadInput, WorkflowErrorBadInput)
	case strings.Contains(msg, "not found"):
		return newWorkflowError(err.Error(), goerrors.CategoryNotFound, WorkflowErrorNotFound)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureWorkflowErrorEnvelope(mapped)
}

func newWorkflowError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureWorkflowErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureWorkflowErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = workflowHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultWorkflowTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultWorkflowTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return WorkflowErrorBadInput
	case goerrors.CategoryNotFound:
		return WorkflowErrorNotFound
	case goerrors.CategoryConflict:
		return WorkflowErrorStateConflict
	case goerrors.CategoryOperation:
		return WorkflowErrorStepFailed
	default:
		return WorkflowErrorInternal
	}
}

func workflowHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
