package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidWorkflowStateTransition  = errors.New("core: invalid workflow state transition")
	ErrInvalidStepStatusTransition     = errors.New("core: invalid step status transition")
	ErrInvalidDeliveryStatusTransition = errors.New("core: invalid delivery status transition")
	ErrWorkflowStateStale              = errors.New("core: workflow state changed concurrently")
	ErrExecutionNotFound               = errors.New("core: workflow execution not found")
	ErrStepNotFound                    = errors.New("core: workflow step not found")
	ErrWebhookNotFound                 = errors.New("core: webhook not found")
	ErrDeliveryNotFound                = errors.New("core: webhook delivery not found")
	ErrStepAttemptsExhausted           = errors.New("core: step attempts exhausted")
)

type WorkflowState string

const (
	WorkflowStatePending             WorkflowState = "pending"
	WorkflowStateInitializing        WorkflowState = "initializing"
	WorkflowStateFetchingData        WorkflowState = "fetching_data"
	WorkflowStatePreValidation       WorkflowState = "pre_validation"
	WorkflowStateTransforming        WorkflowState = "transforming"
	WorkflowStatePostValidation      WorkflowState = "post_validation"
	WorkflowStateGeneratingArtifacts WorkflowState = "generating_artifacts"
	WorkflowStateDelivering          WorkflowState = "delivering"
	WorkflowStateCompleted           WorkflowState = "completed"
	WorkflowStateFailed              WorkflowState = "failed"
	WorkflowStateCancelled           WorkflowState = "cancelled"
	WorkflowStateWaitingRetry        WorkflowState = "waiting_retry"
	WorkflowStatePaused              WorkflowState = "paused"
)

// PipelineStates returns the forward pipeline in execution order, from the
// initial state through the terminal success state.
func PipelineStates() []WorkflowState {
	return []WorkflowState{
		WorkflowStatePending,
		WorkflowStateInitializing,
		WorkflowStateFetchingData,
		WorkflowStatePreValidation,
		WorkflowStateTransforming,
		WorkflowStatePostValidation,
		WorkflowStateGeneratingArtifacts,
		WorkflowStateDelivering,
		WorkflowStateCompleted,
	}
}

func (s WorkflowState) Terminal() bool {
	switch s {
	case WorkflowStateCompleted, WorkflowStateFailed, WorkflowStateCancelled:
		return true
	}
	return false
}

// Pipeline reports whether the state belongs to the forward pipeline,
// excluding the terminal success state.
func (s WorkflowState) Pipeline() bool {
	for _, state := range PipelineStates() {
		if state == s && s != WorkflowStateCompleted {
			return true
		}
	}
	return false
}

func workflowTransitionAllowed(current, next WorkflowState) bool {
	if current.Terminal() {
		return false
	}

	// Any active pipeline state may branch to the side states.
	if current.Pipeline() {
		switch next {
		case WorkflowStateFailed, WorkflowStateCancelled, WorkflowStateWaitingRetry, WorkflowStatePaused:
			return true
		}
	}

	allowed := map[WorkflowState]map[WorkflowState]struct{}{
		WorkflowStatePending: {
			WorkflowStateInitializing: {},
		},
		WorkflowStateInitializing: {
			WorkflowStateFetchingData: {},
		},
		WorkflowStateFetchingData: {
			WorkflowStatePreValidation: {},
		},
		WorkflowStatePreValidation: {
			WorkflowStateTransforming: {},
		},
		WorkflowStateTransforming: {
			WorkflowStatePostValidation: {},
		},
		WorkflowStatePostValidation: {
			WorkflowStateGeneratingArtifacts: {},
		},
		WorkflowStateGeneratingArtifacts: {
			WorkflowStateDelivering: {},
		},
		WorkflowStateDelivering: {
			WorkflowStateCompleted: {},
		},
		WorkflowStateWaitingRetry: {
			WorkflowStateInitializing:        {},
			WorkflowStateFetchingData:        {},
			WorkflowStatePreValidation:       {},
			WorkflowStateTransforming:        {},
			WorkflowStatePostValidation:      {},
			WorkflowStateGeneratingArtifacts: {},
			WorkflowStateDelivering:          {},
			WorkflowStateFailed:              {},
			WorkflowStateCancelled:           {},
		},
		WorkflowStatePaused: {
			WorkflowStateInitializing:        {},
			WorkflowStateFetchingData:        {},
			WorkflowStatePreValidation:       {},
			WorkflowStateTransforming:        {},
			WorkflowStatePostValidation:      {},
			WorkflowStateGeneratingArtifacts: {},
			WorkflowStateDelivering:          {},
			WorkflowStateCancelled:           {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// StateChange is one entry of an execution's audit trail. The stored
// current_state is a cache of the last entry and must never diverge from it.
type StateChange struct {
	From WorkflowState `json:"from"`
	To   WorkflowState `json:"to"`
	At   time.Time     `json:"at"`
	Note string        `json:"note,omitempty"`
}

type WorkflowExecution struct {
	ID              string
	TenantID        string
	JobRunID        string
	WorkflowName    string
	WorkflowVersion string
	CurrentState    WorkflowState
	Progress        int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationMS      *int64
	ErrorMessage    string
	ErrorCode       string
	FailedStep      string
	Context         map[string]any
	History         []StateChange
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransitionTo validates the transition, appends the audit entry, and keeps
// the terminal-iff-completed_at invariant.
func (e *WorkflowExecution) TransitionTo(next WorkflowState, note string, now time.Time) error {
	if e == nil {
		return nil
	}
	if !workflowTransitionAllowed(e.CurrentState, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidWorkflowStateTransition, e.CurrentState, next)
	}
	e.History = append(e.History, StateChange{
		From: e.CurrentState,
		To:   next,
		At:   now.UTC(),
		Note: strings.TrimSpace(note),
	})
	e.CurrentState = next
	e.UpdatedAt = now.UTC()
	if next.Terminal() {
		completed := now.UTC()
		e.CompletedAt = &completed
		if e.StartedAt != nil {
			duration := completed.Sub(e.StartedAt.UTC()).Milliseconds()
			e.DurationMS = &duration
		}
	}
	return nil
}

// SetProgress enforces the monotone non-decreasing progress invariant.
func (e *WorkflowExecution) SetProgress(percentage int) {
	if e == nil {
		return
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	if percentage > e.Progress {
		e.Progress = percentage
	}
}

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusRetrying  StepStatus = "retrying"
	StepStatusSkipped   StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

func stepTransitionAllowed(current, next StepStatus) bool {
	allowed := map[StepStatus]map[StepStatus]struct{}{
		StepStatusPending: {
			StepStatusRunning: {},
			StepStatusSkipped: {},
		},
		StepStatusRunning: {
			StepStatusCompleted: {},
			StepStatusFailed:    {},
			StepStatusRetrying:  {},
		},
		StepStatusRetrying: {
			StepStatusRunning: {},
			StepStatusSkipped: {},
			StepStatusFailed:  {},
		},
		StepStatusCompleted: {},
		StepStatusFailed:    {},
		StepStatusSkipped:   {},
	}
	_, ok := allowed[current][next]
	return ok
}

type WorkflowStep struct {
	ID           string
	ExecutionID  string
	Name         string
	Order        int
	Status       StepStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DurationMS   *int64
	AttemptCount int
	MaxAttempts  int
	NextRetryAt  *time.Time
	ErrorMessage string
	ErrorCode    string
	Output       map[string]any
	Metadata     map[string]any
}

func (s *WorkflowStep) TransitionTo(status StepStatus, now time.Time) error {
	if s == nil {
		return nil
	}
	if s.Status == status {
		return nil
	}
	if !stepTransitionAllowed(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStepStatusTransition, s.Status, status)
	}
	s.Status = status
	switch status {
	case StepStatusRunning:
		started := now.UTC()
		s.StartedAt = &started
		s.NextRetryAt = nil
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		completed := now.UTC()
		s.CompletedAt = &completed
		s.NextRetryAt = nil
		if s.StartedAt != nil {
			duration := completed.Sub(s.StartedAt.UTC()).Milliseconds()
			s.DurationMS = &duration
		}
	}
	return nil
}

// RetriesRemaining reports whether another attempt fits the budget.
func (s *WorkflowStep) RetriesRemaining() bool {
	if s == nil {
		return false
	}
	return s.AttemptCount < s.MaxAttempts
}

const DefaultStepMaxAttempts = 3

type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BackoffKind string        `json:"backoff_kind"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

type Webhook struct {
	ID                   string
	TenantID             string
	CreatedBy            string
	Name                 string
	Description          string
	URL                  string
	EncryptedSecret      []byte
	AllowedIPs           []string
	Events               []string
	ReportIDs            []string
	Headers              map[string]string
	TimeoutSeconds       int
	RetryPolicy          RetryPolicy
	IsActive             bool
	TotalDeliveries      int64
	SuccessfulDeliveries int64
	FailedDeliveries     int64
	LastTriggeredAt      *time.Time
	LastSuccessAt        *time.Time
	LastFailureAt        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SubscribedTo reports whether the webhook listens for the event type.
func (w *Webhook) SubscribedTo(eventType string) bool {
	if w == nil {
		return false
	}
	eventType = strings.TrimSpace(eventType)
	for _, candidate := range w.Events {
		if strings.EqualFold(strings.TrimSpace(candidate), eventType) {
			return true
		}
	}
	return false
}

// MatchesReport applies the optional report-id filter; an empty filter
// matches every report, and events without a report id bypass the filter.
func (w *Webhook) MatchesReport(reportID string) bool {
	if w == nil {
		return false
	}
	if len(w.ReportIDs) == 0 {
		return true
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return true
	}
	for _, candidate := range w.ReportIDs {
		if strings.TrimSpace(candidate) == reportID {
			return true
		}
	}
	return false
}

const (
	MinDeliveryTimeout = 5 * time.Second
	MaxDeliveryTimeout = 60 * time.Second
)

// DeliveryTimeout clamps the configured per-call timeout into [5s, 60s].
func (w *Webhook) DeliveryTimeout() time.Duration {
	timeout := time.Duration(0)
	if w != nil {
		timeout = time.Duration(w.TimeoutSeconds) * time.Second
	}
	if timeout < MinDeliveryTimeout {
		return MinDeliveryTimeout
	}
	if timeout > MaxDeliveryTimeout {
		return MaxDeliveryTimeout
	}
	return timeout
}

type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

func deliveryTransitionAllowed(current, next DeliveryStatus) bool {
	allowed := map[DeliveryStatus]map[DeliveryStatus]struct{}{
		DeliveryStatusPending: {
			DeliveryStatusSuccess:  {},
			DeliveryStatusFailed:   {},
			DeliveryStatusRetrying: {},
		},
		DeliveryStatusRetrying: {
			DeliveryStatusSuccess:  {},
			DeliveryStatusFailed:   {},
			DeliveryStatusRetrying: {},
		},
		DeliveryStatusSuccess: {},
		DeliveryStatusFailed:  {},
	}
	_, ok := allowed[current][next]
	return ok
}

type WebhookDelivery struct {
	ID                 string
	WebhookID          string
	TenantID           string
	EventType          string
	EventID            string
	Payload            map[string]any
	JobRunID           string
	ArtifactID         string
	OccurredAt         time.Time
	Status             DeliveryStatus
	AttemptCount       int
	MaxAttempts        int
	RequestURL         string
	RequestHeaders     map[string]string
	RequestTimestamp   *time.Time
	ResponseStatusCode int
	ResponseHeaders    map[string]string
	ResponseBody       string
	ResponseTimestamp  *time.Time
	ResponseTimeMS     *int64
	ErrorMessage       string
	NextRetryAt        *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (d *WebhookDelivery) TransitionTo(status DeliveryStatus, now time.Time) error {
	if d == nil {
		return nil
	}
	if d.Status == status && status != DeliveryStatusRetrying {
		return nil
	}
	if !deliveryTransitionAllowed(d.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidDeliveryStatusTransition, d.Status, status)
	}
	d.Status = status
	d.UpdatedAt = now.UTC()
	if status.Terminal() {
		completed := now.UTC()
		d.CompletedAt = &completed
		d.NextRetryAt = nil
	}
	return nil
}
