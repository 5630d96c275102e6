package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	EventJobStarted           = "job.started"
	EventJobCompleted         = "job.completed"
	EventJobFailed            = "job.failed"
	EventArtifactCreated      = "artifact.created"
	EventDeliveryCompleted    = "delivery.completed"
	EventDeliveryFailed       = "delivery.failed"
	EventValidationFailed     = "validation.failed"
	EventWorkflowStateChanged = "workflow.state_changed"
)

// EventTypes lists every canonical event type a webhook may subscribe to.
func EventTypes() []string {
	return []string{
		EventJobStarted,
		EventJobCompleted,
		EventJobFailed,
		EventArtifactCreated,
		EventDeliveryCompleted,
		EventDeliveryFailed,
		EventValidationFailed,
		EventWorkflowStateChanged,
	}
}

func ValidEventType(eventType string) bool {
	eventType = strings.TrimSpace(eventType)
	for _, candidate := range EventTypes() {
		if candidate == eventType {
			return true
		}
	}
	return false
}

// Event is the canonical envelope fanned out to webhook subscribers. The ID
// is stable for a logical occurrence so re-emission dedupes instead of
// producing duplicate deliveries.
type Event struct {
	ID         string
	Type       string
	TenantID   string
	ReportID   string
	JobRunID   string
	ArtifactID string
	Payload    map[string]any
	OccurredAt time.Time
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("core: event id is required")
	}
	if !ValidEventType(e.Type) {
		return fmt.Errorf("core: unknown event type %q", e.Type)
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return fmt.Errorf("core: event tenant id is required")
	}
	return nil
}

var eventIDNamespace = uuid.MustParse("6b7440b2-81a5-5a1e-9d4c-02f1f7a3c9e0")

// DeterministicEventID derives a stable uuid for (execution, event type,
// occurrence) so that emitting the same logical event twice reuses the id.
func DeterministicEventID(executionID string, eventType string, occurrence int) string {
	seed := fmt.Sprintf("%s:%s:%d", strings.TrimSpace(executionID), strings.TrimSpace(eventType), occurrence)
	return uuid.NewSHA1(eventIDNamespace, []byte(seed)).String()
}
