package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeterministicEventIDStability(t *testing.T) {
	first := DeterministicEventID("exec-1", EventJobCompleted, 0)
	second := DeterministicEventID("exec-1", EventJobCompleted, 0)
	if first != second {
		t.Fatalf("expected identical ids for the same occurrence, got %s and %s", first, second)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("expected valid uuid, got %q: %v", first, err)
	}

	if DeterministicEventID("exec-2", EventJobCompleted, 0) == first {
		t.Fatalf("different seed must change the id")
	}
	if DeterministicEventID("exec-1", EventJobFailed, 0) == first {
		t.Fatalf("different event type must change the id")
	}
	if DeterministicEventID("exec-1", EventJobCompleted, 1) == first {
		t.Fatalf("different occurrence must change the id")
	}
	if DeterministicEventID(" exec-1 ", EventJobCompleted, 0) != first {
		t.Fatalf("seed whitespace must not change the id")
	}
}

func TestValidEventType(t *testing.T) {
	for _, eventType := range EventTypes() {
		if !ValidEventType(eventType) {
			t.Fatalf("expected %q to be valid", eventType)
		}
	}
	for _, eventType := range []string{"", "job.exploded", "JOB.COMPLETED"} {
		if ValidEventType(eventType) {
			t.Fatalf("expected %q to be invalid", eventType)
		}
	}
	if !ValidEventType(" job.completed ") {
		t.Fatalf("expected surrounding whitespace to be tolerated")
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{
		ID:         DeterministicEventID("exec-1", EventJobStarted, 0),
		Type:       EventJobStarted,
		TenantID:   "tenant-1",
		OccurredAt: time.Now().UTC(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	missingID := valid
	missingID.ID = "  "
	if err := missingID.Validate(); err == nil {
		t.Fatalf("expected missing id to be rejected")
	}

	unknownType := valid
	unknownType.Type = "job.exploded"
	if err := unknownType.Validate(); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}

	missingTenant := valid
	missingTenant.TenantID = ""
	if err := missingTenant.Validate(); err == nil {
		t.Fatalf("expected missing tenant to be rejected")
	}
}
