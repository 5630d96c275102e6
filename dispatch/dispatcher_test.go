package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-reportflow/core"
)

func fixedClock() time.Time {
	return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
}

func newTestDispatcher() (*Dispatcher, *fakeWebhookStore, *fakeDeliveryStore, *fakeScheduler) {
	webhooks := &fakeWebhookStore{}
	deliveries := newFakeDeliveryStore()
	scheduler := &fakeScheduler{}
	dispatcher := NewDispatcher(webhooks, deliveries, scheduler)
	dispatcher.Now = fixedClock
	return dispatcher, webhooks, deliveries, scheduler
}

func sampleEvent() core.Event {
	return core.Event{
		ID:         core.DeterministicEventID("exec-1", core.EventJobCompleted, 0),
		Type:       core.EventJobCompleted,
		TenantID:   "tenant-1",
		ReportID:   "report-9",
		JobRunID:   "run-1",
		Payload:    map[string]any{"execution_id": "exec-1"},
		OccurredAt: fixedClock().Add(-2 * time.Minute),
	}
}

func TestDispatcherCreatesDeliveryPerMatchingWebhook(t *testing.T) {
	ctx := context.Background()
	dispatcher, webhooks, deliveries, scheduler := newTestDispatcher()
	webhooks.active = []core.Webhook{
		{ID: "hook-1", TenantID: "tenant-1", Events: []string{core.EventJobCompleted}, IsActive: true},
		{ID: "hook-2", TenantID: "tenant-1", Events: []string{core.EventJobCompleted}, IsActive: true},
	}

	stats, err := dispatcher.DispatchWithStats(ctx, sampleEvent())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Matched != 2 || stats.Created != 2 || stats.Scheduled != 2 || stats.Deduped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(deliveries.rows) != 2 {
		t.Fatalf("expected two delivery rows, got %d", len(deliveries.rows))
	}
	for _, row := range deliveries.rows {
		if row.Status != core.DeliveryStatusPending || row.MaxAttempts != DefaultDeliveryMaxAttempts {
			t.Fatalf("unexpected delivery row: %+v", row)
		}
		// The row keeps the event's occurrence time, distinct from the
		// dispatch-time creation stamp.
		if !row.OccurredAt.Equal(fixedClock().Add(-2 * time.Minute)) {
			t.Fatalf("expected event occurrence time on the row, got %s", row.OccurredAt)
		}
		if row.OccurredAt.Equal(row.CreatedAt) {
			t.Fatalf("occurrence time must not collapse into creation time")
		}
	}
	if len(scheduler.tasks) != 2 {
		t.Fatalf("expected two attempt tasks, got %d", len(scheduler.tasks))
	}
	task := scheduler.tasks[0]
	if task.Kind != core.TaskKindDeliveryAttempt || !task.RunAt.Equal(fixedClock()) {
		t.Fatalf("unexpected attempt task: %+v", task)
	}
	if webhooks.triggered["hook-1"] != 1 || webhooks.triggered["hook-2"] != 1 {
		t.Fatalf("expected trigger stamps per webhook, got %v", webhooks.triggered)
	}
}

func TestDispatcherAppliesReportFilter(t *testing.T) {
	ctx := context.Background()
	dispatcher, webhooks, deliveries, _ := newTestDispatcher()
	webhooks.active = []core.Webhook{
		{ID: "hook-1", TenantID: "tenant-1", Events: []string{core.EventJobCompleted}, ReportIDs: []string{"report-9"}, IsActive: true},
		{ID: "hook-2", TenantID: "tenant-1", Events: []string{core.EventJobCompleted}, ReportIDs: []string{"report-other"}, IsActive: true},
		{ID: "hook-3", TenantID: "tenant-1", Events: []string{core.EventJobCompleted}, IsActive: true},
	}

	stats, err := dispatcher.DispatchWithStats(ctx, sampleEvent())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Matched != 2 || stats.Created != 2 {
		t.Fatalf("expected the report filter to exclude hook-2: %+v", stats)
	}
	for _, row := range deliveries.rows {
		if row.WebhookID == "hook-2" {
			t.Fatalf("hook-2 must not receive a delivery for report-9")
		}
	}

	// Events without a report id bypass the filter.
	event := sampleEvent()
	event.ID = core.DeterministicEventID("exec-1", core.EventJobCompleted, 1)
	event.ReportID = ""
	stats, err = dispatcher.DispatchWithStats(ctx, event)
	if err != nil {
		t.Fatalf("dispatch without report: %v", err)
	}
	if stats.Matched != 3 {
		t.Fatalf("expected all hooks to match a report-less event: %+v", stats)
	}
}

func TestDispatcherDedupesReplayedEvents(t *testing.T) {
	ctx := context.Background()
	dispatcher, webhooks, deliveries, scheduler := newTestDispatcher()
	webhooks.active = []core.Webhook{
		{ID: "hook-1", TenantID: "tenant-1", Events: []string{core.EventJobCompleted}, IsActive: true},
	}
	event := sampleEvent()

	if _, err := dispatcher.DispatchWithStats(ctx, event); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	stats, err := dispatcher.DispatchWithStats(ctx, event)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if stats.Deduped != 1 || stats.Created != 0 || stats.Scheduled != 0 {
		t.Fatalf("expected replay to dedupe: %+v", stats)
	}
	if len(deliveries.rows) != 1 {
		t.Fatalf("expected a single delivery row, got %d", len(deliveries.rows))
	}
	if len(scheduler.tasks) != 1 {
		t.Fatalf("expected a single attempt task, got %d", len(scheduler.tasks))
	}
	if webhooks.triggered["hook-1"] != 1 {
		t.Fatalf("dedupe must not double-count trigger stamps, got %d", webhooks.triggered["hook-1"])
	}
}

func TestDispatcherHonorsWebhookRetryPolicy(t *testing.T) {
	ctx := context.Background()
	dispatcher, webhooks, deliveries, _ := newTestDispatcher()
	webhooks.active = []core.Webhook{
		{
			ID:          "hook-1",
			TenantID:    "tenant-1",
			Events:      []string{core.EventJobCompleted},
			IsActive:    true,
			RetryPolicy: core.RetryPolicy{MaxAttempts: 5},
		},
	}

	if _, err := dispatcher.DispatchWithStats(ctx, sampleEvent()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if deliveries.rows[0].MaxAttempts != 5 {
		t.Fatalf("expected webhook retry policy applied, got %d", deliveries.rows[0].MaxAttempts)
	}
}

func TestDispatcherRejectsInvalidEvent(t *testing.T) {
	dispatcher, _, _, _ := newTestDispatcher()
	event := sampleEvent()
	event.TenantID = ""
	if _, err := dispatcher.DispatchWithStats(context.Background(), event); err == nil {
		t.Fatalf("expected invalid event to be rejected")
	}
}

func TestDispatcherReplayDue(t *testing.T) {
	ctx := context.Background()
	dispatcher, _, deliveries, scheduler := newTestDispatcher()

	past := fixedClock().Add(-time.Minute)
	future := fixedClock().Add(time.Hour)
	deliveries.rows = []core.WebhookDelivery{
		{ID: "delivery-1", WebhookID: "hook-1", Status: core.DeliveryStatusRetrying, NextRetryAt: &past},
		{ID: "delivery-2", WebhookID: "hook-1", Status: core.DeliveryStatusRetrying, NextRetryAt: &future},
		{ID: "delivery-3", WebhookID: "hook-1", Status: core.DeliveryStatusSuccess},
	}

	replayed, err := dispatcher.ReplayDue(ctx, 10)
	if err != nil {
		t.Fatalf("replay due: %v", err)
	}
	if replayed != 1 {
		t.Fatalf("expected one due delivery replayed, got %d", replayed)
	}
	if len(scheduler.tasks) != 1 || scheduler.tasks[0].Key != "delivery-1" {
		t.Fatalf("unexpected replay tasks: %+v", scheduler.tasks)
	}
}

type fakeWebhookStore struct {
	active    []core.Webhook
	triggered map[string]int
}

func (s *fakeWebhookStore) Create(_ context.Context, webhook core.Webhook) (core.Webhook, error) {
	return webhook, nil
}

func (s *fakeWebhookStore) Get(_ context.Context, id string) (core.Webhook, error) {
	for _, hook := range s.active {
		if hook.ID == id {
			return hook, nil
		}
	}
	return core.Webhook{}, core.ErrWebhookNotFound
}

func (s *fakeWebhookStore) Update(_ context.Context, webhook core.Webhook) (core.Webhook, error) {
	return webhook, nil
}

func (s *fakeWebhookStore) ListActiveByEvent(_ context.Context, tenantID string, _ string) ([]core.Webhook, error) {
	var hooks []core.Webhook
	for _, hook := range s.active {
		if hook.TenantID == tenantID && hook.IsActive {
			hooks = append(hooks, hook)
		}
	}
	return hooks, nil
}

func (s *fakeWebhookStore) RecordSuccess(context.Context, string, time.Time) error { return nil }

func (s *fakeWebhookStore) RecordFailure(context.Context, string, time.Time) error { return nil }

func (s *fakeWebhookStore) RecordTriggered(_ context.Context, id string, _ time.Time) error {
	if s.triggered == nil {
		s.triggered = map[string]int{}
	}
	s.triggered[id]++
	return nil
}

type fakeDeliveryStore struct {
	rows []core.WebhookDelivery
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{}
}

func (s *fakeDeliveryStore) Create(_ context.Context, delivery core.WebhookDelivery) (core.WebhookDelivery, bool, error) {
	for _, row := range s.rows {
		if row.WebhookID == delivery.WebhookID && row.EventID == delivery.EventID {
			return row, false, nil
		}
	}
	s.rows = append(s.rows, delivery)
	return delivery, true, nil
}

func (s *fakeDeliveryStore) Get(_ context.Context, id string) (core.WebhookDelivery, error) {
	for _, row := range s.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return core.WebhookDelivery{}, core.ErrDeliveryNotFound
}

func (s *fakeDeliveryStore) Update(_ context.Context, delivery core.WebhookDelivery) (core.WebhookDelivery, error) {
	for i, row := range s.rows {
		if row.ID == delivery.ID {
			s.rows[i] = delivery
			return delivery, nil
		}
	}
	return core.WebhookDelivery{}, core.ErrDeliveryNotFound
}

func (s *fakeDeliveryStore) ListByWebhook(_ context.Context, webhookID string, limit int) ([]core.WebhookDelivery, error) {
	var rows []core.WebhookDelivery
	for _, row := range s.rows {
		if row.WebhookID == webhookID {
			rows = append(rows, row)
		}
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func (s *fakeDeliveryStore) ListDueRetries(_ context.Context, now time.Time, limit int) ([]core.WebhookDelivery, error) {
	var rows []core.WebhookDelivery
	for _, row := range s.rows {
		if row.Status != core.DeliveryStatusRetrying || row.NextRetryAt == nil {
			continue
		}
		if row.NextRetryAt.After(now) {
			continue
		}
		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

type fakeScheduler struct {
	tasks []core.Task
}

func (s *fakeScheduler) Schedule(_ context.Context, task core.Task) error {
	s.tasks = append(s.tasks, task)
	return nil
}

var (
	_ core.WebhookStore  = (*fakeWebhookStore)(nil)
	_ core.DeliveryStore = (*fakeDeliveryStore)(nil)
	_ core.Scheduler     = (*fakeScheduler)(nil)
)
