// Package dispatch fans canonical events out to matching webhook
// subscriptions as pending delivery rows, one per (webhook, event).
package dispatch

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reportflow/core"
	"github.com/google/uuid"
)

const DefaultDeliveryMaxAttempts = 3

// Stats summarizes one dispatch pass for logging and tests.
type Stats struct {
	Matched   int
	Created   int
	Deduped   int
	Scheduled int
}

// Dispatcher matches an event against each tenant webhook subscribed to the
// event type, applies the report-id filter, and creates one pending delivery
// per surviving webhook. Delivery creation is idempotent on
// (webhook_id, event_id), so re-emitting an event with the same id never
// produces a second row.
type Dispatcher struct {
	Webhooks   core.WebhookStore
	Deliveries core.DeliveryStore
	Scheduler  core.Scheduler
	Logger     core.Logger
	Now        func() time.Time
}

func NewDispatcher(
	webhooks core.WebhookStore,
	deliveries core.DeliveryStore,
	scheduler core.Scheduler,
) *Dispatcher {
	return &Dispatcher{
		Webhooks:   webhooks,
		Deliveries: deliveries,
		Scheduler:  scheduler,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Dispatch implements core.EventSink.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.Event) error {
	_, err := d.DispatchWithStats(ctx, event)
	return err
}

func (d *Dispatcher) DispatchWithStats(ctx context.Context, event core.Event) (Stats, error) {
	if d == nil || d.Webhooks == nil || d.Deliveries == nil {
		return Stats{}, fmt.Errorf("dispatch: dispatcher requires webhook and delivery stores")
	}
	if err := event.Validate(); err != nil {
		return Stats{}, err
	}

	webhooks, err := d.Webhooks.ListActiveByEvent(ctx, event.TenantID, event.Type)
	if err != nil {
		return Stats{}, err
	}

	now := d.now()
	stats := Stats{}
	for i := range webhooks {
		hook := webhooks[i]
		if !hook.SubscribedTo(event.Type) || !hook.MatchesReport(event.ReportID) {
			continue
		}
		stats.Matched++

		delivery := core.WebhookDelivery{
			ID:          uuid.NewString(),
			WebhookID:   hook.ID,
			TenantID:    event.TenantID,
			EventType:   event.Type,
			EventID:     event.ID,
			Payload:     event.Payload,
			JobRunID:    event.JobRunID,
			ArtifactID:  event.ArtifactID,
			OccurredAt:  event.OccurredAt,
			Status:      core.DeliveryStatusPending,
			MaxAttempts: deliveryMaxAttempts(hook),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, inserted, err := d.Deliveries.Create(ctx, delivery)
		if err != nil {
			return stats, err
		}
		if !inserted {
			stats.Deduped++
			continue
		}
		stats.Created++

		if err := d.Webhooks.RecordTriggered(ctx, hook.ID, now); err != nil {
			d.logger().Warn("webhook trigger stamp failed", "error", err, "webhook_id", hook.ID)
		}
		if err := d.scheduleAttempt(ctx, created, now); err != nil {
			return stats, err
		}
		stats.Scheduled++
	}
	return stats, nil
}

// ReplayDue re-seeds attempt tasks for deliveries whose next_retry_at has
// passed, used after a queue restart loses delayed items.
func (d *Dispatcher) ReplayDue(ctx context.Context, limit int) (int, error) {
	if d == nil || d.Deliveries == nil {
		return 0, fmt.Errorf("dispatch: dispatcher requires delivery store")
	}
	now := d.now()
	due, err := d.Deliveries.ListDueRetries(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, delivery := range due {
		if err := d.scheduleAttempt(ctx, delivery, now); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func (d *Dispatcher) scheduleAttempt(ctx context.Context, delivery core.WebhookDelivery, runAt time.Time) error {
	if d.Scheduler == nil {
		return fmt.Errorf("dispatch: dispatcher requires scheduler")
	}
	if delivery.NextRetryAt != nil && delivery.NextRetryAt.After(runAt) {
		runAt = *delivery.NextRetryAt
	}
	return d.Scheduler.Schedule(ctx, core.Task{
		Kind:  core.TaskKindDeliveryAttempt,
		Key:   delivery.ID,
		RunAt: runAt,
		Payload: map[string]any{
			"delivery_id": delivery.ID,
			"webhook_id":  delivery.WebhookID,
			"event_id":    delivery.EventID,
			"event_type":  delivery.EventType,
		},
	})
}

func deliveryMaxAttempts(webhook core.Webhook) int {
	if webhook.RetryPolicy.MaxAttempts > 0 {
		return webhook.RetryPolicy.MaxAttempts
	}
	return DefaultDeliveryMaxAttempts
}

func (d *Dispatcher) logger() core.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return glog.Nop()
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.EventSink = (*Dispatcher)(nil)
