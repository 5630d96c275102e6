// Package delivery performs outbound webhook calls: one signed HTTP POST per
// attempt, with response snapshots persisted and retries scheduled through
// the queue.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reportflow/backoff"
	"github.com/goliatone/go-reportflow/core"
)

const (
	DefaultSignatureHeader = "X-Reportflow-Signature"
	maxResponseBodyBytes   = 64 * 1024
)

// EventNotifier receives terminal delivery outcomes; events.Emitter is the
// production implementation. A nil notifier disables emission.
type EventNotifier interface {
	DeliveryCompleted(ctx context.Context, delivery core.WebhookDelivery) error
	DeliveryFailed(ctx context.Context, delivery core.WebhookDelivery) error
}

// Worker executes one delivery attempt at a time. Each attempt is a bounded
// HTTP call; suspensions between retries live in the queue, never in a
// blocked worker thread. One slow endpoint only delays its own delivery.
type Worker struct {
	Deliveries      core.DeliveryStore
	Webhooks        core.WebhookStore
	Secrets         core.SecretProvider
	Scheduler       core.Scheduler
	Events          EventNotifier
	Client          *http.Client
	SignatureHeader string
	Metrics         core.MetricsRecorder
	Logger          core.Logger
	Now             func() time.Time
}

func NewWorker(
	deliveries core.DeliveryStore,
	webhooks core.WebhookStore,
	secrets core.SecretProvider,
	scheduler core.Scheduler,
) *Worker {
	return &Worker{
		Deliveries:      deliveries,
		Webhooks:        webhooks,
		Secrets:         secrets,
		Scheduler:       scheduler,
		Client:          &http.Client{},
		SignatureHeader: DefaultSignatureHeader,
		Metrics:         core.NopMetricsRecorder{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Attempt performs one delivery attempt. Attempts against deliveries that
// already reached a terminal status no-op, so stale queue tasks are harmless.
// Webhook failure counters move on terminal failure only, never per retry.
func (w *Worker) Attempt(ctx context.Context, deliveryID string) (core.WebhookDelivery, error) {
	if err := w.requireDeps(); err != nil {
		return core.WebhookDelivery{}, err
	}
	delivery, err := w.Deliveries.Get(ctx, strings.TrimSpace(deliveryID))
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	if delivery.Status.Terminal() {
		return delivery, nil
	}
	webhook, err := w.Webhooks.Get(ctx, delivery.WebhookID)
	if err != nil {
		return core.WebhookDelivery{}, err
	}

	// Every pass through here consumes one attempt, including failures that
	// never reach the wire, so a broken secret cannot retry forever.
	delivery.AttemptCount++

	secret, err := w.Secrets.Decrypt(ctx, webhook.EncryptedSecret)
	if err != nil {
		return w.recordFailure(ctx, delivery, webhook, fmt.Errorf("delivery: decrypt webhook secret: %w", err))
	}
	body, err := json.Marshal(envelopeFor(delivery))
	if err != nil {
		return w.recordFailure(ctx, delivery, webhook, fmt.Errorf("delivery: encode payload: %w", err))
	}

	now := w.now()
	delivery.RequestURL = webhook.URL
	delivery.RequestHeaders = w.requestHeaders(webhook, secret, body)
	delivery.RequestTimestamp = &now

	status, responseHeaders, responseBody, callErr := w.send(ctx, webhook, delivery.RequestHeaders, body)
	finished := w.now()
	elapsed := finished.Sub(now).Milliseconds()
	delivery.ResponseTimestamp = &finished
	delivery.ResponseTimeMS = &elapsed
	delivery.ResponseStatusCode = status
	delivery.ResponseHeaders = responseHeaders
	delivery.ResponseBody = responseBody

	if callErr == nil && status >= 200 && status < 300 {
		return w.recordSuccess(ctx, delivery, webhook)
	}
	if callErr == nil {
		callErr = fmt.Errorf("delivery: endpoint returned status %d", status)
	}
	return w.recordFailure(ctx, delivery, webhook, callErr)
}

// Requeue resets a terminally failed delivery to pending with one more
// attempt, the manual re-trigger path for operators. This is the single
// sanctioned exit from a terminal delivery status, so it bypasses the
// transition table on purpose.
func (w *Worker) Requeue(ctx context.Context, deliveryID string) (core.WebhookDelivery, error) {
	if err := w.requireDeps(); err != nil {
		return core.WebhookDelivery{}, err
	}
	delivery, err := w.Deliveries.Get(ctx, strings.TrimSpace(deliveryID))
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	if delivery.Status != core.DeliveryStatusFailed {
		return core.WebhookDelivery{}, fmt.Errorf(
			"%w: requeue from %s",
			core.ErrInvalidDeliveryStatusTransition, delivery.Status,
		)
	}

	now := w.now()
	delivery.Status = core.DeliveryStatusPending
	delivery.MaxAttempts = delivery.AttemptCount + 1
	delivery.CompletedAt = nil
	delivery.NextRetryAt = nil
	delivery.ErrorMessage = ""
	delivery.UpdatedAt = now
	delivery, err = w.Deliveries.Update(ctx, delivery)
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	if err := w.scheduleAttempt(ctx, delivery, now); err != nil {
		return core.WebhookDelivery{}, err
	}
	return delivery, nil
}

func (w *Worker) send(
	ctx context.Context,
	webhook core.Webhook,
	headers map[string]string,
	body []byte,
) (int, map[string]string, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, webhook.DeliveryTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, "", fmt.Errorf("delivery: build request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	client := w.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("delivery: call endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	responseHeaders := map[string]string{}
	for key := range resp.Header {
		responseHeaders[key] = resp.Header.Get(key)
	}
	return resp.StatusCode, responseHeaders, string(raw), nil
}

func (w *Worker) recordSuccess(
	ctx context.Context,
	delivery core.WebhookDelivery,
	webhook core.Webhook,
) (core.WebhookDelivery, error) {
	now := w.now()
	delivery.ErrorMessage = ""
	if err := delivery.TransitionTo(core.DeliveryStatusSuccess, now); err != nil {
		return core.WebhookDelivery{}, err
	}
	delivery, err := w.Deliveries.Update(ctx, delivery)
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	if err := w.Webhooks.RecordSuccess(ctx, webhook.ID, now); err != nil {
		w.logger().Warn("webhook success counters failed", "error", err, "webhook_id", webhook.ID)
	}
	w.notifyCompleted(ctx, delivery)
	w.incCounter(ctx, "delivery.success", webhook)
	return delivery, nil
}

func (w *Worker) recordFailure(
	ctx context.Context,
	delivery core.WebhookDelivery,
	webhook core.Webhook,
	cause error,
) (core.WebhookDelivery, error) {
	now := w.now()
	delivery.ErrorMessage = strings.TrimSpace(cause.Error())

	if delivery.AttemptCount < delivery.MaxAttempts {
		next := now.Add(retryPolicyFor(webhook).Delay(delivery.AttemptCount))
		if err := delivery.TransitionTo(core.DeliveryStatusRetrying, now); err != nil {
			return core.WebhookDelivery{}, err
		}
		delivery.NextRetryAt = &next
		delivery, err := w.Deliveries.Update(ctx, delivery)
		if err != nil {
			return core.WebhookDelivery{}, err
		}
		if err := w.scheduleAttempt(ctx, delivery, next); err != nil {
			return core.WebhookDelivery{}, err
		}
		w.incCounter(ctx, "delivery.retry", webhook)
		return delivery, nil
	}

	if err := delivery.TransitionTo(core.DeliveryStatusFailed, now); err != nil {
		return core.WebhookDelivery{}, err
	}
	delivery, err := w.Deliveries.Update(ctx, delivery)
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	if err := w.Webhooks.RecordFailure(ctx, webhook.ID, now); err != nil {
		w.logger().Warn("webhook failure counters failed", "error", err, "webhook_id", webhook.ID)
	}
	w.notifyFailed(ctx, delivery)
	w.incCounter(ctx, "delivery.failed", webhook)
	return delivery, nil
}

func (w *Worker) requestHeaders(webhook core.Webhook, secret []byte, body []byte) map[string]string {
	headers := map[string]string{}
	for key, value := range webhook.Headers {
		key = strings.TrimSpace(key)
		if key != "" {
			headers[key] = value
		}
	}
	headers["Content-Type"] = "application/json"
	headers[w.signatureHeader()] = Sign(secret, body)
	return headers
}

func (w *Worker) scheduleAttempt(ctx context.Context, delivery core.WebhookDelivery, runAt time.Time) error {
	if w.Scheduler == nil {
		return fmt.Errorf("delivery: worker requires scheduler")
	}
	return w.Scheduler.Schedule(ctx, core.Task{
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

// envelopeFor rebuilds the canonical event envelope the subscriber receives;
// the signature covers exactly these bytes.
func envelopeFor(delivery core.WebhookDelivery) map[string]any {
	// occurred_at is the event's occurrence time carried onto the delivery
	// row at dispatch; rows predating that column fall back to creation time.
	occurredAt := delivery.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = delivery.CreatedAt
	}
	envelope := map[string]any{
		"event_id":    delivery.EventID,
		"event_type":  delivery.EventType,
		"tenant_id":   delivery.TenantID,
		"occurred_at": occurredAt.UTC().Format(time.RFC3339Nano),
		"payload":     delivery.Payload,
	}
	if strings.TrimSpace(delivery.JobRunID) != "" {
		envelope["job_run_id"] = delivery.JobRunID
	}
	if strings.TrimSpace(delivery.ArtifactID) != "" {
		envelope["artifact_id"] = delivery.ArtifactID
	}
	return envelope
}

func retryPolicyFor(webhook core.Webhook) backoff.Policy {
	return backoff.FromRetryPolicy(
		webhook.RetryPolicy.BackoffKind,
		webhook.RetryPolicy.BaseDelay,
		webhook.RetryPolicy.MaxDelay,
	)
}

func (w *Worker) notifyCompleted(ctx context.Context, delivery core.WebhookDelivery) {
	if w.Events == nil {
		return
	}
	if err := w.Events.DeliveryCompleted(ctx, delivery); err != nil {
		w.logger().Warn("delivery completed event emission failed", "error", err, "delivery_id", delivery.ID)
	}
}

func (w *Worker) notifyFailed(ctx context.Context, delivery core.WebhookDelivery) {
	if w.Events == nil {
		return
	}
	if err := w.Events.DeliveryFailed(ctx, delivery); err != nil {
		w.logger().Warn("delivery failed event emission failed", "error", err, "delivery_id", delivery.ID)
	}
}

func (w *Worker) incCounter(ctx context.Context, name string, webhook core.Webhook) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.IncCounter(ctx, name, 1, map[string]string{
		"tenant_id":  webhook.TenantID,
		"webhook_id": webhook.ID,
	})
}

func (w *Worker) requireDeps() error {
	if w == nil || w.Deliveries == nil || w.Webhooks == nil {
		return fmt.Errorf("delivery: worker requires delivery and webhook stores")
	}
	if w.Secrets == nil {
		return fmt.Errorf("delivery: worker requires secret provider")
	}
	return nil
}

func (w *Worker) signatureHeader() string {
	if w != nil && strings.TrimSpace(w.SignatureHeader) != "" {
		return strings.TrimSpace(w.SignatureHeader)
	}
	return DefaultSignatureHeader
}

func (w *Worker) logger() core.Logger {
	if w != nil && w.Logger != nil {
		return w.Logger
	}
	return glog.Nop()
}

func (w *Worker) now() time.Time {
	if w != nil && w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}
