// Package webhooks manages webhook endpoint registrations: creation with a
// one-time plaintext secret, secret rotation, and activation toggles. The
// plaintext secret is never persisted; only the envelope-encrypted form
// reaches the store.
package webhooks

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-reportflow/core"
	"github.com/goliatone/go-reportflow/security"
)

type Manager struct {
	Store   core.WebhookStore
	Secrets core.SecretProvider
	Logger  core.Logger
	Now     func() time.Time

	// DefaultTimeout fills timeout_seconds when a create request omits one.
	// Delivery still clamps the stored value into its own window per call.
	DefaultTimeout time.Duration
}

func NewManager(store core.WebhookStore, secrets core.SecretProvider) *Manager {
	return &Manager{
		Store:   store,
		Secrets: secrets,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest carries the operator-supplied registration fields. Counters,
// timestamps, and the secret are owned by the manager.
type CreateRequest struct {
	TenantID       string
	CreatedBy      string
	Name           string
	Description    string
	URL            string
	Events         []string
	ReportIDs      []string
	AllowedIPs     []string
	Headers        map[string]string
	TimeoutSeconds int
	RetryPolicy    core.RetryPolicy
}

// WebhookWithSecret pairs a stored webhook with its plaintext secret. The
// secret appears here exactly once, at creation or rotation time.
type WebhookWithSecret struct {
	Webhook         core.Webhook
	PlaintextSecret string
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (WebhookWithSecret, error) {
	if m == nil || m.Store == nil || m.Secrets == nil {
		return WebhookWithSecret{}, fmt.Errorf("webhooks: manager is not configured")
	}
	if err := validateCreate(req); err != nil {
		return WebhookWithSecret{}, err
	}

	plaintext, err := security.GenerateWebhookSecret()
	if err != nil {
		return WebhookWithSecret{}, fmt.Errorf("webhooks: generate secret: %w", err)
	}
	encrypted, err := m.Secrets.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return WebhookWithSecret{}, fmt.Errorf("webhooks: encrypt secret: %w", err)
	}

	now := m.now()
	webhook := core.Webhook{
		ID:              uuid.NewString(),
		TenantID:        strings.TrimSpace(req.TenantID),
		CreatedBy:       strings.TrimSpace(req.CreatedBy),
		Name:            strings.TrimSpace(req.Name),
		Description:     strings.TrimSpace(req.Description),
		URL:             strings.TrimSpace(req.URL),
		EncryptedSecret: encrypted,
		AllowedIPs:      normalizeList(req.AllowedIPs),
		Events:          normalizeList(req.Events),
		ReportIDs:       normalizeList(req.ReportIDs),
		Headers:         req.Headers,
		TimeoutSeconds:  m.timeoutSeconds(req.TimeoutSeconds),
		RetryPolicy:     req.RetryPolicy,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := m.Store.Create(ctx, webhook)
	if err != nil {
		return WebhookWithSecret{}, err
	}
	if m.Logger != nil {
		m.Logger.Info("webhook created",
			"webhook_id", created.ID,
			"tenant_id", created.TenantID,
			"events", strings.Join(created.Events, ","),
		)
	}
	return WebhookWithSecret{Webhook: created, PlaintextSecret: plaintext}, nil
}

// RotateSecret replaces the endpoint's signing secret. Deliveries created
// after the rotation are signed with the new secret; in-flight deliveries
// re-read the secret on each attempt, so they pick it up too.
func (m *Manager) RotateSecret(ctx context.Context, webhookID string) (WebhookWithSecret, error) {
	if m == nil || m.Store == nil || m.Secrets == nil {
		return WebhookWithSecret{}, fmt.Errorf("webhooks: manager is not configured")
	}
	webhook, err := m.Store.Get(ctx, webhookID)
	if err != nil {
		return WebhookWithSecret{}, err
	}

	plaintext, err := security.GenerateWebhookSecret()
	if err != nil {
		return WebhookWithSecret{}, fmt.Errorf("webhooks: generate secret: %w", err)
	}
	encrypted, err := m.Secrets.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return WebhookWithSecret{}, fmt.Errorf("webhooks: encrypt secret: %w", err)
	}

	webhook.EncryptedSecret = encrypted
	webhook.UpdatedAt = m.now()
	updated, err := m.Store.Update(ctx, webhook)
	if err != nil {
		return WebhookWithSecret{}, err
	}
	if m.Logger != nil {
		m.Logger.Info("webhook secret rotated", "webhook_id", updated.ID)
	}
	return WebhookWithSecret{Webhook: updated, PlaintextSecret: plaintext}, nil
}

// SetActive toggles whether the endpoint receives new deliveries. Deactivation
// stops matching at dispatch time; already-created deliveries keep retrying.
func (m *Manager) SetActive(ctx context.Context, webhookID string, active bool) (core.Webhook, error) {
	if m == nil || m.Store == nil {
		return core.Webhook{}, fmt.Errorf("webhooks: manager is not configured")
	}
	webhook, err := m.Store.Get(ctx, webhookID)
	if err != nil {
		return core.Webhook{}, err
	}
	if webhook.IsActive == active {
		return webhook, nil
	}
	webhook.IsActive = active
	webhook.UpdatedAt = m.now()
	return m.Store.Update(ctx, webhook)
}

func (m *Manager) Get(ctx context.Context, webhookID string) (core.Webhook, error) {
	if m == nil || m.Store == nil {
		return core.Webhook{}, fmt.Errorf("webhooks: manager is not configured")
	}
	return m.Store.Get(ctx, webhookID)
}

func (m *Manager) timeoutSeconds(requested int) int {
	if requested > 0 {
		return requested
	}
	if m.DefaultTimeout > 0 {
		return int(m.DefaultTimeout / time.Second)
	}
	return 0
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func validateCreate(req CreateRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return fmt.Errorf("webhooks: tenant id is required")
	}
	endpoint := strings.TrimSpace(req.URL)
	if endpoint == "" {
		return fmt.Errorf("webhooks: url is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("webhooks: invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("webhooks: url scheme %q is not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("webhooks: url host is required")
	}
	if len(normalizeList(req.Events)) == 0 {
		return fmt.Errorf("webhooks: at least one subscribed event is required")
	}
	for _, eventType := range req.Events {
		if !core.ValidEventType(strings.TrimSpace(eventType)) {
			return fmt.Errorf("webhooks: unknown event type %q", eventType)
		}
	}
	return nil
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
