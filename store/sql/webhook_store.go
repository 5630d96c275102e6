package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-reportflow/core"
	"github.com/uptrace/bun"
)

type WebhookStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookRecord]
}

func NewWebhookStore(db *bun.DB) (*WebhookStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookRecord](db, webhookHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook repository wiring: %w", err)
		}
	}
	return &WebhookStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *WebhookStore) Create(ctx context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	record := webhookToRecord(webhook)
	if record.ID == "" || record.TenantID == "" || record.URL == "" {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook id, tenant id, and url are required")
	}
	if len(record.EncryptedSecret) == 0 {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook encrypted secret is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Webhook{}, err
	}
	return webhookToDomain(record), nil
}

func (s *WebhookStore) Get(ctx context.Context, id string) (core.Webhook, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook id is required")
	}
	record := &webhookRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Webhook{}, fmt.Errorf("%w: id %q", core.ErrWebhookNotFound, id)
		}
		return core.Webhook{}, err
	}
	return webhookToDomain(record), nil
}

func (s *WebhookStore) Update(ctx context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	record := webhookToRecord(webhook)
	if record.ID == "" {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook id is required")
	}
	record.UpdatedAt = time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return core.Webhook{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Webhook{}, err
	}
	if affected == 0 {
		return core.Webhook{}, fmt.Errorf("%w: id %q", core.ErrWebhookNotFound, record.ID)
	}
	return webhookToDomain(record), nil
}

// ListActiveByEvent loads the tenant's active webhooks and filters the
// subscribed-event set in memory; the events column is a jsonb document, and
// membership predicates over it are not portable across dialects.
func (s *WebhookStore) ListActiveByEvent(ctx context.Context, tenantID string, eventType string) ([]core.Webhook, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	eventType = strings.TrimSpace(eventType)
	if tenantID == "" || eventType == "" {
		return nil, fmt.Errorf("sqlstore: tenant id and event type are required")
	}
	records := []*webhookRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Where("?TableAlias.is_active = ?", true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	webhooks := make([]core.Webhook, 0, len(records))
	for _, record := range records {
		webhook := webhookToDomain(record)
		if webhook.SubscribedTo(eventType) {
			webhooks = append(webhooks, webhook)
		}
	}
	return webhooks, nil
}

func (s *WebhookStore) RecordTriggered(ctx context.Context, id string, at time.Time) error {
	return s.stampCounters(ctx, id, func(update *bun.UpdateQuery) {
		update.Set("last_triggered_at = ?", at.UTC())
	})
}

func (s *WebhookStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return s.stampCounters(ctx, id, func(update *bun.UpdateQuery) {
		update.Set("total_deliveries = total_deliveries + 1").
			Set("successful_deliveries = successful_deliveries + 1").
			Set("last_success_at = ?", at.UTC()).
			Set("last_triggered_at = ?", at.UTC())
	})
}

func (s *WebhookStore) RecordFailure(ctx context.Context, id string, at time.Time) error {
	return s.stampCounters(ctx, id, func(update *bun.UpdateQuery) {
		update.Set("total_deliveries = total_deliveries + 1").
			Set("failed_deliveries = failed_deliveries + 1").
			Set("last_failure_at = ?", at.UTC())
	})
}

func (s *WebhookStore) stampCounters(ctx context.Context, id string, apply func(*bun.UpdateQuery)) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: webhook id is required")
	}
	update := s.db.NewUpdate().
		Model((*webhookRecord)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	apply(update)
	result, err := update.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrWebhookNotFound, id)
	}
	return nil
}

var _ core.WebhookStore = (*WebhookStore)(nil)
