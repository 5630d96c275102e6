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

type DeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]
}

func NewDeliveryStore(db *bun.DB) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	return &DeliveryStore{
		db:   db,
		repo: repo,
	}, nil
}

// Create inserts one delivery row per (webhook, event). Replaying the same
// event id against the same webhook hits the unique pair constraint and
// returns the existing row with created=false.
func (s *DeliveryStore) Create(ctx context.Context, delivery core.WebhookDelivery) (core.WebhookDelivery, bool, error) {
	if s == nil || s.db == nil {
		return core.WebhookDelivery{}, false, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record := deliveryToRecord(delivery)
	if record.ID == "" || record.WebhookID == "" || record.EventID == "" {
		return core.WebhookDelivery{}, false, fmt.Errorf("sqlstore: delivery id, webhook id, and event id are required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.getByWebhookEvent(ctx, record.WebhookID, record.EventID)
			if getErr != nil {
				return core.WebhookDelivery{}, false, getErr
			}
			return existing, false, nil
		}
		return core.WebhookDelivery{}, false, err
	}
	return deliveryToDomain(record), true, nil
}

func (s *DeliveryStore) Get(ctx context.Context, id string) (core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: delivery id is required")
	}
	record := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookDelivery{}, fmt.Errorf("%w: id %q", core.ErrDeliveryNotFound, id)
		}
		return core.WebhookDelivery{}, err
	}
	return deliveryToDomain(record), nil
}

func (s *DeliveryStore) Update(ctx context.Context, delivery core.WebhookDelivery) (core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record := deliveryToRecord(delivery)
	if record.ID == "" {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: delivery id is required")
	}
	record.UpdatedAt = time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	if affected == 0 {
		return core.WebhookDelivery{}, fmt.Errorf("%w: id %q", core.ErrDeliveryNotFound, record.ID)
	}
	return deliveryToDomain(record), nil
}

// ListByWebhook returns the endpoint's delivery history, newest first.
func (s *DeliveryStore) ListByWebhook(ctx context.Context, webhookID string, limit int) ([]core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return nil, fmt.Errorf("sqlstore: webhook id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	records := []*deliveryRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	deliveries := make([]core.WebhookDelivery, 0, len(records))
	for _, record := range records {
		deliveries = append(deliveries, deliveryToDomain(record))
	}
	return deliveries, nil
}

// ListDueRetries returns retrying deliveries whose next_retry_at has passed,
// oldest first.
func (s *DeliveryStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records := []*deliveryRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.DeliveryStatusRetrying)).
		Where("?TableAlias.next_retry_at IS NOT NULL").
		Where("?TableAlias.next_retry_at <= ?", now.UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	deliveries := make([]core.WebhookDelivery, 0, len(records))
	for _, record := range records {
		deliveries = append(deliveries, deliveryToDomain(record))
	}
	return deliveries, nil
}

func (s *DeliveryStore) getByWebhookEvent(ctx context.Context, webhookID string, eventID string) (core.WebhookDelivery, error) {
	record := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.webhook_id = ?", webhookID).
		Where("?TableAlias.event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookDelivery{}, fmt.Errorf(
				"%w: webhook %q event %q",
				core.ErrDeliveryNotFound, webhookID, eventID,
			)
		}
		return core.WebhookDelivery{}, err
	}
	return deliveryToDomain(record), nil
}

var _ core.DeliveryStore = (*DeliveryStore)(nil)
