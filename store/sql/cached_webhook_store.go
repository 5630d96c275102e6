package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-reportflow/core"
)

const webhookCacheKeyPrefix = "go-reportflow::webhooks::v1"

// CachedWebhookStore caches the dispatcher's hot subscription reads. Every
// dispatched event triggers a ListActiveByEvent, so those lookups sit in
// front of the cache; counter stamps skip invalidation because they never
// change the matching outcome.
type CachedWebhookStore struct {
	base  core.WebhookStore
	cache repositorycache.CacheService
}

func NewCachedWebhookStore(base core.WebhookStore, cacheService repositorycache.CacheService) (*CachedWebhookStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook cache service is required")
	}
	return &CachedWebhookStore{base: base, cache: cacheService}, nil
}

// WebhookSubscriptionCacheKey returns the deterministic cache key contract
// for subscription reads:
// go-reportflow::webhooks::v1::<tenant_id>::<event_type>
// with each segment URL-path escaped.
func WebhookSubscriptionCacheKey(tenantID string, eventType string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	eventType = strings.TrimSpace(eventType)
	if tenantID == "" || eventType == "" {
		return "", fmt.Errorf("sqlstore: tenant id and event type are required")
	}
	segments := []string{url.PathEscape(tenantID), url.PathEscape(eventType)}
	return strings.Join(append([]string{webhookCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedWebhookStore) ListActiveByEvent(ctx context.Context, tenantID string, eventType string) ([]core.Webhook, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	cacheKey, err := WebhookSubscriptionCacheKey(tenantID, eventType)
	if err != nil {
		return nil, err
	}
	webhooks, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.Webhook, error) {
		return s.base.ListActiveByEvent(ctx, tenantID, eventType)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.Webhook(nil), webhooks...), nil
}

func (s *CachedWebhookStore) Create(ctx context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	created, err := s.base.Create(ctx, webhook)
	if err != nil {
		return core.Webhook{}, err
	}
	if err := s.invalidate(ctx, created); err != nil {
		return core.Webhook{}, err
	}
	return created, nil
}

func (s *CachedWebhookStore) Update(ctx context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	// Invalidate the union of old and new subscriptions so narrowing the
	// events set also drops stale entries.
	previous, err := s.base.Get(ctx, webhook.ID)
	if err == nil {
		if err := s.invalidate(ctx, previous); err != nil {
			return core.Webhook{}, err
		}
	}
	updated, err := s.base.Update(ctx, webhook)
	if err != nil {
		return core.Webhook{}, err
	}
	if err := s.invalidate(ctx, updated); err != nil {
		return core.Webhook{}, err
	}
	return updated, nil
}

func (s *CachedWebhookStore) Get(ctx context.Context, id string) (core.Webhook, error) {
	if s == nil || s.base == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.Get(ctx, id)
}

func (s *CachedWebhookStore) RecordTriggered(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.RecordTriggered(ctx, id, at)
}

func (s *CachedWebhookStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.RecordSuccess(ctx, id, at)
}

func (s *CachedWebhookStore) RecordFailure(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.RecordFailure(ctx, id, at)
}

func (s *CachedWebhookStore) invalidate(ctx context.Context, webhook core.Webhook) error {
	for _, eventType := range webhook.Events {
		cacheKey, err := WebhookSubscriptionCacheKey(webhook.TenantID, eventType)
		if err != nil {
			continue
		}
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return err
		}
	}
	return nil
}

var _ core.WebhookStore = (*CachedWebhookStore)(nil)
