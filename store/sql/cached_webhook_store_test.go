package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-reportflow/core"
)

type stubBaseWebhookStore struct {
	mu          sync.Mutex
	hooks       map[string]core.Webhook
	listCalls   int
	listErr     error
	recordCalls int
}

func newStubBaseWebhookStore() *stubBaseWebhookStore {
	return &stubBaseWebhookStore{hooks: map[string]core.Webhook{}}
}

func (s *stubBaseWebhookStore) Create(_ context.Context, webhook core.Webhook) (core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[webhook.ID] = webhook
	return webhook, nil
}

func (s *stubBaseWebhookStore) Get(_ context.Context, id string) (core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hook, ok := s.hooks[id]
	if !ok {
		return core.Webhook{}, core.ErrWebhookNotFound
	}
	return hook, nil
}

func (s *stubBaseWebhookStore) Update(_ context.Context, webhook core.Webhook) (core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[webhook.ID]; !ok {
		return core.Webhook{}, core.ErrWebhookNotFound
	}
	s.hooks[webhook.ID] = webhook
	return webhook, nil
}

func (s *stubBaseWebhookStore) ListActiveByEvent(_ context.Context, tenantID string, eventType string) ([]core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	matched := []core.Webhook{}
	for _, hook := range s.hooks {
		if hook.TenantID == tenantID && hook.IsActive && hook.SubscribedTo(eventType) {
			matched = append(matched, hook)
		}
	}
	return matched, nil
}

func (s *stubBaseWebhookStore) RecordTriggered(context.Context, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	return nil
}

func (s *stubBaseWebhookStore) RecordSuccess(context.Context, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	return nil
}

func (s *stubBaseWebhookStore) RecordFailure(context.Context, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	return nil
}

func newTestWebhookCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedWebhookStore_ListActiveByEvent_MissFetchThenHit(t *testing.T) {
	base := newStubBaseWebhookStore()
	base.hooks["hook-1"] = core.Webhook{
		ID:       "hook-1",
		TenantID: "tenant-1",
		IsActive: true,
		Events:   []string{core.EventJobCompleted},
	}
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}

	hooks, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	if len(hooks) != 1 || hooks[0].ID != "hook-1" {
		t.Fatalf("unexpected subscriptions: %+v", hooks)
	}
	if base.listCalls != 1 {
		t.Fatalf("expected first list to hit the base store once, got %d", base.listCalls)
	}

	if _, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted); err != nil {
		t.Fatalf("second list: %v", err)
	}
	if base.listCalls != 1 {
		t.Fatalf("expected second list to be a cache hit, base list calls=%d", base.listCalls)
	}
}

func TestCachedWebhookStore_CreateInvalidatesSubscriptionReads(t *testing.T) {
	base := newStubBaseWebhookStore()
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}

	if _, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted); err != nil {
		t.Fatalf("prime empty cache: %v", err)
	}
	if base.listCalls != 1 {
		t.Fatalf("expected one base read after prime, got %d", base.listCalls)
	}

	if _, err := store.Create(context.Background(), core.Webhook{
		ID:       "hook-new",
		TenantID: "tenant-1",
		IsActive: true,
		Events:   []string{core.EventJobCompleted},
	}); err != nil {
		t.Fatalf("create through cached store: %v", err)
	}

	hooks, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted)
	if err != nil {
		t.Fatalf("list after create: %v", err)
	}
	if base.listCalls != 2 {
		t.Fatalf("expected create to invalidate the cached key, base list calls=%d", base.listCalls)
	}
	if len(hooks) != 1 || hooks[0].ID != "hook-new" {
		t.Fatalf("expected new webhook visible after invalidation, got %+v", hooks)
	}
}

func TestCachedWebhookStore_UpdateInvalidatesOldAndNewEvents(t *testing.T) {
	base := newStubBaseWebhookStore()
	base.hooks["hook-1"] = core.Webhook{
		ID:       "hook-1",
		TenantID: "tenant-1",
		IsActive: true,
		Events:   []string{core.EventJobCompleted},
	}
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}

	if _, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted); err != nil {
		t.Fatalf("prime job.completed cache: %v", err)
	}
	if _, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobFailed); err != nil {
		t.Fatalf("prime job.failed cache: %v", err)
	}
	if base.listCalls != 2 {
		t.Fatalf("expected two base reads after priming, got %d", base.listCalls)
	}

	// Move the subscription from job.completed to job.failed; both cached
	// keys must drop so neither read serves a stale subscription set.
	if _, err := store.Update(context.Background(), core.Webhook{
		ID:       "hook-1",
		TenantID: "tenant-1",
		IsActive: true,
		Events:   []string{core.EventJobFailed},
	}); err != nil {
		t.Fatalf("update through cached store: %v", err)
	}

	completed, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted)
	if err != nil {
		t.Fatalf("list job.completed after update: %v", err)
	}
	if len(completed) != 0 {
		t.Fatalf("expected webhook removed from job.completed, got %+v", completed)
	}
	failed, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobFailed)
	if err != nil {
		t.Fatalf("list job.failed after update: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "hook-1" {
		t.Fatalf("expected webhook subscribed to job.failed, got %+v", failed)
	}
	if base.listCalls != 4 {
		t.Fatalf("expected both cached keys invalidated, base list calls=%d", base.listCalls)
	}
}

func TestCachedWebhookStore_CounterStampsSkipInvalidation(t *testing.T) {
	base := newStubBaseWebhookStore()
	base.hooks["hook-1"] = core.Webhook{
		ID:       "hook-1",
		TenantID: "tenant-1",
		IsActive: true,
		Events:   []string{core.EventJobCompleted},
	}
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}

	if _, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	now := time.Now().UTC()
	if err := store.RecordSuccess(context.Background(), "hook-1", now); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := store.RecordFailure(context.Background(), "hook-1", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := store.RecordTriggered(context.Background(), "hook-1", now); err != nil {
		t.Fatalf("record triggered: %v", err)
	}
	if base.recordCalls != 3 {
		t.Fatalf("expected counter stamps forwarded to the base store, got %d", base.recordCalls)
	}

	if _, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted); err != nil {
		t.Fatalf("list after counter stamps: %v", err)
	}
	if base.listCalls != 1 {
		t.Fatalf("expected counter stamps to leave the cache warm, base list calls=%d", base.listCalls)
	}
}

func TestWebhookSubscriptionCacheKey_Contract(t *testing.T) {
	key, err := WebhookSubscriptionCacheKey(" tenant alpha ", core.EventJobCompleted)
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}
	const expected = "go-reportflow::webhooks::v1::tenant%20alpha::job.completed"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}

	if _, err := WebhookSubscriptionCacheKey("", core.EventJobCompleted); err == nil {
		t.Fatalf("expected missing tenant rejected")
	}
	if _, err := WebhookSubscriptionCacheKey("tenant-1", "  "); err == nil {
		t.Fatalf("expected missing event type rejected")
	}
}

func TestCachedWebhookStore_PropagatesBaseErrors(t *testing.T) {
	base := newStubBaseWebhookStore()
	base.listErr = errors.New("connection refused")
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}

	if _, err := store.ListActiveByEvent(context.Background(), "tenant-1", core.EventJobCompleted); err == nil {
		t.Fatalf("expected base error propagation")
	}

	if _, err := NewCachedWebhookStore(nil, newTestWebhookCacheService(t)); err == nil {
		t.Fatalf("expected nil base store rejected")
	}
	if _, err := NewCachedWebhookStore(base, nil); err == nil {
		t.Fatalf("expected nil cache service rejected")
	}
}

var _ core.WebhookStore = (*stubBaseWebhookStore)(nil)
