package officestore

import (
	"context"
	"encoding/json"
	"time"

	"routeplan/internal/domain"
	"routeplan/pkg/cache"
	"routeplan/pkg/logger"
	"routeplan/pkg/telemetry"
)

// CachingStore wraps a Store with a read-through cache over ListForCompany,
// ListGlobal and GetByID. Offices are read on nearly every office-fallback
// call but change rarely, so a short TTL cuts load on
// Postgres without risking stale data for long.
type CachingStore struct {
	inner Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCachingStore wraps inner with c, caching entries for ttl.
func NewCachingStore(inner Store, c cache.Cache, ttl time.Duration) *CachingStore {
	return &CachingStore{inner: inner, cache: c, ttl: ttl}
}

func (s *CachingStore) GetByID(ctx context.Context, id string) (*domain.Office, error) {
	ctx, span := telemetry.StartSpan(ctx, "CachingOfficeStore.GetByID")
	defer span.End()

	key := "office:id:" + id
	if cached, ok := s.getCached(ctx, key); ok {
		var o domain.Office
		if err := json.Unmarshal(cached, &o); err == nil {
			return &o, nil
		}
	}

	o, err := s.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, o)
	return o, nil
}

func (s *CachingStore) ListForCompany(ctx context.Context, companyID string) ([]*domain.Office, error) {
	ctx, span := telemetry.StartSpan(ctx, "CachingOfficeStore.ListForCompany")
	defer span.End()

	return s.listCached(ctx, "office:company:"+companyID, func() ([]*domain.Office, error) {
		return s.inner.ListForCompany(ctx, companyID)
	})
}

func (s *CachingStore) ListGlobal(ctx context.Context) ([]*domain.Office, error) {
	ctx, span := telemetry.StartSpan(ctx, "CachingOfficeStore.ListGlobal")
	defer span.End()

	return s.listCached(ctx, "office:global", func() ([]*domain.Office, error) {
		return s.inner.ListGlobal(ctx)
	})
}

func (s *CachingStore) listCached(ctx context.Context, key string, load func() ([]*domain.Office, error)) ([]*domain.Office, error) {
	if cached, ok := s.getCached(ctx, key); ok {
		var offices []*domain.Office
		if err := json.Unmarshal(cached, &offices); err == nil {
			return offices, nil
		}
	}

	offices, err := load()
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, offices)
	return offices, nil
}

func (s *CachingStore) getCached(ctx context.Context, key string) ([]byte, bool) {
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		if err != cache.ErrKeyNotFound {
			logger.Log.Warn("office cache read failed, falling back to store", "key", key, "error", err)
		}
		return nil, false
	}
	return value, true
}

func (s *CachingStore) setCached(ctx context.Context, key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		logger.Log.Warn("failed to encode office cache entry", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, encoded, s.ttl); err != nil {
		logger.Log.Warn("office cache write failed", "key", key, "error", err)
	}
}

// Offices are never written by this service, so TTL expiry is the only
// invalidation path — there is no write method to invalidate on.
var _ Store = (*CachingStore)(nil)
