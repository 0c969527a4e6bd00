package tenantctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/cache"
)

// CacheKeyPattern matches every key written by CachedOverrideStore.
const CacheKeyPattern = "uiconfig:overrides:*"

// missMarker records that a scope has no overrides, so that absent rows are
// not re-queried on every request.
const missMarker = "-"

// CachedOverrideStore is a read-through cache of raw override documents in
// front of another OverrideStore. Writes go to the underlying store first and
// then evict the cached entry. Cache failures degrade to the underlying store.
type CachedOverrideStore struct {
	next   OverrideStore
	kv     cache.KV
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedOverrideStore(next OverrideStore, kv cache.KV, ttl time.Duration, logger zerolog.Logger) *CachedOverrideStore {
	return &CachedOverrideStore{next: next, kv: kv, ttl: ttl, logger: logger}
}

func cacheKey(level Level, scopeID uuid.UUID) string {
	return fmt.Sprintf("uiconfig:overrides:%s:%s", level, scopeID)
}

func (s *CachedOverrideStore) TenantOverrides(ctx context.Context, tenantID uuid.UUID) (*OverrideRecord, error) {
	return s.read(ctx, LevelTenant, tenantID, s.next.TenantOverrides)
}

func (s *CachedOverrideStore) CompanyOverrides(ctx context.Context, companyID uuid.UUID) (*OverrideRecord, error) {
	return s.read(ctx, LevelCompany, companyID, s.next.CompanyOverrides)
}

func (s *CachedOverrideStore) read(ctx context.Context, level Level, id uuid.UUID, load func(context.Context, uuid.UUID) (*OverrideRecord, error)) (*OverrideRecord, error) {
	key := cacheKey(level, id)
	val, err := s.kv.Get(ctx, key)
	switch {
	case err == nil && val == missMarker:
		return nil, ErrOverridesNotFound
	case err == nil:
		var rec OverrideRecord
		jerr := json.Unmarshal([]byte(val), &rec)
		if jerr == nil {
			return &rec, nil
		}
		s.logger.Warn().Err(jerr).Str("key", key).Msg("discarding undecodable cache entry")
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn().Err(err).Str("key", key).Msg("override cache read failed")
	}

	rec, err := load(ctx, id)
	if errors.Is(err, ErrOverridesNotFound) {
		s.store(ctx, key, missMarker)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if data, jerr := json.Marshal(rec); jerr == nil {
		s.store(ctx, key, string(data))
	}
	return rec, nil
}

func (s *CachedOverrideStore) store(ctx context.Context, key, val string) {
	if err := s.kv.Set(ctx, key, val, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("override cache write failed")
	}
}

func (s *CachedOverrideStore) PutOverrides(ctx context.Context, rec *OverrideRecord) error {
	if err := s.next.PutOverrides(ctx, rec); err != nil {
		return err
	}
	s.evict(ctx, cacheKey(rec.Level, rec.ScopeID))
	return nil
}

func (s *CachedOverrideStore) DeleteOverrides(ctx context.Context, level Level, scopeID uuid.UUID) error {
	if err := s.next.DeleteOverrides(ctx, level, scopeID); err != nil {
		return err
	}
	s.evict(ctx, cacheKey(level, scopeID))
	return nil
}

func (s *CachedOverrideStore) evict(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("override cache eviction failed")
	}
}
