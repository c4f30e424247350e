// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
)

// Point-lookup cache for rehydration fetches. Entries are dropped on
// every committed change to the same row, so staleness is bounded by
// the TTL only when invalidation is missed (e.g. Redis restart).

func cacheKey(table, pk string) string {
	return "dinesync:rec:" + table + ":" + pk
}

// getCached returns the cached JSON for (table, pk), or false.
func (s *Store) getCached(ctx context.Context, table, pk string, dest any) bool {
	if s.cache == nil || s.cacheTTL <= 0 {
		return false
	}
	data, err := s.cache.Get(ctx, cacheKey(table, pk)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Debug("Cache read failed", "table", table, "pk", pk, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("Dropping undecodable cache entry", "table", table, "pk", pk, "error", err)
		s.cache.Del(ctx, cacheKey(table, pk))
		return false
	}
	return true
}

// setCached stores the JSON encoding of v for (table, pk). Best
// effort; cache failures never fail the read path.
func (s *Store) setCached(ctx context.Context, table, pk string, v any) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(table, pk), data, s.cacheTTL).Err(); err != nil {
		s.logger.Debug("Cache write failed", "table", table, "pk", pk, "error", err)
	}
}

// invalidateCached drops the cached row for (table, pk).
func (s *Store) invalidateCached(ctx context.Context, table, pk string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(table, pk)).Err(); err != nil {
		s.logger.Debug("Cache invalidation failed", "table", table, "pk", pk, "error", err)
	}
}
