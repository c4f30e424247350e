// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

// Package store is the Postgres-backed persistence layer for dinesync.
// Every mutation appends a row to the change log inside the same
// transaction, so the change feed observes exactly the committed
// history in commit order.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aakash-jangid0/dinesync/domain"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// ChangeListener receives committed change events. Implementations
// must not block; the store invokes listeners synchronously after
// commit.
type ChangeListener interface {
	OnChange(ev domain.ChangeEvent)
}

// Store provides CRUD and change-log access over a pgx pool. An
// optional Redis client caches point lookups used by rehydration.
type Store struct {
	pool     *pgxpool.Pool
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	listeners []ChangeListener
}

// New creates a store over an existing pool. The cache client may be
// nil (or cacheTTL zero); the store then reads straight from Postgres.
// Schema objects are created if missing.
func New(ctx context.Context, pool *pgxpool.Pool, cache *redis.Client, cacheTTL time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		pool:     pool,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}

	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// Pool returns the underlying connection pool for advanced callers.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// AddListener registers a listener for committed change events.
func (s *Store) AddListener(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// publish delivers a committed change event to all listeners and
// drops any cached copy of the touched row.
func (s *Store) publish(ctx context.Context, ev domain.ChangeEvent) {
	s.invalidateCached(ctx, ev.Table, ev.PK)

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, l := range listeners {
		l.OnChange(ev)
	}
}
