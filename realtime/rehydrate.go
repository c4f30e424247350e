// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aakash-jangid0/dinesync/domain"
)

// ErrRecordGone reports that a point lookup returned not-found. This
// is normal when the row was deleted after the event was emitted; the
// delete event is already in flight behind it.
var ErrRecordGone = errors.New("record no longer exists")

// ErrStaleFetch reports that a rehydration fetch returned a row older
// than state already observed for that key. The fetch result must be
// discarded; a newer event has already triggered a fresher fetch.
var ErrStaleFetch = errors.New("rehydration fetch is stale")

// Rehydrator turns key-only change events into full typed records. It
// keeps a per-key high-water mark of updated_at so that a slow fetch
// racing a newer event can never clobber newer state.
type Rehydrator struct {
	client *Client
	logger *slog.Logger

	mu        sync.Mutex
	highWater map[string]time.Time // "table/pk" -> newest updated_at observed
}

// NewRehydrator creates a rehydrator over the given client.
func NewRehydrator(client *Client, logger *slog.Logger) *Rehydrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rehydrator{
		client:    client,
		logger:    logger,
		highWater: make(map[string]time.Time),
	}
}

func fenceKey(table, pk string) string { return table + "/" + pk }

// observe raises the high-water mark for a key and returns the current
// mark. Events arrive in commit order per key, so the mark only moves
// forward.
func (r *Rehydrator) observe(table, pk string, updatedAt time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fenceKey(table, pk)
	if updatedAt.After(r.highWater[key]) {
		r.highWater[key] = updatedAt
	}
	return r.highWater[key]
}

// Forget drops fencing state for a key, after a delete has been
// applied.
func (r *Rehydrator) Forget(table, pk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.highWater, fenceKey(table, pk))
}

// Rehydrate fetches the full record for a change event. It returns
// ErrStaleFetch when the fetched row is older than the high-water mark
// for that key, and ErrRecordGone when the row was deleted in the
// meantime.
func (r *Rehydrator) Rehydrate(ctx context.Context, ev *domain.ChangeEvent) (domain.Record, error) {
	mark := r.observe(ev.Table, ev.PK, ev.UpdatedAt)

	rec, err := r.client.FetchRecord(ctx, ev.Table, ev.PK)
	if err != nil {
		return nil, err
	}
	if rec.RecordUpdatedAt().Before(mark) {
		r.logger.Debug("Discarding stale rehydration fetch",
			"table", ev.Table, "pk", ev.PK,
			"fetched", rec.RecordUpdatedAt(), "mark", mark)
		return nil, ErrStaleFetch
	}
	// The fetch may return state newer than the event that triggered
	// it; raise the mark so the intervening events become no-ops.
	r.observe(ev.Table, ev.PK, rec.RecordUpdatedAt())
	return rec, nil
}

// RehydrateKey fetches a record outside the event path, for polling
// re-fetches. The same fencing applies.
func (r *Rehydrator) RehydrateKey(ctx context.Context, table, pk string) (domain.Record, error) {
	if !domain.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	r.mu.Lock()
	mark := r.highWater[fenceKey(table, pk)]
	r.mu.Unlock()

	rec, err := r.client.FetchRecord(ctx, table, pk)
	if err != nil {
		return nil, err
	}
	if rec.RecordUpdatedAt().Before(mark) {
		return nil, ErrStaleFetch
	}
	r.observe(table, pk, rec.RecordUpdatedAt())
	return rec, nil
}
