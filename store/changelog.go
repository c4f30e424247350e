// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aakash-jangid0/dinesync/domain"
)

// appendChangeInTx records a row mutation in the change log within the
// caller's transaction and returns the event to publish after commit.
func appendChangeInTx(ctx context.Context, tx pgx.Tx, table, op, pk string) (domain.ChangeEvent, error) {
	ev := domain.ChangeEvent{Table: table, Op: op, PK: pk}
	err := tx.QueryRow(ctx, `
		INSERT INTO change_log (table_name, op, pk_uuid)
		VALUES ($1, $2, $3)
		RETURNING seq, updated_at
	`, table, op, pk).Scan(&ev.Seq, &ev.UpdatedAt)
	if err != nil {
		return ev, fmt.Errorf("failed to append change log entry: %w", err)
	}
	return ev, nil
}

// ChangePage is one page of the change log.
type ChangePage struct {
	Changes   []domain.ChangeEvent `json:"changes"`
	HasMore   bool                 `json:"has_more"`
	NextAfter int64                `json:"next_after"`
}

// ListChanges returns change-log entries with seq > after, oldest
// first, optionally filtered to one table. Used by feed subscribers to
// catch up after a reconnect.
func (s *Store) ListChanges(ctx context.Context, after int64, limit int, tableFilter string) (*ChangePage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if tableFilter != "" && !domain.KnownTable(tableFilter) {
		return nil, fmt.Errorf("invalid table filter: %s", tableFilter)
	}

	var tableArg *string
	if tableFilter != "" {
		tableArg = &tableFilter
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seq, table_name, op, pk_uuid::text, updated_at
		FROM change_log
		WHERE seq > $1 AND ($2::text IS NULL OR table_name = $2)
		ORDER BY seq
		LIMIT $3 + 1
	`, after, tableArg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	page := &ChangePage{NextAfter: after}
	for rows.Next() {
		var ev domain.ChangeEvent
		if err := rows.Scan(&ev.Seq, &ev.Table, &ev.Op, &ev.PK, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		page.Changes = append(page.Changes, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log: %w", err)
	}

	if len(page.Changes) > limit {
		page.Changes = page.Changes[:limit]
		page.HasMore = true
	}
	if n := len(page.Changes); n > 0 {
		page.NextAfter = page.Changes[n-1].Seq
	}
	return page, nil
}

// HighestSeq returns the newest change-log sequence, or 0 when empty.
func (s *Store) HighestSeq(ctx context.Context) int64 {
	var maxSeq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM change_log`).Scan(&maxSeq)
	if err != nil {
		s.logger.Error("Failed to get highest change seq", "error", err)
		return 0
	}
	return maxSeq
}
