// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outbox is a durable queue of writes made while offline. Requests
// drain oldest first so dependent writes keep their order; a failed
// request stays queued with its error recorded and blocks the drain
// until it succeeds or is dropped.
type Outbox struct {
	db     *sql.DB
	logger *slog.Logger
	// Serialize writes to avoid SQLite locking contention.
	writeMu sync.Mutex
}

// OpenOutbox opens (or creates) an outbox database at path.
func OpenOutbox(path string, logger *slog.Logger) (*Outbox, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox database: %w", err)
	}
	ob, err := NewOutbox(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ob, nil
}

// NewOutbox creates an outbox over an existing SQLite handle.
func NewOutbox(db *sql.DB, logger *slog.Logger) (*Outbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _pending_requests (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			method     TEXT NOT NULL,
			path       TEXT NOT NULL,
			payload    TEXT,
			queued_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			attempts   INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize outbox schema: %w", err)
	}
	return &Outbox{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (o *Outbox) Close() error { return o.db.Close() }

// Enqueue stores a write for later delivery and returns its queue id.
func (o *Outbox) Enqueue(ctx context.Context, method, path string, payload json.RawMessage) (int64, error) {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
	default:
		return 0, fmt.Errorf("method %q cannot be queued", method)
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	res, err := o.db.ExecContext(ctx, `
		INSERT INTO _pending_requests (method, path, payload)
		VALUES (?, ?, ?)
	`, method, path, string(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue id: %w", err)
	}
	return id, nil
}

// PendingCount returns the number of queued requests.
func (o *Outbox) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _pending_requests`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return n, nil
}

type queuedRequest struct {
	id      int64
	method  string
	path    string
	payload sql.NullString
}

// Drain delivers queued requests through the client, oldest first, up
// to limit. It stops at the first failure to preserve write order and
// returns the number delivered. Permanent rejections (4xx other than
// 408 and 429) are dropped from the queue rather than retried forever.
func (o *Outbox) Drain(ctx context.Context, client *Client, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := o.db.QueryContext(ctx, `
		SELECT id, method, path, payload
		FROM _pending_requests
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to query pending requests: %w", err)
	}
	var queued []queuedRequest
	for rows.Next() {
		var q queuedRequest
		if err := rows.Scan(&q.id, &q.method, &q.path, &q.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan pending request: %w", err)
		}
		queued = append(queued, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating pending requests: %w", err)
	}

	delivered := 0
	for _, q := range queued {
		var body any
		if q.payload.Valid && q.payload.String != "" {
			body = json.RawMessage(q.payload.String)
		}
		err := client.do(ctx, q.method, q.path, body, nil)
		if err != nil {
			if isPermanentRejection(err) {
				o.logger.Warn("Dropping permanently rejected request",
					"id", q.id, "method", q.method, "path", q.path, "error", err)
				if derr := o.delete(ctx, q.id); derr != nil {
					return delivered, derr
				}
				continue
			}
			if uerr := o.recordFailure(ctx, q.id, err); uerr != nil {
				return delivered, uerr
			}
			return delivered, fmt.Errorf("failed to deliver request %d: %w", q.id, err)
		}
		if err := o.delete(ctx, q.id); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// DrainLoop drains the outbox in a loop with exponential backoff,
// until the context is cancelled.
func (o *Outbox) DrainLoop(ctx context.Context, client *Client) {
	backoff := client.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, err := o.Drain(ctx, client, 100)
		if err != nil {
			backoff = backoff * 2
			if backoff > client.config.BackoffMax {
				backoff = client.config.BackoffMax
			}
		} else {
			backoff = client.config.BackoffMin
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func isPermanentRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

func (o *Outbox) delete(ctx context.Context, id int64) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if _, err := o.db.ExecContext(ctx, `DELETE FROM _pending_requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove delivered request %d: %w", id, err)
	}
	return nil
}

func (o *Outbox) recordFailure(ctx context.Context, id int64, cause error) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	_, err := o.db.ExecContext(ctx, `
		UPDATE _pending_requests
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, cause.Error(), id)
	if err != nil {
		return fmt.Errorf("failed to record delivery failure for %d: %w", id, err)
	}
	return nil
}
