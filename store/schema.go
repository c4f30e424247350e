// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates all dinesync tables if they do not
// exist. Runs inside a transaction so partial initialization cannot be
// observed.
func initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id             UUID PRIMARY KEY,
			customer_id    UUID NOT NULL,
			status         TEXT NOT NULL DEFAULT 'pending',
			payment_status TEXT NOT NULL DEFAULT 'pending',
			total_cents    BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS order_items (
			id          UUID PRIMARY KEY,
			order_id    UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			quantity    INTEGER NOT NULL CHECK (quantity > 0),
			price_cents BIGINT NOT NULL,
			notes       TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS support_chats (
			id          UUID PRIMARY KEY,
			order_id    UUID NOT NULL REFERENCES orders(id),
			customer_id UUID NOT NULL,
			status      TEXT NOT NULL DEFAULT 'active',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS chat_messages (
			id          UUID PRIMARY KEY,
			chat_id     UUID NOT NULL REFERENCES support_chats(id) ON DELETE CASCADE,
			sender_type TEXT NOT NULL CHECK (sender_type IN ('customer','admin')),
			content     TEXT NOT NULL,
			sent_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			read        BOOLEAN NOT NULL DEFAULT false
		)`,

		`CREATE TABLE IF NOT EXISTS coupons (
			id               UUID PRIMARY KEY,
			code             TEXT NOT NULL UNIQUE,
			discount_percent INTEGER NOT NULL CHECK (discount_percent BETWEEN 0 AND 100),
			valid_from       TIMESTAMPTZ NOT NULL,
			valid_until      TIMESTAMPTZ NOT NULL,
			usage_limit      INTEGER NOT NULL DEFAULT 0,
			used_count       INTEGER NOT NULL DEFAULT 0,
			active           BOOLEAN NOT NULL DEFAULT true,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS invoices (
			id             UUID PRIMARY KEY,
			order_id       UUID NOT NULL UNIQUE REFERENCES orders(id),
			customer_name  TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			subtotal_cents BIGINT NOT NULL DEFAULT 0,
			tax_cents      BIGINT NOT NULL DEFAULT 0,
			total_cents    BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS invoice_items (
			id          UUID PRIMARY KEY,
			invoice_id  UUID NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			quantity    INTEGER NOT NULL,
			price_cents BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS feedback (
			id          UUID PRIMARY KEY,
			order_id    UUID REFERENCES orders(id),
			customer_id UUID NOT NULL,
			rating      INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment     TEXT NOT NULL DEFAULT '',
			approved    BOOLEAN NOT NULL DEFAULT false,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS payroll_entries (
			id           UUID PRIMARY KEY,
			staff_name   TEXT NOT NULL,
			role         TEXT NOT NULL,
			period_start TIMESTAMPTZ NOT NULL,
			period_end   TIMESTAMPTZ NOT NULL,
			amount_cents BIGINT NOT NULL,
			paid         BOOLEAN NOT NULL DEFAULT false,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Commit-ordered change log backing the realtime feed. Events
		// carry keys only; subscribers rehydrate via point lookup.
		`CREATE TABLE IF NOT EXISTS change_log (
			seq        BIGSERIAL PRIMARY KEY,
			table_name TEXT NOT NULL,
			op         TEXT NOT NULL CHECK (op IN ('INSERT','UPDATE','DELETE')),
			pk_uuid    UUID NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_support_chats_order ON support_chats(order_id)`,
		// One active chat per order; concurrent opens converge on it.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_support_chats_active_order
			ON support_chats(order_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_table ON change_log(table_name, seq)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
