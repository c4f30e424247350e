// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aakash-jangid0/dinesync/domain"
)

// Tax applied when deriving an invoice from an order, in basis points.
const invoiceTaxBps = 500

// GetInvoiceForOrder returns the invoice for an order, deriving it
// from the order on first fetch. Derivation snapshots the order items
// as invoice items; the invoice is immutable afterwards except for
// customer contact fields.
func (s *Store) GetInvoiceForOrder(ctx context.Context, orderID string) (*domain.Invoice, error) {
	var invoiceID string
	err := s.pool.QueryRow(ctx, `SELECT id::text FROM invoices WHERE order_id = $1`, orderID).Scan(&invoiceID)
	if err == nil {
		return s.GetInvoice(ctx, invoiceID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	invoiceID = uuid.New().String()
	var ev domain.ChangeEvent
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		subtotal := order.TotalCents
		tax := subtotal * invoiceTaxBps / 10000

		if _, err := tx.Exec(ctx, `
			INSERT INTO invoices (id, order_id, subtotal_cents, tax_cents, total_cents)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (order_id) DO NOTHING
		`, invoiceID, orderID, subtotal, tax, subtotal+tax); err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}

		// A concurrent first-fetch may have won; use whichever row holds the order.
		if err := tx.QueryRow(ctx, `SELECT id::text FROM invoices WHERE order_id = $1`, orderID).Scan(&invoiceID); err != nil {
			return fmt.Errorf("failed to re-read invoice id: %w", err)
		}

		for _, it := range order.Items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO invoice_items (id, invoice_id, name, quantity, price_cents)
				SELECT $1, $2, $3, $4, $5
				WHERE NOT EXISTS (SELECT 1 FROM invoice_items WHERE invoice_id = $2 AND name = $3)
			`, uuid.New().String(), invoiceID, it.Name, it.Quantity, it.PriceCents); err != nil {
				return fmt.Errorf("failed to insert invoice item: %w", err)
			}
		}

		var err error
		ev, err = appendChangeInTx(ctx, tx, domain.TableInvoices, domain.OpInsert, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetInvoice(ctx, invoiceID)
}

// GetInvoice fetches an invoice with its items by primary key.
func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var cached domain.Invoice
	if s.getCached(ctx, domain.TableInvoices, id, &cached) {
		return &cached, nil
	}

	var inv domain.Invoice
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, order_id::text, customer_name, customer_email, customer_phone,
		       subtotal_cents, tax_cents, total_cents, created_at, updated_at
		FROM invoices WHERE id = $1
	`, id).Scan(&inv.ID, &inv.OrderID, &inv.CustomerName, &inv.CustomerEmail, &inv.CustomerPhone,
		&inv.SubtotalCents, &inv.TaxCents, &inv.TotalCents, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, invoice_id::text, name, quantity, price_cents
		FROM invoice_items WHERE invoice_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Name, &it.Quantity, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice items: %w", err)
	}

	s.setCached(ctx, domain.TableInvoices, id, &inv)
	return &inv, nil
}

// UpdateInvoiceContact edits the customer contact fields of an
// invoice; these are the only administratively mutable fields.
func (s *Store) UpdateInvoiceContact(ctx context.Context, id, name, email, phone string) (*domain.Invoice, error) {
	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE invoices
			SET customer_name = $2, customer_email = $3, customer_phone = $4, updated_at = now()
			WHERE id = $1
		`, id, name, email, phone)
		if err != nil {
			return fmt.Errorf("failed to update invoice contact: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TableInvoices, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetInvoice(ctx, id)
}
