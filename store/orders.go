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

// NewOrderItem is the caller-supplied part of an order line item.
type NewOrderItem struct {
	Name       string
	Quantity   int
	PriceCents int64
	Notes      string
}

// CreateOrder inserts an order together with its items atomically.
// Items are owned by the order and are never mutated independently
// afterwards.
func (s *Store) CreateOrder(ctx context.Context, customerID string, items []NewOrderItem) (*domain.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}

	orderID := uuid.New().String()
	var ev domain.ChangeEvent

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var total int64
		for _, it := range items {
			total += it.PriceCents * int64(it.Quantity)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO orders (id, customer_id, status, payment_status, total_cents)
			VALUES ($1, $2, $3, $4, $5)
		`, orderID, customerID, domain.OrderPending, domain.PaymentPending, total); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for _, it := range items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items (id, order_id, name, quantity, price_cents, notes)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New().String(), orderID, it.Name, it.Quantity, it.PriceCents, it.Notes); err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		var err error
		ev, err = appendChangeInTx(ctx, tx, domain.TableOrders, domain.OpInsert, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetOrder(ctx, orderID)
}

// GetOrder fetches an order with its items by primary key. This is the
// point lookup the rehydrator depends on, so results are cached.
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var cached domain.Order
	if s.getCached(ctx, domain.TableOrders, id, &cached) {
		return &cached, nil
	}

	var o domain.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, customer_id::text, status, payment_status, total_cents, created_at, updated_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.CustomerID, &o.Status, &o.PaymentStatus, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, order_id::text, name, quantity, price_cents, notes
		FROM order_items WHERE order_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Name, &it.Quantity, &it.PriceCents, &it.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	s.setCached(ctx, domain.TableOrders, id, &o)
	return &o, nil
}

// OrderFilter narrows ListOrders results.
type OrderFilter struct {
	Status     domain.OrderStatus // empty = all
	CustomerID string             // empty = all
	Limit      int
}

// ListOrders returns orders newest-first without item expansion; the
// admin dashboard rehydrates individual orders on demand.
func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var statusArg, customerArg *string
	if filter.Status != "" {
		v := string(filter.Status)
		statusArg = &v
	}
	if filter.CustomerID != "" {
		v := filter.CustomerID
		customerArg = &v
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, customer_id::text, status, payment_status, total_cents, created_at, updated_at
		FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::uuid IS NULL OR customer_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, statusArg, customerArg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.PaymentStatus, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus moves an order along its lifecycle. Illegal
// transitions return ErrInvalidTransition; the row is locked for the
// check so concurrent admin actions serialize.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, next domain.OrderStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("invalid order status %q", next)
	}

	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current domain.OrderStatus
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if !current.CanTransitionTo(next) {
			return &domain.ErrInvalidTransition{From: current, To: next}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE orders SET status = $2, updated_at = now() WHERE id = $1
		`, id, next); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		ev, err = appendChangeInTx(ctx, tx, domain.TableOrders, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetOrder(ctx, id)
}

// UpdatePaymentStatus records a payment state change for an order.
func (s *Store) UpdatePaymentStatus(ctx context.Context, id string, next domain.PaymentStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("invalid payment status %q", next)
	}

	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1
		`, id, next)
		if err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TableOrders, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetOrder(ctx, id)
}
