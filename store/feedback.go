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

// SubmitFeedback records a customer review. orderID may be empty for
// general feedback.
func (s *Store) SubmitFeedback(ctx context.Context, customerID, orderID string, rating int, comment string) (*domain.Feedback, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5")
	}

	id := uuid.New().String()
	var orderArg *string
	if orderID != "" {
		orderArg = &orderID
	}

	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO feedback (id, order_id, customer_id, rating, comment)
			VALUES ($1, $2, $3, $4, $5)
		`, id, orderArg, customerID, rating, comment); err != nil {
			return fmt.Errorf("failed to insert feedback: %w", err)
		}
		var err error
		ev, err = appendChangeInTx(ctx, tx, domain.TableFeedback, domain.OpInsert, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetFeedback(ctx, id)
}

// GetFeedback fetches one feedback entry by primary key.
func (s *Store) GetFeedback(ctx context.Context, id string) (*domain.Feedback, error) {
	var cached domain.Feedback
	if s.getCached(ctx, domain.TableFeedback, id, &cached) {
		return &cached, nil
	}

	var f domain.Feedback
	var orderID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, order_id::text, customer_id::text, rating, comment, approved, created_at, updated_at
		FROM feedback WHERE id = $1
	`, id).Scan(&f.ID, &orderID, &f.CustomerID, &f.Rating, &f.Comment, &f.Approved, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	if orderID != nil {
		f.OrderID = *orderID
	}

	s.setCached(ctx, domain.TableFeedback, id, &f)
	return &f, nil
}

// ListFeedback returns feedback newest-first. approvedOnly restricts
// to moderated entries (the customer-facing view).
func (s *Store) ListFeedback(ctx context.Context, approvedOnly bool, limit int) ([]domain.Feedback, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, order_id::text, customer_id::text, rating, comment, approved, created_at, updated_at
		FROM feedback
		WHERE (NOT $1::bool OR approved)
		ORDER BY created_at DESC
		LIMIT $2
	`, approvedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var entries []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		var orderID *string
		if err := rows.Scan(&f.ID, &orderID, &f.CustomerID, &f.Rating, &f.Comment, &f.Approved, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if orderID != nil {
			f.OrderID = *orderID
		}
		entries = append(entries, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback: %w", err)
	}
	return entries, nil
}

// ModerateFeedback approves or hides a feedback entry.
func (s *Store) ModerateFeedback(ctx context.Context, id string, approved bool) (*domain.Feedback, error) {
	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE feedback SET approved = $2, updated_at = now() WHERE id = $1
		`, id, approved)
		if err != nil {
			return fmt.Errorf("failed to moderate feedback: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TableFeedback, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetFeedback(ctx, id)
}
