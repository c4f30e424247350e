// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aakash-jangid0/dinesync/domain"
)

// NewPayrollEntry is the caller-supplied part of a payroll record.
type NewPayrollEntry struct {
	StaffName   string
	Role        string
	PeriodStart time.Time
	PeriodEnd   time.Time
	AmountCents int64
}

func (n *NewPayrollEntry) validate() error {
	if n.StaffName == "" {
		return fmt.Errorf("staff name must not be empty")
	}
	if !n.PeriodEnd.After(n.PeriodStart) {
		return fmt.Errorf("period_end must be after period_start")
	}
	if n.AmountCents < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	return nil
}

// CreatePayrollEntry inserts a payroll record.
func (s *Store) CreatePayrollEntry(ctx context.Context, in NewPayrollEntry) (*domain.PayrollEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO payroll_entries (id, staff_name, role, period_start, period_end, amount_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, in.StaffName, in.Role, in.PeriodStart, in.PeriodEnd, in.AmountCents); err != nil {
			return fmt.Errorf("failed to insert payroll entry: %w", err)
		}
		var err error
		ev, err = appendChangeInTx(ctx, tx, domain.TablePayroll, domain.OpInsert, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetPayrollEntry(ctx, id)
}

// GetPayrollEntry fetches one payroll record by primary key.
func (s *Store) GetPayrollEntry(ctx context.Context, id string) (*domain.PayrollEntry, error) {
	var cached domain.PayrollEntry
	if s.getCached(ctx, domain.TablePayroll, id, &cached) {
		return &cached, nil
	}

	var p domain.PayrollEntry
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, staff_name, role, period_start, period_end, amount_cents, paid, created_at, updated_at
		FROM payroll_entries WHERE id = $1
	`, id).Scan(&p.ID, &p.StaffName, &p.Role, &p.PeriodStart, &p.PeriodEnd, &p.AmountCents, &p.Paid, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll entry: %w", err)
	}

	s.setCached(ctx, domain.TablePayroll, id, &p)
	return &p, nil
}

// ListPayrollEntries returns payroll records newest-first.
func (s *Store) ListPayrollEntries(ctx context.Context, limit int) ([]domain.PayrollEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, staff_name, role, period_start, period_end, amount_cents, paid, created_at, updated_at
		FROM payroll_entries ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.PayrollEntry
	for rows.Next() {
		var p domain.PayrollEntry
		if err := rows.Scan(&p.ID, &p.StaffName, &p.Role, &p.PeriodStart, &p.PeriodEnd, &p.AmountCents, &p.Paid, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payroll entry: %w", err)
		}
		entries = append(entries, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payroll entries: %w", err)
	}
	return entries, nil
}

// UpdatePayrollEntry edits a payroll record and its paid flag.
func (s *Store) UpdatePayrollEntry(ctx context.Context, id string, in NewPayrollEntry, paid bool) (*domain.PayrollEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE payroll_entries
			SET staff_name = $2, role = $3, period_start = $4, period_end = $5,
			    amount_cents = $6, paid = $7, updated_at = now()
			WHERE id = $1
		`, id, in.StaffName, in.Role, in.PeriodStart, in.PeriodEnd, in.AmountCents, paid)
		if err != nil {
			return fmt.Errorf("failed to update payroll entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TablePayroll, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetPayrollEntry(ctx, id)
}

// DeletePayrollEntry removes a payroll record.
func (s *Store) DeletePayrollEntry(ctx context.Context, id string) error {
	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM payroll_entries WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete payroll entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TablePayroll, domain.OpDelete, id)
		return err
	})
	if err != nil {
		return err
	}

	s.publish(ctx, ev)
	return nil
}
