// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aakash-jangid0/dinesync/domain"
)

// Redemption rule violations, mapped to conflicts at the API layer.
var (
	ErrCouponNotValid  = errors.New("coupon is not currently valid")
	ErrCouponExhausted = errors.New("coupon usage limit reached")
)

// NewCoupon is the caller-supplied part of a coupon.
type NewCoupon struct {
	Code            string
	DiscountPercent int
	ValidFrom       time.Time
	ValidUntil      time.Time
	UsageLimit      int
}

func (n *NewCoupon) validate() error {
	if strings.TrimSpace(n.Code) == "" {
		return fmt.Errorf("coupon code must not be empty")
	}
	if n.DiscountPercent < 0 || n.DiscountPercent > 100 {
		return fmt.Errorf("discount percent must be between 0 and 100")
	}
	if !n.ValidUntil.After(n.ValidFrom) {
		return fmt.Errorf("valid_until must be after valid_from")
	}
	return nil
}

// CreateCoupon inserts a coupon.
func (s *Store) CreateCoupon(ctx context.Context, in NewCoupon) (*domain.Coupon, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO coupons (id, code, discount_percent, valid_from, valid_until, usage_limit)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, strings.ToUpper(in.Code), in.DiscountPercent, in.ValidFrom, in.ValidUntil, in.UsageLimit); err != nil {
			return fmt.Errorf("failed to insert coupon: %w", err)
		}
		var err error
		ev, err = appendChangeInTx(ctx, tx, domain.TableCoupons, domain.OpInsert, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetCoupon(ctx, id)
}

// GetCoupon fetches a coupon by primary key.
func (s *Store) GetCoupon(ctx context.Context, id string) (*domain.Coupon, error) {
	var cached domain.Coupon
	if s.getCached(ctx, domain.TableCoupons, id, &cached) {
		return &cached, nil
	}

	var c domain.Coupon
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, code, discount_percent, valid_from, valid_until, usage_limit, used_count, active, created_at, updated_at
		FROM coupons WHERE id = $1
	`, id).Scan(&c.ID, &c.Code, &c.DiscountPercent, &c.ValidFrom, &c.ValidUntil,
		&c.UsageLimit, &c.UsedCount, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query coupon: %w", err)
	}

	s.setCached(ctx, domain.TableCoupons, id, &c)
	return &c, nil
}

// ListCoupons returns all coupons newest-first.
func (s *Store) ListCoupons(ctx context.Context, limit int) ([]domain.Coupon, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, code, discount_percent, valid_from, valid_until, usage_limit, used_count, active, created_at, updated_at
		FROM coupons ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query coupons: %w", err)
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		var c domain.Coupon
		if err := rows.Scan(&c.ID, &c.Code, &c.DiscountPercent, &c.ValidFrom, &c.ValidUntil,
			&c.UsageLimit, &c.UsedCount, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coupons: %w", err)
	}
	return coupons, nil
}

// UpdateCoupon edits the mutable fields of a coupon.
func (s *Store) UpdateCoupon(ctx context.Context, id string, in NewCoupon, active bool) (*domain.Coupon, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE coupons
			SET code = $2, discount_percent = $3, valid_from = $4, valid_until = $5,
			    usage_limit = $6, active = $7, updated_at = now()
			WHERE id = $1
		`, id, strings.ToUpper(in.Code), in.DiscountPercent, in.ValidFrom, in.ValidUntil, in.UsageLimit, active)
		if err != nil {
			return fmt.Errorf("failed to update coupon: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TableCoupons, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetCoupon(ctx, id)
}

// DeleteCoupon removes a coupon. Deleting a missing coupon returns
// ErrNotFound.
func (s *Store) DeleteCoupon(ctx context.Context, id string) error {
	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM coupons WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete coupon: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TableCoupons, domain.OpDelete, id)
		return err
	})
	if err != nil {
		return err
	}

	s.publish(ctx, ev)
	return nil
}

// RedeemCoupon validates and consumes one use of a coupon by code.
func (s *Store) RedeemCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	var id string
	var ev domain.ChangeEvent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var c domain.Coupon
		err := tx.QueryRow(ctx, `
			SELECT id::text, valid_from, valid_until, usage_limit, used_count, active
			FROM coupons WHERE code = $1 FOR UPDATE
		`, strings.ToUpper(code)).Scan(&c.ID, &c.ValidFrom, &c.ValidUntil, &c.UsageLimit, &c.UsedCount, &c.Active)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock coupon: %w", err)
		}

		now := time.Now()
		if !c.Active || now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
			return fmt.Errorf("coupon %s: %w", code, ErrCouponNotValid)
		}
		if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
			return fmt.Errorf("coupon %s: %w", code, ErrCouponExhausted)
		}

		id = c.ID
		if _, err := tx.Exec(ctx, `
			UPDATE coupons SET used_count = used_count + 1, updated_at = now() WHERE id = $1
		`, id); err != nil {
			return fmt.Errorf("failed to redeem coupon: %w", err)
		}
		ev, err = appendChangeInTx(ctx, tx, domain.TableCoupons, domain.OpUpdate, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)
	return s.GetCoupon(ctx, id)
}
