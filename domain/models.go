// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

// Package domain defines the entities shared by the dinesync server
// store and the realtime client layer, plus the validated decoding
// boundary for payloads arriving over the wire.
package domain

import (
	"time"
)

// Order is a customer order. Items are created atomically with the
// order and are never mutated independently after creation.
type Order struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalCents    int64         `json:"total_cents"`
	Items         []OrderItem   `json:"items,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// OrderItem is a line item owned by an order.
type OrderItem struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	Notes      string `json:"notes,omitempty"`
}

// SupportChat is a per-order conversation between a customer and the
// admin team. Messages are append-only.
type SupportChat struct {
	ID         string        `json:"id"`
	OrderID    string        `json:"order_id"`
	CustomerID string        `json:"customer_id"`
	Status     ChatStatus    `json:"status"`
	Messages   []ChatMessage `json:"messages,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ChatMessage is a single message in a support chat. The ID is
// server-assigned; while a send is unconfirmed the client substitutes
// a temp-<n> placeholder id. Content is immutable once confirmed; only
// the read flag changes afterwards.
type ChatMessage struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chat_id"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`
	SentAt     time.Time  `json:"sent_at"`
	Read       bool       `json:"read"`
}

// Coupon is a discount code managed from the admin dashboard.
type Coupon struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	UsageLimit      int       `json:"usage_limit"`
	UsedCount       int       `json:"used_count"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Invoice is derived from an order on first fetch (one-to-one).
// Immutable after creation except for customer contact fields.
type Invoice struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	CustomerName  string        `json:"customer_name"`
	CustomerEmail string        `json:"customer_email"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	Items         []InvoiceItem `json:"items,omitempty"`
	SubtotalCents int64         `json:"subtotal_cents"`
	TaxCents      int64         `json:"tax_cents"`
	TotalCents    int64         `json:"total_cents"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// InvoiceItem snapshots an order item at invoice creation time.
type InvoiceItem struct {
	ID         string `json:"id"`
	InvoiceID  string `json:"invoice_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

// Feedback is a customer review, optionally tied to an order.
type Feedback struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id,omitempty"`
	CustomerID string    `json:"customer_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PayrollEntry is a staff pay record managed from the admin dashboard.
type PayrollEntry struct {
	ID          string    `json:"id"`
	StaffName   string    `json:"staff_name"`
	Role        string    `json:"role"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	AmountCents int64     `json:"amount_cents"`
	Paid        bool      `json:"paid"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
