// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Change operations carried by the change feed.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Table names addressable through the change feed and point lookups.
const (
	TableOrders   = "orders"
	TableChats    = "support_chats"
	TableMessages = "chat_messages"
	TableCoupons  = "coupons"
	TableInvoices = "invoices"
	TableFeedback = "feedback"
	TablePayroll  = "payroll_entries"
)

var knownTables = map[string]bool{
	TableOrders:   true,
	TableChats:    true,
	TableMessages: true,
	TableCoupons:  true,
	TableInvoices: true,
	TableFeedback: true,
	TablePayroll:  true,
}

// KnownTable reports whether name is a feed-addressable table.
func KnownTable(name string) bool { return knownTables[name] }

// ChangeEvent is a single row-level notification from the change feed.
// It carries only the key, never the full row; subscribers rehydrate
// by point lookup on insert and update.
type ChangeEvent struct {
	Seq       int64     `json:"seq"`
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	PK        string    `json:"pk"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the event shape at the boundary where feed data
// enters the process.
func (e *ChangeEvent) Validate() error {
	if !KnownTable(e.Table) {
		return fmt.Errorf("unknown table %q", e.Table)
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	if e.PK == "" {
		return fmt.Errorf("missing pk for %s on %s", e.Op, e.Table)
	}
	return nil
}

// DecodeChangeEvent decodes and validates a raw feed frame.
func DecodeChangeEvent(data []byte) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode change event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid change event: %w", err)
	}
	return &ev, nil
}

// Record is implemented by every entity that can live in a realtime
// collection. RecordTime orders display lists; RecordUpdatedAt is the
// fencing token that keeps a stale rehydration fetch from clobbering
// newer state.
type Record interface {
	RecordID() string
	RecordTime() time.Time
	RecordUpdatedAt() time.Time
}

func (o *Order) RecordID() string                  { return o.ID }
func (o *Order) RecordTime() time.Time             { return o.CreatedAt }
func (o *Order) RecordUpdatedAt() time.Time        { return o.UpdatedAt }
func (c *SupportChat) RecordID() string            { return c.ID }
func (c *SupportChat) RecordTime() time.Time       { return c.CreatedAt }
func (c *SupportChat) RecordUpdatedAt() time.Time  { return c.UpdatedAt }
func (m *ChatMessage) RecordID() string            { return m.ID }
func (m *ChatMessage) RecordTime() time.Time       { return m.SentAt }
func (m *ChatMessage) RecordUpdatedAt() time.Time  { return m.SentAt }
func (c *Coupon) RecordID() string                 { return c.ID }
func (c *Coupon) RecordTime() time.Time            { return c.CreatedAt }
func (c *Coupon) RecordUpdatedAt() time.Time       { return c.UpdatedAt }
func (i *Invoice) RecordID() string                { return i.ID }
func (i *Invoice) RecordTime() time.Time           { return i.CreatedAt }
func (i *Invoice) RecordUpdatedAt() time.Time      { return i.UpdatedAt }
func (f *Feedback) RecordID() string               { return f.ID }
func (f *Feedback) RecordTime() time.Time          { return f.CreatedAt }
func (f *Feedback) RecordUpdatedAt() time.Time     { return f.UpdatedAt }
func (p *PayrollEntry) RecordID() string           { return p.ID }
func (p *PayrollEntry) RecordTime() time.Time      { return p.CreatedAt }
func (p *PayrollEntry) RecordUpdatedAt() time.Time { return p.UpdatedAt }

// DecodeRecord decodes a full-record payload for the given table into
// its typed entity, validating enum fields. This is the single
// validation boundary for inbound rows.
func DecodeRecord(table string, data []byte) (Record, error) {
	switch table {
	case TableOrders:
		var o Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		if !o.Status.Valid() {
			return nil, fmt.Errorf("order %s: invalid status %q", o.ID, o.Status)
		}
		if !o.PaymentStatus.Valid() {
			return nil, fmt.Errorf("order %s: invalid payment status %q", o.ID, o.PaymentStatus)
		}
		return &o, nil
	case TableChats:
		var c SupportChat
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode support chat: %w", err)
		}
		if !c.Status.Valid() {
			return nil, fmt.Errorf("chat %s: invalid status %q", c.ID, c.Status)
		}
		return &c, nil
	case TableMessages:
		var m ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode chat message: %w", err)
		}
		if !m.SenderType.Valid() {
			return nil, fmt.Errorf("message %s: invalid sender type %q", m.ID, m.SenderType)
		}
		return &m, nil
	case TableCoupons:
		var c Coupon
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode coupon: %w", err)
		}
		return &c, nil
	case TableInvoices:
		var i Invoice
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		return &i, nil
	case TableFeedback:
		var f Feedback
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode feedback: %w", err)
		}
		return &f, nil
	case TablePayroll:
		var p PayrollEntry
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode payroll entry: %w", err)
		}
		return &p, nil
	}
	return nil, fmt.Errorf("unknown table %q", table)
}
