// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"github.com/aakash-jangid0/dinesync/domain"
)

// FetchRecord is the generic point lookup behind the rehydration
// endpoint: full record with one-hop relations, by table and primary
// key.
func (s *Store) FetchRecord(ctx context.Context, table, pk string) (domain.Record, error) {
	switch table {
	case domain.TableOrders:
		return s.GetOrder(ctx, pk)
	case domain.TableChats:
		return s.GetChat(ctx, pk)
	case domain.TableMessages:
		return s.GetMessage(ctx, pk)
	case domain.TableCoupons:
		return s.GetCoupon(ctx, pk)
	case domain.TableInvoices:
		return s.GetInvoice(ctx, pk)
	case domain.TableFeedback:
		return s.GetFeedback(ctx, pk)
	case domain.TablePayroll:
		return s.GetPayrollEntry(ctx, pk)
	}
	return nil, fmt.Errorf("unknown table %q", table)
}
