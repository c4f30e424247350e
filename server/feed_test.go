// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aakash-jangid0/dinesync/domain"
	"github.com/aakash-jangid0/dinesync/store"
)

func testHub(sendBuffer int) *FeedHub {
	return NewFeedHub(nil, nil, time.Second, sendBuffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func makeEvent(seq int64, table string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Seq: seq, Table: table, Op: domain.OpUpdate, PK: "pk", UpdatedAt: time.Now(),
	}
}

func TestFeedSubscriberTableFilter(t *testing.T) {
	all := &feedSubscriber{tables: map[string]bool{}}
	if !all.wants(domain.TableOrders) || !all.wants(domain.TableCoupons) {
		t.Fatal("empty filter should accept every table")
	}

	filtered := &feedSubscriber{tables: map[string]bool{domain.TableOrders: true}}
	if !filtered.wants(domain.TableOrders) {
		t.Fatal("filter should accept its own table")
	}
	if filtered.wants(domain.TableCoupons) {
		t.Fatal("filter should reject other tables")
	}
}

func TestFeedHubDeliversToMatchingSubscribers(t *testing.T) {
	hub := testHub(4)

	orders := &feedSubscriber{
		tables: map[string]bool{domain.TableOrders: true},
		send:   make(chan domain.ChangeEvent, 4),
		closed: make(chan struct{}),
	}
	coupons := &feedSubscriber{
		tables: map[string]bool{domain.TableCoupons: true},
		send:   make(chan domain.ChangeEvent, 4),
		closed: make(chan struct{}),
	}
	hub.register(orders)
	hub.register(coupons)

	hub.OnChange(makeEvent(1, domain.TableOrders))

	select {
	case ev := <-orders.send:
		if ev.Seq != 1 {
			t.Fatalf("seq = %d, want 1", ev.Seq)
		}
	default:
		t.Fatal("matching subscriber did not receive the event")
	}
	select {
	case <-coupons.send:
		t.Fatal("filtered subscriber received a foreign event")
	default:
	}
}

func TestFeedHubDropsSlowSubscriber(t *testing.T) {
	hub := testHub(1)

	slow := &feedSubscriber{
		tables: map[string]bool{},
		send:   make(chan domain.ChangeEvent, 1),
		closed: make(chan struct{}),
	}
	hub.register(slow)

	// First event fills the buffer; the second overflows it and must
	// disconnect the subscriber instead of blocking the commit path.
	hub.OnChange(makeEvent(1, domain.TableOrders))
	hub.OnChange(makeEvent(2, domain.TableOrders))

	select {
	case <-slow.closed:
	default:
		t.Fatal("slow subscriber was not disconnected")
	}
}

func TestFeedSubscriberCloseIsIdempotent(t *testing.T) {
	sub := &feedSubscriber{closed: make(chan struct{})}
	sub.close()
	sub.close()
	select {
	case <-sub.closed:
	default:
		t.Fatal("closed channel should be closed")
	}
}

// catchupSource pages a scripted change log the way the store does:
// NextAfter advances to the last row read, wanted or not.
type catchupSource struct {
	mu    sync.Mutex
	log   []domain.ChangeEvent
	calls int
}

func (s *catchupSource) ListChanges(ctx context.Context, after int64, limit int, tableFilter string) (*store.ChangePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	page := &store.ChangePage{NextAfter: after}
	for _, ev := range s.log {
		if ev.Seq <= after {
			continue
		}
		if tableFilter != "" && ev.Table != tableFilter {
			continue
		}
		if len(page.Changes) == limit {
			page.HasMore = true
			break
		}
		page.Changes = append(page.Changes, ev)
		page.NextAfter = ev.Seq
	}
	return page, nil
}

func (s *catchupSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestFeedCatchUpPagesPastFilteredTables(t *testing.T) {
	// A multi-table subscriber must page past hundreds of consecutive
	// changes on tables it did not ask for before reaching its own.
	src := &catchupSource{}
	for i := int64(1); i <= 450; i++ {
		src.log = append(src.log, domain.ChangeEvent{
			Seq: i, Table: domain.TableOrders, Op: domain.OpUpdate, PK: "pk", UpdatedAt: time.Now(),
		})
	}
	src.log = append(src.log, domain.ChangeEvent{
		Seq: 451, Table: domain.TableChats, Op: domain.OpInsert, PK: "c1", UpdatedAt: time.Now(),
	})

	hub := NewFeedHub(src, nil, time.Second, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/feed", hub.ServeWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	dialURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/feed?tables=" + domain.TableChats + "," + domain.TableMessages
	conn, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.ChangeEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("catch-up never delivered the wanted event: %v", err)
	}
	if ev.Seq != 451 || ev.Table != domain.TableChats {
		t.Fatalf("unexpected catch-up event: %+v", ev)
	}

	// 451 changes at 200 per page is three log reads.
	if calls := src.callCount(); calls > 4 {
		t.Fatalf("catch-up issued %d log reads, want at most 4", calls)
	}

	// The subscription is live after catch-up.
	hub.OnChange(makeEvent(452, domain.TableMessages))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("live event not delivered after catch-up: %v", err)
	}
	if ev.Seq != 452 || ev.Table != domain.TableMessages {
		t.Fatalf("unexpected live event: %+v", ev)
	}
}

func TestFeedHubUnregisterStopsDelivery(t *testing.T) {
	hub := testHub(4)
	sub := &feedSubscriber{
		tables: map[string]bool{},
		send:   make(chan domain.ChangeEvent, 4),
		closed: make(chan struct{}),
	}
	hub.register(sub)
	hub.unregister(sub)

	hub.OnChange(makeEvent(1, domain.TableOrders))
	select {
	case <-sub.send:
		t.Fatal("unregistered subscriber received an event")
	default:
	}
}
