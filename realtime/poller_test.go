// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aakash-jangid0/dinesync/domain"
)

// changeLogServer serves a fixed change log plus point lookups, the
// way the polling fallback sees the real server.
type changeLogServer struct {
	records recordServer
	mu      sync.Mutex
	log     []domain.ChangeEvent
	polls   int
}

func (s *changeLogServer) append(evs ...domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, evs...)
}

func (s *changeLogServer) roundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasPrefix(req.URL.Path, "/api/v1/records/") {
		return s.records.roundTrip(req)
	}

	after, _ := strconv.ParseInt(req.URL.Query().Get("after"), 10, 64)
	const pageSize = 2 // small pages force the poller to follow has_more

	s.mu.Lock()
	s.polls++
	var page ChangePage
	page.NextAfter = after
	for _, ev := range s.log {
		if ev.Seq <= after {
			continue
		}
		if len(page.Changes) == pageSize {
			page.HasMore = true
			break
		}
		page.Changes = append(page.Changes, ev)
		page.NextAfter = ev.Seq
	}
	s.mu.Unlock()

	return jsonResponse(http.StatusOK, &page)
}

func TestPollerAppliesChangeLogInOrder(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := &changeLogServer{}
	srv.append(
		event(1, domain.TableOrders, domain.OpInsert, "o1", at),
		event(2, domain.TableOrders, domain.OpInsert, "o2", at),
		event(3, domain.TableOrders, domain.OpUpdate, "o1", at.Add(time.Minute)),
	)
	srv.records.set(domain.TableOrders, "o1", makeOrder("o1", at, at.Add(time.Minute)))
	srv.records.set(domain.TableOrders, "o2", makeOrder("o2", at, at))

	client := newFakeClient(t, srv.roundTrip)
	rehydrator := NewRehydrator(client, testLogger())
	rc := &recorder{}
	p, err := client.Poll(context.Background(), domain.TableOrders, 0, rehydrator, rc.handlers())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	defer p.Close()

	// Seq 3's fetch raises the fence over seq 1's, so at least o2 and
	// the newest o1 state must land; the cursor must drain all pages.
	waitFor(t, time.Second, func() bool { return p.LastSeq() == 3 }, "cursor did not reach the log head")
	if rc.recordCount() < 2 {
		t.Fatalf("expected at least 2 rehydrated records, got %d", rc.recordCount())
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	lastSeq := int64(0)
	for _, ev := range rc.records {
		if ev.Seq <= lastSeq {
			t.Fatalf("events applied out of order: %+v", rc.records)
		}
		lastSeq = ev.Seq
	}
}

func TestPollerPicksUpNewChangesOnNextTick(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := &changeLogServer{}
	srv.records.set(domain.TableOrders, "o1", makeOrder("o1", at, at))

	client := newFakeClient(t, srv.roundTrip)
	rehydrator := NewRehydrator(client, testLogger())
	rc := &recorder{}
	p, err := client.Poll(context.Background(), "", 0, rehydrator, rc.handlers())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	defer p.Close()

	// Nothing yet; the log fills after the first tick.
	waitFor(t, time.Second, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.polls >= 1
	}, "poller never polled")

	srv.append(event(1, domain.TableOrders, domain.OpInsert, "o1", at))
	waitFor(t, time.Second, func() bool { return rc.recordCount() == 1 }, "new change not picked up")
	if p.LastSeq() != 1 {
		t.Fatalf("LastSeq = %d, want 1", p.LastSeq())
	}
}

func TestPollerDeliversDeletes(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := &changeLogServer{}
	srv.append(event(1, domain.TableCoupons, domain.OpDelete, "c1", at))

	client := newFakeClient(t, srv.roundTrip)
	rehydrator := NewRehydrator(client, testLogger())
	rc := &recorder{}
	p, err := client.Poll(context.Background(), domain.TableCoupons, 0, rehydrator, rc.handlers())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	defer p.Close()

	waitFor(t, time.Second, func() bool { return rc.deleteCount() == 1 }, "delete not delivered")
	if rc.recordCount() != 0 {
		t.Fatal("delete must not trigger rehydration")
	}
}

func TestWatcherTracksSingleRecord(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := &changeLogServer{}
	srv.records.set(domain.TableOrders, "o1", makeOrder("o1", at, at))

	client := newFakeClient(t, srv.roundTrip)
	rehydrator := NewRehydrator(client, testLogger())

	var mu sync.Mutex
	var seen []domain.OrderStatus
	gone := false
	w, err := client.WatchRecord(context.Background(), domain.TableOrders, "o1", rehydrator,
		func(rec domain.Record) {
			mu.Lock()
			seen = append(seen, rec.(*domain.Order).Status)
			mu.Unlock()
		},
		func() {
			mu.Lock()
			gone = true
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("WatchRecord failed: %v", err)
	}
	defer w.Close()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1
	}, "initial fetch never landed")

	// The order progresses; the next tick must pick it up.
	updated := makeOrder("o1", at, at.Add(time.Minute))
	updated.Status = domain.OrderConfirmed
	srv.records.set(domain.TableOrders, "o1", updated)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == domain.OrderConfirmed
	}, "status change not observed")

	// The order disappears.
	srv.records.mu.Lock()
	delete(srv.records.records, domain.TableOrders+"/o1")
	srv.records.mu.Unlock()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gone
	}, "gone callback never fired")
}

func TestWatcherReportsGoneOnce(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := &changeLogServer{}
	srv.records.set(domain.TableOrders, "o1", makeOrder("o1", at, at))

	client := newFakeClient(t, srv.roundTrip)
	rehydrator := NewRehydrator(client, testLogger())

	var mu sync.Mutex
	seen := 0
	goneCalls := 0
	w, err := client.WatchRecord(context.Background(), domain.TableOrders, "o1", rehydrator,
		func(rec domain.Record) {
			mu.Lock()
			seen++
			mu.Unlock()
		},
		func() {
			mu.Lock()
			goneCalls++
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("WatchRecord failed: %v", err)
	}
	defer w.Close()

	srv.records.mu.Lock()
	delete(srv.records.records, domain.TableOrders+"/o1")
	srv.records.mu.Unlock()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return goneCalls >= 1
	}, "gone callback never fired")

	// Further ticks with the record still missing must not refire.
	fetchesNow := func() int {
		srv.records.mu.Lock()
		defer srv.records.mu.Unlock()
		return srv.records.fetches
	}
	base := fetchesNow()
	waitFor(t, time.Second, func() bool { return fetchesNow() >= base+3 }, "watcher stopped ticking")
	mu.Lock()
	if goneCalls != 1 {
		mu.Unlock()
		t.Fatalf("gone fired %d times while missing, want 1", goneCalls)
	}
	mu.Unlock()

	// Reappearing re-arms the latch.
	mu.Lock()
	seenBefore := seen
	mu.Unlock()
	srv.records.set(domain.TableOrders, "o1", makeOrder("o1", at, at.Add(time.Minute)))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen > seenBefore
	}, "reappeared record never observed")

	srv.records.mu.Lock()
	delete(srv.records.records, domain.TableOrders+"/o1")
	srv.records.mu.Unlock()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return goneCalls == 2
	}, "gone callback did not re-arm after reappearance")
}

func TestPollerCloseIsIdempotent(t *testing.T) {
	srv := &changeLogServer{}
	client := newFakeClient(t, srv.roundTrip)
	rehydrator := NewRehydrator(client, testLogger())
	p, err := client.Poll(context.Background(), "", 0, rehydrator, Handlers{
		OnRecord: func(ev domain.ChangeEvent, rec domain.Record) {},
	})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	p.Close()
	p.Close()
}
