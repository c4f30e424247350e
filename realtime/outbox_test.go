// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	ob, err := OpenOutbox(filepath.Join(t.TempDir(), "outbox.db"), testLogger())
	if err != nil {
		t.Fatalf("OpenOutbox failed: %v", err)
	}
	t.Cleanup(func() { ob.Close() })
	return ob
}

// deliveryLog records requests the fake server accepted, in order.
type deliveryLog struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]int // path -> status to return
}

func (d *deliveryLog) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		status, failing := d.fail[r.URL.Path]
		if !failing {
			d.paths = append(d.paths, r.URL.Path)
		}
		d.mu.Unlock()
		if failing {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"rejected","message":"rejected"}`))
			return
		}
		w.Write([]byte(`{}`))
	}
}

func (d *deliveryLog) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out
}

func newOutboxClient(t *testing.T, d *deliveryLog) *Client {
	t.Helper()
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, staticToken("tok"), fastConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestOutboxDrainsOldestFirst(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox(t)
	d := &deliveryLog{}
	client := newOutboxClient(t, d)

	for _, path := range []string{"/api/v1/orders", "/api/v1/chats/c1/messages", "/api/v1/chats/c1/read"} {
		if _, err := ob.Enqueue(ctx, http.MethodPost, path, json.RawMessage(`{"x":1}`)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	n, err := ob.Drain(ctx, client, 100)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("delivered %d requests, want 3", n)
	}

	got := d.delivered()
	want := []string{"/api/v1/orders", "/api/v1/chats/c1/messages", "/api/v1/chats/c1/read"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", got, want)
		}
	}

	if count, _ := ob.PendingCount(ctx); count != 0 {
		t.Fatalf("expected empty outbox, %d left", count)
	}
}

func TestOutboxTransientFailureStopsDrain(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox(t)
	d := &deliveryLog{fail: map[string]int{"/api/v1/orders": http.StatusInternalServerError}}
	client := newOutboxClient(t, d)

	ob.Enqueue(ctx, http.MethodPost, "/api/v1/orders", json.RawMessage(`{}`))
	ob.Enqueue(ctx, http.MethodPost, "/api/v1/feedback", json.RawMessage(`{}`))

	n, err := ob.Drain(ctx, client, 100)
	if err == nil {
		t.Fatal("expected drain error")
	}
	if n != 0 {
		t.Fatalf("delivered %d requests past a failure, want 0", n)
	}
	// Order preserved: the later write must not jump the queue.
	if len(d.delivered()) != 0 {
		t.Fatalf("later request delivered out of order: %v", d.delivered())
	}
	if count, _ := ob.PendingCount(ctx); count != 2 {
		t.Fatalf("expected 2 queued requests, got %d", count)
	}

	// The server recovers; the next drain flushes everything.
	d.mu.Lock()
	delete(d.fail, "/api/v1/orders")
	d.mu.Unlock()

	n, err = ob.Drain(ctx, client, 100)
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("delivered %d requests after recovery, want 2", n)
	}
}

func TestOutboxDropsPermanentRejections(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox(t)
	d := &deliveryLog{fail: map[string]int{"/api/v1/coupons/redeem": http.StatusConflict}}
	client := newOutboxClient(t, d)

	ob.Enqueue(ctx, http.MethodPost, "/api/v1/coupons/redeem", json.RawMessage(`{"code":"X"}`))
	ob.Enqueue(ctx, http.MethodPost, "/api/v1/feedback", json.RawMessage(`{"rating":5}`))

	n, err := ob.Drain(ctx, client, 100)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered %d requests, want 1", n)
	}
	if count, _ := ob.PendingCount(ctx); count != 0 {
		t.Fatalf("rejected request should be dropped, %d left", count)
	}
}

func TestOutboxRejectsUnqueueableMethods(t *testing.T) {
	ob := newTestOutbox(t)
	if _, err := ob.Enqueue(context.Background(), http.MethodGet, "/api/v1/orders", nil); err == nil {
		t.Fatal("GET must not be queueable")
	}
}

func TestOutboxPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")

	ob, err := OpenOutbox(path, testLogger())
	if err != nil {
		t.Fatalf("OpenOutbox failed: %v", err)
	}
	if _, err := ob.Enqueue(ctx, http.MethodPost, "/api/v1/orders", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ob.Close()

	reopened, err := OpenOutbox(path, testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if count, _ := reopened.PendingCount(ctx); count != 1 {
		t.Fatalf("queued write lost across reopen: count = %d", count)
	}
}
