// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aakash-jangid0/dinesync/domain"
)

// PendingState is the lifecycle of an optimistic write.
type PendingState int

const (
	// StateSynthesized means the placeholder is visible locally but the
	// write has not been dispatched yet.
	StateSynthesized PendingState = iota
	// StateInFlight means the write is on the wire.
	StateInFlight
	// StateConfirmed means the server accepted the write and the
	// placeholder was replaced by the canonical record.
	StateConfirmed
	// StateFailed means the send failed. The placeholder stays visible
	// and the write can be retried or discarded.
	StateFailed
)

func (s PendingState) String() string {
	switch s {
	case StateSynthesized:
		return "synthesized"
	case StateInFlight:
		return "in_flight"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// tempIDPrefix marks locally synthesized record ids. The server never
// issues ids with this shape.
const tempIDPrefix = "temp-"

// IsTempID reports whether id was synthesized locally.
func IsTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}

// SendFunc dispatches the staged write and returns the canonical
// record the server created.
type SendFunc[T domain.Record] func(ctx context.Context) (T, error)

// Reconciler manages optimistic writes against one collection: it
// inserts a synthesized placeholder immediately, dispatches the real
// write, and on confirmation replaces the placeholder in place with
// the server's canonical record. Failed writes keep their placeholder
// and stay retryable.
type Reconciler[T domain.Record] struct {
	coll   *Collection[T]
	logger *slog.Logger

	counter atomic.Int64

	mu      sync.Mutex
	pending map[string]*Pending[T]
}

// NewReconciler creates a reconciler over the given collection.
func NewReconciler[T domain.Record](coll *Collection[T], logger *slog.Logger) *Reconciler[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler[T]{
		coll:    coll,
		logger:  logger,
		pending: make(map[string]*Pending[T]),
	}
}

// TempID returns a fresh placeholder id, unique within this process.
func (r *Reconciler[T]) TempID() string {
	return tempIDPrefix + strconv.FormatInt(r.counter.Add(1), 10)
}

// Pending is one staged optimistic write.
type Pending[T domain.Record] struct {
	r           *Reconciler[T]
	tempID      string
	placeholder T
	send        SendFunc[T]

	mu      sync.Mutex
	state   PendingState
	lastErr error
}

// Stage inserts the placeholder into the collection and registers the
// write. The placeholder's id must come from TempID, so confirmation
// can find and replace it.
func (r *Reconciler[T]) Stage(placeholder T, send SendFunc[T]) (*Pending[T], error) {
	if !IsTempID(placeholder.RecordID()) {
		return nil, fmt.Errorf("placeholder id %q is not a temp id", placeholder.RecordID())
	}
	if send == nil {
		return nil, fmt.Errorf("send func cannot be nil")
	}

	p := &Pending[T]{
		r:           r,
		tempID:      placeholder.RecordID(),
		placeholder: placeholder,
		send:        send,
		state:       StateSynthesized,
	}

	r.mu.Lock()
	if _, exists := r.pending[p.tempID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("placeholder %s is already staged", p.tempID)
	}
	r.pending[p.tempID] = p
	r.mu.Unlock()

	r.coll.Upsert(placeholder)
	return p, nil
}

// TempID returns the placeholder id of this write.
func (p *Pending[T]) TempID() string { return p.tempID }

// State returns the current lifecycle state.
func (p *Pending[T]) State() PendingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error from the last failed send, if any.
func (p *Pending[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Send dispatches the write. On success the placeholder is replaced in
// the collection by the server record; on failure the placeholder
// stays and Send may be called again. Calling Send on a confirmed or
// already in-flight write is an error.
func (p *Pending[T]) Send(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateConfirmed:
		p.mu.Unlock()
		return fmt.Errorf("write %s is already confirmed", p.tempID)
	case StateInFlight:
		p.mu.Unlock()
		return fmt.Errorf("write %s is already in flight", p.tempID)
	}
	p.state = StateInFlight
	p.mu.Unlock()

	rec, err := p.send(ctx)
	if err != nil {
		p.mu.Lock()
		p.state = StateFailed
		p.lastErr = err
		p.mu.Unlock()
		p.r.logger.Warn("Optimistic write failed", "temp_id", p.tempID, "error", err)
		return err
	}

	p.mu.Lock()
	p.state = StateConfirmed
	p.lastErr = nil
	p.mu.Unlock()

	p.r.confirm(p.tempID, rec)
	return nil
}

// Discard drops an unconfirmed write and removes its placeholder from
// the collection.
func (p *Pending[T]) Discard() {
	p.mu.Lock()
	if p.state == StateConfirmed {
		p.mu.Unlock()
		return
	}
	p.state = StateFailed
	p.mu.Unlock()

	p.r.mu.Lock()
	delete(p.r.pending, p.tempID)
	p.r.mu.Unlock()
	p.r.coll.Remove(p.tempID)
}

// confirm swaps the placeholder for the canonical record. If a feed
// event already delivered the record, Replace drops the placeholder
// and the fenced upsert keeps the newest version, so the row never
// appears twice.
func (r *Reconciler[T]) confirm(tempID string, rec T) {
	r.mu.Lock()
	delete(r.pending, tempID)
	r.mu.Unlock()

	r.coll.Replace(tempID, rec)
	r.logger.Debug("Optimistic write confirmed", "temp_id", tempID, "id", rec.RecordID())
}

// Unconfirmed returns the writes that have not been confirmed, in no
// particular order. Failed entries in the result are retryable.
func (r *Reconciler[T]) Unconfirmed() []*Pending[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pending[T], 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	return out
}
