// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aakash-jangid0/dinesync/domain"
)

// Poller is the fallback delivery path for environments where the
// WebSocket feed cannot connect. It pulls the change log on a fixed
// interval and pushes events through the same rehydration pipeline as
// a live subscription, so callers see identical output either way.
// Last write wins: each tick applies changes in commit order and the
// fenced merge discards anything stale.
type Poller struct {
	client     *Client
	rehydrator *Rehydrator
	table      string
	handlers   Handlers
	interval   time.Duration

	lastSeq atomic.Int64
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Poll starts a polling fallback for one table (empty means all
// tables), resuming from the given change-log sequence.
func (c *Client) Poll(ctx context.Context, table string, after int64, rehydrator *Rehydrator, handlers Handlers) (*Poller, error) {
	if table != "" && !domain.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if rehydrator == nil {
		return nil, fmt.Errorf("rehydrator cannot be nil")
	}
	if handlers.OnRecord == nil {
		return nil, fmt.Errorf("handlers.OnRecord cannot be nil")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p := &Poller{
		client:     c,
		rehydrator: rehydrator,
		table:      table,
		handlers:   handlers,
		interval:   c.config.PollInterval,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	p.lastSeq.Store(after)

	go p.run(pollCtx)
	return p, nil
}

// Close stops the poller. Safe to call more than once.
func (p *Poller) Close() {
	p.once.Do(p.cancel)
	<-p.done
}

// LastSeq returns the newest change-log sequence applied so far.
func (p *Poller) LastSeq() int64 { return p.lastSeq.Load() }

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.handlers.status(StatusClosed)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First pull immediately so a fresh poller is not blind for a full
	// interval.
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick drains every change-log page newer than the cursor.
func (p *Poller) tick(ctx context.Context) {
	for {
		page, err := p.client.ListChanges(ctx, p.lastSeq.Load(), 200, p.table)
		if err != nil {
			if ctx.Err() == nil {
				p.handlers.error(err)
				p.client.logger.Warn("Change poll failed", "error", err, "last_seq", p.lastSeq.Load())
			}
			return
		}
		for _, ev := range page.Changes {
			if ev.Seq <= p.lastSeq.Load() {
				continue
			}
			p.apply(ctx, &ev)
			p.lastSeq.Store(ev.Seq)
		}
		if !page.HasMore {
			return
		}
	}
}

// Watcher re-fetches a single record on a fixed interval, for views
// that track one row (an order status screen) without a feed. Last
// write wins: each fetch goes through the rehydrator's fencing, so a
// stale response never replaces newer state.
type Watcher struct {
	client     *Client
	rehydrator *Rehydrator
	table, pk  string
	onRecord   func(rec domain.Record)
	onGone     func()
	interval   time.Duration

	// gone latches the missing state so onGone fires once per
	// disappearance, not on every tick. Touched only by the run loop.
	gone bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// WatchRecord polls one (table, pk) on the client's poll interval.
// onGone may be nil; it fires once when the record stops existing, and
// re-arms if the record reappears.
func (c *Client) WatchRecord(ctx context.Context, table, pk string, rehydrator *Rehydrator, onRecord func(rec domain.Record), onGone func()) (*Watcher, error) {
	if !domain.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if rehydrator == nil {
		return nil, fmt.Errorf("rehydrator cannot be nil")
	}
	if onRecord == nil {
		return nil, fmt.Errorf("onRecord cannot be nil")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		client:     c,
		rehydrator: rehydrator,
		table:      table,
		pk:         pk,
		onRecord:   onRecord,
		onGone:     onGone,
		interval:   c.config.PollInterval,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go w.run(watchCtx)
	return w, nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() {
	w.once.Do(w.cancel)
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.fetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.fetch(ctx)
		}
	}
}

func (w *Watcher) fetch(ctx context.Context) {
	rec, err := w.rehydrator.RehydrateKey(ctx, w.table, w.pk)
	switch {
	case err == nil:
		w.gone = false
		w.onRecord(rec)
	case errors.Is(err, ErrStaleFetch):
	case errors.Is(err, ErrRecordGone):
		if !w.gone {
			w.gone = true
			if w.onGone != nil {
				w.onGone()
			}
		}
	default:
		if ctx.Err() == nil {
			w.client.logger.Warn("Record watch fetch failed", "table", w.table, "pk", w.pk, "error", err)
		}
	}
}

func (p *Poller) apply(ctx context.Context, ev *domain.ChangeEvent) {
	if ev.Op == domain.OpDelete {
		p.rehydrator.Forget(ev.Table, ev.PK)
		if p.handlers.OnDelete != nil {
			p.handlers.OnDelete(*ev)
		}
		return
	}

	rec, err := p.rehydrator.Rehydrate(ctx, ev)
	switch {
	case err == nil:
		p.handlers.OnRecord(*ev, rec)
	case errors.Is(err, ErrStaleFetch):
	case errors.Is(err, ErrRecordGone):
		if p.handlers.OnDelete != nil {
			p.handlers.OnDelete(*ev)
		}
	default:
		p.handlers.error(fmt.Errorf("rehydration failed for %s/%s: %w", ev.Table, ev.PK, err))
	}
}
