// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aakash-jangid0/dinesync/domain"
)

// Status is a transient connection state notification.
type Status int

const (
	StatusConnecting Status = iota
	StatusLive
	StatusReconnecting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Handlers receives the output of a subscription. OnRecord fires for
// inserts and updates after rehydration; OnDelete fires for deletes
// and for rows that vanished before their fetch landed. OnStatus and
// OnError are transient notifications and may be nil.
type Handlers struct {
	OnRecord func(ev domain.ChangeEvent, rec domain.Record)
	OnDelete func(ev domain.ChangeEvent)
	OnStatus func(status Status)
	OnError  func(err error)
}

func (h *Handlers) status(s Status) {
	if h.OnStatus != nil {
		h.OnStatus(s)
	}
}

func (h *Handlers) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Subscription is a live change-feed stream for a set of tables. It
// reconnects with exponential backoff, resuming from the last seen
// sequence so no committed change is missed. Close is idempotent and
// safe from any goroutine.
type Subscription struct {
	client     *Client
	rehydrator *Rehydrator
	tables     []string
	handlers   Handlers

	lastSeq atomic.Int64
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Subscribe opens a change-feed subscription. tables filters the feed
// (empty means all tables); after is the change-log sequence to resume
// from, typically the cursor persisted from a previous session. The
// handlers run on the subscription goroutine, so they must not block.
func (c *Client) Subscribe(ctx context.Context, tables []string, after int64, rehydrator *Rehydrator, handlers Handlers) (*Subscription, error) {
	for _, t := range tables {
		if !domain.KnownTable(t) {
			return nil, fmt.Errorf("unknown table %q", t)
		}
	}
	if rehydrator == nil {
		return nil, fmt.Errorf("rehydrator cannot be nil")
	}
	if handlers.OnRecord == nil {
		return nil, fmt.Errorf("handlers.OnRecord cannot be nil")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		client:     c,
		rehydrator: rehydrator,
		tables:     tables,
		handlers:   handlers,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	sub.lastSeq.Store(after)

	go sub.run(subCtx)
	return sub, nil
}

// Close stops the subscription. It is safe to call more than once and
// returns after the subscription goroutine has exited.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed when the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// LastSeq returns the newest change-log sequence applied so far.
// Persist it to resume a future subscription without gaps.
func (s *Subscription) LastSeq() int64 { return s.lastSeq.Load() }

// feedURL builds the WebSocket dial URL, resuming after the last
// applied sequence.
func (s *Subscription) feedURL(token string) (string, error) {
	u, err := url.Parse(s.client.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/v1/realtime/feed"

	q := url.Values{}
	if len(s.tables) > 0 {
		q.Set("tables", strings.Join(s.tables, ","))
	}
	q.Set("after", strconv.FormatInt(s.lastSeq.Load(), 10))
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.handlers.status(StatusClosed)

	backoff := s.client.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.handlers.status(StatusConnecting)
		delivered, err := s.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.handlers.error(err)
			s.client.logger.Warn("Feed connection lost", "error", err, "last_seq", s.lastSeq.Load())
		}

		if delivered {
			backoff = s.client.config.BackoffMin
		} else {
			backoff = backoff * 2
			if backoff > s.client.config.BackoffMax {
				backoff = s.client.config.BackoffMax
			}
		}
		s.handlers.status(StatusReconnecting)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// stream runs one WebSocket connection until it fails or the context
// is cancelled. It reports whether any event was delivered, which is
// what resets the reconnect backoff.
func (s *Subscription) stream(ctx context.Context) (bool, error) {
	token, err := s.client.Token(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get token: %w", err)
	}
	dialURL, err := s.feedURL(token)
	if err != nil {
		return false, err
	}

	conn, _, err := s.client.Dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed dial failed: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	dialDone := make(chan struct{})
	defer close(dialDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-dialDone:
		}
	}()

	s.handlers.status(StatusLive)

	delivered := false
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("feed read failed: %w", err)
		}
		ev, err := domain.DecodeChangeEvent(frame)
		if err != nil {
			// A malformed frame is a server bug, not a reason to drop
			// every event behind it.
			s.handlers.error(err)
			continue
		}
		if ev.Seq <= s.lastSeq.Load() {
			continue
		}
		s.apply(ctx, ev)
		s.lastSeq.Store(ev.Seq)
		delivered = true
	}
}

// apply runs the event through the rehydration pipeline and delivers
// it to the handlers.
func (s *Subscription) apply(ctx context.Context, ev *domain.ChangeEvent) {
	if ev.Op == domain.OpDelete {
		s.rehydrator.Forget(ev.Table, ev.PK)
		if s.handlers.OnDelete != nil {
			s.handlers.OnDelete(*ev)
		}
		return
	}

	rec, err := s.rehydrator.Rehydrate(ctx, ev)
	switch {
	case err == nil:
		s.handlers.OnRecord(*ev, rec)
	case errors.Is(err, ErrStaleFetch):
		// A newer event already carried fresher state.
	case errors.Is(err, ErrRecordGone):
		// Deleted between the event and the fetch; the delete event
		// will follow, but the caller should not render a ghost row.
		if s.handlers.OnDelete != nil {
			s.handlers.OnDelete(*ev)
		}
	default:
		s.handlers.error(fmt.Errorf("rehydration failed for %s/%s: %w", ev.Table, ev.PK, err))
	}
}
