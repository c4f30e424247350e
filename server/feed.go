// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aakash-jangid0/dinesync/domain"
	"github.com/aakash-jangid0/dinesync/store"
)

const feedPingInterval = 30 * time.Second

// changeSource is the slice of the store the hub needs for catch-up.
type changeSource interface {
	ListChanges(ctx context.Context, after int64, limit int, tableFilter string) (*store.ChangePage, error)
}

// FeedHub fans committed change events out to WebSocket subscribers.
// It implements store.ChangeListener; the store invokes OnChange after
// every commit, in commit order.
type FeedHub struct {
	store        changeSource
	logger       *slog.Logger
	metrics      *Metrics
	writeTimeout time.Duration
	sendBuffer   int
	upgrader     websocket.Upgrader

	mu   sync.RWMutex
	subs map[*feedSubscriber]struct{}
}

type feedSubscriber struct {
	tables map[string]bool // empty = all tables
	send   chan domain.ChangeEvent
	closed chan struct{}
	once   sync.Once
}

func (s *feedSubscriber) wants(table string) bool {
	return len(s.tables) == 0 || s.tables[table]
}

func (s *feedSubscriber) close() {
	s.once.Do(func() { close(s.closed) })
}

// NewFeedHub creates a hub over the given store.
func NewFeedHub(st changeSource, metrics *Metrics, writeTimeout time.Duration, sendBuffer int, logger *slog.Logger) *FeedHub {
	if logger == nil {
		logger = slog.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &FeedHub{
		store:        st,
		logger:       logger,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		sendBuffer:   sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API authenticates with bearer tokens, not cookies,
			// so cross-origin upgrades carry no ambient credentials.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[*feedSubscriber]struct{}),
	}
}

// OnChange implements store.ChangeListener. A subscriber whose buffer
// is full is disconnected rather than allowed to stall the commit
// path; it will catch up from the change log on reconnect.
func (h *FeedHub) OnChange(ev domain.ChangeEvent) {
	if h.metrics != nil {
		h.metrics.feedEvents.WithLabelValues(ev.Table, ev.Op).Inc()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(ev.Table) {
			continue
		}
		select {
		case sub.send <- ev:
		default:
			h.logger.Warn("Dropping slow feed subscriber", "buffered", len(sub.send))
			if h.metrics != nil {
				h.metrics.feedDropped.Inc()
			}
			sub.close()
		}
	}
}

func (h *FeedHub) register(sub *feedSubscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.feedSubscribers.Inc()
	}
}

func (h *FeedHub) unregister(sub *feedSubscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.feedSubscribers.Dec()
	}
}

// ServeWS upgrades the request and streams change events. Query
// parameters: tables (comma-separated filter, empty = all) and after
// (change-log sequence to catch up from before going live).
func (h *FeedHub) ServeWS(c *gin.Context) {
	tables := make(map[string]bool)
	if raw := c.Query("tables"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if !domain.KnownTable(t) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unknown table " + t})
				return
			}
			tables[t] = true
		}
	}

	after := int64(0)
	if rawAfter := c.Query("after"); rawAfter != "" {
		v, err := strconv.ParseInt(rawAfter, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "after must be a non-negative integer"})
			return
		}
		after = v
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sub := &feedSubscriber{
		tables: tables,
		send:   make(chan domain.ChangeEvent, h.sendBuffer),
		closed: make(chan struct{}),
	}
	// Register before catch-up so no commit falls between the log read
	// and going live; the writer suppresses duplicates by sequence.
	h.register(sub)
	defer func() {
		h.unregister(sub)
		sub.close()
		conn.Close()
	}()

	// Reader only detects close; clients never send data frames.
	go func() {
		defer sub.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastSeq := after
	writeEvent := func(ev domain.ChangeEvent) error {
		if ev.Seq <= lastSeq {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			return err
		}
		lastSeq = ev.Seq
		return nil
	}

	// Catch-up from the change log. The paging cursor follows
	// NextAfter, not lastSeq: a page full of filtered-out tables must
	// still advance the cursor or the loop would re-read it forever.
	tableFilter := ""
	if len(tables) == 1 {
		for t := range tables {
			tableFilter = t
		}
	}
	cursor := after
	for {
		page, err := h.store.ListChanges(c.Request.Context(), cursor, 200, tableFilter)
		if err != nil {
			h.logger.Error("Feed catch-up failed", "error", err)
			return
		}
		for _, ev := range page.Changes {
			if !sub.wants(ev.Table) {
				continue
			}
			if err := writeEvent(ev); err != nil {
				return
			}
		}
		cursor = page.NextAfter
		if !page.HasMore {
			break
		}
	}

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()
	for {
		select {
		case ev := <-sub.send:
			if err := writeEvent(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
