// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"sort"
	"sync"

	"github.com/aakash-jangid0/dinesync/domain"
)

// SortOrder controls how a collection orders its records.
type SortOrder int

const (
	// Asc orders oldest first by record time.
	Asc SortOrder = iota
	// Desc orders newest first by record time.
	Desc
)

// Collection is an ordered, id-keyed set of records. Merging is
// idempotent: applying the same record twice, or an older version of
// an already-held record, leaves the collection unchanged. Ties on
// record time break by id so ordering is deterministic.
type Collection[T domain.Record] struct {
	mu    sync.RWMutex
	order SortOrder
	items []T
	index map[string]int
}

// NewCollection creates an empty collection with the given order.
func NewCollection[T domain.Record](order SortOrder) *Collection[T] {
	return &Collection[T]{
		order: order,
		index: make(map[string]int),
	}
}

// less reports whether a sorts before b under the collection order.
func (c *Collection[T]) less(a, b T) bool {
	at, bt := a.RecordTime(), b.RecordTime()
	if !at.Equal(bt) {
		if c.order == Asc {
			return at.Before(bt)
		}
		return at.After(bt)
	}
	if c.order == Asc {
		return a.RecordID() < b.RecordID()
	}
	return a.RecordID() > b.RecordID()
}

// insertAt finds the sorted position for rec. Caller holds the lock.
func (c *Collection[T]) insertAt(rec T) {
	pos := sort.Search(len(c.items), func(i int) bool {
		return c.less(rec, c.items[i])
	})
	c.items = append(c.items, rec)
	copy(c.items[pos+1:], c.items[pos:])
	c.items[pos] = rec
	for i := pos; i < len(c.items); i++ {
		c.index[c.items[i].RecordID()] = i
	}
}

// removeAt removes the record at position pos. Caller holds the lock.
func (c *Collection[T]) removeAt(pos int) {
	delete(c.index, c.items[pos].RecordID())
	c.items = append(c.items[:pos], c.items[pos+1:]...)
	for i := pos; i < len(c.items); i++ {
		c.index[c.items[i].RecordID()] = i
	}
}

// Upsert merges rec into the collection and reports whether it changed
// anything. A record older than the held version of the same id is
// dropped, which makes replayed or out-of-order merges harmless.
func (c *Collection[T]) Upsert(rec T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeLocked(rec)
}

// Update merges rec only when the collection already holds its id. An
// update for a record that was never loaded is a no-op, so partial
// views do not grow rows the caller never asked for.
func (c *Collection[T]) Update(rec T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[rec.RecordID()]; !ok {
		return false
	}
	return c.mergeLocked(rec)
}

func (c *Collection[T]) mergeLocked(rec T) bool {
	if pos, ok := c.index[rec.RecordID()]; ok {
		held := c.items[pos]
		if rec.RecordUpdatedAt().Before(held.RecordUpdatedAt()) {
			return false
		}
		if rec.RecordUpdatedAt().Equal(held.RecordUpdatedAt()) && rec.RecordTime().Equal(held.RecordTime()) {
			// Same version; replace in place to pick up any richer
			// payload, but report no change.
			c.items[pos] = rec
			return false
		}
		c.removeAt(pos)
	}
	c.insertAt(rec)
	return true
}

// Remove deletes the record with the given id and reports whether it
// was present. Removing an absent id is a no-op.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.index[id]
	if !ok {
		return false
	}
	c.removeAt(pos)
	return true
}

// Replace swaps the record held under oldID for rec, preserving merge
// fencing on the new id. When a record with rec's id already exists
// the old entry is simply dropped, which suppresses duplicates when a
// feed event lands before an optimistic confirmation.
func (c *Collection[T]) Replace(oldID string, rec T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pos, ok := c.index[oldID]; ok && oldID != rec.RecordID() {
		c.removeAt(pos)
	}
	if pos, ok := c.index[rec.RecordID()]; ok {
		held := c.items[pos]
		if rec.RecordUpdatedAt().Before(held.RecordUpdatedAt()) {
			return
		}
		c.removeAt(pos)
	}
	c.insertAt(rec)
}

// Get returns the record with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.items[pos], true
}

// Contains reports whether the collection holds the given id.
func (c *Collection[T]) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// Len returns the number of records held.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Snapshot returns the records in collection order.
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// IDs returns the record ids in collection order.
func (c *Collection[T]) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.items))
	for i, rec := range c.items {
		out[i] = rec.RecordID()
	}
	return out
}
