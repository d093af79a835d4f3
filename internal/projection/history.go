// Package projection keeps queryable read models built from engine events.
// Projections are eventually consistent and can be rebuilt from the event log.
package projection

import (
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 16

type record[T any] struct {
	seq uint64
	ord uint64 // insertion order, breaks ties within one call
	val T
}

func lessRecord[T any](a, b record[T]) bool {
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.ord < b.ord
}

// history is a bounded, sequence-ordered log. The oldest records are evicted
// once capacity is reached.
type history[T any] struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[record[T]]
	capacity int
	ord      uint64
}

func newHistory[T any](capacity int) *history[T] {
	return &history[T]{
		tree:     btree.NewG(btreeDegree, lessRecord[T]),
		capacity: capacity,
	}
}

func (h *history[T]) add(seq uint64, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ord++
	h.tree.ReplaceOrInsert(record[T]{seq: seq, ord: h.ord, val: v})
	for h.capacity > 0 && h.tree.Len() > h.capacity {
		h.tree.DeleteMin()
	}
}

// latest returns up to limit records, newest first.
func (h *history[T]) latest(limit int) []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, 0, min(limit, h.tree.Len()))
	h.tree.Descend(func(r record[T]) bool {
		if len(out) >= limit {
			return false
		}
		out = append(out, r.val)
		return true
	})
	return out
}

// since returns up to limit records with sequence >= seq, oldest first.
func (h *history[T]) since(seq uint64, limit int) []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, 0)
	h.tree.AscendGreaterOrEqual(record[T]{seq: seq}, func(r record[T]) bool {
		if len(out) >= limit {
			return false
		}
		out = append(out, r.val)
		return true
	})
	return out
}

func (h *history[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tree.Len()
}

func (h *history[T]) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tree.Clear(false)
}
