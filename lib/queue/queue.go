// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue provides the agent's ingestion buffer: an unbounded,
// concurrency-safe FIFO that producers append to and the dispatcher
// drains in one atomic swap.
//
// The queue chooses availability over durability. It never refuses a
// Push and never blocks a producer beyond a slice append under a
// mutex, so if the collector is unreachable for a long time the
// buffer grows without bound. Loss happens downstream, when the
// dispatcher drops a batch it could not deliver, never here.
package queue

import (
	"sync"
	"sync/atomic"
)

// Queue is a FIFO of items. The zero value is an empty queue ready for
// use. All methods are safe for concurrent use. A nil *Queue discards
// pushes and always reads as empty, so callers holding an optional
// queue need no nil check.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T

	pushed  atomic.Uint64
	flushed atomic.Uint64
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends item. The critical section is the append alone.
func (q *Queue[T]) Push(item T) {
	if q == nil {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.pushed.Add(1)
}

// Flush removes and returns everything queued, in push order. A Push
// that completes before Flush takes the lock is in the result; one
// that starts after is left for the next Flush. An empty queue
// returns nil.
func (q *Queue[T]) Flush() []T {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	q.flushed.Add(uint64(len(items)))
	return items
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pushed returns the number of items ever pushed.
func (q *Queue[T]) Pushed() uint64 {
	if q == nil {
		return 0
	}
	return q.pushed.Load()
}

// Flushed returns the number of items ever returned by Flush.
func (q *Queue[T]) Flushed() uint64 {
	if q == nil {
		return 0
	}
	return q.flushed.Load()
}
