// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package pq provides a blocking, lock-protected priority queue shared
// by producers that must never block and consumers that wait for work.
package pq

import (
	"container/heap"
	"context"
	"sync"
)

// A Queue is a priority queue ordered by a caller-supplied less
// function. Put never blocks. Take blocks until an item is available
// or the context is done.
type Queue[T any] struct {
	mu     sync.Mutex
	items  items[T]
	signal chan struct{}
}

// New returns an empty queue which pops the item for which less
// reports true against every other item first.
func New[T any](less func(a, b T) bool) *Queue[T] {
	if less == nil {
		panic("httpq/pq: nil less function")
	}
	return &Queue[T]{
		items:  items[T]{less: less},
		signal: make(chan struct{}, 1),
	}
}

// Put inserts v into the queue and wakes one waiting consumer.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	heap.Push(&q.items, v)
	q.mu.Unlock()
	q.notify()
}

// Take removes and returns the highest-priority item, blocking until
// one is available. If ctx is done first, Take returns ctx.Err().
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	for {
		if v, ok := q.poll(); ok {
			return v, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Poll removes and returns the highest-priority item without blocking.
func (q *Queue[T]) Poll() (T, bool) {
	return q.poll()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items.s)
}

func (q *Queue[T]) poll() (v T, ok bool) {
	q.mu.Lock()
	n := len(q.items.s)
	if n > 0 {
		v = heap.Pop(&q.items).(T)
		ok = true
		n--
	}
	q.mu.Unlock()
	// The signal channel holds at most one token, so a consumer which
	// leaves items behind passes the wake-up on to the next waiter.
	if ok && n > 0 {
		q.notify()
	}
	return
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

type items[T any] struct {
	s    []T
	less func(a, b T) bool
}

func (h items[T]) Len() int           { return len(h.s) }
func (h items[T]) Less(i, j int) bool { return h.less(h.s[i], h.s[j]) }
func (h items[T]) Swap(i, j int)      { h.s[i], h.s[j] = h.s[j], h.s[i] }

func (h *items[T]) Push(x interface{}) {
	h.s = append(h.s, x.(T))
}

func (h *items[T]) Pop() interface{} {
	n := len(h.s) - 1
	v := h.s[n]
	var zero T
	h.s[n] = zero
	h.s = h.s[:n]
	return v
}
