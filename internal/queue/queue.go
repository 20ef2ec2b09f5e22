// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package queue provides a generic, bounded, blocking-and-non-blocking
// queue used for both the inbound (producer-facing) and outbound
// (worker-facing) queues described in spec.md §4.1 and §4.3.
//
// It is adapted from the teacher's internal/write.Queue, which wrapped
// container/list with a capacity limit but was only ever touched from a
// single goroutine under an external lock. This version adds its own
// locking and two condition variables so it is safe for genuine
// multi-producer/multi-consumer use, and supports context-cancellable
// blocking operations.
package queue

import (
	"container/list"
	"context"
	"sync"
)

// Queue is a bounded FIFO queue of T. The zero value is not usable; use
// New.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    *list.List
	limit    int
	closed   bool
}

// New creates a Queue with the given capacity. A non-positive limit
// means unbounded.
func New[T any](limit int) *Queue[T] {
	q := &Queue[T]{items: list.New(), limit: limit}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// TryPush attempts to enqueue v without blocking. It returns false if
// the queue is full or closed, with no side effect.
func (q *Queue[T]) TryPush(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.full() {
		return false
	}
	q.items.PushBack(v)
	q.notEmpty.Signal()
	return true
}

// Push enqueues v, blocking until space is available, the queue is
// closed, or ctx is done. It returns true iff v was enqueued.
func (q *Queue[T]) Push(ctx context.Context, v T) bool {
	if ctx.Err() != nil {
		return false
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.full() {
		if ctx.Err() != nil {
			return false
		}
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	q.items.PushBack(v)
	q.notEmpty.Signal()
	return true
}

// TryPop attempts to dequeue the oldest item without blocking. ok is
// false if the queue is empty.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el := q.items.Front()
	if el == nil {
		return v, false
	}
	q.items.Remove(el)
	q.notFull.Signal()
	return el.Value.(T), true
}

// Pop dequeues the oldest item, blocking until one is available, the
// queue is closed and drained, or ctx is done. ok is false if the queue
// was closed with nothing left to deliver, or ctx fired first.
func (q *Queue[T]) Pop(ctx context.Context) (v T, ok bool) {
	if ctx.Err() != nil {
		return v, false
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		if ctx.Err() != nil {
			return v, false
		}
		q.notEmpty.Wait()
	}
	el := q.items.Front()
	if el == nil {
		return v, false
	}
	q.items.Remove(el)
	q.notFull.Signal()
	return el.Value.(T), true
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close marks the queue closed, waking every blocked Push/Pop. Items
// already queued remain poppable until drained; Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) full() bool {
	return q.limit > 0 && q.items.Len() >= q.limit
}
