// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package assembler implements the single-consumer batch assembler of
// spec.md §4.2, generalized from the teacher's bufferProc/flushBuffer/
// resetFlushTimer in api/write.go: there the buffer was a []string of
// line-protocol lines flushed on a FlushInterval timer that ran
// continuously; here the buffer is a []strategy.Event and the linger
// timer is armed only once the first event of a new batch arrives, so an
// idle Channel consumes no timer churn.
package assembler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/batchkit/ingestchannel/internal/clock"
	"github.com/batchkit/ingestchannel/internal/diag"
	"github.com/batchkit/ingestchannel/internal/log"
	"github.com/batchkit/ingestchannel/internal/queue"
	"github.com/batchkit/ingestchannel/strategy"
)

// Assembler is the single logical consumer of the inbound queue. It
// emits batches of up to BatchSize events, or after LingerDuration
// elapses with at least one event buffered, onto the outbound queue.
type Assembler struct {
	inbound  *queue.Queue[strategy.Event]
	outbound *queue.Queue[*strategy.Batch]
	clk      clock.Clock
	counters *diag.Counters

	batchSize int
	linger    time.Duration

	nextBatchID atomic.Uint64
	onPublish   func(*strategy.Batch)

	done chan struct{}
}

// New creates an Assembler. onPublish, if non-nil, is invoked
// synchronously every time a batch is pushed onto outbound (used by the
// Channel to dispatch Listener.OnBatchPublished outside the assembler's
// own package).
func New(inbound *queue.Queue[strategy.Event], outbound *queue.Queue[*strategy.Batch], clk clock.Clock, counters *diag.Counters, batchSize int, linger time.Duration, onPublish func(*strategy.Batch)) *Assembler {
	return &Assembler{
		inbound:   inbound,
		outbound:  outbound,
		clk:       clk,
		counters:  counters,
		batchSize: batchSize,
		linger:    linger,
		onPublish: onPublish,
		done:      make(chan struct{}),
	}
}

// Done is closed once Run returns.
func (a *Assembler) Done() <-chan struct{} { return a.done }

// Run is the assembler's main loop. It returns once the inbound queue is
// closed and fully drained, after emitting any final partial batch and
// closing outbound.
//
// A background goroutine forwards inbound.Pop results onto a plain Go
// channel so the batch-collection loop below can select between "next
// event" and "linger timer fired" without polling. The forwarder uses
// context.Background() for Pop, not a cancellable context: draining on
// shutdown is driven by closing the inbound queue (spec.md §4.5), not by
// context cancellation, so no event is ever dropped between the queue
// and this loop.
func (a *Assembler) Run() {
	defer close(a.done)
	defer a.outbound.Close()

	items := make(chan strategy.Event)
	inboundDone := make(chan struct{})
	go func() {
		defer close(inboundDone)
		for {
			v, ok := a.inbound.Pop(context.Background())
			if !ok {
				return
			}
			items <- v
		}
	}()

	log.Log.Debug("assembler: started")
	for {
		buf, more := a.collectBatch(items, inboundDone)
		if len(buf) > 0 {
			a.publish(buf)
		}
		if !more {
			log.Log.Debug("assembler: inbound closed, exiting")
			return
		}
	}
}

// collectBatch waits for at least one event, then greedily drains
// further events until either BatchSize is reached or the linger timer
// fires (spec.md §4.2 steps 1-3). more is false, with an empty buf, once
// the inbound queue has been closed and drained; a partial batch still
// open at that point is returned first with more true (the final partial
// batch, spec.md §4.2 edge case), and the next call reports more false.
func (a *Assembler) collectBatch(items <-chan strategy.Event, inboundDone <-chan struct{}) (buf []strategy.Event, more bool) {
	select {
	case v := <-items:
		buf = append(buf, v)
	case <-inboundDone:
		return nil, false
	}

	if a.batchSize <= 1 {
		return buf, true
	}

	if a.linger <= 0 {
		// No time-based flush configured: drain whatever is already
		// available without blocking for more, per spec.md §6.1's
		// "0 = no time-based flush".
		for len(buf) < a.batchSize {
			select {
			case v := <-items:
				buf = append(buf, v)
			default:
				return buf, true
			}
		}
		return buf, true
	}

	timer := a.clk.NewTimer(a.linger)
	defer timer.Stop()
	for len(buf) < a.batchSize {
		select {
		case v := <-items:
			buf = append(buf, v)
		case <-timer.Chan():
			return buf, true
		case <-inboundDone:
			return buf, true
		}
	}
	return buf, true
}

func (a *Assembler) publish(buf []strategy.Event) {
	id := a.nextBatchID.Add(1)
	batch := strategy.NewBatch(id, buf)
	a.counters.IncInflightBatches()
	log.Log.Debugf("assembler: publishing batch %d (%d events)", id, len(buf))
	if !a.outbound.Push(context.Background(), batch) {
		// Outbound was closed concurrently (shutdown race); nothing
		// more we can do with this batch.
		a.counters.DecInflightBatches()
		return
	}
	if a.onPublish != nil {
		a.onPublish(batch)
	}
}
