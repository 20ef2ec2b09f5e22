// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package channel is the public entry point: Channel wires together the
// inbound queue, the assembler, the outbound queue, and the export
// worker pool described in spec.md, grounded on the teacher's
// api.WriteAPIImpl, which played the same wiring role over
// internal/write.Service.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/batchkit/ingestchannel/internal/assembler"
	"github.com/batchkit/ingestchannel/internal/clock"
	"github.com/batchkit/ingestchannel/internal/diag"
	"github.com/batchkit/ingestchannel/internal/export"
	"github.com/batchkit/ingestchannel/internal/log"
	"github.com/batchkit/ingestchannel/internal/queue"
	"github.com/batchkit/ingestchannel/strategy"
)

// Channel is the core batching/ingestion engine of spec.md §2: a bounded
// inbound queue feeding a single batch assembler, feeding a bounded
// outbound queue drained by a fixed pool of concurrent export workers.
type Channel struct {
	opts     *Options
	counters *diag.Counters
	clk      clock.Clock
	listener multiListener

	inbound  *queue.Queue[strategy.Event]
	outbound *queue.Queue[*strategy.Batch]
	asm      *assembler.Assembler
	pool     *export.Pool

	closeOnce sync.Once
}

// NewChannel constructs and starts a Channel: the assembler goroutine
// and every export worker are already running when NewChannel returns.
// strat is the embedder-supplied transport binding and retry
// classification; opts must satisfy its required fields (MaxInFlight,
// BatchSize) or NewChannel returns an error.
func NewChannel(strat strategy.Strategy, opts *Options) (*Channel, error) {
	return newChannel(strat, opts, clock.Real())
}

// newChannelForTest is identical to NewChannel but accepts an injected
// clock, for deterministic tests of linger/backoff/drain timing.
func newChannelForTest(strat strategy.Strategy, opts *Options, clk clock.Clock) (*Channel, error) {
	return newChannel(strat, opts, clk)
}

func newChannel(strat strategy.Strategy, opts *Options, clk clock.Clock) (*Channel, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.resolveDefaults(); err != nil {
		return nil, err
	}

	ch := &Channel{
		opts:     opts,
		counters: &diag.Counters{},
		clk:      clk,
	}

	ch.inbound = queue.New[strategy.Event](opts.MaxInFlight())
	ch.outbound = queue.New[*strategy.Batch](opts.OutboundBufferMaxSize())

	ch.asm = assembler.New(ch.inbound, ch.outbound, clk, ch.counters, opts.BatchSize(), opts.LingerDuration(), ch.onBatchPublished)

	ch.pool = export.NewPool(ch.outbound, strat, ch.counters, &ch.listener, clk, export.Options{
		MaxRetries:         opts.MaxRetries(),
		BackoffFor:         opts.backoff(),
		DisableDiagnostics: opts.DisableDiagnostics(),
	})

	go ch.asm.Run()
	ch.pool.Start(opts.ExportConcurrency())

	log.Log.Infof("channel: started (maxInFlight=%d batchSize=%d exportConcurrency=%d)",
		opts.MaxInFlight(), opts.BatchSize(), opts.ExportConcurrency())
	return ch, nil
}

// onBatchPublished is the assembler's onPublish callback: it notifies
// listeners that the batch reached the outbound queue.
func (c *Channel) onBatchPublished(batch *strategy.Batch) {
	c.listener.OnBatchPublished(batch)
}

// AttachListener registers l to receive every diagnostic callback of
// spec.md §4.6. May be called more than once; all attached listeners
// are invoked for every event.
func (c *Channel) AttachListener(l Listener) {
	c.listener.attach(l)
}

// Counters exposes the live atomic counters backing spec.md §3, for
// embedders that want to read them directly rather than through a
// Listener.
func (c *Channel) Counters() *diag.Counters { return c.counters }

// TryWrite attempts to enqueue e without blocking. It returns false if
// the inbound queue is full or the Channel is closed.
func (c *Channel) TryWrite(e strategy.Event) bool {
	ok := c.inbound.TryPush(e)
	if ok {
		c.counters.AddBuffered(1)
	}
	return ok
}

// TryWriteMany attempts to enqueue each of es in order, stopping at the
// first one that does not fit. It returns the number actually enqueued.
func (c *Channel) TryWriteMany(es []strategy.Event) int {
	n := 0
	for _, e := range es {
		if !c.TryWrite(e) {
			break
		}
		n++
	}
	return n
}

// WaitToWrite enqueues e, blocking until space is available, the
// Channel is closed, or ctx is done. It returns true iff e was
// enqueued.
func (c *Channel) WaitToWrite(ctx context.Context, e strategy.Event) bool {
	ok := c.inbound.Push(ctx, e)
	if ok {
		c.counters.AddBuffered(1)
	}
	return ok
}

// Close stops accepting new writes, signals the assembler to flush its
// final partial batch, and propagates ctx's cancellation to every
// in-flight and future Strategy.Send call. Close returns immediately;
// use WaitForDrain to block until every buffered event has been
// accounted for.
//
// Grounded on spec.md §4.5: "A context passed to close... propagates to
// all downstream waits and to the transport", implemented here by tying
// ctx's Done channel to the pool's own cancellation, so in-flight sends
// made under a long-lived background context are unaffected unless the
// caller's ctx is itself cancelled or times out.
func (c *Channel) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.inbound.Close()
		if ctx != nil {
			go func() {
				<-ctx.Done()
				c.pool.Cancel()
			}()
		}
		log.Log.Info("channel: close requested")
	})
}

// WaitForDrain blocks until every event ever accepted by
// TryWrite/WaitToWrite has been accounted for (Exported + Rejected +
// Exceptions == Buffered, spec.md §8 invariant 1) and every worker has
// exited, or until timeout elapses, or ctx is done, whichever comes
// first. It returns true iff drain completed.
func (c *Channel) WaitForDrain(ctx context.Context, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-c.asm.Done()
		_ = c.pool.Wait()
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := c.clk.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.Chan()
	}
	var ctxDone <-chan struct{}
	if ctx != nil {
		ctxDone = ctx.Done()
	}

	select {
	case <-done:
		return true
	case <-timeoutCh:
		return false
	case <-ctxDone:
		return false
	}
}
