// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package export

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/batchkit/ingestchannel/internal/clock"
	"github.com/batchkit/ingestchannel/internal/diag"
	"github.com/batchkit/ingestchannel/internal/log"
	"github.com/batchkit/ingestchannel/internal/queue"
	"github.com/batchkit/ingestchannel/internal/safe"
	"github.com/batchkit/ingestchannel/strategy"
)

// Pool is the fixed-size worker pool of spec.md §4.3: ExportConcurrency
// goroutines, each pulling batches off outbound and driving them through
// Run to completion independently of the others.
//
// Grounded on the teacher's single writeProc goroutine in
// api/write.go, generalized to N independent goroutines managed by an
// errgroup.Group, since spec.md requires a concurrent pool rather than
// one serialized writer.
type Pool struct {
	outbound   *queue.Queue[*strategy.Batch]
	strat      strategy.Strategy
	counters   *diag.Counters
	dispatcher Dispatcher
	clk        clock.Clock
	opts       Options

	g              *errgroup.Group
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewPool constructs a Pool. Start must be called to launch its
// workers.
func NewPool(outbound *queue.Queue[*strategy.Batch], strat strategy.Strategy, counters *diag.Counters, dispatcher Dispatcher, clk clock.Clock, opts Options) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		outbound:       outbound,
		strat:          strat,
		counters:       counters,
		dispatcher:     dispatcher,
		clk:            clk,
		opts:           opts,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Start launches n worker goroutines under an errgroup.Group.
func (p *Pool) Start(n int) {
	g, _ := errgroup.WithContext(context.Background())
	p.g = g
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p.g.Go(p.workerLoop)
	}
}

// Cancel propagates cancellation to every in-flight and future
// Strategy.Send call, per spec.md §4.5's "context passed to close
// propagates to the transport". It does not stop workers from draining
// the outbound queue; it only makes their Send calls fail fast.
func (p *Pool) Cancel() { p.shutdownCancel() }

// Wait blocks until every worker has exited (the outbound queue was
// closed and drained). Worker goroutines never return an error
// themselves; errgroup is used purely for goroutine lifecycle, not
// error propagation.
func (p *Pool) Wait() error { return p.g.Wait() }

// workerLoop is the body of a single export worker: pull a batch,
// account inflight/observed concurrency, run the retry state machine
// under panic recovery, repeat until outbound is closed and drained.
func (p *Pool) workerLoop() error {
	for {
		batch, ok := p.outbound.Pop(context.Background())
		if !ok {
			p.dispatcher.OnOutboundChannelExited()
			return nil
		}

		if !p.opts.DisableDiagnostics {
			p.counters.BeginExport()
		}
		runErr := safe.Run(func() error {
			Run(p.shutdownCtx, p.strat, batch, p.counters, p.dispatcher, p.clk, p.opts)
			return nil
		})
		if runErr != nil {
			// A panic escaped Run; since we cannot know how much of
			// the batch was accounted before the panic, the whole
			// batch is conservatively marked as exceptions.
			log.Log.Errorf("export: worker recovered panic exporting batch %d: %v", batch.ID, runErr)
			p.dispatcher.OnExportException(runErr)
			p.counters.AddExceptions(int64(batch.Len()))
		}
		p.counters.DecInflightBatches()
		if !p.opts.DisableDiagnostics {
			p.counters.EndExport()
		}
	}
}
