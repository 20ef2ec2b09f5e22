// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package export implements the outbound queue's worker pool (spec.md
// §4.3) and the export-with-retry state machine (spec.md §4.4), which
// together are "the heart of the core" per spec.md.
//
// Grounded on the teacher's writeProc/sendBatch/scheduleRetry/
// computeRetryDelay in api/write.go, restructured from a single
// serialized writer goroutine retrying through a shared retry queue into
// ExportConcurrency independent workers, each running its own retry loop
// entirely in-goroutine — spec.md calls for a pool of concurrent
// workers, not one serialized writer.
package export

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/batchkit/ingestchannel/internal/clock"
	"github.com/batchkit/ingestchannel/internal/diag"
	"github.com/batchkit/ingestchannel/internal/log"
	"github.com/batchkit/ingestchannel/strategy"
)

// Dispatcher is the subset of channel.Listener the retry loop and worker
// pool need to call. Defined locally (rather than importing the channel
// package, which imports this one) so any Listener implementation
// satisfies it automatically.
type Dispatcher interface {
	OnExportSuccess(resp strategy.Response, count int)
	OnServerRejection(pairs []strategy.Outcome)
	OnMaxRetries(batch *strategy.Batch)
	OnExportException(err error)
	OnOutboundChannelExited()
}

// Options configures the retry state machine.
type Options struct {
	MaxRetries int
	BackoffFor func(attempt int) time.Duration
	// DisableDiagnostics skips the pool's observed-concurrency tracking,
	// per spec.md §6.1's DisableDiagnostics option.
	DisableDiagnostics bool
}

// Run executes the export-with-retry state machine of spec.md §4.4 for
// a single batch, to completion. It never returns an error: every
// terminal outcome (success, partial success, server rejection,
// retry-budget exhaustion, or unrecoverable exception) is accounted into
// counters and reported to dispatcher before Run returns.
func Run(ctx context.Context, strat strategy.Strategy, batch *strategy.Batch, counters *diag.Counters, dispatcher Dispatcher, clk clock.Clock, opts Options) {
	current := batch
	attempts := 0
	exceptionAttempts := 0
	maxAttempts := opts.MaxRetries + 1

	for {
		body, serr := strat.SerializeBatch(current)
		if serr != nil {
			log.Log.Errorf("export: serialize batch %d failed: %v", current.ID, serr)
			dispatcher.OnExportException(errors.Wrap(serr, "serialize batch"))
			counters.AddExceptions(int64(current.Len()))
			return
		}

		resp, sendErr := strat.Send(ctx, body, current)
		if sendErr != nil {
			wrapped := errors.Wrap(sendErr, "export batch")
			log.Log.Errorf("export: batch %d attempt %d failed: %v", current.ID, attempts, wrapped)
			dispatcher.OnExportException(wrapped)

			retryable := ctx.Err() == nil && strat.IsRetryableError(sendErr)
			if retryable && exceptionAttempts < opts.MaxRetries {
				if !sleep(ctx, clk, opts.BackoffFor(attempts)) {
					counters.AddExceptions(int64(current.Len()))
					return
				}
				attempts++
				exceptionAttempts++
				continue
			}
			counters.AddExceptions(int64(current.Len()))
			return
		}

		if strat.ShouldRetryAllItems(resp) {
			if !retryWhole(ctx, clk, dispatcher, counters, opts, &current, &attempts, maxAttempts) {
				return
			}
			continue
		}

		pairs := strat.Zip(resp, current)
		if len(pairs) > 0 {
			retryEvents := classifyPairs(strat, resp, pairs, counters, dispatcher)
			if len(retryEvents) == 0 {
				return
			}
			next := current.WithEvents(retryEvents)
			if !retryFiltered(ctx, clk, dispatcher, counters, opts, next, &attempts, maxAttempts) {
				return
			}
			current = next
			continue
		}

		// Zip returned no per-item info (e.g. APM intake): fall back to
		// whole-batch Retry(R), per spec.md §9's documented APM
		// behavior and §4.4 step 4's conservative fallback.
		if strat.ShouldRetry(resp) {
			if !retryWhole(ctx, clk, dispatcher, counters, opts, &current, &attempts, maxAttempts) {
				return
			}
			continue
		}

		counters.AddExported(int64(current.Len()))
		dispatcher.OnExportSuccess(resp, current.Len())
		return
	}
}

// classifyPairs walks the (event, item) pairs Zip produced, accounting
// successes and rejections, and returns the events that should be
// retried.
func classifyPairs(strat strategy.Strategy, resp strategy.Response, pairs []strategy.Outcome, counters *diag.Counters, dispatcher Dispatcher) (retryEvents []strategy.Event) {
	var rejections []strategy.Outcome
	successCount := 0
	for _, o := range pairs {
		switch {
		case strat.IsRejection(o):
			rejections = append(rejections, o)
		case strat.IsRetryable(o):
			retryEvents = append(retryEvents, o.Event)
		default:
			successCount++
		}
	}
	if successCount > 0 {
		counters.AddExported(int64(successCount))
		dispatcher.OnExportSuccess(resp, successCount)
	}
	if len(rejections) > 0 {
		counters.AddServerRejections(int64(len(rejections)))
		counters.AddRejected(int64(len(rejections)))
		dispatcher.OnServerRejection(rejections)
	}
	return retryEvents
}

// retryWhole handles the "B' = B" whole-batch retry path (RetryAllItems
// or the Retry(R) conservative fallback). It returns false once the
// caller should stop (retry budget exhausted or cancelled mid-backoff).
func retryWhole(ctx context.Context, clk clock.Clock, dispatcher Dispatcher, counters *diag.Counters, opts Options, current **strategy.Batch, attempts *int, maxAttempts int) bool {
	b := *current
	counters.AddRetried(int64(b.Len()))
	if *attempts+1 >= maxAttempts {
		dispatcher.OnMaxRetries(b)
		counters.AddRejected(int64(b.Len()))
		return false
	}
	if !sleep(ctx, clk, opts.BackoffFor(*attempts)) {
		counters.AddExceptions(int64(b.Len()))
		return false
	}
	*attempts++
	return true
}

// retryFiltered handles the per-item retry path, where next is the
// rebuilt batch containing only the events that should be resent.
func retryFiltered(ctx context.Context, clk clock.Clock, dispatcher Dispatcher, counters *diag.Counters, opts Options, next *strategy.Batch, attempts *int, maxAttempts int) bool {
	counters.AddRetried(int64(next.Len()))
	if *attempts+1 >= maxAttempts {
		dispatcher.OnMaxRetries(next)
		counters.AddRejected(int64(next.Len()))
		return false
	}
	if !sleep(ctx, clk, opts.BackoffFor(*attempts)) {
		counters.AddExceptions(int64(next.Len()))
		return false
	}
	*attempts++
	return true
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	return clock.Sleep(ctx, clk, d) == nil
}
