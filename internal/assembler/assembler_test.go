// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package assembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchkit/ingestchannel/internal/clock"
	"github.com/batchkit/ingestchannel/internal/diag"
	"github.com/batchkit/ingestchannel/internal/queue"
	"github.com/batchkit/ingestchannel/strategy"
)

func newTestAssembler(t *testing.T, batchSize int, linger time.Duration, clk clock.Clock) (*Assembler, *queue.Queue[strategy.Event], *queue.Queue[*strategy.Batch], *diag.Counters) {
	t.Helper()
	inbound := queue.New[strategy.Event](100)
	outbound := queue.New[*strategy.Batch](100)
	counters := &diag.Counters{}
	a := New(inbound, outbound, clk, counters, batchSize, linger, nil)
	return a, inbound, outbound, counters
}

func TestAssemblerEmitsFullBatchWithoutWaitingForLinger(t *testing.T) {
	clk := clock.Fake()
	a, inbound, outbound, _ := newTestAssembler(t, 3, time.Hour, clk)
	go a.Run()

	ctx := context.Background()
	require.True(t, inbound.Push(ctx, "a"))
	require.True(t, inbound.Push(ctx, "b"))
	require.True(t, inbound.Push(ctx, "c"))

	batch, ok := outbound.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, []strategy.Event{"a", "b", "c"}, batch.Events)

	inbound.Close()
	<-a.Done()
}

func TestAssemblerEmitsPartialBatchOnLingerExpiry(t *testing.T) {
	clk := clock.Fake()
	a, inbound, outbound, _ := newTestAssembler(t, 10, 50*time.Millisecond, clk)
	go a.Run()

	ctx := context.Background()
	require.True(t, inbound.Push(ctx, "only"))

	// Give the assembler goroutine a chance to observe the event and
	// arm its linger timer before advancing the fake clock.
	waitForBlockedTimer(t, clk)
	clk.Advance(50 * time.Millisecond)

	batch, ok := outbound.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, []strategy.Event{"only"}, batch.Events)

	inbound.Close()
	<-a.Done()
}

func TestAssemblerEmitsFinalPartialBatchOnClose(t *testing.T) {
	clk := clock.Fake()
	a, inbound, outbound, _ := newTestAssembler(t, 10, time.Hour, clk)
	go a.Run()

	ctx := context.Background()
	require.True(t, inbound.Push(ctx, "x"))
	require.True(t, inbound.Push(ctx, "y"))
	inbound.Close()

	batch, ok := outbound.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, []strategy.Event{"x", "y"}, batch.Events)

	_, ok = outbound.Pop(ctx)
	assert.False(t, ok, "outbound must be closed once the assembler exits")

	<-a.Done()
}

func TestAssemblerWithNoLingerDrainsOnlyWhatIsImmediatelyAvailable(t *testing.T) {
	clk := clock.Fake()
	a, inbound, outbound, _ := newTestAssembler(t, 10, 0, clk)
	go a.Run()

	ctx := context.Background()
	require.True(t, inbound.Push(ctx, "a"))
	require.True(t, inbound.Push(ctx, "b"))

	batch, ok := outbound.Pop(ctx)
	require.True(t, ok)
	assert.LessOrEqual(t, len(batch.Events), 2)

	inbound.Close()
	<-a.Done()
}

func TestAssemblerAssignsIncreasingBatchIDs(t *testing.T) {
	clk := clock.Fake()
	a, inbound, outbound, _ := newTestAssembler(t, 1, 0, clk)
	go a.Run()

	ctx := context.Background()
	require.True(t, inbound.Push(ctx, "a"))
	require.True(t, inbound.Push(ctx, "b"))

	b1, ok := outbound.Pop(ctx)
	require.True(t, ok)
	b2, ok := outbound.Pop(ctx)
	require.True(t, ok)
	assert.Less(t, b1.ID, b2.ID)
	assert.NotEqual(t, b1.CorrelationID, b2.CorrelationID)

	inbound.Close()
	<-a.Done()
}

func TestAssemblerInvokesOnPublishCallback(t *testing.T) {
	clk := clock.Fake()
	inbound := queue.New[strategy.Event](100)
	outbound := queue.New[*strategy.Batch](100)
	counters := &diag.Counters{}

	published := make(chan *strategy.Batch, 1)
	a := New(inbound, outbound, clk, counters, 1, 0, func(b *strategy.Batch) {
		published <- b
	})
	go a.Run()

	ctx := context.Background()
	require.True(t, inbound.Push(ctx, "a"))

	select {
	case b := <-published:
		assert.Equal(t, []strategy.Event{"a"}, b.Events)
	case <-time.After(2 * time.Second):
		t.Fatal("onPublish was not invoked")
	}

	inbound.Close()
	<-a.Done()
}

// waitForBlockedTimer polls until the fake clock has at least one
// waiter, so tests that advance it deterministically don't race the
// assembler goroutine arming its linger timer.
func waitForBlockedTimer(t *testing.T, clk interface{ BlockUntil(n int) }) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		clk.BlockUntil(1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assembler to arm its linger timer")
	}
}
