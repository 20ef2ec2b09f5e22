// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package channel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/batchkit/ingestchannel/internal/diag"
	"github.com/batchkit/ingestchannel/strategy"
)

// Listener aggregates the six diagnostic callbacks of spec.md §4.6.
// OnBatchPublished is invoked from the assembler goroutine and every
// other method from worker goroutines; implementations must be
// thread-safe and must not block, since blocking a callback blocks the
// goroutine that called it.
type Listener interface {
	// OnBatchPublished is called once a batch is emitted by the
	// assembler onto the outbound queue.
	OnBatchPublished(batch *strategy.Batch)
	// OnExportSuccess is called when count events from a batch attempt
	// were acknowledged as exported.
	OnExportSuccess(resp strategy.Response, count int)
	// OnServerRejection is called once per attempt with every outcome
	// the Strategy classified as a permanent rejection.
	OnServerRejection(pairs []strategy.Outcome)
	// OnMaxRetries is called when a batch exhausts its retry budget
	// with events still outstanding.
	OnMaxRetries(batch *strategy.Batch)
	// OnExportException is called for every failed send attempt,
	// whether or not it is then retried, and for a serialization
	// failure or a recovered panic.
	OnExportException(err error)
	// OnOutboundChannelExited is called once, from each worker, when
	// that worker exits its loop because the outbound queue is closed
	// and drained.
	OnOutboundChannelExited()
}

// NopListener implements Listener with no-ops, the default until
// AttachListener is called.
type NopListener struct{}

// OnBatchPublished implements Listener.
func (NopListener) OnBatchPublished(*strategy.Batch) {}

// OnExportSuccess implements Listener.
func (NopListener) OnExportSuccess(strategy.Response, int) {}

// OnServerRejection implements Listener.
func (NopListener) OnServerRejection([]strategy.Outcome) {}

// OnMaxRetries implements Listener.
func (NopListener) OnMaxRetries(*strategy.Batch) {}

// OnExportException implements Listener.
func (NopListener) OnExportException(error) {}

// OnOutboundChannelExited implements Listener.
func (NopListener) OnOutboundChannelExited() {}

// multiListener fans a single call out to several listeners, so
// AttachListener can be called more than once (e.g. one listener for
// metrics, one for a default human-readable render used in smoke
// tests/benchmarks).
type multiListener struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (m *multiListener) attach(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *multiListener) snapshot() []Listener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *multiListener) OnBatchPublished(b *strategy.Batch) {
	for _, l := range m.snapshot() {
		l.OnBatchPublished(b)
	}
}

func (m *multiListener) OnExportSuccess(r strategy.Response, count int) {
	for _, l := range m.snapshot() {
		l.OnExportSuccess(r, count)
	}
}

func (m *multiListener) OnServerRejection(pairs []strategy.Outcome) {
	for _, l := range m.snapshot() {
		l.OnServerRejection(pairs)
	}
}

func (m *multiListener) OnMaxRetries(b *strategy.Batch) {
	for _, l := range m.snapshot() {
		l.OnMaxRetries(b)
	}
}

func (m *multiListener) OnExportException(err error) {
	for _, l := range m.snapshot() {
		l.OnExportException(err)
	}
}

func (m *multiListener) OnOutboundChannelExited() {
	for _, l := range m.snapshot() {
		l.OnOutboundChannelExited()
	}
}

// DefaultListener renders the channel's counters, observed concurrency,
// and first error as a human-readable string, for use in benchmarks and
// smoke tests, per spec.md §4.6.
type DefaultListener struct {
	counters           *diag.Counters
	disableDiagnostics bool

	mu       sync.Mutex
	firstErr error
}

// NewDefaultListener creates a DefaultListener reading from counters. If
// disableDiagnostics is true, String skips rendering entirely, matching
// Options.DisableDiagnostics's "skip observed-concurrency tracking and
// string rendering" contract.
func NewDefaultListener(counters *diag.Counters, disableDiagnostics bool) *DefaultListener {
	return &DefaultListener{counters: counters, disableDiagnostics: disableDiagnostics}
}

// OnBatchPublished implements Listener.
func (d *DefaultListener) OnBatchPublished(*strategy.Batch) {}

// OnExportSuccess implements Listener.
func (d *DefaultListener) OnExportSuccess(strategy.Response, int) {}

// OnServerRejection implements Listener.
func (d *DefaultListener) OnServerRejection([]strategy.Outcome) {}

// OnMaxRetries implements Listener.
func (d *DefaultListener) OnMaxRetries(*strategy.Batch) {}

// OnExportException records the first error seen, for String.
func (d *DefaultListener) OnExportException(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.firstErr == nil {
		d.firstErr = err
	}
}

// OnOutboundChannelExited implements Listener.
func (d *DefaultListener) OnOutboundChannelExited() {}

// String renders the current counters, observed concurrency, and first
// error as a human-readable summary, or reports that diagnostics are
// disabled.
func (d *DefaultListener) String() string {
	if d.disableDiagnostics {
		return "diagnostics disabled"
	}

	d.mu.Lock()
	firstErr := d.firstErr
	d.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "buffered=%d exported=%d retried=%d rejected=%d exceptions=%d server_rejections=%d",
		d.counters.Buffered(), d.counters.Exported(), d.counters.Retried(),
		d.counters.Rejected(), d.counters.Exceptions(), d.counters.ServerRejections())
	fmt.Fprintf(&b, " inflight_batches=%d inflight_exports=%d observed_concurrency=%d",
		d.counters.InflightBatches(), d.counters.InflightExports(), d.counters.ObservedConcurrency())
	if firstErr != nil {
		fmt.Fprintf(&b, " first_error=%q", firstErr.Error())
	}
	return b.String()
}
