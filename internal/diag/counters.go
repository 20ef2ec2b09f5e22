// Package diag holds the atomic counters described in spec.md §3,
// grounded on the reference corpus's bulk-indexer idiom of tracking
// added/active/failed counts with sync/atomic (see e.g. the
// model-indexer's eventsAdded/eventsActive/eventsFailed fields), plus
// spec.md §9's explicit "CAS-based running max" for ObservedConcurrency.
package diag

import "sync/atomic"

// Counters are the atomic counters spec.md §3 requires. All of them only
// increase except the two in-flight gauges (InflightBatches,
// InflightExports), which also decrease. All fields are safe for
// concurrent use.
type Counters struct {
	buffered            atomic.Int64
	exported            atomic.Int64
	retried             atomic.Int64
	rejected            atomic.Int64
	exceptions          atomic.Int64
	serverRejections    atomic.Int64
	inflightBatches     atomic.Int64
	inflightExports     atomic.Int64
	observedConcurrency atomic.Int64
}

// Buffered returns the number of events accepted by TryWrite/WaitToWrite.
func (c *Counters) Buffered() int64 { return c.buffered.Load() }

// AddBuffered records n newly accepted events.
func (c *Counters) AddBuffered(n int64) { c.buffered.Add(n) }

// Exported returns the number of events successfully sent and
// acknowledged.
func (c *Counters) Exported() int64 { return c.exported.Load() }

// AddExported records n successfully exported events.
func (c *Counters) AddExported(n int64) { c.exported.Add(n) }

// Retried returns the number of events flagged for retry, summed over
// attempts: an event flagged on two attempts counts twice, and the events
// of a batch whose retry budget is exhausted are counted as well.
func (c *Counters) Retried() int64 { return c.retried.Load() }

// AddRetried records n events being retried.
func (c *Counters) AddRetried(n int64) { c.retried.Add(n) }

// Rejected returns the number of events permanently failed (server
// rejection or retry-budget exhaustion).
func (c *Counters) Rejected() int64 { return c.rejected.Load() }

// AddRejected records n permanently failed events.
func (c *Counters) AddRejected(n int64) { c.rejected.Add(n) }

// Exceptions returns the number of events lost to an unrecoverable
// transport exception or cancellation.
func (c *Counters) Exceptions() int64 { return c.exceptions.Load() }

// AddExceptions records n events lost to exceptions.
func (c *Counters) AddExceptions(n int64) { c.exceptions.Add(n) }

// ServerRejections returns the number of per-item server rejections
// reported (a count of events, via AddServerRejections of ServerRejected
// pairs, not a count of OnServerRejection calls).
func (c *Counters) ServerRejections() int64 { return c.serverRejections.Load() }

// AddServerRejections records n server-rejected items.
func (c *Counters) AddServerRejections(n int64) { c.serverRejections.Add(n) }

// InflightBatches returns the number of batches currently assembled or
// queued but not yet resolved.
func (c *Counters) InflightBatches() int64 { return c.inflightBatches.Load() }

// IncInflightBatches increments the in-flight batch count.
func (c *Counters) IncInflightBatches() { c.inflightBatches.Add(1) }

// DecInflightBatches decrements the in-flight batch count.
func (c *Counters) DecInflightBatches() { c.inflightBatches.Add(-1) }

// InflightExports returns the number of export attempts currently in
// progress across all workers.
func (c *Counters) InflightExports() int64 { return c.inflightExports.Load() }

// ObservedConcurrency returns the running maximum of InflightExports
// observed so far. Diagnostic only.
func (c *Counters) ObservedConcurrency() int64 { return c.observedConcurrency.Load() }

// BeginExport increments InflightExports and updates ObservedConcurrency
// via a compare-and-swap loop, returning the new InflightExports value.
func (c *Counters) BeginExport() int64 {
	n := c.inflightExports.Add(1)
	for {
		max := c.observedConcurrency.Load()
		if n <= max {
			break
		}
		if c.observedConcurrency.CompareAndSwap(max, n) {
			break
		}
	}
	return n
}

// EndExport decrements InflightExports.
func (c *Counters) EndExport() {
	c.inflightExports.Add(-1)
}

// Accounted returns Exported + Rejected + Exceptions, the quantity
// spec.md §8 invariant 1 requires to equal Buffered once WaitForDrain
// returns true.
func (c *Counters) Accounted() int64 {
	return c.Exported() + c.Rejected() + c.Exceptions()
}
