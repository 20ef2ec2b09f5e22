// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package strategy defines the embedder-supplied contract: the transport
// binding, the Zip function and the retry/classification predicates
// described in spec.md §6.2. The core itself never imports a concrete transport; it
// only ever sees values of type Strategy.
package strategy

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Event is an opaque, user-supplied value. The core never interprets it;
// it only ever passes references to Strategy methods.
type Event = interface{}

// Batch is an ordered, immutable segment of events handed to a worker
// for a single transport attempt. BatchID increases monotonically across
// the lifetime of a Channel for diagnostics only — consumers must not
// rely on batches arriving at the sink in BatchID order. CorrelationID
// is a random id assigned once, at first emission, and carried unchanged
// across retries of the same logical batch so logs from different
// attempts can be tied together.
type Batch struct {
	ID            uint64
	CorrelationID uuid.UUID
	Events        []Event
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// NewBatch creates a Batch with a fresh correlation id.
func NewBatch(id uint64, events []Event) *Batch {
	return &Batch{ID: id, CorrelationID: uuid.New(), Events: events}
}

// WithEvents returns a shallow copy of b with a filtered event list, used
// when a retry only resends a subsequence of the original batch. The
// BatchID and CorrelationID are preserved: this is still an attempt at
// the same logical batch.
func (b *Batch) WithEvents(events []Event) *Batch {
	return &Batch{ID: b.ID, CorrelationID: b.CorrelationID, Events: events}
}

// Item is the transport's per-event response fragment, opaque to the
// core. Its meaning is defined entirely by the Strategy implementation.
type Item = interface{}

// Response is whatever a Transport.Send call returns. Opaque to the
// core; only Strategy methods interpret it.
type Response = interface{}

// Outcome pairs an input event with its corresponding response item, as
// produced by Strategy.Zip. Used by IsRetryable and IsRejection.
type Outcome struct {
	Event Event
	Item  Item
}

// Transport sends a single serialized batch to the remote sink. Any
// returned error is classified as an exception (spec.md §4.4 step 2).
type Transport interface {
	Send(ctx context.Context, body io.Reader, batch *Batch) (Response, error)
}

// Strategy bundles the transport binding with the serializer, the Zip
// function and the five retry/classification predicates an embedder
// supplies, per spec.md
// §6.2. It is a plain interface rather than a class hierarchy, per the
// "polymorphism via strategy set, not inheritance" design note: distinct
// sink bindings (line-protocol-over-HTTP, Elasticsearch bulk, APM
// intake) are distinct Strategy values built once at construction, not
// distinct subtypes.
type Strategy interface {
	Transport

	// SerializeBatch renders batch into a reader for a single send
	// attempt.
	// Called exactly once per attempt, immediately before Send.
	SerializeBatch(batch *Batch) (io.Reader, error)

	// ShouldRetry reports whether the response warrants any retry
	// consideration at all.
	ShouldRetry(resp Response) bool

	// ShouldRetryAllItems reports whether the entire batch should be
	// retried as-is (e.g. HTTP 429), short-circuiting per-item Zip
	// classification.
	ShouldRetryAllItems(resp Response) bool

	// Zip produces (event, item) pairs for per-item classification. An
	// empty result means "no per-item info available" (e.g. the APM
	// intake case), in which case the core falls back to ShouldRetry for
	// whole-batch retry.
	Zip(resp Response, batch *Batch) []Outcome

	// IsRetryable reports whether a single outcome should be retried.
	IsRetryable(o Outcome) bool

	// IsRejection reports whether a single outcome is a permanent,
	// server-side rejection.
	IsRejection(o Outcome) bool

	// IsRetryableError classifies a transport-level failure (an error
	// returned from Send itself, as opposed to a non-error Response
	// carrying a failure status). Deterministic from err alone, per
	// spec.md §4.4 step 5.
	IsRetryableError(err error) bool
}
