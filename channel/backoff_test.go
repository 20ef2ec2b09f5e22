// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackoffForIsMonotonicAndBounded(t *testing.T) {
	o := DefaultOptions().
		SetMaxInFlight(10).
		SetBatchSize(1).
		SetRetryInterval(10 * time.Millisecond).
		SetMaxRetryInterval(200 * time.Millisecond).
		SetExponentialBase(2)
	f := defaultBackoffFor(o)

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := f(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, o.MaxRetryInterval())
		prev = d
	}
}

func TestDefaultBackoffForRespectsMaxRetryIntervalCap(t *testing.T) {
	o := DefaultOptions().
		SetMaxInFlight(10).
		SetBatchSize(1).
		SetRetryInterval(time.Second).
		SetMaxRetryInterval(5 * time.Second).
		SetExponentialBase(10)
	f := defaultBackoffFor(o)

	for attempt := 0; attempt < 5; attempt++ {
		assert.LessOrEqual(t, f(attempt), 5*time.Second)
	}
}

func TestDefaultBackoffForNegativeAttemptClampsToZero(t *testing.T) {
	o := DefaultOptions().SetMaxInFlight(10).SetBatchSize(1).
		SetRetryInterval(10 * time.Millisecond).SetExponentialBase(2)
	f := defaultBackoffFor(o)

	// attempt -1 must be clamped to the same [interval, interval*base)
	// range as attempt 0, not treated as a negative exponent.
	for i := 0; i < 20; i++ {
		d := f(-1)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestDefaultBackoffForFallsBackWhenIntervalUnset(t *testing.T) {
	o := &Options{}
	f := defaultBackoffFor(o)
	d := f(0)
	assert.Greater(t, d, time.Duration(0))
}
