// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package channel

import (
	"math"
	"math/rand"
	"time"
)

// defaultBackoffFor returns the default exponential-with-jitter backoff
// function, generalized from the teacher's computeRetryDelay/pow helpers
// in api/write.go (which worked in uint milliseconds with a fixed
// exponential base of 2) to time.Duration and a configurable
// Options.ExponentialBase.
//
// The delay for attempt is a random value in
// [RetryInterval * base^attempt, RetryInterval * base^(attempt+1)),
// capped at MaxRetryInterval.
func defaultBackoffFor(o *Options) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		base := o.ExponentialBase()
		if base <= 1 {
			base = DefaultExponentialBase
		}
		interval := o.RetryInterval()
		if interval <= 0 {
			interval = DefaultRetryInterval
		}
		min := float64(interval) * math.Pow(base, float64(attempt))
		max := float64(interval) * math.Pow(base, float64(attempt+1))
		if max <= min {
			max = min + 1
		}
		delay := time.Duration(min + rand.Float64()*(max-min))
		if cap := o.MaxRetryInterval(); cap > 0 && delay > cap {
			delay = cap
		}
		return delay
	}
}
