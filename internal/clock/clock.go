// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package clock supplies the monotonic timing and bounded-wait
// primitives used for linger, backoff, and drain. It exists so that
// tests can substitute a fake clock instead of racing real wall-clock
// time, following the same clockwork.Clock seam used elsewhere in this
// dependency family for time-sensitive components.
package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is an alias of clockwork.Clock, the clock interface the core
// depends on.
type Clock = clockwork.Clock

// Real returns the real, wall-clock-backed Clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Fake returns a Clock whose notion of time only advances when its
// FakeClock.Advance method is called, for deterministic tests of
// linger/backoff/drain timing.
func Fake() clockwork.FakeClock {
	return clockwork.NewFakeClock()
}

// Sleep blocks for d on clk, honoring ctx cancellation. It returns
// ctx.Err() if ctx is cancelled before d elapses, nil otherwise.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
