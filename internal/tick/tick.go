// Package tick provides the hub's timing discipline: a 2-second major cycle
// divided into 256 sub-cycle ticks, a minute scheduler for the control and
// stats cadence, and saturating single-byte atomics shared with receive
// callbacks.
package tick

import (
	"context"
	"log"
	"os"
	"time"
)

const (
	// MajorCycleMS is the outer loop period.
	MajorCycleMS = 2000
	// TicksPerMajorCycle divides the major cycle; one tick is ~7.8 ms.
	TicksPerMajorCycle = 256
)

// Clock tracks position within the major cycle. The zero time is fixed at
// construction; all positions derive from elapsed wall time so the clock
// never drifts relative to itself.
type Clock struct {
	start time.Time
	now   func() time.Time
}

// NewClock returns a Clock anchored at the current instant.
func NewClock() *Clock {
	return &Clock{start: time.Now(), now: time.Now}
}

// newClockAt anchors the clock for tests with a controllable time source.
func newClockAt(start time.Time, now func() time.Time) *Clock {
	return &Clock{start: start, now: now}
}

func (c *Clock) msIntoCycle() int64 {
	return c.now().Sub(c.start).Milliseconds() % MajorCycleMS
}

// SubCycleTime returns the current sub-cycle position, 0..255.
func (c *Clock) SubCycleTime() uint8 {
	return uint8(c.msIntoCycle() * TicksPerMajorCycle / MajorCycleMS)
}

// MsRemainingThisBasicCycle returns milliseconds left before the major
// cycle wraps.
func (c *Clock) MsRemainingThisBasicCycle() uint16 {
	return uint16(MajorCycleMS - c.msIntoCycle())
}

// SleepUntilSubCycleTime sleeps in progressively finer steps until the
// sub-cycle counter reaches deadline. Returns true iff the deadline was met
// without overshooting by more than one tick. Must not be used to sleep
// across a cycle boundary: a deadline at or before the current position
// fails immediately.
func (c *Clock) SleepUntilSubCycleTime(ctx context.Context, deadline uint8) bool {
	start := c.SubCycleTime()
	if deadline <= start {
		return false
	}
	for {
		cur := c.SubCycleTime()
		if cur < start {
			// Wrapped: the deadline was missed entirely.
			return false
		}
		if cur >= deadline {
			return cur-deadline <= 1
		}
		remaining := time.Duration(deadline-cur) * MajorCycleMS * time.Millisecond / TicksPerMajorCycle
		// Coarse naps while far out, a fine step for the last tick.
		var step time.Duration
		switch {
		case remaining > 250*time.Millisecond:
			step = 250 * time.Millisecond
		case remaining > 60*time.Millisecond:
			step = 60 * time.Millisecond
		case remaining > 15*time.Millisecond:
			step = 15 * time.Millisecond
		default:
			step = time.Millisecond
		}
		if !sleepCtx(ctx, step) {
			return false
		}
	}
}

// Nap sleeps for d. Returns true iff the full duration elapsed (false on
// context cancellation, the analogue of an interrupt cutting a nap short).
func (c *Clock) Nap(ctx context.Context, d time.Duration) bool {
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ForceReset logs the reason and exits so the service supervisor restarts
// the daemon, the hosted equivalent of letting the watchdog fire.
func ForceReset(reason string) {
	log.Printf("FORCED RESET: %s", reason)
	os.Exit(1)
}
