package tick

import "sync/atomic"

// AtomicU8 is a single-byte atomic shared between receive callbacks and the
// main loop. Backed by a uint32 because that is the smallest unit the
// sync/atomic package operates on; values are masked to byte range.
type AtomicU8 struct {
	v atomic.Uint32
}

// Load returns the current value.
func (a *AtomicU8) Load() uint8 { return uint8(a.v.Load()) }

// Store sets the value.
func (a *AtomicU8) Store(x uint8) { a.v.Store(uint32(x)) }

// CompareAndSwap performs a strong compare-exchange on the byte.
func (a *AtomicU8) CompareAndSwap(old, new uint8) bool {
	return a.v.CompareAndSwap(uint32(old), uint32(new))
}

// SafeDecIfNZ decrements a if it is non-zero. A single bounded CAS attempt:
// under contention the decrement may be skipped, which is safe for the
// countdowns it guards, but the value can never wrap below zero.
func SafeDecIfNZ(a *AtomicU8) {
	o := a.Load()
	if o == 0 {
		return
	}
	a.CompareAndSwap(o, o-1)
}

// SafeIncIfNotMax increments a if it is below 255, with the same bounded
// best-effort semantics as SafeDecIfNZ.
func SafeIncIfNotMax(a *AtomicU8) {
	o := a.Load()
	if o == 0xff {
		return
	}
	a.CompareAndSwap(o, o+1)
}

// HighWaterMark records the largest value ever observed, for queue-depth
// and backlog monitoring.
type HighWaterMark struct {
	v atomic.Int64
}

// Record notes x if it exceeds the current maximum.
func (h *HighWaterMark) Record(x int) {
	for {
		cur := h.v.Load()
		if int64(x) <= cur {
			return
		}
		if h.v.CompareAndSwap(cur, int64(x)) {
			return
		}
	}
}

// Max returns the largest recorded value.
func (h *HighWaterMark) Max() int { return int(h.v.Load()) }
