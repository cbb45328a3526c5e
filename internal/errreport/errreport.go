// Package errreport holds the hub's single most-recent error or warning as
// a signed byte code with a freshness countdown, mirroring the single-slot
// reporter the valve firmware exposes over its stats channel.
package errreport

import (
	"log"
	"sync"
)

// Code is a signed-byte error identifier. Positive values are errors,
// negative values are warnings, zero means none. Values are stable for
// compatibility with the wire stats format.
type Code int8

const (
	None Code = 0

	ErrUnspecified    Code = 1
	ErrInternal       Code = 3
	ErrOverrun        Code = 5
	ErrBatteryVeryLow Code = 20

	WarnUnspecified        Code = -1
	WarnInternal           Code = -3
	WarnOverrun            Code = -5
	WarnValveTracking      Code = -10
	WarnValveTrackingMinor Code = -11
	WarnValveLowPrecision  Code = -15
	WarnBatteryLow         Code = -21
	WarnStackSpaceLow      Code = -31
)

// DefaultFreshnessM is how many minutes a report stays live before it ages
// out and the slot clears.
const DefaultFreshnessM = 10

// Reporter is the single writable error/warning slot. Safe for concurrent
// use from receive callbacks and the minute loop.
type Reporter struct {
	mu        sync.Mutex
	code      Code
	countdown uint8
}

// New returns an empty Reporter.
func New() *Reporter {
	return &Reporter{}
}

// Set records a new error or warning. An error always overwrites the slot.
// A warning may not displace a live error; it is dropped until the error
// ages out.
func (r *Reporter) Set(c Code) {
	if c == None {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c < 0 && r.code > 0 && r.countdown > 0 {
		return
	}
	r.code = c
	r.countdown = DefaultFreshnessM
	if c > 0 {
		log.Printf("error reported: %d", c)
	} else {
		log.Printf("warning reported: %d", c)
	}
}

// Get returns the live code, or None once the last report has aged out.
func (r *Reporter) Get() Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countdown == 0 {
		return None
	}
	return r.code
}

// Tick ages the slot by one minute; call once per minute.
func (r *Reporter) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countdown > 0 {
		r.countdown--
		if r.countdown == 0 {
			r.code = None
		}
	}
}
