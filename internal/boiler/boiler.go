// Package boiler aggregates remote calls for heat from TRV nodes into a
// single boiler output with minimum-run-time hysteresis, so the boiler
// never short-cycles however chatty the valves are.
package boiler

import (
	"log"
	"sync"

	"github.com/opentrv/trv-hub/internal/tick"
)

// DefaultMinBoilerOnMins is the minimum run (and anti-short-cycle
// lockout) time in minutes.
const DefaultMinBoilerOnMins = 5

// DefaultMinValvePctReallyCalling is the valve-open percentage at or
// above which a remote valve counts as genuinely calling for heat.
const DefaultMinValvePctReallyCalling = 50

// Config holds the aggregator tuning.
type Config struct {
	MinOnMins   uint8
	MinValvePct uint8
}

// DefaultConfig returns the standard aggregator tuning.
func DefaultConfig() Config {
	return Config{
		MinOnMins:   DefaultMinBoilerOnMins,
		MinValvePct: DefaultMinValvePctReallyCalling,
	}
}

// Output drives the physical boiler relay.
type Output interface {
	// Set asserts or deasserts the boiler call line.
	Set(on bool) error
}

// Aggregator collects remote calls for heat and drives the boiler output
// once per minute. Receive callbacks may record calls concurrently with
// the minute loop.
type Aggregator struct {
	cfg    Config
	output Output

	mu             sync.Mutex
	hubMode        bool
	boilerOn       bool
	countdownTicks uint8

	// noCallM counts minutes since boot or since the last accepted call
	// while the boiler is off. New calls are ignored until it exceeds
	// MinOnMins, which holds the boiler off through initial clock sync
	// and enforces a minimum off time between runs.
	noCallM tick.AtomicU8
}

// NewAggregator returns an Aggregator in the post-boot lockout state with
// the boiler off.
func NewAggregator(cfg Config, out Output) *Aggregator {
	if cfg.MinOnMins == 0 {
		cfg.MinOnMins = DefaultMinBoilerOnMins
	}
	if cfg.MinValvePct == 0 {
		cfg.MinValvePct = DefaultMinValvePctReallyCalling
	}
	return &Aggregator{cfg: cfg, output: out}
}

// SetHubMode enables or disables boiler control. Outside hub mode calls
// are ignored and the output stays deasserted.
func (a *Aggregator) SetHubMode(on bool) {
	a.mu.Lock()
	a.hubMode = on
	a.mu.Unlock()
}

// RemoteCallForHeatRX records a call for heat from the identified valve.
// A call below the really-calling threshold is ignored. While the boiler
// is off, calls are also ignored until the off/lockout time has passed.
// An accepted call restarts the minimum-run countdown.
func (a *Aggregator) RemoteCallForHeatRX(id uint16, valvePct uint8, minuteCount uint8) {
	if valvePct < a.cfg.MinValvePct {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hubMode {
		return
	}
	if !a.boilerOn && a.noCallM.Load() <= a.cfg.MinOnMins {
		return
	}
	if a.countdownTicks < a.cfg.MinOnMins {
		a.countdownTicks = a.cfg.MinOnMins
	}
	a.noCallM.Store(0)
	log.Printf("call for heat accepted from %04x at %d%% (minute %d)", id, valvePct, minuteCount)
}

// ProcessCallsForHeat runs once per major cycle; on the secondZero pass
// (once per minute) it burns down the countdown and drives the output.
func (a *Aggregator) ProcessCallsForHeat(secondZero, inHubMode bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.hubMode = inHubMode
	if !inHubMode {
		a.drive(false)
		return
	}
	if !secondZero {
		return
	}

	if a.countdownTicks > 0 {
		a.countdownTicks--
		a.drive(true)
		return
	}
	a.drive(false)
	tick.SafeIncIfNotMax(&a.noCallM)
}

// drive must be called with the lock held.
func (a *Aggregator) drive(on bool) {
	if on == a.boilerOn {
		return
	}
	a.boilerOn = on
	if a.output != nil {
		if err := a.output.Set(on); err != nil {
			log.Printf("boiler output: %v", err)
			return
		}
	}
	if on {
		log.Printf("boiler ON")
	} else {
		log.Printf("boiler OFF")
	}
}

// IsBoilerOn reports the current output state.
func (a *Aggregator) IsBoilerOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boilerOn
}

// MinutesSinceLastCall returns how long the boiler has been off with no
// accepted call, saturating at 255.
func (a *Aggregator) MinutesSinceLastCall() uint8 {
	return a.noCallM.Load()
}
