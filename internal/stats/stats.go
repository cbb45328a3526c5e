// Package stats keeps the rolling by-hour statistics: one 24-entry byte
// array per stat set, sampled twice an hour and folded in with exponential
// smoothing. These feed the occupancy detector and setback anticipation.
package stats

import (
	"fmt"
	"sync"
)

// Unset marks an empty slot in any stat set.
const Unset uint8 = 0xff

// HoursPerDay is the length of every by-hour stat set.
const HoursPerDay = 24

// SetID names one by-hour stat set. Raw sets hold the last completed
// hour's average; smoothed sets decay toward it.
type SetID uint8

const (
	SetTempC16Reduced SetID = iota
	SetTempC16ReducedSmoothed
	SetAmbLight
	SetAmbLightSmoothed
	SetOccupancyPct
	SetOccupancyPctSmoothed
	SetRHPct
	SetRHPctSmoothed
	SetWarmMode
	SetWarmModeSmoothed
	setCount
)

func (s SetID) String() string {
	switch s {
	case SetTempC16Reduced:
		return "temp"
	case SetTempC16ReducedSmoothed:
		return "temp-smoothed"
	case SetAmbLight:
		return "ambient-light"
	case SetAmbLightSmoothed:
		return "ambient-light-smoothed"
	case SetOccupancyPct:
		return "occupancy-pct"
	case SetOccupancyPctSmoothed:
		return "occupancy-pct-smoothed"
	case SetRHPct:
		return "rh-pct"
	case SetRHPctSmoothed:
		return "rh-pct-smoothed"
	case SetWarmMode:
		return "warm-mode"
	case SetWarmModeSmoothed:
		return "warm-mode-smoothed"
	default:
		return fmt.Sprintf("set-%d", uint8(s))
	}
}

// SmoothStatsValue folds a new hourly sample into a smoothed slot with a
// nearest-integer half-life average. For inputs in [0,254] the result is
// always in [0,254], so it can never collide with the Unset sentinel.
func SmoothStatsValue(old, sample uint8) uint8 {
	if old == Unset {
		return sample
	}
	return uint8((uint16(old) + uint16(sample) + 1) / 2)
}

// Sampler supplies the current value of one statistic, scaled to [0,254].
// The second return is false when no reading is available this half hour.
type Sampler func() (uint8, bool)

// Persister receives write-through notifications as slots change, so the
// sets survive restarts. May be nil.
type Persister interface {
	StatWritten(set SetID, hour int, value uint8) error
}

// Store holds all by-hour stat sets plus the half-hour accumulators.
// Safe for concurrent read while the minute loop samples.
type Store struct {
	mu        sync.Mutex
	sets      [setCount][HoursPerDay]uint8
	samplers  []registeredSampler
	persister Persister
}

type registeredSampler struct {
	raw      SetID
	smoothed SetID
	sample   Sampler
	sum      uint16
	count    uint8
}

// NewStore returns a Store with every slot unset.
func NewStore(p Persister) *Store {
	s := &Store{persister: p}
	for i := range s.sets {
		for h := range s.sets[i] {
			s.sets[i][h] = Unset
		}
	}
	return s
}

// RegisterSampler attaches a sampler feeding the given raw and smoothed
// set pair. Must be called before sampling starts.
func (s *Store) RegisterSampler(raw, smoothed SetID, f Sampler) {
	s.mu.Lock()
	s.samplers = append(s.samplers, registeredSampler{raw: raw, smoothed: smoothed, sample: f})
	s.mu.Unlock()
}

// Get returns the stored value for a set and hour, Unset when empty or
// out of range.
func (s *Store) Get(set SetID, hour int) uint8 {
	if set >= setCount || hour < 0 || hour >= HoursPerDay {
		return Unset
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[set][hour]
}

// Set writes a slot directly, e.g. when restoring persisted sets at boot.
func (s *Store) Set(set SetID, hour int, value uint8) {
	if set >= setCount || hour < 0 || hour >= HoursPerDay {
		return
	}
	s.mu.Lock()
	s.sets[set][hour] = value
	s.mu.Unlock()
}

// SampleStats takes one half-hourly sample from every registered sampler.
// Call with endOfHour=false at minute 29 and endOfHour=true at minute 59;
// at end of hour the accumulated average replaces the raw slot and decays
// into the smoothed slot.
func (s *Store) SampleStats(endOfHour bool, hour int) {
	if hour < 0 || hour >= HoursPerDay {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.samplers {
		sp := &s.samplers[i]
		if v, ok := sp.sample(); ok {
			sp.sum += uint16(v)
			sp.count++
		}
		if !endOfHour {
			continue
		}
		if sp.count > 0 {
			avg := uint8((sp.sum + uint16(sp.count)/2) / uint16(sp.count))
			s.write(sp.raw, hour, avg)
			s.write(sp.smoothed, hour, SmoothStatsValue(s.sets[sp.smoothed][hour], avg))
		}
		sp.sum = 0
		sp.count = 0
	}
}

// write must be called with the lock held.
func (s *Store) write(set SetID, hour int, value uint8) {
	if s.sets[set][hour] == value {
		return
	}
	s.sets[set][hour] = value
	if s.persister != nil {
		// Persistence failures are non-fatal; the in-memory set is primary.
		_ = s.persister.StatWritten(set, hour, value)
	}
}

// MinByHour returns the smallest set value across all hours, Unset when
// the whole set is empty.
func (s *Store) MinByHour(set SetID) uint8 {
	if set >= setCount {
		return Unset
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	min := Unset
	for h := 0; h < HoursPerDay; h++ {
		if v := s.sets[set][h]; v != Unset && v < min {
			min = v
		}
	}
	return min
}

// MaxByHour returns the largest set value across all hours, Unset when
// the whole set is empty.
func (s *Store) MaxByHour(set SetID) uint8 {
	if set >= setCount {
		return Unset
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	max := Unset
	for h := 0; h < HoursPerDay; h++ {
		if v := s.sets[set][h]; v != Unset && (max == Unset || v > max) {
			max = v
		}
	}
	return max
}

// InOutlierQuartile reports whether the value for the given hour sits in
// the top (or bottom) quartile of its set across the day. An unset slot
// is never an outlier.
func (s *Store) InOutlierQuartile(top bool, set SetID, hour int) bool {
	if set >= setCount || hour < 0 || hour >= HoursPerDay {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.sets[set][hour]
	if v == Unset {
		return false
	}

	const maxOutside = HoursPerDay/4 - 1
	outside := 0
	for h := 0; h < HoursPerDay; h++ {
		o := s.sets[set][h]
		if o == Unset || h == hour {
			continue
		}
		if (top && o > v) || (!top && o < v) {
			outside++
			if outside > maxOutside {
				return false
			}
		}
	}
	return true
}

// InTopQuartile reports whether this hour's value is among the highest
// quarter of the set.
func (s *Store) InTopQuartile(set SetID, hour int) bool {
	return s.InOutlierQuartile(true, set, hour)
}

// InBottomQuartile reports whether this hour's value is among the lowest
// quarter of the set.
func (s *Store) InBottomQuartile(set SetID, hour int) bool {
	return s.InOutlierQuartile(false, set, hour)
}
