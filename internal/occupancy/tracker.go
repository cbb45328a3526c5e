// Package occupancy infers room occupancy from ambient-light changes and
// keeps a decaying occupation countdown that the target-temperature
// controller consults for setback decisions.
package occupancy

import (
	"sync"
)

// OccupationTimeoutM is how long (minutes) a firm occupancy signal keeps
// the room counted as occupied.
const OccupationTimeoutM = 60

// Weaker signals bump the countdown only part way.
const (
	occupationTimeoutLikelyM = (2 * OccupationTimeoutM) / 3
	occupationTimeoutMaybeM  = OccupationTimeoutM / 3
)

// Vacancy thresholds in minutes. Long vacancy is about a day, long-long
// vacancy somewhat over a day and a half, both used to deepen setbacks.
const (
	longVacantM     = 24 * 60
	longLongVacantM = 39 * 60
)

// Tracker holds the occupation countdown and vacancy clock. Safe for
// concurrent use; signals may arrive from receive callbacks while the
// minute loop ticks.
type Tracker struct {
	mu          sync.Mutex
	countdownM  uint8
	vacancyM    uint16
	holidayMode bool
	torpid      bool
}

// NewTracker returns a Tracker in the post-boot state: not occupied, zero
// accumulated vacancy.
func NewTracker() *Tracker {
	return &Tracker{}
}

// MarkAsOccupied records a firm occupancy signal such as a PROBABLE light
// verdict or a manual control press. Clears holiday mode.
func (t *Tracker) MarkAsOccupied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.holidayMode = false
	t.countdownM = OccupationTimeoutM
	t.vacancyM = 0
}

// MarkAsPossiblyOccupied records a moderately strong signal. The countdown
// is raised to the "likely" level but never lowered.
func (t *Tracker) MarkAsPossiblyOccupied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.countdownM < occupationTimeoutLikelyM {
		t.countdownM = occupationTimeoutLikelyM
	}
	t.vacancyM = 0
}

// MarkAsJustPossiblyOccupied records a weak signal such as a WEAK light
// verdict. Ignored while torpid (low-power survival mode) or in holiday
// mode, since weak signals are too noisy to cancel a deliberate absence.
func (t *Tracker) MarkAsJustPossiblyOccupied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.torpid || t.holidayMode {
		return
	}
	if t.countdownM < occupationTimeoutMaybeM {
		t.countdownM = occupationTimeoutMaybeM
	}
	t.vacancyM = 0
}

// SetHolidayMode forces the tracker vacant and suppresses weak signals
// until a firm occupancy signal arrives.
func (t *Tracker) SetHolidayMode() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.holidayMode = true
	t.countdownM = 0
}

// InHolidayMode reports whether holiday mode is active.
func (t *Tracker) InHolidayMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holidayMode
}

// SetTorpid marks the system as running in a degraded low-power state in
// which weak occupancy signals are ignored.
func (t *Tracker) SetTorpid(torpid bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.torpid = torpid
}

// Tick advances the tracker by one minute: the countdown decays toward
// zero and, once vacant, the vacancy clock accumulates (saturating).
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.countdownM > 0 {
		t.countdownM--
		return
	}
	if t.vacancyM < 0xffff {
		t.vacancyM++
	}
}

// IsLikelyOccupied reports whether any occupancy signal is still live.
func (t *Tracker) IsLikelyOccupied() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countdownM > 0
}

// IsLikelyRecentlyOccupied reports a strong recent signal, i.e. the
// countdown is still above the "likely" level.
func (t *Tracker) IsLikelyRecentlyOccupied() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countdownM > occupationTimeoutLikelyM
}

// IsLikelyUnoccupied reports that no occupancy signal is live.
func (t *Tracker) IsLikelyUnoccupied() bool {
	return !t.IsLikelyOccupied()
}

// VacancyM returns accumulated vacant minutes since the last signal.
func (t *Tracker) VacancyM() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vacancyM
}

// LongVacant reports roughly a day or more without any occupancy signal.
func (t *Tracker) LongVacant() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vacancyM > longVacantM
}

// LongLongVacant reports an extended vacancy well beyond a day.
func (t *Tracker) LongLongVacant() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vacancyM > longLongVacantM
}

// ConfidencePct returns occupancy confidence as a 0..100 percentage for
// the stats channel: full countdown maps to 100.
func (t *Tracker) ConfidencePct() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint8((int(t.countdownM)*100 + OccupationTimeoutM/2) / OccupationTimeoutM)
}
