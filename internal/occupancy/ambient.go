package occupancy

// Verdict is the per-minute output of the ambient-light detector.
type Verdict uint8

const (
	// OccNone carries no occupancy information.
	OccNone Verdict = iota
	// OccWeak is a comfort-preserving hint, e.g. habitual evening lighting;
	// it should suppress deeper setbacks but not wake the heating.
	OccWeak
	// OccProbable is an action-provoking signal, e.g. lights switched on in
	// a previously dark room.
	OccProbable
)

func (v Verdict) String() string {
	switch v {
	case OccWeak:
		return "WEAK"
	case OccProbable:
		return "PROBABLE"
	default:
		return "NONE"
	}
}

// Light levels are bytes in [0,254]; 255 marks "unset" in the hourly stats.
const (
	statUnset uint8 = 0xff

	// epsilon is the fixed noise floor below which light changes are
	// considered steady.
	epsilon = 4

	// DefaultLightThreshold is the nominal lit/dark boundary used when no
	// long-term statistics are available yet.
	DefaultLightThreshold = 50

	// Ticks of steady light required before a pending probable verdict is
	// confirmed, filtering out brief flashes (car headlights, lightning).
	confirmSteadyTicks = 3

	// Ticks of steady light before the habitual-lighting (TV watching)
	// check is considered.
	habitualSteadyTicks = 30
)

// Detector is the streaming ambient-light classifier. Call Update once per
// minute with the latest light reading; call SetTypMinMax around each hour
// boundary with the long-term by-hour statistics. Not safe for concurrent
// use; it is driven solely from the minute loop.
type Detector struct {
	prevLightLevel  uint8
	steadyTicks     uint8
	probablePending bool
	primed          bool

	meanNowOrFF         uint8
	longTermMinimumOrFF uint8
	longTermMaximumOrFF uint8

	sensitive bool
}

// NewDetector returns a detector with no history and no statistics.
// Sensitive mode halves the rise needed to call a light-on event probable,
// trading more false positives for comfort.
func NewDetector(sensitive bool) *Detector {
	return &Detector{
		sensitive:           sensitive,
		meanNowOrFF:         statUnset,
		longTermMinimumOrFF: statUnset,
		longTermMaximumOrFF: statUnset,
	}
}

// SetTypMinMax supplies the typical (mean) light level for the current
// hour and the long-term minimum and maximum across all hours, each 0xff
// when unavailable. Expected to be refreshed at most hourly.
func (d *Detector) SetTypMinMax(meanNowOrFF, longTermMinimumOrFF, longTermMaximumOrFF uint8) {
	d.meanNowOrFF = meanNowOrFF
	d.longTermMinimumOrFF = longTermMinimumOrFF
	d.longTermMaximumOrFF = longTermMaximumOrFF
}

// Update classifies the latest light level l in [0,254] against the
// recent history and long-term statistics.
func (d *Detector) Update(l uint8) Verdict {
	if l > 254 {
		l = 254
	}

	// First reading after boot establishes the baseline only.
	if !d.primed {
		d.primed = true
		d.prevLightLevel = l
		d.steadyTicks = 0
		return OccNone
	}

	if l < d.prevLightLevel {
		if d.prevLightLevel-l >= epsilon {
			d.steadyTicks = 0
			d.probablePending = false
		} else if d.steadyTicks < 0xff {
			d.steadyTicks++
		}
		d.prevLightLevel = l
		return OccNone
	}

	rise := l - d.prevLightLevel
	steady := rise < epsilon
	oldSteadyTicks := d.steadyTicks
	if !steady {
		d.steadyTicks = 0
	} else if d.steadyTicks < 0xff {
		d.steadyTicks++
	}

	verdict := OccNone
	switch {
	case d.probablePending && d.steadyTicks >= confirmSteadyTicks:
		// A dark-room light-on event has now held long enough.
		d.probablePending = false
		verdict = OccProbable

	case !steady && oldSteadyTicks >= confirmSteadyTicks:
		// Genuine upward edge after a settled period.
		minToUse := d.longTermMinimumOrFF
		if minToUse == statUnset {
			minToUse = epsilon
		}
		minRise := uint8(DefaultLightThreshold / 2)
		if d.meanNowOrFF != statUnset && d.meanNowOrFF > minToUse {
			shift := uint8(1)
			if d.sensitive {
				shift = 2
			}
			minRise = (d.meanNowOrFF - minToUse) >> shift
		}
		if rise >= minRise {
			if d.prevLightLevel > minToUse || oldSteadyTicks < 0xff {
				verdict = OccProbable
			} else {
				// Very dark room lighting up from nothing: wait for the
				// level to hold before acting.
				d.probablePending = true
				verdict = OccWeak
			}
		}

	case d.steadyTicks >= habitualSteadyTicks:
		if d.habitualLightingLikely(l) {
			verdict = OccWeak
		}
	}

	d.prevLightLevel = l
	return verdict
}

// habitualLightingLikely tests whether a long-steady light level looks
// like deliberate artificial lighting, e.g. a lamp left on while watching
// TV, rather than ambient daylight.
func (d *Detector) habitualLightingLikely(l uint8) bool {
	mean := d.meanNowOrFF
	max := d.longTermMaximumOrFF
	if mean == statUnset || max == statUnset {
		return false
	}
	min := d.longTermMinimumOrFF
	if min == statUnset {
		min = epsilon
	}
	// Need real dynamic range and the mean bounded well inside it.
	if max-min <= 2*epsilon {
		return false
	}
	if mean <= min+epsilon || max <= mean+epsilon {
		return false
	}
	// Current level must sit in an asymmetric window around the mean,
	// wider on the light side.
	margin := (mean - min) / 2
	if l > mean {
		return l-mean <= margin
	}
	return mean-l <= margin/2
}

// IsRoomDark reports whether the last reading was below the dark
// threshold derived from long-term stats, or the fixed default without
// them.
func (d *Detector) IsRoomDark() bool {
	return d.primed && d.prevLightLevel < d.darkThreshold()
}

// IsRoomLit reports the opposite of IsRoomDark once primed.
func (d *Detector) IsRoomLit() bool {
	return d.primed && d.prevLightLevel >= d.darkThreshold()
}

func (d *Detector) darkThreshold() uint8 {
	min := d.longTermMinimumOrFF
	if min == statUnset || d.meanNowOrFF == statUnset || d.meanNowOrFF <= min {
		return DefaultLightThreshold
	}
	// Partway between the long-term minimum and the typical level.
	return min + (d.meanNowOrFF-min)/4
}
