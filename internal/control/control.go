// Package control maps mode, occupancy, light and schedule state to the
// radiator target temperature, applying energy-saving setbacks when the
// room looks vacant.
package control

import "sync"

// Mode is the user-selected heating mode.
type Mode uint8

const (
	// ModeFrost holds the room just above freezing risk.
	ModeFrost Mode = iota
	// ModeWarm holds the comfort temperature, with setbacks when vacant.
	ModeWarm
	// ModeBake temporarily overdrives the room, then reverts to warm.
	ModeBake
)

func (m Mode) String() string {
	switch m {
	case ModeFrost:
		return "FROST"
	case ModeWarm:
		return "WARM"
	case ModeBake:
		return "BAKE"
	default:
		return "UNKNOWN"
	}
}

// Temperatures are carried as C16, i.e. sixteenths of a degree Celsius.
const C16PerDegree = 16

// Params are the static valve temperature parameters.
type Params struct {
	FrostC16      int16 // frost-protection target
	WarmC16       int16 // comfort target
	BakeUpliftC16 int16 // added to warm during bake
	BakeMaxM      uint8 // bake auto-cancel, minutes

	// Setbacks subtracted from the warm target, whole degrees.
	SetbackDefaultC uint8
	SetbackEcoC     uint8
	SetbackFullC    uint8
}

// DefaultParams returns the standard residential parameter set.
func DefaultParams() Params {
	return Params{
		FrostC16:        6 * C16PerDegree,
		WarmC16:         18 * C16PerDegree,
		BakeUpliftC16:   5 * C16PerDegree,
		BakeMaxM:        31,
		SetbackDefaultC: 1,
		SetbackEcoC:     2,
		SetbackFullC:    3,
	}
}

// Inputs are the per-minute observations the target computation folds in.
type Inputs struct {
	// PreWarmActive is true inside a scheduled pre-warm window.
	PreWarmActive bool
	// LikelyOccupied is true while any occupancy signal is live.
	LikelyOccupied bool
	// ExpectedOccupancySoon is true when by-hour stats predict occupation
	// in this or the next hour.
	ExpectedOccupancySoon bool
	// RoomLit is true when ambient light is above the dark threshold.
	RoomLit bool
	// LongVacant is true after roughly a day without occupancy signals.
	LongVacant bool
}

// ComputeTargetC16 returns the radiator target for the given mode and
// observations. In warm mode setbacks deepen with confidence of vacancy,
// but the full setback is never applied while the room is lit, and no
// more than the default setback is applied during a pre-warm window.
func ComputeTargetC16(mode Mode, p Params, in Inputs) int16 {
	switch mode {
	case ModeFrost:
		return p.FrostC16
	case ModeBake:
		return p.WarmC16 + p.BakeUpliftC16
	}

	switch {
	case in.PreWarmActive:
		return p.WarmC16
	case in.LikelyOccupied:
		return p.WarmC16
	case in.ExpectedOccupancySoon:
		return p.WarmC16 - int16(p.SetbackDefaultC)*C16PerDegree
	case in.LongVacant && !in.RoomLit:
		return p.WarmC16 - int16(p.SetbackFullC)*C16PerDegree
	default:
		// Vacant but lit, or only recently vacated.
		return p.WarmC16 - int16(p.SetbackEcoC)*C16PerDegree
	}
}

// ModeState tracks the selected mode plus the bake countdown. Safe for
// concurrent use from UI/remote inputs and the minute loop.
type ModeState struct {
	mu     sync.Mutex
	mode   Mode
	bakeM  uint8
	params Params
}

// NewModeState starts in frost mode with the given parameters.
func NewModeState(p Params) *ModeState {
	return &ModeState{mode: ModeFrost, params: p}
}

// Mode returns the current mode.
func (m *ModeState) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetWarm selects warm mode and cancels any bake in progress.
func (m *ModeState) SetWarm() {
	m.mu.Lock()
	m.mode = ModeWarm
	m.bakeM = 0
	m.mu.Unlock()
}

// SetFrost selects frost mode and cancels any bake in progress.
func (m *ModeState) SetFrost() {
	m.mu.Lock()
	m.mode = ModeFrost
	m.bakeM = 0
	m.mu.Unlock()
}

// StartBake begins (or extends) a bake, auto-cancelling after BakeMaxM
// minutes.
func (m *ModeState) StartBake() {
	m.mu.Lock()
	m.mode = ModeBake
	m.bakeM = m.params.BakeMaxM
	m.mu.Unlock()
}

// CancelBake reverts an active bake to warm mode.
func (m *ModeState) CancelBake() {
	m.mu.Lock()
	if m.mode == ModeBake {
		m.mode = ModeWarm
		m.bakeM = 0
	}
	m.mu.Unlock()
}

// Tick advances the bake countdown by one minute; an expiring bake
// reverts to warm mode.
func (m *ModeState) Tick() {
	m.mu.Lock()
	if m.mode == ModeBake {
		if m.bakeM > 0 {
			m.bakeM--
		}
		if m.bakeM == 0 {
			m.mode = ModeWarm
		}
	}
	m.mu.Unlock()
}

// BakeMinutesLeft returns the remaining bake time, zero outside bake.
func (m *ModeState) BakeMinutesLeft() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bakeM
}
