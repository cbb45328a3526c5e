// Package engine wires the hub together: radio frames in through the
// receive pipeline, occupancy and target-temperature logic on the minute
// cadence, boiler output, and stats out to MQTT and the status feed.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/opentrv/trv-hub/internal/boiler"
	"github.com/opentrv/trv-hub/internal/control"
	"github.com/opentrv/trv-hub/internal/errreport"
	"github.com/opentrv/trv-hub/internal/frame"
	"github.com/opentrv/trv-hub/internal/jsonstats"
	"github.com/opentrv/trv-hub/internal/occupancy"
	"github.com/opentrv/trv-hub/internal/pipeline"
	"github.com/opentrv/trv-hub/internal/radio"
	"github.com/opentrv/trv-hub/internal/relay"
	"github.com/opentrv/trv-hub/internal/stats"
	"github.com/opentrv/trv-hub/internal/status"
	"github.com/opentrv/trv-hub/internal/storage"
	"github.com/opentrv/trv-hub/internal/tick"
)

// Config holds engine configuration.
type Config struct {
	DatabasePath string
	HubMode      bool   // drive the boiler from remote calls for heat
	Sensitive    bool   // more eager occupancy detection
	KeyHex       string // 16-byte building key, 32 hex chars

	// Periodic own-stats transmission, zero disables.
	StatsTXInterval time.Duration
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		DatabasePath:    "/var/lib/trvhub/hub.db",
		HubMode:         true,
		StatsTXInterval: 4 * time.Minute,
	}
}

// Sensors supplies the hub's local readings. Either reader may report
// unavailable; the dependent logic then simply skips a beat.
type Sensors struct {
	ReadLight   func() (uint8, bool) // ambient light, 0..254
	ReadTempC16 func() (int16, bool) // room temperature in 1/16 C
}

// Schedule reports whether a pre-warm window is active. The zero value
// (no schedule) never pre-warms.
type Schedule interface {
	PreWarmActive(hour, minute int) bool
}

// NullSchedule has no warm windows.
type NullSchedule struct{}

func (NullSchedule) PreWarmActive(hour, minute int) bool { return false }

// Engine is the hub core.
type Engine struct {
	config  Config
	db      *storage.DB
	primary radio.Driver
	relayRF radio.Driver
	pub     relay.Publisher
	feed    *status.Client
	sched   Schedule
	sensors Sensors

	hubID   string
	key     [frame.KeyLen]byte
	haveKey bool

	queue    *pipeline.Queue
	pipe     *pipeline.Pipeline
	agg      *boiler.Aggregator
	tracker  *occupancy.Tracker
	detector *occupancy.Detector
	modes    *control.ModeState
	params   control.Params
	store    *stats.Store
	reporter *errreport.Reporter
	clock    *tick.Clock
	minutes  *tick.MinuteTicker

	mu          sync.Mutex
	lastLight   uint8
	haveLight   bool
	lastTempC16 int16
	haveTemp    bool
	targetC16   int16
	minuteCount tick.AtomicU8

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// Options are the pluggable collaborators; nil fields get working
// defaults (null radio, no publisher, no status feed, no schedule).
type Options struct {
	Primary   radio.Driver
	Secondary radio.Driver
	Publisher relay.Publisher
	Feed      *status.Client
	Schedule  Schedule
	Sensors   Sensors
	Output    boiler.Output
}

// New creates an engine and opens its database.
func New(config Config, opts Options) (*Engine, error) {
	db, err := storage.Open(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	hubID, err := db.HubID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load hub id: %w", err)
	}

	e := &Engine{
		config:   config,
		db:       db,
		primary:  opts.Primary,
		relayRF:  opts.Secondary,
		pub:      opts.Publisher,
		feed:     opts.Feed,
		sched:    opts.Schedule,
		sensors:  opts.Sensors,
		hubID:    hubID,
		tracker:  occupancy.NewTracker(),
		detector: occupancy.NewDetector(config.Sensitive),
		modes:    control.NewModeState(control.DefaultParams()),
		params:   control.DefaultParams(),
		store:    stats.NewStore(db),
		reporter: errreport.New(),
		clock:    tick.NewClock(),
		minutes:  tick.NewMinuteTicker(),
		stopChan: make(chan struct{}),
	}
	e.targetC16 = e.params.FrostC16

	if e.primary == nil {
		e.primary = radio.NullDriver{}
	}
	if e.relayRF == nil {
		e.relayRF = radio.NullDriver{}
	}
	if e.sched == nil {
		e.sched = NullSchedule{}
	}

	if config.KeyHex != "" {
		raw, err := hex.DecodeString(config.KeyHex)
		if err != nil || len(raw) != frame.KeyLen {
			db.Close()
			return nil, fmt.Errorf("building key must be %d hex bytes", frame.KeyLen)
		}
		copy(e.key[:], raw)
		e.haveKey = true
	}

	if err := e.db.LoadStats(e.store); err != nil {
		log.Printf("restore stats: %v", err)
	}

	e.agg = boiler.NewAggregator(boiler.DefaultConfig(), opts.Output)
	e.agg.SetHubMode(config.HubMode)

	e.queue = pipeline.NewQueue(pipeline.DefaultQueueCapacity)
	e.pipe = pipeline.New(e.queue, e.getKey, e.db,
		pipeline.SerialOperator(os.Stdout),
		pipeline.RelayOperator(e.relayRF),
		pipeline.BoilerOperator(e.agg, e.minuteCount.Load),
		e.statsForwardOperator,
	)
	e.pipe.SetAuthFailureWarner(func() { e.reporter.Set(errreport.WarnUnspecified) })

	e.registerSamplers()
	e.minutes.Register(e.minuteTick)

	return e, nil
}

func (e *Engine) getKey() ([frame.KeyLen]byte, bool) {
	return e.key, e.haveKey
}

// Start brings up the radios, status feed and loops.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.primary.SetReceiveCallback(e.handleFrame)

	if err := e.primary.Start(); err != nil {
		return fmt.Errorf("failed to start primary radio: %w", err)
	}
	if err := e.relayRF.Start(); err != nil {
		e.primary.Stop()
		return fmt.Errorf("failed to start relay radio: %w", err)
	}
	if e.feed != nil {
		e.feed.SetModeCallback(e.handleSetMode)
		e.feed.SetHolidayCallback(e.handleSetHoliday)
		if err := e.feed.Start(); err != nil {
			e.relayRF.Stop()
			e.primary.Stop()
			return fmt.Errorf("failed to start status feed: %w", err)
		}
	}

	e.minutes.Start(context.Background())

	e.wg.Add(1)
	go e.mainLoop()

	if e.pub != nil {
		if err := e.pub.PublishSystem(relay.SystemEvent{
			Timestamp: time.Now().UTC(),
			Event:     "STARTUP",
		}); err != nil {
			log.Printf("publish startup event: %v", err)
		}
	}

	log.Printf("engine started: hub=%s, hubMode=%v", e.hubID, e.config.HubMode)
	return nil
}

// Stop shuts everything down in reverse order.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)
	e.wg.Wait()
	e.minutes.Stop()

	if e.pub != nil {
		if err := e.pub.PublishSystem(relay.SystemEvent{
			Timestamp: time.Now().UTC(),
			Event:     "SHUTDOWN",
		}); err != nil {
			log.Printf("publish shutdown event: %v", err)
		}
		e.pub.Close()
	}
	if e.feed != nil {
		e.feed.Stop()
	}
	e.relayRF.Stop()
	e.primary.Stop()

	err := e.db.Close()
	log.Println("engine stopped")
	return err
}

// handleFrame runs on the radio goroutine; queue and return.
func (e *Engine) handleFrame(raw []byte) {
	if !e.queue.Push(raw) {
		e.reporter.Set(errreport.WarnOverrun)
	}
}

// idleUntilTick is the sub-cycle deadline each poll pass must finish by;
// the remainder of the major cycle is slack spent asleep.
const idleUntilTick uint8 = 250

// mainLoop drains the pipeline once per major cycle, working at the start
// of the cycle and sleeping out the rest against a sub-cycle deadline.
func (e *Engine) mainLoop() {
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.stopChan
		cancel()
	}()

	for {
		before := e.clock.SubCycleTime()
		e.pipe.Poll()
		e.agg.ProcessCallsForHeat(false, e.config.HubMode)
		// Wrapping the sub-cycle counter means the pass took longer
		// than a whole major cycle.
		if e.clock.SubCycleTime() < before {
			e.reporter.Set(errreport.WarnOverrun)
		}

		// Idle up to the deadline tick, then nap across the cycle
		// boundary. A failed sleep means the pass already overran the
		// deadline; start the next pass immediately.
		if !e.clock.SleepUntilSubCycleTime(ctx, idleUntilTick) {
			if ctx.Err() != nil {
				return
			}
			if before < idleUntilTick {
				e.reporter.Set(errreport.WarnOverrun)
			}
			continue
		}
		if !e.clock.Nap(ctx, time.Duration(e.clock.MsRemainingThisBasicCycle())*time.Millisecond) {
			return
		}
	}
}

// minuteTick is the once-per-minute control cadence.
func (e *Engine) minuteTick(hour, minute int) {
	tick.SafeIncIfNotMax(&e.minuteCount)
	e.pipe.TickAuthFailureRate()

	// Refresh hourly statistics for the detector at each hour boundary.
	if minute == 0 {
		e.detector.SetTypMinMax(
			e.store.Get(stats.SetAmbLightSmoothed, hour),
			e.store.MinByHour(stats.SetAmbLightSmoothed),
			e.store.MaxByHour(stats.SetAmbLightSmoothed),
		)
	}

	if e.sensors.ReadLight != nil {
		if l, ok := e.sensors.ReadLight(); ok {
			e.mu.Lock()
			e.lastLight = l
			e.haveLight = true
			e.mu.Unlock()
			switch e.detector.Update(l) {
			case occupancy.OccProbable:
				e.tracker.MarkAsPossiblyOccupied()
			case occupancy.OccWeak:
				e.tracker.MarkAsJustPossiblyOccupied()
			}
		}
	}
	if e.sensors.ReadTempC16 != nil {
		if t, ok := e.sensors.ReadTempC16(); ok {
			e.mu.Lock()
			e.lastTempC16 = t
			e.haveTemp = true
			e.mu.Unlock()
		}
	}

	e.tracker.Tick()
	e.modes.Tick()
	e.reporter.Tick()

	// Half-hourly stat samples; minute 59 closes the hour.
	if minute == 29 {
		e.store.SampleStats(false, hour)
	} else if minute == 59 {
		e.store.SampleStats(true, hour)
	}

	target := control.ComputeTargetC16(e.modes.Mode(), e.params, control.Inputs{
		PreWarmActive:         e.sched.PreWarmActive(hour, minute),
		LikelyOccupied:        e.tracker.IsLikelyOccupied(),
		ExpectedOccupancySoon: e.expectedOccupancySoon(hour),
		RoomLit:               e.detector.IsRoomLit(),
		LongVacant:            e.tracker.LongVacant(),
	})
	e.mu.Lock()
	e.targetC16 = target
	e.mu.Unlock()

	e.agg.ProcessCallsForHeat(true, e.config.HubMode)

	if e.config.StatsTXInterval > 0 {
		everyM := int(e.config.StatsTXInterval / time.Minute)
		if everyM > 0 && minute%everyM == 0 {
			e.transmitOwnStats()
		}
	}

	e.sendStatusSnapshot()
}

// expectedOccupancySoon anticipates occupation from the smoothed by-hour
// occupancy statistics for this hour and the next.
func (e *Engine) expectedOccupancySoon(hour int) bool {
	return e.store.InTopQuartile(stats.SetOccupancyPctSmoothed, hour) ||
		e.store.InTopQuartile(stats.SetOccupancyPctSmoothed, (hour+1)%stats.HoursPerDay)
}

func (e *Engine) registerSamplers() {
	e.store.RegisterSampler(stats.SetAmbLight, stats.SetAmbLightSmoothed, func() (uint8, bool) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.lastLight, e.haveLight
	})
	e.store.RegisterSampler(stats.SetOccupancyPct, stats.SetOccupancyPctSmoothed, func() (uint8, bool) {
		return e.tracker.ConfidencePct(), true
	})
	e.store.RegisterSampler(stats.SetTempC16Reduced, stats.SetTempC16ReducedSmoothed, func() (uint8, bool) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.haveTemp {
			return 0, false
		}
		return reduceTempC16(e.lastTempC16), true
	})
	e.store.RegisterSampler(stats.SetWarmMode, stats.SetWarmModeSmoothed, func() (uint8, bool) {
		if e.modes.Mode() == control.ModeFrost {
			return 0, true
		}
		return 100, true
	})
}

// reduceTempC16 compresses a 1/16 C temperature into a byte: half-degree
// steps offset so the domestic range fits 0..254.
func reduceTempC16(t int16) uint8 {
	v := int(t) / 8 // half-degree units
	if v < 0 {
		v = 0
	}
	if v > 254 {
		v = 254
	}
	return uint8(v)
}

// statsForwardOperator publishes a received frame's embedded JSON stats
// to MQTT and the status feed, and logs the frame.
func (e *Engine) statsForwardOperator(fd *frame.FrameData) bool {
	idHex := hex.EncodeToString(fd.SenderID[:])

	rec := &storage.FrameRecord{
		NodeIDHex: idHex,
		Seq:       fd.Header.Seq(),
		Secure:    fd.Header.IsSecure(),
		BodyLen:   fd.BodyLen,
	}

	var statsJSON []byte
	if fd.BodyLen > 3 && fd.Body[1]&0x10 != 0 && fd.Body[2] == '{' {
		statsJSON = fd.Body[2:fd.BodyLen]
		rec.StatsJSON = string(statsJSON)
	}

	if _, err := e.db.LogFrame(rec); err != nil {
		log.Printf("log frame: %v", err)
	}

	if statsJSON == nil {
		return false
	}
	if e.pub != nil {
		if err := e.pub.PublishStats(idHex, statsJSON); err != nil {
			log.Printf("publish stats: %v", err)
		}
	}
	if e.feed != nil {
		e.feed.SendNodeStats(status.NodeStats{NodeID: idHex, Stats: statsJSON})
	}
	return true
}

// transmitOwnStats sends the hub's own readings as a secure valve frame,
// so upstream hubs and listeners see this node like any other.
func (e *Engine) transmitOwnStats() {
	if !e.haveKey {
		return
	}

	id, err := e.hubNodeID()
	if err != nil {
		log.Printf("stats tx: %v", err)
		return
	}

	e.mu.Lock()
	light := e.lastLight
	haveLight := e.haveLight
	tempC16 := e.lastTempC16
	haveTemp := e.haveTemp
	e.mu.Unlock()

	counter, err := e.db.NextTXCounter()
	if err != nil {
		e.reporter.Set(errreport.ErrInternal)
		log.Printf("stats tx: %v", err)
		return
	}

	seq := counter[5] & 0x0f
	b := jsonstats.NewBuilder(hex.EncodeToString(id[:2]), seq, jsonstats.MaxSecureLength-2)
	if haveTemp {
		b.Add("T|C16", int(tempC16))
	}
	if haveLight {
		b.Add("L", int(light))
	}
	b.Add("O", int(e.tracker.ConfidencePct()))
	body := append([]byte{0x7f, 0x10}, b.Bytes()...)

	var iv [frame.IVLen]byte
	copy(iv[:6], id[:6])
	copy(iv[6:], counter[:])

	var buf [frame.MaxSmallFrameLen + 1]byte
	n, err := frame.EncodeSecure(buf[:], frame.TypeBasicSensorOrValve, id[:4], body, iv, e.key[:])
	if err != nil {
		log.Printf("stats tx encode: %v", err)
		return
	}
	if err := e.primary.Send(buf[:n]); err != nil {
		log.Printf("stats tx send: %v", err)
	}
}

// hubNodeID derives a stable 8-byte node ID from the hub UUID.
func (e *Engine) hubNodeID() ([frame.MaxIDLen]byte, error) {
	var id [frame.MaxIDLen]byte
	clean := strings.ReplaceAll(e.hubID, "-", "")
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) < frame.MaxIDLen {
		return id, fmt.Errorf("derive node id from hub id %q", e.hubID)
	}
	copy(id[:], raw[:frame.MaxIDLen])
	// Keep the leading byte out of the reserved 0x00/0xff space.
	if id[0] == 0x00 || id[0] == 0xff {
		id[0] = 0x80
	}
	return id, nil
}

func (e *Engine) sendStatusSnapshot() {
	if e.feed == nil {
		return
	}
	e.mu.Lock()
	target := e.targetC16
	e.mu.Unlock()

	e.feed.SendStatus(status.Snapshot{
		HubID:          e.hubID,
		Mode:           e.modes.Mode().String(),
		TargetC16:      target,
		BoilerOn:       e.agg.IsBoilerOn(),
		Occupied:       e.tracker.IsLikelyOccupied(),
		FramesReceived: e.pipe.Received(),
		AuthFailures:   e.pipe.AuthFailed(),
		QueueHighWater: e.queue.HighWater(),
		ErrorCode:      int8(e.reporter.Get()),
	})
}

func (e *Engine) handleSetMode(p status.SetModePayload) {
	switch strings.ToLower(p.Mode) {
	case "frost":
		e.modes.SetFrost()
	case "warm":
		e.modes.SetWarm()
	case "bake":
		e.modes.StartBake()
	default:
		log.Printf("remote mode %q ignored", p.Mode)
		return
	}
	log.Printf("remote mode set: %s", e.modes.Mode())
}

func (e *Engine) handleSetHoliday(p status.SetHolidayPayload) {
	if p.Enabled {
		e.tracker.SetHolidayMode()
		log.Println("holiday mode enabled")
		return
	}
	e.tracker.MarkAsOccupied()
	log.Println("holiday mode cancelled")
}

// TargetC16 returns the last computed target temperature.
func (e *Engine) TargetC16() int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.targetC16
}

// Modes exposes the mode state for UI bindings.
func (e *Engine) Modes() *control.ModeState { return e.modes }

// Tracker exposes the occupancy tracker for UI bindings.
func (e *Engine) Tracker() *occupancy.Tracker { return e.tracker }

// FireMinute drives one minute of the control cadence directly; used by
// tests and catch-up after suspend.
func (e *Engine) FireMinute(hour, minute int) {
	e.minutes.Fire(hour, minute)
}

// PollOnce drains the receive queue synchronously; used by tests.
func (e *Engine) PollOnce() int {
	return e.pipe.Poll()
}
