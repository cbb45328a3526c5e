package engine

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opentrv/trv-hub/internal/boiler"
	"github.com/opentrv/trv-hub/internal/control"
	"github.com/opentrv/trv-hub/internal/frame"
	"github.com/opentrv/trv-hub/internal/radio"
	"github.com/opentrv/trv-hub/internal/relay"
	"github.com/opentrv/trv-hub/internal/stats"
	"github.com/opentrv/trv-hub/internal/status"
)

var nodeID = [8]byte{0xaa, 0xaa, 0xaa, 0xaa, 0x55, 0x55, 0x55, 0x55}

const zeroKeyHex = "00000000000000000000000000000000"

type testFixture struct {
	eng     *Engine
	rf      *radio.MockDriver
	pub     *relay.FakePublisher
	out     *boiler.FakeOutput
	light   uint8
	lightOK bool
	tempC16 int16
	tempOK  bool
}

func setupTestEngine(t *testing.T) *testFixture {
	t.Helper()
	dir, err := os.MkdirTemp("", "trvhub-engine-*")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	f := &testFixture{
		rf:  radio.NewMockDriver(),
		pub: relay.NewFakePublisher(),
		out: boiler.NewFakeOutput(),
	}

	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(dir, "hub.db")
	cfg.KeyHex = zeroKeyHex
	cfg.StatsTXInterval = 0

	eng, err := New(cfg, Options{
		Primary:   f.rf,
		Publisher: f.pub,
		Output:    f.out,
		Sensors: Sensors{
			ReadLight:   func() (uint8, bool) { return f.light, f.lightOK },
			ReadTempC16: func() (int16, bool) { return f.tempC16, f.tempOK },
		},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { eng.Stop() })

	if err := eng.db.AssociateNode(nodeID, "bedroom"); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.eng = eng
	return f
}

func encodeNodeFrame(t *testing.T, counter [6]byte, pct uint8, stats string) []byte {
	t.Helper()
	return encodeNodeFrameFlags(t, counter, pct, 0x10, stats)
}

func encodeNodeFrameFlags(t *testing.T, counter [6]byte, pct, flags uint8, stats string) []byte {
	t.Helper()
	body := append([]byte{pct, flags}, stats...)
	var iv [12]byte
	copy(iv[:6], nodeID[:6])
	copy(iv[6:], counter[:])
	var buf [64]byte
	key := make([]byte, 16)
	n, err := frame.EncodeSecure(buf[:], frame.TypeBasicSensorOrValve, nodeID[:4], body, iv, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf[:n]
}

func TestReceivedStatsArePublishedAndLogged(t *testing.T) {
	f := setupTestEngine(t)

	f.rf.Inject(encodeNodeFrame(t, [6]byte{0, 0, 0, 0, 0, 1}, 30, `{"T|C16":295,"L":142}`))
	if got := f.eng.PollOnce(); got != 1 {
		t.Fatalf("poll handled %d frames, want 1", got)
	}

	stats := f.pub.Stats()
	if len(stats) != 1 {
		t.Fatalf("published %d stats messages, want 1", len(stats))
	}
	if stats[0].NodeID != hex.EncodeToString(nodeID[:]) {
		t.Errorf("node id = %s", stats[0].NodeID)
	}
	if string(stats[0].Payload) != `{"T|C16":295,"L":142}` {
		t.Errorf("payload = %s", stats[0].Payload)
	}

	recs, err := f.eng.db.GetRecentFrames(5)
	if err != nil {
		t.Fatalf("recent frames: %v", err)
	}
	if len(recs) != 1 || !recs[0].Secure {
		t.Fatalf("frame log = %+v", recs)
	}
}

// The body's second byte is a flag byte; the JSON bit must be masked, not
// compared, so senders setting additional flags still get forwarded.
func TestCompositeFlagByteStatsStillForwarded(t *testing.T) {
	f := setupTestEngine(t)

	f.rf.Inject(encodeNodeFrameFlags(t, [6]byte{0, 0, 0, 0, 0, 1}, 30, 0x30, `{"L":7}`))
	f.eng.PollOnce()

	stats := f.pub.Stats()
	if len(stats) != 1 {
		t.Fatalf("published %d stats messages, want 1", len(stats))
	}
	if string(stats[0].Payload) != `{"L":7}` {
		t.Errorf("payload = %s", stats[0].Payload)
	}
}

func TestReplayedFrameNotPublishedTwice(t *testing.T) {
	f := setupTestEngine(t)

	raw := encodeNodeFrame(t, [6]byte{0, 0, 0, 0, 0, 7}, 30, `{"L":9}`)
	f.rf.Inject(raw)
	f.rf.Inject(raw)
	f.eng.PollOnce()

	if got := len(f.pub.Stats()); got != 1 {
		t.Errorf("published %d messages for one frame plus its replay", got)
	}
}

func TestCallForHeatDrivesBoilerAfterLockout(t *testing.T) {
	f := setupTestEngine(t)

	// Burn through the startup lockout.
	for m := 0; m <= boiler.DefaultMinBoilerOnMins; m++ {
		f.eng.FireMinute(10, m)
	}
	if f.out.On() {
		t.Fatal("boiler on during startup lockout")
	}

	f.rf.Inject(encodeNodeFrame(t, [6]byte{0, 0, 0, 0, 0, 1}, 95, `{}`))
	f.eng.PollOnce()
	f.eng.FireMinute(10, boiler.DefaultMinBoilerOnMins+1)
	if !f.out.On() {
		t.Error("boiler not driven by remote call for heat")
	}
}

func TestMinuteCadenceComputesTarget(t *testing.T) {
	f := setupTestEngine(t)
	p := control.DefaultParams()

	// Frost mode at boot.
	f.eng.FireMinute(9, 1)
	if got := f.eng.TargetC16(); got != p.FrostC16 {
		t.Fatalf("boot target = %d, want frost %d", got, p.FrostC16)
	}

	// Warm mode with no occupancy: short-term vacant, eco setback.
	f.eng.Modes().SetWarm()
	f.eng.FireMinute(9, 2)
	want := p.WarmC16 - int16(p.SetbackEcoC)*control.C16PerDegree
	if got := f.eng.TargetC16(); got != want {
		t.Fatalf("vacant warm target = %d, want %d", got, want)
	}

	// A light-on event raises occupancy and with it the target.
	f.lightOK = true
	f.light = 2
	for m := 3; m < 20; m++ {
		f.eng.FireMinute(9, m)
	}
	f.light = 90
	f.eng.FireMinute(9, 20)
	if !f.eng.Tracker().IsLikelyOccupied() {
		t.Fatal("lights-on did not register occupancy")
	}
	if got := f.eng.TargetC16(); got != p.WarmC16 {
		t.Errorf("occupied target = %d, want %d", got, p.WarmC16)
	}
}

func TestHalfHourSamplesAccumulateStats(t *testing.T) {
	f := setupTestEngine(t)
	f.lightOK = true
	f.light = 120
	f.tempOK = true
	f.tempC16 = 18 * 16

	f.eng.FireMinute(14, 29)
	f.eng.FireMinute(14, 59)

	// The raw ambient-light slot for hour 14 now holds the average.
	if got := f.eng.store.Get(stats.SetAmbLight, 14); got != 120 {
		t.Errorf("stored light = %d, want 120", got)
	}
}

func TestStatsTXSendsSecureFrame(t *testing.T) {
	f := setupTestEngine(t)
	f.eng.config.StatsTXInterval = time.Minute
	f.tempOK = true
	f.tempC16 = 300

	f.eng.FireMinute(11, 5)

	sent := f.rf.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	var hdr frame.Header
	if _, err := hdr.Decode(sent[0]); err != nil {
		t.Fatalf("sent frame header: %v", err)
	}
	if !hdr.IsSecure() || hdr.Kind() != frame.TypeBasicSensorOrValve {
		t.Errorf("sent frame type %#x", hdr.TypeByte)
	}
}

func TestHolidayCommandSuppressesWeakOccupancy(t *testing.T) {
	f := setupTestEngine(t)
	f.eng.handleSetHoliday(status.SetHolidayPayload{Enabled: true})
	if !f.eng.Tracker().InHolidayMode() {
		t.Fatal("holiday mode not set")
	}
	f.eng.handleSetHoliday(status.SetHolidayPayload{Enabled: false})
	if f.eng.Tracker().InHolidayMode() {
		t.Error("holiday mode not cancelled")
	}
	if !f.eng.Tracker().IsLikelyOccupied() {
		t.Error("cancelling holiday should mark occupied")
	}
}
