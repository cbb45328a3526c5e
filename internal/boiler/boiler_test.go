package boiler

import "testing"

func newTestAggregator() (*Aggregator, *FakeOutput) {
	out := NewFakeOutput()
	a := NewAggregator(DefaultConfig(), out)
	a.SetHubMode(true)
	return a, out
}

// After boot the boiler must stay off for more than the minimum-on time
// even with a valve calling every minute, then come on and stay on.
func TestStartupLockout(t *testing.T) {
	a, out := newTestAggregator()

	for minute := 1; minute <= DefaultMinBoilerOnMins+1; minute++ {
		a.RemoteCallForHeatRX(0x8195, 100, uint8(minute))
		a.ProcessCallsForHeat(true, true)
		if a.IsBoilerOn() {
			t.Fatalf("boiler on at minute %d, inside startup lockout", minute)
		}
	}

	// Lockout has now elapsed; the next call is accepted.
	a.RemoteCallForHeatRX(0x8195, 100, 7)
	a.ProcessCallsForHeat(true, true)
	if !a.IsBoilerOn() {
		t.Fatal("boiler still off after lockout elapsed")
	}
	if got := out.Transitions(); len(got) != 1 || !got[0] {
		t.Errorf("transitions = %v, want single ON", got)
	}
}

// An accepted call keeps the boiler on for at least the minimum run time
// after the last call, then it turns off.
func TestMinimumRunTime(t *testing.T) {
	a, out := newTestAggregator()
	a.noCallM.Store(0xff) // past the startup lockout

	a.RemoteCallForHeatRX(0x8195, 100, 0)
	for i := 0; i < DefaultMinBoilerOnMins; i++ {
		a.ProcessCallsForHeat(true, true)
		if !a.IsBoilerOn() {
			t.Fatalf("boiler off after %d of %d run minutes", i+1, DefaultMinBoilerOnMins)
		}
	}
	a.ProcessCallsForHeat(true, true)
	if a.IsBoilerOn() {
		t.Fatal("boiler still on after countdown expired")
	}
	want := []bool{true, false}
	got := out.Transitions()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

// A fresh call while running restarts the countdown and zeroes the
// off-time clock.
func TestCallWhileRunningExtends(t *testing.T) {
	a, _ := newTestAggregator()
	a.noCallM.Store(0xff)

	a.RemoteCallForHeatRX(0x8195, 100, 0)
	a.ProcessCallsForHeat(true, true)
	a.ProcessCallsForHeat(true, true)

	a.RemoteCallForHeatRX(0x2ab1, 90, 2)
	for i := 0; i < DefaultMinBoilerOnMins; i++ {
		a.ProcessCallsForHeat(true, true)
		if !a.IsBoilerOn() {
			t.Fatalf("boiler off %d minutes after renewed call", i+1)
		}
	}
}

// Once off, the off-time lockout applies again before the next call is
// honoured, enforcing a minimum off period.
func TestOffLockoutBetweenRuns(t *testing.T) {
	a, _ := newTestAggregator()
	a.noCallM.Store(0xff)

	a.RemoteCallForHeatRX(0x8195, 100, 0)
	for i := 0; i <= DefaultMinBoilerOnMins; i++ {
		a.ProcessCallsForHeat(true, true)
	}
	if a.IsBoilerOn() {
		t.Fatal("setup failed: boiler should be off")
	}

	for minute := 0; minute < DefaultMinBoilerOnMins; minute++ {
		a.RemoteCallForHeatRX(0x8195, 100, uint8(minute))
		a.ProcessCallsForHeat(true, true)
		if a.IsBoilerOn() {
			t.Fatalf("boiler back on after only %d off minutes", minute+1)
		}
	}
	a.RemoteCallForHeatRX(0x8195, 100, 0)
	a.ProcessCallsForHeat(true, true)
	if !a.IsBoilerOn() {
		t.Error("boiler did not restart after off lockout")
	}
}

func TestWeakCallIgnored(t *testing.T) {
	a, _ := newTestAggregator()
	a.noCallM.Store(0xff)

	a.RemoteCallForHeatRX(0x8195, DefaultMinValvePctReallyCalling-1, 0)
	a.ProcessCallsForHeat(true, true)
	if a.IsBoilerOn() {
		t.Error("boiler on from a below-threshold call")
	}

	a.RemoteCallForHeatRX(0x8195, DefaultMinValvePctReallyCalling, 1)
	a.ProcessCallsForHeat(true, true)
	if !a.IsBoilerOn() {
		t.Error("boiler off despite at-threshold call")
	}
}

func TestHubModeOffForcesBoilerOff(t *testing.T) {
	a, _ := newTestAggregator()
	a.noCallM.Store(0xff)

	a.RemoteCallForHeatRX(0x8195, 100, 0)
	a.ProcessCallsForHeat(true, true)
	if !a.IsBoilerOn() {
		t.Fatal("setup failed: boiler should be on")
	}

	a.ProcessCallsForHeat(false, false)
	if a.IsBoilerOn() {
		t.Error("boiler stayed on after leaving hub mode")
	}

	a.RemoteCallForHeatRX(0x8195, 100, 1)
	a.ProcessCallsForHeat(true, false)
	if a.IsBoilerOn() {
		t.Error("boiler on outside hub mode")
	}
}

// Non-minute cycles must not burn down the countdown.
func TestSubMinuteCyclesDoNotDecay(t *testing.T) {
	a, _ := newTestAggregator()
	a.noCallM.Store(0xff)

	a.RemoteCallForHeatRX(0x8195, 100, 0)
	a.ProcessCallsForHeat(true, true)

	for i := 0; i < 100; i++ {
		a.ProcessCallsForHeat(false, true)
	}
	if !a.IsBoilerOn() {
		t.Error("sub-minute cycles turned the boiler off")
	}
	for i := 0; i < DefaultMinBoilerOnMins-1; i++ {
		a.ProcessCallsForHeat(true, true)
	}
	if !a.IsBoilerOn() {
		t.Error("countdown decayed early")
	}
}
