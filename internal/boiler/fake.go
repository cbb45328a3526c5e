package boiler

import "sync"

// FakeOutput records boiler transitions for tests.
type FakeOutput struct {
	mu          sync.Mutex
	on          bool
	transitions []bool
	err         error
}

// NewFakeOutput returns a FakeOutput starting deasserted.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the transition and returns the injected error, if any.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.on = on
	f.transitions = append(f.transitions, on)
	return nil
}

// On reports the last state set.
func (f *FakeOutput) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Transitions returns a copy of all recorded transitions.
func (f *FakeOutput) Transitions() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.transitions))
	copy(out, f.transitions)
	return out
}

// FailWith makes every subsequent Set return err.
func (f *FakeOutput) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}
