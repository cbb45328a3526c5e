package tick

import (
	"context"
	"sync"
	"time"
)

// MinuteFunc is invoked once per wall-clock minute with the current minute
// and hour. Callbacks run sequentially on one goroutine, so a frame's
// worth of per-minute work is never interleaved with the next minute's.
type MinuteFunc func(hour, minute int)

// MinuteTicker drives the per-minute control cadence: occupancy updates,
// boiler processing, and the half-hourly stats samples at minutes 29/59.
type MinuteTicker struct {
	mu       sync.Mutex
	funcs    []MinuteFunc
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewMinuteTicker returns a ticker at the standard one-minute cadence.
func NewMinuteTicker() *MinuteTicker {
	return &MinuteTicker{interval: time.Minute, stopChan: make(chan struct{})}
}

// Register adds a callback. Must be called before Start.
func (m *MinuteTicker) Register(f MinuteFunc) {
	m.mu.Lock()
	m.funcs = append(m.funcs, f)
	m.mu.Unlock()
}

// Start begins ticking on a background goroutine.
func (m *MinuteTicker) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the ticker and waits for the loop to exit.
func (m *MinuteTicker) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()
}

func (m *MinuteTicker) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			m.Fire(t.Hour(), t.Minute())
		}
	}
}

// Fire runs all callbacks for the given wall-clock position. Exposed so
// tests and catch-up paths can drive the cadence directly.
func (m *MinuteTicker) Fire(hour, minute int) {
	m.mu.Lock()
	funcs := make([]MinuteFunc, len(m.funcs))
	copy(funcs, m.funcs)
	m.mu.Unlock()

	for _, f := range funcs {
		f(hour, minute)
	}
}
