package radio

import (
	"fmt"
	"sync"
)

// MockDriver is an in-memory Driver for tests: sent frames are recorded
// and received frames are injected directly.
type MockDriver struct {
	mu        sync.Mutex
	running   bool
	sent      [][]byte
	sendErr   error
	onReceive func(raw []byte)
}

// NewMockDriver returns a stopped mock.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("driver already running")
	}
	m.running = true
	return nil
}

func (m *MockDriver) Stop() error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) SetReceiveCallback(cb func(raw []byte)) {
	m.mu.Lock()
	m.onReceive = cb
	m.mu.Unlock()
}

func (m *MockDriver) Send(raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return fmt.Errorf("driver not running")
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.sent = append(m.sent, cp)
	return nil
}

// Inject delivers a frame to the receive callback as if it arrived over
// the air.
func (m *MockDriver) Inject(raw []byte) {
	m.mu.Lock()
	cb := m.onReceive
	m.mu.Unlock()
	if cb != nil {
		cb(raw)
	}
}

// Sent returns copies of all transmitted frames.
func (m *MockDriver) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// FailSendsWith makes subsequent Send calls return err.
func (m *MockDriver) FailSendsWith(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}
