package relay

import "sync"

// FakePublisher records published messages for tests.
type FakePublisher struct {
	mu     sync.Mutex
	stats  []StatsRecord
	system []SystemEvent
	err    error
	closed bool
}

// StatsRecord is one captured stats publication.
type StatsRecord struct {
	NodeID  string
	Payload []byte
}

// NewFakePublisher returns an empty recorder.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishStats(nodeID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.stats = append(f.stats, StatsRecord{NodeID: nodeID, Payload: cp})
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.system = append(f.system, event)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Stats returns all captured stats publications.
func (f *FakePublisher) Stats() []StatsRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StatsRecord, len(f.stats))
	copy(out, f.stats)
	return out
}

// System returns all captured lifecycle events.
func (f *FakePublisher) System() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SystemEvent, len(f.system))
	copy(out, f.system)
	return out
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FailWith makes subsequent publishes return err.
func (f *FakePublisher) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}
