package radio

import (
	"bytes"
	"errors"
	"testing"
)

func TestMockDriverLifecycle(t *testing.T) {
	m := NewMockDriver()
	if err := m.Send([]byte{0x04}); err == nil {
		t.Error("send on stopped driver succeeded")
	}

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(); err == nil {
		t.Error("double start succeeded")
	}

	frame := []byte{0x08, 0x4f, 0x02, 0x80, 0x81, 0x02, 0x00, 0x01, 0x23}
	if err := m.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := m.Sent()
	if len(sent) != 1 || !bytes.Equal(sent[0], frame) {
		t.Errorf("sent = %x", sent)
	}

	m.FailSendsWith(errors.New("tx busy"))
	if err := m.Send(frame); err == nil {
		t.Error("send succeeded despite injected failure")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestMockDriverInject(t *testing.T) {
	m := NewMockDriver()
	var got []byte
	m.SetReceiveCallback(func(raw []byte) { got = raw })
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	frame := []byte{0x04, 0x21, 0x02, 0x80, 0x81, 0x23}
	m.Inject(frame)
	if !bytes.Equal(got, frame) {
		t.Errorf("callback received %x, want %x", got, frame)
	}
}

func TestNullDriverDiscards(t *testing.T) {
	var d NullDriver
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Send([]byte{1, 2, 3}); err != nil {
		t.Errorf("null send: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
