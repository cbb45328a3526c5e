package frame

import (
	"bytes"
	"errors"
	"testing"
)

// memNodeStore is an in-memory NodeStore for tests.
type memNodeStore struct {
	id      [MaxIDLen]byte
	counter [CounterLen]byte
}

func (m *memNodeStore) LookupID(prefix []byte) ([MaxIDLen]byte, bool) {
	if !bytes.HasPrefix(m.id[:], prefix) {
		return [MaxIDLen]byte{}, false
	}
	return m.id, true
}

func (m *memNodeStore) LastCounter(id [MaxIDLen]byte) ([CounterLen]byte, error) {
	return m.counter, nil
}

func (m *memNodeStore) UpdateCounter(id [MaxIDLen]byte, c [CounterLen]byte) error {
	m.counter = c
	return nil
}

func zeroKey() ([KeyLen]byte, bool) { return [KeyLen]byte{}, true }

func TestHeaderDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"too short", []byte{0x04, 0x4f, 0x00}},
		{"fl below minimum", []byte{0x03, 0x4f, 0x00, 0x00, 0x23}},
		{"fl above small-frame limit", append([]byte{64, 0x4f, 0x00, 0x00}, make([]byte, 61)...)},
		{"truncated frame", []byte{0x08, 0x4f, 0x02, 0x80, 0x81, 0x02}},
		{"reserved type zero", []byte{0x04, 0x00, 0x00, 0x00, 0x23}},
		{"invalid high type", []byte{0x04, 0x7f, 0x00, 0x00, 0x23}},
		{"id length over 8", []byte{0x04, 0x4f, 0x09, 0x00, 0x23}},
		{"body overruns trailer", []byte{0x04, 0x4f, 0x00, 0x02, 0x23}},
		// Trailer byte of 0x00 must be rejected: an all-zero buffer can
		// never parse as a frame.
		{"zero CRC trailer", []byte{0x08, 0x4f, 0x02, 0x80, 0x81, 0x02, 0x00, 0x01, 0x00}},
		{"ones CRC trailer", []byte{0x08, 0x4f, 0x02, 0x80, 0x81, 0x02, 0x00, 0x01, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Header
			if n, err := h.Decode(tt.buf); err == nil {
				t.Errorf("Decode accepted bad header, returned %d", n)
			}
		})
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	id := []byte{0x80, 0x81}
	body := []byte{0x00, 0x01}

	var buf [MaxSmallFrameLen + 1]byte
	var h Header
	hl, err := h.Encode(buf[:], TypeBasicSensorOrValve, false, 0, id, len(body), NonSecureTrailerLen)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if hl != 6 {
		t.Errorf("header length: got %d, want 6", hl)
	}
	if h.FrameLen != 8 {
		t.Errorf("fl: got %d, want 8", h.FrameLen)
	}
	copy(buf[hl:], body)
	buf[h.FrameLen] = computeNonSecureCRC(buf[:hl+len(body)])

	var dec Header
	n, err := dec.Decode(buf[:h.FrameLen+1])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != hl {
		t.Errorf("decoded header length: got %d, want %d", n, hl)
	}
	if dec.Kind() != TypeBasicSensorOrValve || dec.IsSecure() {
		t.Errorf("type mismatch: 0x%02x", dec.TypeByte)
	}
	if dec.IDLen() != 2 || dec.ID[0] != 0x80 || dec.ID[1] != 0x81 {
		t.Errorf("ID mismatch: %v", dec.ID)
	}
	if dec.BodyLen != 2 || dec.TrailerLen() != 1 {
		t.Errorf("bl/tl mismatch: bl=%d tl=%d", dec.BodyLen, dec.TrailerLen())
	}
}

func TestNonSecureRoundTrip(t *testing.T) {
	var buf [MaxSmallFrameLen + 1]byte
	id := []byte{0x80, 0x81}
	body := []byte{0x7f, 0x11}

	n, err := EncodeNonSecure(buf[:], TypeBasicSensorOrValve, 3, id, body)
	if err != nil {
		t.Fatalf("EncodeNonSecure failed: %v", err)
	}

	var fd FrameData
	m, err := DecodeNonSecure(&fd, buf[:n])
	if err != nil {
		t.Fatalf("DecodeNonSecure failed: %v", err)
	}
	if m != n {
		t.Errorf("consumed %d bytes, want %d", m, n)
	}
	if fd.BodyLen != 2 || !bytes.Equal(fd.Body[:2], body) {
		t.Errorf("body mismatch: %v", fd.Body[:fd.BodyLen])
	}
	if fd.Header.Seq() != 3 {
		t.Errorf("seq: got %d, want 3", fd.Header.Seq())
	}

	// A corrupted body must fail the CRC.
	buf[5] ^= 0x01
	if _, err := DecodeNonSecure(&fd, buf[:n]); !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("corrupt body: got %v, want ErrCRCMismatch", err)
	}
}

// TestSecureEncodeVector checks the published 'O' frame vector: all-zeros
// key, node ID aa aa aa aa 55 55 55 55 (4-byte prefix on air), message
// counter 00 00 2a 00 03 19, and an 8-byte valve/stats body.
func TestSecureEncodeVector(t *testing.T) {
	key := make([]byte, KeyLen)
	fullID := [MaxIDLen]byte{0xaa, 0xaa, 0xaa, 0xaa, 0x55, 0x55, 0x55, 0x55}
	counter := [CounterLen]byte{0x00, 0x00, 0x2a, 0x00, 0x03, 0x19}
	body := []byte{0x64, 0x11, 0x7b, 0x22, 0x62, 0x22, 0x3a, 0x31}

	var iv [IVLen]byte
	copy(iv[:CounterLen], fullID[:CounterLen])
	copy(iv[CounterLen:], counter[:])

	var buf [MaxSmallFrameLen + 1]byte
	n, err := EncodeSecure(buf[:], TypeBasicSensorOrValve, fullID[:4], body, iv, key)
	if err != nil {
		t.Fatalf("EncodeSecure failed: %v", err)
	}
	if n != 63 {
		t.Fatalf("frame size: got %d, want 63", n)
	}
	if buf[0] != 0x3e {
		t.Errorf("fl: got 0x%02x, want 0x3e", buf[0])
	}
	if buf[1] != 0xcf {
		t.Errorf("type: got 0x%02x, want 0xcf", buf[1])
	}
	if buf[2] != 0x94 {
		t.Errorf("seqIl: got 0x%02x, want 0x94", buf[2])
	}
	if buf[7] != 0x20 {
		t.Errorf("bl: got 0x%02x, want 0x20", buf[7])
	}
	if !bytes.Equal(buf[56:62], counter[:]) {
		t.Errorf("trailer counter mismatch: % 02x", buf[56:62])
	}
	if buf[62] != 0x80 {
		t.Errorf("indicator: got 0x%02x, want 0x80", buf[62])
	}

	// The same frame must decode back to the original plaintext.
	nodes := &memNodeStore{id: fullID}
	var fd FrameData
	if err := DecodeSecure(&fd, buf[:n], zeroKey, nodes); err != nil {
		t.Fatalf("DecodeSecure failed: %v", err)
	}
	if fd.BodyLen != len(body) || !bytes.Equal(fd.Body[:fd.BodyLen], body) {
		t.Errorf("plaintext mismatch: % 02x", fd.Body[:fd.BodyLen])
	}
	if fd.SenderID != fullID {
		t.Errorf("sender ID mismatch: % 02x", fd.SenderID)
	}
	if nodes.counter != counter {
		t.Errorf("counter not updated: % 02x", nodes.counter)
	}
}

func TestSecureReplayRejected(t *testing.T) {
	key := make([]byte, KeyLen)
	fullID := [MaxIDLen]byte{0xaa, 0xaa, 0xaa, 0xaa, 0x55, 0x55, 0x55, 0x55}
	counter := [CounterLen]byte{0x00, 0x00, 0x2a, 0x00, 0x03, 0x19}
	body := []byte{0x64, 0x11}

	var iv [IVLen]byte
	copy(iv[:CounterLen], fullID[:CounterLen])
	copy(iv[CounterLen:], counter[:])

	var buf [MaxSmallFrameLen + 1]byte
	n, err := EncodeSecure(buf[:], TypeBasicSensorOrValve, fullID[:4], body, iv, key)
	if err != nil {
		t.Fatalf("EncodeSecure failed: %v", err)
	}

	nodes := &memNodeStore{id: fullID}
	var fd FrameData
	if err := DecodeSecure(&fd, buf[:n], zeroKey, nodes); err != nil {
		t.Fatalf("first decode failed: %v", err)
	}
	// Exact replay must be rejected once the counter has advanced.
	fd.Reset()
	if err := DecodeSecure(&fd, buf[:n], zeroKey, nodes); !errors.Is(err, ErrCounterReplay) {
		t.Errorf("replay: got %v, want ErrCounterReplay", err)
	}
	// And so must any frame with a lower counter.
	nodes.counter = [CounterLen]byte{0x00, 0x00, 0x2a, 0x00, 0x03, 0x20}
	fd.Reset()
	if err := DecodeSecure(&fd, buf[:n], zeroKey, nodes); !errors.Is(err, ErrCounterReplay) {
		t.Errorf("stale counter: got %v, want ErrCounterReplay", err)
	}
}

func TestSecureTamperDetected(t *testing.T) {
	key := make([]byte, KeyLen)
	fullID := [MaxIDLen]byte{0xaa, 0xaa, 0xaa, 0xaa, 0x55, 0x55, 0x55, 0x55}
	counter := [CounterLen]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	body := []byte("tamper-me")

	var iv [IVLen]byte
	copy(iv[:CounterLen], fullID[:CounterLen])
	copy(iv[CounterLen:], counter[:])

	var clean [MaxSmallFrameLen + 1]byte
	n, err := EncodeSecure(clean[:], TypeBasicSensorOrValve, fullID[:4], body, iv, key)
	if err != nil {
		t.Fatalf("EncodeSecure failed: %v", err)
	}

	// Flipping any single bit of the ciphertext, the tag, or the
	// authenticated header must cause an authentication failure.
	hl := 4 + 4
	targets := []int{hl, hl + 15, hl + SecureBodySize, hl + SecureBodySize + 15, 1, 3}
	for _, pos := range targets {
		buf := make([]byte, n)
		copy(buf, clean[:n])
		buf[pos] ^= 0x01

		nodes := &memNodeStore{id: fullID}
		var fd FrameData
		err := DecodeSecure(&fd, buf, zeroKey, nodes)
		if err == nil {
			t.Errorf("bit flip at %d accepted", pos)
			continue
		}
		// Whatever the failure, the counter must not advance.
		if nodes.counter != ([CounterLen]byte{}) {
			t.Errorf("bit flip at %d advanced the counter", pos)
		}
	}
}

func TestSecureBodyTooLong(t *testing.T) {
	key := make([]byte, KeyLen)
	var iv [IVLen]byte
	iv[IVLen-1] = 1
	var buf [MaxSmallFrameLen + 1]byte
	body := make([]byte, MaxSecureBodyLen+1)
	if _, err := EncodeSecure(buf[:], TypeBasicSensorOrValve, []byte{0xaa, 0xaa, 0xaa, 0xaa}, body, iv, key); !errors.Is(err, ErrBodyTooLong) {
		t.Errorf("got %v, want ErrBodyTooLong", err)
	}
}

func TestSecureAliveNoBody(t *testing.T) {
	key := make([]byte, KeyLen)
	fullID := [MaxIDLen]byte{0xaa, 0xaa, 0xaa, 0xaa, 0x55, 0x55, 0x55, 0x55}
	counter := [CounterLen]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x07}

	var iv [IVLen]byte
	copy(iv[:CounterLen], fullID[:CounterLen])
	copy(iv[CounterLen:], counter[:])

	var buf [MaxSmallFrameLen + 1]byte
	n, err := EncodeSecure(buf[:], TypeAlive, fullID[:4], nil, iv, key)
	if err != nil {
		t.Fatalf("EncodeSecure failed: %v", err)
	}

	nodes := &memNodeStore{id: fullID}
	var fd FrameData
	if err := DecodeSecure(&fd, buf[:n], zeroKey, nodes); err != nil {
		t.Fatalf("DecodeSecure failed: %v", err)
	}
	if fd.BodyLen != 0 {
		t.Errorf("alive frame carried body: %d bytes", fd.BodyLen)
	}
	if fd.Header.Kind() != TypeAlive {
		t.Errorf("kind: got 0x%02x, want '!'", uint8(fd.Header.Kind()))
	}
}

func TestCounterOrder(t *testing.T) {
	a := [CounterLen]byte{0, 0, 0, 0, 0, 1}
	b := [CounterLen]byte{0, 0, 0, 0, 0, 2}
	c := [CounterLen]byte{0, 0, 1, 0, 0, 0}
	if !CounterGreater(b, a) || CounterGreater(a, b) {
		t.Error("adjacent counter ordering wrong")
	}
	if !CounterGreater(c, b) {
		t.Error("high-byte counter ordering wrong")
	}
	if CounterGreater(a, a) {
		t.Error("counter compared greater than itself")
	}
}

func TestIncrementCounter(t *testing.T) {
	c := [CounterLen]byte{0, 0, 0, 0, 0, 0xff}
	if err := IncrementCounter(&c); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	want := [CounterLen]byte{0, 0, 0, 0, 1, 0}
	if c != want {
		t.Errorf("carry: got % 02x, want % 02x", c, want)
	}

	exhausted := [CounterLen]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if err := IncrementCounter(&exhausted); !errors.Is(err, ErrCounterOverflow) {
		t.Errorf("got %v, want ErrCounterOverflow", err)
	}
}
