package pipeline

import (
	"errors"
	"io"
	"log"
	"sync/atomic"

	"github.com/opentrv/trv-hub/internal/boiler"
	"github.com/opentrv/trv-hub/internal/frame"
	"github.com/opentrv/trv-hub/internal/jsonstats"
)

// AuthFailureWarnThreshold is how many recent authentication or replay
// failures it takes before the pipeline raises a warning. Isolated
// failures stay silent so a hostile sender cannot fill the logs.
const AuthFailureWarnThreshold = 8

// Operator inspects one decoded frame and reports whether it handled
// some aspect of it. Operators run in declared order for every frame;
// a frame's full dispatch completes before the next frame is popped.
type Operator func(fd *frame.FrameData) bool

// Pipeline authenticates, decodes and dispatches received frames.
type Pipeline struct {
	queue  *Queue
	getKey frame.KeyFunc
	nodes  frame.NodeStore
	ops    []Operator

	fd frame.FrameData // consumer-side scratch, reused per frame

	received   atomic.Uint32
	authFailed atomic.Uint32
	rejected   atomic.Uint32

	authRecent atomic.Uint32 // rolling auth-failure count, aged by the minute tick
	warnAuth   func()
}

// New builds a pipeline over the given receive queue. Operators run in
// the order given.
func New(q *Queue, getKey frame.KeyFunc, nodes frame.NodeStore, ops ...Operator) *Pipeline {
	return &Pipeline{queue: q, getKey: getKey, nodes: nodes, ops: ops}
}

// Poll drains and dispatches every queued frame. Call from the main loop
// once per cycle. Returns the number of frames fully handled.
func (p *Pipeline) Poll() int {
	handled := 0
	var buf [frame.MaxSmallFrameLen + 1]byte
	for {
		n := p.queue.Pop(buf[:])
		if n == 0 {
			return handled
		}
		if p.Dispatch(buf[:n]) {
			handled++
		}
	}
}

// Dispatch decodes one raw frame and runs the operator list. Returns
// true iff decode succeeded and at least one operator handled the frame.
func (p *Pipeline) Dispatch(raw []byte) bool {
	p.received.Add(1)
	p.fd.Reset()

	var hdr frame.Header
	if _, err := hdr.Decode(raw); err != nil {
		p.rejected.Add(1)
		return false
	}
	if hdr.Kind() != frame.TypeBasicSensorOrValve {
		p.rejected.Add(1)
		return false
	}

	var err error
	if hdr.IsSecure() {
		err = frame.DecodeSecure(&p.fd, raw, p.getKey, p.nodes)
	} else {
		_, err = frame.DecodeNonSecure(&p.fd, raw)
	}
	if err != nil {
		if errors.Is(err, frame.ErrAuthFailed) || errors.Is(err, frame.ErrCounterReplay) {
			p.authFailed.Add(1)
			if p.authRecent.Add(1) == AuthFailureWarnThreshold {
				log.Printf("frame auth failure rate over threshold, last: %v", err)
				if p.warnAuth != nil {
					p.warnAuth()
				}
			}
		} else {
			p.rejected.Add(1)
		}
		return false
	}

	any := false
	for _, op := range p.ops {
		if op(&p.fd) {
			any = true
		}
	}
	return any
}

// Received returns the number of frames presented to Dispatch.
func (p *Pipeline) Received() uint32 { return p.received.Load() }

// AuthFailed returns the number of frames failing authentication or
// replay checks, for tamper-rate monitoring.
func (p *Pipeline) AuthFailed() uint32 { return p.authFailed.Load() }

// Rejected returns the number of frames rejected before authentication
// (bad header, wrong type, unknown sender).
func (p *Pipeline) Rejected() uint32 { return p.rejected.Load() }

// SetAuthFailureWarner registers the callback invoked when the rolling
// auth-failure count crosses AuthFailureWarnThreshold. Set before Start.
func (p *Pipeline) SetAuthFailureWarner(f func()) { p.warnAuth = f }

// TickAuthFailureRate ages the rolling auth-failure count; call once per
// minute. Halving means a sustained attack keeps warning while a brief
// burst decays to silence.
func (p *Pipeline) TickAuthFailureRate() {
	for {
		v := p.authRecent.Load()
		if v == 0 {
			return
		}
		if p.authRecent.CompareAndSwap(v, v/2) {
			return
		}
	}
}

// NullOperator never handles anything; a placeholder for unused slots.
func NullOperator(fd *frame.FrameData) bool { return false }

// SerialOperator emits the embedded JSON stats object of a valve frame
// as a text line. The body layout is: valve percent, a flag byte whose
// 0x10 bit announces a JSON payload, then the text starting with '{'.
// Text still in adjusted-for-TX form (high-bit end marker plus trailing
// CRC) is validated and restored first; a bad CRC drops the frame.
func SerialOperator(w io.Writer) Operator {
	return func(fd *frame.FrameData) bool {
		if fd.BodyLen <= 3 || fd.Body[1]&0x10 == 0 || fd.Body[2] != '{' {
			return false
		}
		text := fd.Body[2:fd.BodyLen]
		if len(text) >= 3 && text[len(text)-2]&0x80 != 0 {
			restored, err := jsonstats.CheckCRC(text)
			if err != nil {
				return false
			}
			text = restored
		}
		if _, err := w.Write(text); err != nil {
			return false
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return false
		}
		return true
	}
}

// Transmitter re-sends raw frames on a secondary radio.
type Transmitter interface {
	Send(raw []byte) error
}

// RelayOperator re-transmits the whole raw frame upstream, e.g. over the
// WAN radio of a relay node.
func RelayOperator(tx Transmitter) Operator {
	return func(fd *frame.FrameData) bool {
		if len(fd.Raw) == 0 {
			return false
		}
		if err := tx.Send(fd.Raw); err != nil {
			log.Printf("relay: %v", err)
			return false
		}
		return true
	}
}

// BoilerOperator feeds remote calls for heat to the aggregator. The
// first body byte of a valve frame is the reported open percentage;
// values above 100 mean "no valve present".
func BoilerOperator(agg *boiler.Aggregator, minuteCount func() uint8) Operator {
	return func(fd *frame.FrameData) bool {
		if fd.BodyLen < 1 {
			return false
		}
		pct := fd.Body[0]
		if pct > 100 {
			return false
		}
		id := uint16(fd.SenderID[0])<<8 | uint16(fd.SenderID[1])
		agg.RemoteCallForHeatRX(id, pct, minuteCount())
		return true
	}
}

// SetFlagOperator sets b whenever any frame reaches the operator list.
func SetFlagOperator(b *atomic.Bool) Operator {
	return func(fd *frame.FrameData) bool {
		b.Store(true)
		return true
	}
}
