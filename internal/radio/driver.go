// Package radio abstracts the frame transports: a ZeroMQ concentrator
// bridge for hub deployments, a serial-attached radio module, and a mock
// for tests. Drivers carry opaque small-frame bytes; framing and crypto
// live above in the frame package.
package radio

import "log"

// Driver is the common transport contract. Implementations deliver each
// received raw frame (length byte first) to the receive callback from a
// background goroutine.
type Driver interface {
	// Start brings the transport up and begins delivering frames.
	Start() error
	// Stop halts delivery and releases the transport.
	Stop() error
	// SetReceiveCallback installs the frame sink. Must be called before
	// Start. The callback must not block; it should queue and return.
	SetReceiveCallback(cb func(raw []byte))
	// Send transmits one raw frame.
	Send(raw []byte) error
}

// NullDriver discards everything; used where a secondary radio slot is
// configured empty.
type NullDriver struct{}

func (NullDriver) Start() error                        { return nil }
func (NullDriver) Stop() error                         { return nil }
func (NullDriver) SetReceiveCallback(func(raw []byte)) {}
func (NullDriver) Send(raw []byte) error {
	log.Printf("null radio: dropping %d-byte frame", len(raw))
	return nil
}
