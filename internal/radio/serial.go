package radio

import (
	"fmt"
	"io"
	"log"
	"sync"

	"go.bug.st/serial"
)

// SerialConfig holds the serial-attached radio module settings.
type SerialConfig struct {
	Port     string // e.g. /dev/ttyUSB0
	BaudRate int
}

// DefaultSerialConfig returns the standard low-rate radio link settings.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{Port: "/dev/ttyUSB0", BaudRate: 4800}
}

// SerialDriver speaks small frames over a serial-attached radio bridge.
// On the wire each frame is self-delimiting: the first byte is the frame
// length excluding itself, so the reader takes one byte then that many
// more.
type SerialDriver struct {
	config    SerialConfig
	port      serial.Port
	mu        sync.Mutex
	wg        sync.WaitGroup
	running   bool
	onReceive func(raw []byte)
}

// NewSerialDriver creates a driver for the given port settings.
func NewSerialDriver(config SerialConfig) *SerialDriver {
	return &SerialDriver{config: config}
}

// SetReceiveCallback installs the frame sink.
func (d *SerialDriver) SetReceiveCallback(cb func(raw []byte)) {
	d.mu.Lock()
	d.onReceive = cb
	d.mu.Unlock()
}

// Start opens the port and begins the read loop.
func (d *SerialDriver) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("driver already running")
	}

	mode := &serial.Mode{BaudRate: d.config.BaudRate}
	port, err := serial.Open(d.config.Port, mode)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("open serial port %s: %w", d.config.Port, err)
	}
	d.port = port
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.readLoop()

	log.Printf("serial radio started: %s @ %d baud", d.config.Port, d.config.BaudRate)
	return nil
}

// Stop closes the port, unblocking the read loop.
func (d *SerialDriver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	port := d.port
	d.mu.Unlock()

	err := port.Close()
	d.wg.Wait()

	log.Println("serial radio stopped")
	if err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}

// Send writes one raw frame to the port.
func (d *SerialDriver) Send(raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return fmt.Errorf("driver not running")
	}
	if _, err := d.port.Write(raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (d *SerialDriver) readLoop() {
	defer d.wg.Done()

	buf := make([]byte, 64)
	for {
		// Leading length byte delimits the frame.
		if _, err := io.ReadFull(d.port, buf[:1]); err != nil {
			if d.stopped() {
				return
			}
			log.Printf("serial read: %v", err)
			return
		}
		fl := int(buf[0])
		if fl < 4 || fl > 63 {
			// Out of small-frame range; byte was line noise, resync on
			// the next byte.
			continue
		}
		if _, err := io.ReadFull(d.port, buf[1:fl+1]); err != nil {
			if d.stopped() {
				return
			}
			log.Printf("serial read: %v", err)
			return
		}

		d.mu.Lock()
		cb := d.onReceive
		d.mu.Unlock()
		if cb != nil {
			frame := make([]byte, fl+1)
			copy(frame, buf[:fl+1])
			cb(frame)
		}
	}
}

func (d *SerialDriver) stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.running
}
