package radio

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// ConcentratordConfig holds the ZeroMQ endpoints of the radio
// concentrator daemon that owns the RF hardware.
type ConcentratordConfig struct {
	EventURL string // SUB socket delivering received frames
	TxURL    string // PUSH socket accepting frames to transmit
}

// DefaultConcentratordConfig returns the standard IPC endpoints.
func DefaultConcentratordConfig() ConcentratordConfig {
	return ConcentratordConfig{
		EventURL: "ipc:///tmp/trvhub_radio_event",
		TxURL:    "ipc:///tmp/trvhub_radio_tx",
	}
}

// ConcentratordDriver bridges to the concentrator daemon over ZeroMQ.
// Each SUB message body is one raw received frame; each PUSH message is
// one frame to transmit.
type ConcentratordDriver struct {
	config    ConcentratordConfig
	eventSock zmq4.Socket
	txSock    zmq4.Socket
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	onReceive func(raw []byte)
}

// NewConcentratordDriver creates a driver for the given endpoints.
func NewConcentratordDriver(config ConcentratordConfig) *ConcentratordDriver {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConcentratordDriver{config: config, ctx: ctx, cancel: cancel}
}

// SetReceiveCallback installs the frame sink.
func (d *ConcentratordDriver) SetReceiveCallback(cb func(raw []byte)) {
	d.mu.Lock()
	d.onReceive = cb
	d.mu.Unlock()
}

// Start connects both sockets and begins the event loop.
func (d *ConcentratordDriver) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("driver already running")
	}
	d.running = true
	d.mu.Unlock()

	d.eventSock = zmq4.NewSub(d.ctx)
	if err := d.eventSock.Dial(d.config.EventURL); err != nil {
		return fmt.Errorf("connect event socket: %w", err)
	}
	if err := d.eventSock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	d.txSock = zmq4.NewPush(d.ctx)
	if err := d.txSock.Dial(d.config.TxURL); err != nil {
		d.eventSock.Close()
		return fmt.Errorf("connect tx socket: %w", err)
	}

	d.wg.Add(1)
	go d.eventLoop()

	log.Printf("concentratord radio started: event=%s, tx=%s",
		d.config.EventURL, d.config.TxURL)
	return nil
}

// Stop halts the event loop and closes both sockets.
func (d *ConcentratordDriver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	if d.eventSock != nil {
		d.eventSock.Close()
	}
	if d.txSock != nil {
		d.txSock.Close()
	}

	log.Println("concentratord radio stopped")
	return nil
}

// Send pushes one raw frame to the concentrator for transmission.
func (d *ConcentratordDriver) Send(raw []byte) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("driver not running")
	}
	d.mu.Unlock()

	if err := d.txSock.Send(zmq4.NewMsg(raw)); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (d *ConcentratordDriver) eventLoop() {
	defer d.wg.Done()

	for {
		msg, err := d.eventSock.Recv()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			log.Printf("radio event receive: %v", err)
			continue
		}
		if len(msg.Frames) == 0 || len(msg.Frames[0]) == 0 {
			continue
		}

		d.mu.Lock()
		cb := d.onReceive
		d.mu.Unlock()
		if cb != nil {
			cb(msg.Frames[0])
		}
	}
}
