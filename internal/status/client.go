// Package status streams hub state to a monitoring endpoint over a
// WebSocket and accepts remote mode commands back, reconnecting with
// exponential backoff when the link drops.
package status

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType defines the type of WebSocket message.
type MessageType string

const (
	// Outbound messages (to the monitoring endpoint).
	MsgTypeStatus    MessageType = "status"
	MsgTypeNodeStats MessageType = "node_stats"

	// Inbound messages (from the monitoring endpoint).
	MsgTypeSetMode    MessageType = "set_mode"
	MsgTypeSetHoliday MessageType = "set_holiday"
)

// Message is the WebSocket envelope in both directions.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Snapshot is the periodic hub status payload.
type Snapshot struct {
	HubID          string `json:"hub_id"`
	Mode           string `json:"mode"`
	TargetC16      int16  `json:"target_c16"`
	BoilerOn       bool   `json:"boiler_on"`
	Occupied       bool   `json:"occupied"`
	FramesReceived uint32 `json:"frames_received"`
	AuthFailures   uint32 `json:"auth_failures"`
	QueueHighWater int    `json:"queue_high_water"`
	ErrorCode      int8   `json:"error_code"`
}

// NodeStats is the per-node stats payload: the decoded JSON object a
// valve sent, plus reception metadata.
type NodeStats struct {
	NodeID string          `json:"node_id"`
	Stats  json.RawMessage `json:"stats"`
}

// SetModePayload is the remote mode command.
type SetModePayload struct {
	Mode string `json:"mode"` // "frost", "warm" or "bake"
}

// SetHolidayPayload is the remote holiday-mode command.
type SetHolidayPayload struct {
	Enabled bool `json:"enabled"`
}

// Config holds status client configuration.
type Config struct {
	URL    string // WebSocket URL of the monitoring endpoint
	HubID  string
	APIKey string

	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	// Reconnection settings (exponential backoff).
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	BackoffMultiplier float64
	JitterPercent     float64
}

// DefaultConfig returns the standard timeouts and backoff settings.
func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		InitialRetryDelay: 1 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.25,
	}
}

// Client maintains the status feed connection.
type Client struct {
	config    Config
	conn      *websocket.Conn
	sendChan  chan *Message
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	connected bool

	currentRetryDelay time.Duration

	onSetMode    func(SetModePayload)
	onSetHoliday func(SetHolidayPayload)
}

// New creates a status client; Start must be called to connect.
func New(config Config) *Client {
	return &Client{
		config:            config,
		sendChan:          make(chan *Message, 100),
		stopChan:          make(chan struct{}),
		currentRetryDelay: config.InitialRetryDelay,
	}
}

// SetModeCallback installs the handler for remote mode commands.
func (c *Client) SetModeCallback(cb func(SetModePayload)) {
	c.mu.Lock()
	c.onSetMode = cb
	c.mu.Unlock()
}

// SetHolidayCallback installs the handler for remote holiday commands.
func (c *Client) SetHolidayCallback(cb func(SetHolidayPayload)) {
	c.mu.Lock()
	c.onSetHoliday = cb
	c.mu.Unlock()
}

// Start begins the connection loop on a background goroutine.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("client already running")
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.connectionLoop()
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
	return nil
}

// IsConnected reports whether the feed is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendStatus queues a hub snapshot; dropped when the queue is full or
// the feed is down, status is periodic and the next one supersedes it.
func (c *Client) SendStatus(s Snapshot) {
	c.queue(MsgTypeStatus, s)
}

// SendNodeStats queues one node's decoded stats.
func (c *Client) SendNodeStats(n NodeStats) {
	c.queue(MsgTypeNodeStats, n)
}

func (c *Client) queue(t MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("status: marshal %s: %v", t, err)
		return
	}
	msg := &Message{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   data,
	}
	select {
	case c.sendChan <- msg:
	default:
		log.Printf("status: send queue full, dropping %s", t)
	}
}

func (c *Client) connectionLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			c.disconnect()
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Printf("status: connect failed: %v", err)
			if !c.waitWithBackoff() {
				return
			}
			continue
		}

		c.currentRetryDelay = c.config.InitialRetryDelay
		c.runMessageLoops()

		log.Println("status: disconnected, reconnecting")
		c.disconnect()
		if !c.waitWithBackoff() {
			return
		}
	}
}

// waitWithBackoff sleeps for the current retry delay with jitter, then
// doubles it up to the cap. Returns false if stopped while waiting.
func (c *Client) waitWithBackoff() bool {
	jitter := c.currentRetryDelay.Seconds() * c.config.JitterPercent * (rand.Float64()*2 - 1)
	delay := c.currentRetryDelay + time.Duration(jitter*float64(time.Second))

	select {
	case <-c.stopChan:
		return false
	case <-time.After(delay):
	}

	c.currentRetryDelay = time.Duration(float64(c.currentRetryDelay) * c.config.BackoffMultiplier)
	if c.currentRetryDelay > c.config.MaxRetryDelay {
		c.currentRetryDelay = c.config.MaxRetryDelay
	}
	return true
}

func (c *Client) connect() error {
	wsURL := fmt.Sprintf("%s?api_key=%s&hub_id=%s",
		c.config.URL, c.config.APIKey, c.config.HubID)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	log.Printf("status: connected to %s", c.config.URL)
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) runMessageLoops() {
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.readLoop(done)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(done)
	}()

	wg.Wait()
}

func (c *Client) readLoop(done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("status: read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("status: parse message: %v", err)
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) writeLoop(done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.stopChan:
			return

		case msg := <-c.sendChan:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("status: marshal: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("status: write error: %v", err)
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("status: ping failed: %v", err)
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	c.mu.Lock()
	onSetMode := c.onSetMode
	onSetHoliday := c.onSetHoliday
	c.mu.Unlock()

	switch msg.Type {
	case MsgTypeSetMode:
		var p SetModePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("status: bad set_mode payload: %v", err)
			return
		}
		if onSetMode != nil {
			onSetMode(p)
		}
	case MsgTypeSetHoliday:
		var p SetHolidayPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("status: bad set_holiday payload: %v", err)
			return
		}
		if onSetHoliday != nil {
			onSetHoliday(p)
		}
	default:
		log.Printf("status: unknown message type %q", msg.Type)
	}
}
