// Package relay forwards decoded node stats upstream over MQTT, with an
// abstraction so the engine can be tested without a broker.
package relay

import "time"

// TopicStats is the topic prefix for per-node stats; the node ID in hex
// is appended.
const TopicStats = "trvhub/stats/"

// TopicSystem is the topic for hub lifecycle events.
const TopicSystem = "trvhub/system"

// Publisher forwards hub output to the broker.
type Publisher interface {
	// PublishStats sends one node's JSON stats object upstream. Failures
	// must not crash the hub; the caller logs and continues.
	PublishStats(nodeID string, payload []byte) error

	// PublishSystem sends a hub lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// SystemEvent is a hub lifecycle notification.
type SystemEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`  // e.g. "STARTUP", "SHUTDOWN"
	Reason    string    `json:"reason,omitempty"`
}
