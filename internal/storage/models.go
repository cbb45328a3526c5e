// Package storage provides SQLite persistence for the hub: node
// associations with their receive counters, by-hour statistics, the hub
// transmit counter and a log of decoded frames.
package storage

import "time"

// Node is an associated TRV/sensor node.
type Node struct {
	IDHex     string    `json:"id"` // Full 8-byte node ID as 16 hex chars
	Name      string    `json:"name,omitempty"`
	RXCounter []byte    `json:"-"` // Highest accepted 6-byte message counter
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatSlot is one persisted by-hour statistic value.
type StatSlot struct {
	SetID     uint8     `json:"set_id"`
	Hour      int       `json:"hour"`
	Value     uint8     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FrameRecord is one decoded frame kept for diagnostics.
type FrameRecord struct {
	ID         int64     `json:"id"`
	NodeIDHex  string    `json:"node_id"`
	Seq        uint8     `json:"seq"`
	Secure     bool      `json:"secure"`
	BodyLen    int       `json:"body_len"`
	StatsJSON  string    `json:"stats_json,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
