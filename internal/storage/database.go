package storage

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opentrv/trv-hub/internal/frame"
	"github.com/opentrv/trv-hub/internal/stats"
)

// DB wraps the SQLite database connection. It implements the frame
// package's NodeStore (association and replay-counter persistence) and
// the stats package's Persister.
type DB struct {
	conn *sql.DB

	// The RX path reads and writes counters between frame receptions;
	// serialize so a counter update completes before the next lookup.
	mu sync.Mutex
}

// Open opens or creates the SQLite database.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	schema := `
	-- Associated nodes and their receive message counters
	CREATE TABLE IF NOT EXISTS nodes (
		id_hex TEXT PRIMARY KEY,
		name TEXT,
		rx_counter BLOB NOT NULL,
		first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- By-hour statistics, one row per (set, hour)
	CREATE TABLE IF NOT EXISTS stats_hours (
		set_id INTEGER NOT NULL,
		hour INTEGER NOT NULL,
		value INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (set_id, hour)
	);

	-- Decoded frame log for diagnostics
	CREATE TABLE IF NOT EXISTS frame_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		secure INTEGER NOT NULL,
		body_len INTEGER NOT NULL,
		stats_json TEXT,
		received_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_frame_log_node ON frame_log(node_id);
	CREATE INDEX IF NOT EXISTS idx_frame_log_received ON frame_log(received_at);

	-- Hub identity and transmit counter
	CREATE TABLE IF NOT EXISTS hub_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// HubID returns the persistent hub UUID, generating one on first use.
func (db *DB) HubID() (string, error) {
	var id string
	err := db.conn.QueryRow(`SELECT value FROM hub_meta WHERE key = 'hub_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("query hub id: %w", err)
	}

	id = uuid.New().String()
	_, err = db.conn.Exec(`INSERT INTO hub_meta (key, value) VALUES ('hub_id', ?)`, id)
	if err != nil {
		return "", fmt.Errorf("store hub id: %w", err)
	}
	return id, nil
}

// AssociateNode registers (or renames) a node, keeping any existing
// receive counter so replay protection survives re-association.
func (db *DB) AssociateNode(id [frame.MaxIDLen]byte, name string) error {
	idHex := hex.EncodeToString(id[:])
	zero := make([]byte, frame.CounterLen)
	_, err := db.conn.Exec(`
		INSERT INTO nodes (id_hex, name, rx_counter) VALUES (?, ?, ?)
		ON CONFLICT(id_hex) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP`,
		idHex, name, zero)
	if err != nil {
		return fmt.Errorf("associate node %s: %w", idHex, err)
	}
	return nil
}

// GetAllNodes returns every associated node.
func (db *DB) GetAllNodes() ([]*Node, error) {
	rows, err := db.conn.Query(`
		SELECT id_hex, COALESCE(name, ''), rx_counter, first_seen, last_seen, updated_at
		FROM nodes ORDER BY id_hex`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n := &Node{}
		if err := rows.Scan(&n.IDHex, &n.Name, &n.RXCounter, &n.FirstSeen, &n.LastSeen, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// TouchNodeSeen updates a node's last-seen timestamp.
func (db *DB) TouchNodeSeen(idHex string) error {
	_, err := db.conn.Exec(`UPDATE nodes SET last_seen = CURRENT_TIMESTAMP WHERE id_hex = ?`, idHex)
	return err
}

// LookupID expands a transmitted ID prefix to the full node ID of a
// uniquely matching associated node. Part of frame.NodeStore.
func (db *DB) LookupID(prefix []byte) ([frame.MaxIDLen]byte, bool) {
	var full [frame.MaxIDLen]byte
	if len(prefix) > frame.MaxIDLen {
		return full, false
	}
	prefixHex := hex.EncodeToString(prefix)

	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`SELECT id_hex FROM nodes WHERE id_hex LIKE ?`, prefixHex+"%")
	if err != nil {
		return full, false
	}
	defer rows.Close()

	matched := ""
	for rows.Next() {
		var idHex string
		if err := rows.Scan(&idHex); err != nil {
			return full, false
		}
		if matched != "" {
			// Ambiguous prefix; refuse rather than guess.
			return full, false
		}
		matched = idHex
	}
	if matched == "" || rows.Err() != nil {
		return full, false
	}

	raw, err := hex.DecodeString(matched)
	if err != nil || len(raw) != frame.MaxIDLen {
		return full, false
	}
	copy(full[:], raw)
	return full, true
}

// LastCounter returns the highest accepted counter for the node. Part of
// frame.NodeStore.
func (db *DB) LastCounter(id [frame.MaxIDLen]byte) ([frame.CounterLen]byte, error) {
	var c [frame.CounterLen]byte
	db.mu.Lock()
	defer db.mu.Unlock()

	var blob []byte
	err := db.conn.QueryRow(`SELECT rx_counter FROM nodes WHERE id_hex = ?`,
		hex.EncodeToString(id[:])).Scan(&blob)
	if err != nil {
		return c, fmt.Errorf("query rx counter: %w", err)
	}
	copy(c[:], blob)
	return c, nil
}

// UpdateCounter records a newly accepted counter. Part of frame.NodeStore.
func (db *DB) UpdateCounter(id [frame.MaxIDLen]byte, c [frame.CounterLen]byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE nodes SET rx_counter = ?, last_seen = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id_hex = ?`, c[:], hex.EncodeToString(id[:]))
	if err != nil {
		return fmt.Errorf("update rx counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update rx counter: node %s not associated", hex.EncodeToString(id[:]))
	}
	return err
}

// NextTXCounter advances and returns the hub's own 6-byte transmit
// counter, persisting before returning so a crash can never reuse one.
func (db *DB) NextTXCounter() ([frame.CounterLen]byte, error) {
	var c [frame.CounterLen]byte
	db.mu.Lock()
	defer db.mu.Unlock()

	var stored string
	err := db.conn.QueryRow(`SELECT value FROM hub_meta WHERE key = 'tx_counter'`).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return c, fmt.Errorf("query tx counter: %w", err)
	}
	if err == nil {
		raw, derr := hex.DecodeString(stored)
		if derr != nil || len(raw) != frame.CounterLen {
			return c, fmt.Errorf("corrupt tx counter %q", stored)
		}
		copy(c[:], raw)
	}

	if err := frame.IncrementCounter(&c); err != nil {
		return c, err
	}
	_, werr := db.conn.Exec(`
		INSERT INTO hub_meta (key, value) VALUES ('tx_counter', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		hex.EncodeToString(c[:]))
	if werr != nil {
		return c, fmt.Errorf("store tx counter: %w", werr)
	}
	return c, nil
}

// StatWritten persists one by-hour slot. Part of stats.Persister.
func (db *DB) StatWritten(set stats.SetID, hour int, value uint8) error {
	_, err := db.conn.Exec(`
		INSERT INTO stats_hours (set_id, hour, value) VALUES (?, ?, ?)
		ON CONFLICT(set_id, hour) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		uint8(set), hour, value)
	if err != nil {
		return fmt.Errorf("persist stat %v hour %d: %w", set, hour, err)
	}
	return nil
}

// LoadStats restores every persisted slot into the in-memory store,
// called once at boot.
func (db *DB) LoadStats(store *stats.Store) error {
	rows, err := db.conn.Query(`SELECT set_id, hour, value FROM stats_hours`)
	if err != nil {
		return fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var set uint8
		var hour int
		var value uint8
		if err := rows.Scan(&set, &hour, &value); err != nil {
			return fmt.Errorf("scan stat: %w", err)
		}
		store.Set(stats.SetID(set), hour, value)
	}
	return rows.Err()
}

// GetStatSlots returns all persisted slots, for the inspection CLI.
func (db *DB) GetStatSlots() ([]*StatSlot, error) {
	rows, err := db.conn.Query(`SELECT set_id, hour, value, updated_at FROM stats_hours ORDER BY set_id, hour`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var slots []*StatSlot
	for rows.Next() {
		s := &StatSlot{}
		if err := rows.Scan(&s.SetID, &s.Hour, &s.Value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stat slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// LogFrame records one decoded frame.
func (db *DB) LogFrame(r *FrameRecord) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO frame_log (node_id, seq, secure, body_len, stats_json)
		VALUES (?, ?, ?, ?, ?)`,
		r.NodeIDHex, r.Seq, r.Secure, r.BodyLen, r.StatsJSON)
	if err != nil {
		return 0, fmt.Errorf("log frame: %w", err)
	}
	return res.LastInsertId()
}

// GetRecentFrames returns the most recent frames, newest first.
func (db *DB) GetRecentFrames(limit int) ([]*FrameRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, node_id, seq, secure, body_len, COALESCE(stats_json, ''), received_at
		FROM frame_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var recs []*FrameRecord
	for rows.Next() {
		r := &FrameRecord{}
		if err := rows.Scan(&r.ID, &r.NodeIDHex, &r.Seq, &r.Secure, &r.BodyLen, &r.StatsJSON, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// PruneFrameLog deletes frame records older than the cutoff and returns
// how many were removed.
func (db *DB) PruneFrameLog(olderThan time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM frame_log WHERE received_at < ?`,
		olderThan.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("prune frame log: %w", err)
	}
	return res.RowsAffected()
}

// ParseNodeID converts a 16-hex-char node ID string to its byte form.
func ParseNodeID(s string) ([frame.MaxIDLen]byte, error) {
	var id [frame.MaxIDLen]byte
	raw, err := hex.DecodeString(strings.ToLower(s))
	if err != nil || len(raw) != frame.MaxIDLen {
		return id, fmt.Errorf("invalid node id %q", s)
	}
	copy(id[:], raw)
	return id, nil
}
