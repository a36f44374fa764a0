// Package db pkg/db/db.go provides SQLite persistence for meshradar.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// SQL statements for database initialization.
	createTablesSQL = `
	-- Mesh nodes, keyed by integer mesh address
	CREATE TABLE IF NOT EXISTS nodes (
		node_id INTEGER PRIMARY KEY,
		long_name TEXT,
		short_name TEXT,
		hw_model TEXT,
		role TEXT,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		latitude REAL,
		longitude REAL,
		altitude INTEGER,
		position_time TIMESTAMP,
		battery_level INTEGER,
		voltage REAL,
		channel_utilization REAL,
		air_util_tx REAL
	);

	-- One row per unique mesh transmission
	CREATE TABLE IF NOT EXISTS packets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		packet_id INTEGER NOT NULL,
		from_node INTEGER NOT NULL,
		to_node INTEGER NOT NULL,
		channel TEXT NOT NULL,
		port INTEGER NOT NULL,
		port_name TEXT NOT NULL,
		rssi INTEGER NOT NULL DEFAULT 0,
		snr REAL NOT NULL DEFAULT 0,
		hop_limit INTEGER NOT NULL DEFAULT 0,
		hop_start INTEGER NOT NULL DEFAULT 0,
		hops_taken INTEGER NOT NULL DEFAULT -1,
		encrypted BOOLEAN NOT NULL DEFAULT 0,
		decoded BOOLEAN NOT NULL DEFAULT 0,
		payload BLOB,
		decoded_json TEXT,
		received_at TIMESTAMP NOT NULL
	);

	-- Which gateways observed a transmission, with per-gateway RF metrics
	CREATE TABLE IF NOT EXISTS packet_gateways (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		packet_row_id INTEGER NOT NULL,
		gateway_id TEXT NOT NULL,
		rssi INTEGER NOT NULL DEFAULT 0,
		snr REAL NOT NULL DEFAULT 0,
		observed_at TIMESTAMP NOT NULL,
		FOREIGN KEY (packet_row_id) REFERENCES packets(id) ON DELETE CASCADE
	);

	-- Traceroute hop lists, linked to the packet that carried them
	CREATE TABLE IF NOT EXISTS traceroutes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		packet_row_id INTEGER NOT NULL,
		packet_id INTEGER NOT NULL,
		from_node INTEGER NOT NULL,
		to_node INTEGER NOT NULL,
		received_at TIMESTAMP NOT NULL,
		FOREIGN KEY (packet_row_id) REFERENCES packets(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS traceroute_hops (
		traceroute_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		node_id INTEGER NOT NULL,
		snr REAL NOT NULL DEFAULT 0,
		is_back BOOLEAN NOT NULL DEFAULT 0,
		PRIMARY KEY (traceroute_id, is_back, seq),
		FOREIGN KEY (traceroute_id) REFERENCES traceroutes(id) ON DELETE CASCADE
	);

	-- Indexes for the read-side queries
	CREATE INDEX IF NOT EXISTS idx_packets_from_packet_id
		ON packets(from_node, packet_id);
	CREATE INDEX IF NOT EXISTS idx_packets_received
		ON packets(received_at);
	CREATE INDEX IF NOT EXISTS idx_packets_port
		ON packets(port);
	CREATE INDEX IF NOT EXISTS idx_packet_gateways_row
		ON packet_gateways(packet_row_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_packet_gateways_row_gateway
		ON packet_gateways(packet_row_id, gateway_id);
	CREATE INDEX IF NOT EXISTS idx_traceroutes_packet
		ON traceroutes(packet_id);
	CREATE INDEX IF NOT EXISTS idx_traceroute_hops_tr
		ON traceroute_hops(traceroute_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_last_seen
		ON nodes(last_seen);

	PRAGMA foreign_keys=ON;
	`
)

// DB wraps the database connection and implements Service.
type DB struct {
	*sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (Service, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	// WAL lets dashboard reads proceed while the pipeline commits.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToEnableWAL, err)
	}

	db := &DB{sqlDB}
	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	_, err := db.Exec(createTablesSQL)

	return err
}

func rollbackOnError(tx *sql.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("Error rolling back transaction: %v", rbErr)
		}
	}
}
