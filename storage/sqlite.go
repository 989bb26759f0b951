// Package storage provides SQLite-backed persistence for devices, users,
// location events, zone risk state, and incidents.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite database connections.
// Separate read and write pools leverage WAL mode's concurrency model:
// unlimited concurrent readers plus exactly one writer.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// configureConnection sets up WAL mode, foreign keys, and busy timeout
// for a connection pool.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got %d)", fkEnabled)
	}

	// Avoid immediate SQLITE_BUSY under writer contention
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got %s)", journalMode)
	}

	return nil
}

// NewSQLite opens the database, configures the read/write pools, and
// creates the schema.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see one schema
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	// Single writer for WAL safety; events from one device commit in
	// submission order because all writes funnel through this pool.
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(0)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	sqlite := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := sqlite.createTables(); err != nil {
		_ = sqlite.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("SQLite storage initialized", "path", dbPath)
	return sqlite, nil
}

// createTables creates all necessary tables
func (s *SQLite) createTables() error {
	schema := `
	-- Reporting devices (ESP32 gateways, BLE anchors, RFID readers)
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		api_key TEXT NOT NULL UNIQUE,
		location_name TEXT,
		device_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_seen DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);

	-- Registered accounts: tourists and authority operators
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		full_name TEXT,
		phone TEXT,
		emergency_contact TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	-- Append-only location event log; rows are never updated or deleted
	CREATE TABLE IF NOT EXISTS location_events (
		event_id TEXT PRIMARY KEY,
		tourist_id INTEGER,
		device_id TEXT NOT NULL,
		zone_id INTEGER,
		rssi REAL,
		latitude REAL,
		longitude REAL,
		source TEXT NOT NULL,
		sos_flag INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (tourist_id) REFERENCES users(id) ON DELETE SET NULL,
		FOREIGN KEY (device_id) REFERENCES devices(device_id)
	);
	CREATE INDEX IF NOT EXISTS idx_location_events_tourist ON location_events(tourist_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_location_events_zone ON location_events(zone_id);
	CREATE INDEX IF NOT EXISTS idx_location_events_device ON location_events(device_id);
	CREATE INDEX IF NOT EXISTS idx_location_events_timestamp ON location_events(timestamp DESC);

	-- One risk record per zone, mutated in place
	CREATE TABLE IF NOT EXISTS zone_status (
		zone_id INTEGER PRIMARY KEY,
		risk_score REAL NOT NULL,
		risk_level TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Incidents; status only moves forward, rows are never deleted
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		tourist_id INTEGER,
		status TEXT NOT NULL DEFAULT 'open',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (tourist_id) REFERENCES users(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_tourist ON incidents(tourist_id);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
	CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if s.WriteDB != nil {
		if err := s.WriteDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.ReadDB != nil {
		if err := s.ReadDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
