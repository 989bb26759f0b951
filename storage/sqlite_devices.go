package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"saferoam/core"
)

// SQLiteDeviceStorage implements DeviceStorage using SQLite
type SQLiteDeviceStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteDeviceStorage creates a new SQLite-based device storage
func NewSQLiteDeviceStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteDeviceStorage {
	return &SQLiteDeviceStorage{sqlite: sqlite, logger: logger}
}

// CreateDevice provisions a new device record.
func (ds *SQLiteDeviceStorage) CreateDevice(ctx context.Context, device *core.Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.LastSeen.IsZero() {
		device.LastSeen = now
	}
	if device.Status == "" {
		device.Status = core.DeviceStatusActive
	}

	_, err := ds.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO devices (device_id, api_key, location_name, device_type, status, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		device.DeviceID,
		device.APIKey,
		nullIfEmpty(device.LocationName),
		device.DeviceType,
		string(device.Status),
		device.LastSeen.Format(time.RFC3339Nano),
		device.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateDevice
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	ds.logger.Infow("Device provisioned",
		"device_id", device.DeviceID,
		"device_type", device.DeviceType)
	return nil
}

// GetDevice retrieves a device by id.
func (ds *SQLiteDeviceStorage) GetDevice(ctx context.Context, deviceID string) (*core.Device, error) {
	row := ds.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT device_id, api_key, location_name, device_type, status, last_seen, created_at
		FROM devices WHERE device_id = ?`, deviceID)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// UpdateDeviceStatus applies a heartbeat: caller-supplied status plus a
// fresh last_seen stamp.
func (ds *SQLiteDeviceStorage) UpdateDeviceStatus(ctx context.Context, deviceID string, status core.DeviceStatus, seenAt time.Time) error {
	result, err := ds.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE devices SET status = ?, last_seen = ? WHERE device_id = ?`,
		string(status), seenAt.UTC().Format(time.RFC3339Nano), deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ListDevices returns all provisioned devices, newest first.
func (ds *SQLiteDeviceStorage) ListDevices(ctx context.Context) ([]core.Device, error) {
	rows, err := ds.sqlite.ReadDB.QueryContext(ctx, `
		SELECT device_id, api_key, location_name, device_type, status, last_seen, created_at
		FROM devices ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []core.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*core.Device, error) {
	var device core.Device
	var locationName sql.NullString
	var status, lastSeen, createdAt string

	if err := row.Scan(&device.DeviceID, &device.APIKey, &locationName,
		&device.DeviceType, &status, &lastSeen, &createdAt); err != nil {
		return nil, err
	}

	device.LocationName = locationName.String
	device.Status = core.DeviceStatus(status)

	var err error
	if device.LastSeen, err = parseStoredTime(lastSeen); err != nil {
		return nil, fmt.Errorf("failed to parse last_seen: %w", err)
	}
	if device.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &device, nil
}

// parseStoredTime accepts the RFC3339Nano format written by this package.
func parseStoredTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Parse(time.RFC3339, value)
	}
	return t, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
