package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"saferoam/core"
)

// SQLiteEventStorage implements EventStorage using SQLite. The event log
// is append-only: there are no update or delete operations.
type SQLiteEventStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEventStorage creates a new SQLite-based location event storage
func NewSQLiteEventStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteEventStorage {
	return &SQLiteEventStorage{sqlite: sqlite, logger: logger}
}

// InsertEvent appends a location event.
func (es *SQLiteEventStorage) InsertEvent(ctx context.Context, event *core.LocationEvent) error {
	sosFlag := 0
	if event.SOSFlag {
		sosFlag = 1
	}

	_, err := es.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO location_events
			(event_id, tourist_id, device_id, zone_id, rssi, latitude, longitude, source, sos_flag, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		nullableInt64(event.TouristID),
		event.DeviceID,
		nullableInt64(event.ZoneID),
		nullableFloat64(event.RSSI),
		nullableFloat64(event.Latitude),
		nullableFloat64(event.Longitude),
		string(event.Source),
		sosFlag,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert location event: %w", err)
	}
	return nil
}

// LatestEventForTourist returns the most recent event for a tourist, or
// ErrEventNotFound if none exists.
func (es *SQLiteEventStorage) LatestEventForTourist(ctx context.Context, touristID int64) (*core.LocationEvent, error) {
	row := es.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT event_id, tourist_id, device_id, zone_id, rssi, latitude, longitude, source, sos_flag, timestamp
		FROM location_events
		WHERE tourist_id = ?
		ORDER BY timestamp DESC
		LIMIT 1`, touristID)

	event, err := scanLocationEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get latest event: %w", err)
	}
	return event, nil
}

// GetEvents returns a page of events, newest first.
func (es *SQLiteEventStorage) GetEvents(ctx context.Context, limit, offset int) ([]core.LocationEvent, error) {
	rows, err := es.sqlite.ReadDB.QueryContext(ctx, `
		SELECT event_id, tourist_id, device_id, zone_id, rssi, latitude, longitude, source, sos_flag, timestamp
		FROM location_events
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []core.LocationEvent
	for rows.Next() {
		event, err := scanLocationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// ZoneFeatures aggregates event count and average RSSI for a zone within
// the trailing window, as inputs for the external risk scorer.
func (es *SQLiteEventStorage) ZoneFeatures(ctx context.Context, zoneID int64, window time.Duration, now time.Time) (*core.ZoneFeatures, error) {
	cutoff := now.Add(-window).UTC().Format(time.RFC3339Nano)

	var count int64
	var avgRSSI sql.NullFloat64
	err := es.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(rssi)
		FROM location_events
		WHERE zone_id = ? AND timestamp >= ?`, zoneID, cutoff).Scan(&count, &avgRSSI)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate zone features: %w", err)
	}

	return &core.ZoneFeatures{
		ZoneID:     zoneID,
		EventCount: count,
		AvgRSSI:    avgRSSI.Float64,
	}, nil
}

func scanLocationEvent(row rowScanner) (*core.LocationEvent, error) {
	var event core.LocationEvent
	var touristID, zoneID sql.NullInt64
	var rssi, latitude, longitude sql.NullFloat64
	var source, timestamp string
	var sosFlag int

	if err := row.Scan(&event.EventID, &touristID, &event.DeviceID, &zoneID,
		&rssi, &latitude, &longitude, &source, &sosFlag, &timestamp); err != nil {
		return nil, err
	}

	if touristID.Valid {
		event.TouristID = &touristID.Int64
	}
	if zoneID.Valid {
		event.ZoneID = &zoneID.Int64
	}
	if rssi.Valid {
		event.RSSI = &rssi.Float64
	}
	if latitude.Valid {
		event.Latitude = &latitude.Float64
	}
	if longitude.Valid {
		event.Longitude = &longitude.Float64
	}
	event.Source = core.EventSource(source)
	event.SOSFlag = sosFlag != 0

	var err error
	if event.Timestamp, err = parseStoredTime(timestamp); err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	return &event, nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat64(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
