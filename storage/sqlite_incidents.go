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

// SQLiteIncidentStorage implements IncidentStorage using SQLite
type SQLiteIncidentStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStorage creates a new SQLite-based incident storage
func NewSQLiteIncidentStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteIncidentStorage {
	return &SQLiteIncidentStorage{sqlite: sqlite, logger: logger}
}

// CreateIncident persists a new incident.
func (is *SQLiteIncidentStorage) CreateIncident(ctx context.Context, incident *core.Incident) error {
	_, err := is.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO incidents (id, description, latitude, longitude, tourist_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID,
		incident.Description,
		incident.Latitude,
		incident.Longitude,
		nullableInt64(incident.TouristID),
		string(incident.Status),
		incident.CreatedAt.UTC().Format(time.RFC3339Nano),
		incident.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by id.
func (is *SQLiteIncidentStorage) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	row := is.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, description, latitude, longitude, tourist_id, status, created_at, updated_at
		FROM incidents WHERE id = ?`, id)

	incident, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return incident, nil
}

// UpdateIncidentStatus writes a validated status transition. Transition
// legality is enforced by the caller through the incident state machine;
// this method only persists the result.
func (is *SQLiteIncidentStorage) UpdateIncidentStatus(ctx context.Context, id string, status core.IncidentStatus, updatedAt time.Time) error {
	result, err := is.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE incidents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// ListIncidents returns all incidents, newest first.
func (is *SQLiteIncidentStorage) ListIncidents(ctx context.Context) ([]core.Incident, error) {
	return is.queryIncidents(ctx, `
		SELECT id, description, latitude, longitude, tourist_id, status, created_at, updated_at
		FROM incidents ORDER BY created_at DESC`)
}

// ListIncidentsByTourist returns a tourist's incidents, newest first.
func (is *SQLiteIncidentStorage) ListIncidentsByTourist(ctx context.Context, touristID int64) ([]core.Incident, error) {
	return is.queryIncidents(ctx, `
		SELECT id, description, latitude, longitude, tourist_id, status, created_at, updated_at
		FROM incidents WHERE tourist_id = ? ORDER BY created_at DESC`, touristID)
}

// OpenIncidentForTourist returns the tourist's most recent non-resolved
// incident, or ErrIncidentNotFound if none is open. Used to de-duplicate
// SOS auto-creation.
func (is *SQLiteIncidentStorage) OpenIncidentForTourist(ctx context.Context, touristID int64) (*core.Incident, error) {
	row := is.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, description, latitude, longitude, tourist_id, status, created_at, updated_at
		FROM incidents
		WHERE tourist_id = ? AND status != ?
		ORDER BY created_at DESC
		LIMIT 1`, touristID, string(core.IncidentStatusResolved))

	incident, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get open incident: %w", err)
	}
	return incident, nil
}

func (is *SQLiteIncidentStorage) queryIncidents(ctx context.Context, query string, args ...interface{}) ([]core.Incident, error) {
	rows, err := is.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []core.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, *incident)
	}
	return incidents, rows.Err()
}

func scanIncident(row rowScanner) (*core.Incident, error) {
	var incident core.Incident
	var touristID sql.NullInt64
	var status, createdAt, updatedAt string

	if err := row.Scan(&incident.ID, &incident.Description, &incident.Latitude,
		&incident.Longitude, &touristID, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if touristID.Valid {
		incident.TouristID = &touristID.Int64
	}
	incident.Status = core.IncidentStatus(status)

	var err error
	if incident.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if incident.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &incident, nil
}
