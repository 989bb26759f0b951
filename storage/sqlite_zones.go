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

// SQLiteZoneStorage implements ZoneStorage using SQLite
type SQLiteZoneStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteZoneStorage creates a new SQLite-based zone risk storage
func NewSQLiteZoneStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteZoneStorage {
	return &SQLiteZoneStorage{sqlite: sqlite, logger: logger}
}

// UpsertZoneRisk writes the single risk record for a zone inside a
// transaction: create on first score, overwrite thereafter.
func (zs *SQLiteZoneStorage) UpsertZoneRisk(ctx context.Context, state *core.ZoneRiskState) error {
	tx, err := zs.sqlite.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO zone_status (zone_id, risk_score, risk_level, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(zone_id) DO UPDATE SET
			risk_score = excluded.risk_score,
			risk_level = excluded.risk_level,
			updated_at = excluded.updated_at`,
		state.ZoneID,
		state.RiskScore,
		string(state.RiskLevel),
		state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert zone risk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit zone risk: %w", err)
	}
	return nil
}

// GetZoneRisk returns the risk record for a zone.
func (zs *SQLiteZoneStorage) GetZoneRisk(ctx context.Context, zoneID int64) (*core.ZoneRiskState, error) {
	row := zs.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT zone_id, risk_score, risk_level, updated_at
		FROM zone_status WHERE zone_id = ?`, zoneID)

	state, err := scanZoneRisk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrZoneNotFound
		}
		return nil, fmt.Errorf("failed to get zone risk: %w", err)
	}
	return state, nil
}

// ListZoneRisk returns risk records for all known zones.
func (zs *SQLiteZoneStorage) ListZoneRisk(ctx context.Context) ([]core.ZoneRiskState, error) {
	rows, err := zs.sqlite.ReadDB.QueryContext(ctx, `
		SELECT zone_id, risk_score, risk_level, updated_at
		FROM zone_status ORDER BY zone_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zone risk: %w", err)
	}
	defer rows.Close()

	var states []core.ZoneRiskState
	for rows.Next() {
		state, err := scanZoneRisk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone risk: %w", err)
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

func scanZoneRisk(row rowScanner) (*core.ZoneRiskState, error) {
	var state core.ZoneRiskState
	var level, updatedAt string

	if err := row.Scan(&state.ZoneID, &state.RiskScore, &level, &updatedAt); err != nil {
		return nil, err
	}
	state.RiskLevel = core.RiskLevel(level)

	var err error
	if state.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &state, nil
}
