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

// SQLiteUserStorage implements UserStorage using SQLite
type SQLiteUserStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteUserStorage creates a new SQLite-based user storage
func NewSQLiteUserStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteUserStorage {
	return &SQLiteUserStorage{sqlite: sqlite, logger: logger}
}

// CreateUser creates a new account. The password must already be hashed
// by the auth service.
func (us *SQLiteUserStorage) CreateUser(ctx context.Context, user *core.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	result, err := us.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, role, full_name, phone, emergency_contact, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		nullIfEmpty(user.FullName),
		nullIfEmpty(user.Phone),
		nullIfEmpty(user.EmergencyContact),
		user.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUserByEmail retrieves a user by email.
func (us *SQLiteUserStorage) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	row := us.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, full_name, phone, emergency_contact, created_at
		FROM users WHERE email = ?`, email)
	return us.scanUserRow(row)
}

// GetUserByID retrieves a user by id.
func (us *SQLiteUserStorage) GetUserByID(ctx context.Context, id int64) (*core.User, error) {
	row := us.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, full_name, phone, emergency_contact, created_at
		FROM users WHERE id = ?`, id)
	return us.scanUserRow(row)
}

// UpdateUserProfile persists the mutable profile fields.
func (us *SQLiteUserStorage) UpdateUserProfile(ctx context.Context, user *core.User) error {
	result, err := us.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE users SET full_name = ?, phone = ?, emergency_contact = ? WHERE id = ?`,
		nullIfEmpty(user.FullName),
		nullIfEmpty(user.Phone),
		nullIfEmpty(user.EmergencyContact),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListTourists returns all tourist accounts.
func (us *SQLiteUserStorage) ListTourists(ctx context.Context) ([]core.User, error) {
	rows, err := us.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, email, password_hash, role, full_name, phone, emergency_contact, created_at
		FROM users WHERE role = ? ORDER BY id`, string(core.RoleTourist))
	if err != nil {
		return nil, fmt.Errorf("failed to list tourists: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (us *SQLiteUserStorage) scanUserRow(row *sql.Row) (*core.User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*core.User, error) {
	var user core.User
	var role, createdAt string
	var fullName, phone, emergencyContact sql.NullString

	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &role,
		&fullName, &phone, &emergencyContact, &createdAt); err != nil {
		return nil, err
	}

	user.Role = core.Role(role)
	user.FullName = fullName.String
	user.Phone = phone.String
	user.EmergencyContact = emergencyContact.String

	var err error
	if user.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &user, nil
}
