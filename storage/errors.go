package storage

import "errors"

// Storage error constants
var (
	// ErrDeviceNotFound is returned when a device is not found
	ErrDeviceNotFound = errors.New("device not found")

	// ErrEventNotFound is returned when a location event is not found
	ErrEventNotFound = errors.New("location event not found")

	// ErrZoneNotFound is returned when a zone has no risk record
	ErrZoneNotFound = errors.New("zone not found")

	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateDevice is returned when provisioning a device id that already exists
	ErrDuplicateDevice = errors.New("device already exists")

	// ErrDuplicateEmail is returned when registering an email that is already taken
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
