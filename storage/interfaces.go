package storage

import (
	"context"
	"time"

	"saferoam/core"
)

// DeviceStorage persists reporting devices. Devices are never deleted,
// only deactivated via UpdateDeviceStatus.
type DeviceStorage interface {
	CreateDevice(ctx context.Context, device *core.Device) error
	GetDevice(ctx context.Context, deviceID string) (*core.Device, error)
	UpdateDeviceStatus(ctx context.Context, deviceID string, status core.DeviceStatus, seenAt time.Time) error
	ListDevices(ctx context.Context) ([]core.Device, error)
}

// EventStorage persists the append-only location event log.
type EventStorage interface {
	InsertEvent(ctx context.Context, event *core.LocationEvent) error
	LatestEventForTourist(ctx context.Context, touristID int64) (*core.LocationEvent, error)
	GetEvents(ctx context.Context, limit, offset int) ([]core.LocationEvent, error)
	ZoneFeatures(ctx context.Context, zoneID int64, window time.Duration, now time.Time) (*core.ZoneFeatures, error)
}

// ZoneStorage persists per-zone risk records. UpsertZoneRisk must run as
// a transactional read-modify-write so concurrent score updates for the
// same zone cannot lose writes.
type ZoneStorage interface {
	UpsertZoneRisk(ctx context.Context, state *core.ZoneRiskState) error
	GetZoneRisk(ctx context.Context, zoneID int64) (*core.ZoneRiskState, error)
	ListZoneRisk(ctx context.Context) ([]core.ZoneRiskState, error)
}

// IncidentStorage persists incidents. Status mutation happens only via
// UpdateIncidentStatus; rows are never deleted.
type IncidentStorage interface {
	CreateIncident(ctx context.Context, incident *core.Incident) error
	GetIncident(ctx context.Context, id string) (*core.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, status core.IncidentStatus, updatedAt time.Time) error
	ListIncidents(ctx context.Context) ([]core.Incident, error)
	ListIncidentsByTourist(ctx context.Context, touristID int64) ([]core.Incident, error)
	OpenIncidentForTourist(ctx context.Context, touristID int64) (*core.Incident, error)
}

// UserStorage persists tourist and authority accounts.
type UserStorage interface {
	CreateUser(ctx context.Context, user *core.User) error
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	GetUserByID(ctx context.Context, id int64) (*core.User, error)
	UpdateUserProfile(ctx context.Context, user *core.User) error
	ListTourists(ctx context.Context) ([]core.User, error)
}
