// Package core contains the domain model for the SafeRoam tourist safety
// monitoring system: reporting devices, location events, zone risk state,
// incidents, and the derived presence projection.
package core

import (
	"time"
)

// DeviceStatus represents the operational status of a reporting device.
type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusInactive DeviceStatus = "inactive"
)

// IsValid checks if the device status is a recognized value.
func (s DeviceStatus) IsValid() bool {
	return s == DeviceStatusActive || s == DeviceStatusInactive
}

// Device is a field reporting device (ESP32 gateway, BLE anchor, RFID
// reader). Devices are provisioned with an API key, never deleted, only
// deactivated. LastSeen is refreshed by heartbeat calls.
type Device struct {
	DeviceID     string       `json:"device_id"`
	APIKey       string       `json:"-"`
	LocationName string       `json:"location_name,omitempty"`
	DeviceType   string       `json:"device_type"`
	Status       DeviceStatus `json:"status"`
	LastSeen     time.Time    `json:"last_seen"`
	CreatedAt    time.Time    `json:"created_at"`
}

// EventSource identifies the positioning technology that produced a
// location event.
type EventSource string

const (
	SourceGNSS EventSource = "GNSS"
	SourceBLE  EventSource = "BLE"
	SourceRFID EventSource = "RFID"
	SourceSOS  EventSource = "SOS"
)

// IsValid checks if the event source is a recognized kind.
func (s EventSource) IsValid() bool {
	switch s {
	case SourceGNSS, SourceBLE, SourceRFID, SourceSOS:
		return true
	}
	return false
}

// LocationEvent is an immutable positioning fact reported by a device.
// TouristID is nullable: anonymous beacon pings are valid. At least one
// of (Latitude, Longitude) or RSSI must be present except for pure SOS
// events, which may carry only an identity.
type LocationEvent struct {
	EventID   string      `json:"event_id"`
	TouristID *int64      `json:"tourist_id,omitempty"`
	DeviceID  string      `json:"device_id"`
	ZoneID    *int64      `json:"zone_id,omitempty"`
	RSSI      *float64    `json:"rssi,omitempty"`
	Latitude  *float64    `json:"latitude,omitempty"`
	Longitude *float64    `json:"longitude,omitempty"`
	Source    EventSource `json:"source"`
	SOSFlag   bool        `json:"sos_flag"`
	Timestamp time.Time   `json:"timestamp"`
}

// HasCoordinates reports whether the event carries a GNSS fix.
func (e *LocationEvent) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// RiskLevel is the classified risk band of a zone.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk classification thresholds. Boundary values resolve to the lower
// band: a score of exactly 0.7 is medium, exactly 0.4 is low.
const (
	riskHighThreshold   = 0.7
	riskMediumThreshold = 0.4
)

// RiskLevelForScore classifies a risk score into a band. The level is a
// pure function of the score.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score > riskHighThreshold:
		return RiskHigh
	case score > riskMediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ZoneRiskState holds the single risk record for a zone. RiskLevel is
// always derived from RiskScore via RiskLevelForScore.
type ZoneRiskState struct {
	ZoneID    int64     `json:"zone_id"`
	RiskScore float64   `json:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ZoneFeatures aggregates raw location events in a zone into inputs for
// the external risk scorer.
type ZoneFeatures struct {
	ZoneID     int64   `json:"zone_id"`
	EventCount int64   `json:"event_count"`
	AvgRSSI    float64 `json:"avg_rssi"`
}

// Role distinguishes tourist-facing and authority-facing callers.
type Role string

const (
	RoleTourist   Role = "tourist"
	RoleAuthority Role = "authority"
)

// User is a registered account: a monitored tourist or an authority
// operator. The password hash never leaves the storage layer boundary.
type User struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Role             Role      `json:"role"`
	FullName         string    `json:"full_name,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	EmergencyContact string    `json:"emergency_contact,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
