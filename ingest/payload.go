// Package ingest normalizes raw device submissions into location events
// and drives them through authentication, persistence, and fanout.
package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"saferoam/core"
)

var validate = validator.New()

// LocationPayload is the wire form of a positioning submission from a
// gateway. TouristID is optional: anonymous beacon pings are accepted.
type LocationPayload struct {
	TouristID *int64             `json:"tourist_id,omitempty"`
	ZoneID    *int64             `json:"zone_id,omitempty"`
	RSSI      *float64           `json:"rssi,omitempty"`
	Latitude  *float64           `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64           `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Source    core.EventSource   `json:"source"`
	SOSFlag   bool               `json:"sos_flag,omitempty"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
}

// SOSPayload is the wire form of a panic-button submission. Everything
// beyond the flag itself is optional: a bare SOS with no identity and no
// fix is still a valid distress signal.
type SOSPayload struct {
	TouristID *int64   `json:"tourist_id,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Message   string   `json:"message,omitempty" validate:"max=1024"`
}

// HeartbeatPayload carries a device liveness report.
type HeartbeatPayload struct {
	Status core.DeviceStatus `json:"status"`
}

// Normalize converts a raw payload into a canonical LocationEvent. It is
// stateless: identical inputs always produce the same event apart from
// the generated event id. A zero timestamp defaults to now. SOS events
// are exempt from the coordinates-or-RSSI requirement.
func Normalize(deviceID string, p *LocationPayload, now time.Time) (*core.LocationEvent, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", core.ErrValidationFailed)
	}
	if !p.Source.IsValid() {
		return nil, fmt.Errorf("%w: unknown event source %q", core.ErrValidationFailed, p.Source)
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidationFailed, err)
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return nil, fmt.Errorf("%w: latitude and longitude must be provided together", core.ErrValidationFailed)
	}

	sos := p.SOSFlag || p.Source == core.SourceSOS
	if !sos && p.Latitude == nil && p.RSSI == nil {
		return nil, fmt.Errorf("%w: event carries neither coordinates nor RSSI", core.ErrValidationFailed)
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}

	return &core.LocationEvent{
		EventID:   uuid.NewString(),
		TouristID: p.TouristID,
		DeviceID:  deviceID,
		ZoneID:    p.ZoneID,
		RSSI:      p.RSSI,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Source:    p.Source,
		SOSFlag:   sos,
		Timestamp: ts.UTC(),
	}, nil
}
