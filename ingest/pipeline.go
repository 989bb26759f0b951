package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"saferoam/core"
	"saferoam/metrics"
)

// DeviceAuthenticator verifies that a submission comes from a known,
// active device. Every pipeline call re-authenticates: a deactivated
// device is rejected on its next submission, not at some later sync.
type DeviceAuthenticator interface {
	Authenticate(ctx context.Context, deviceID, apiKey string) (*core.Device, error)
	Heartbeat(ctx context.Context, deviceID, apiKey string, status core.DeviceStatus) (*core.Device, error)
}

// EventWriter persists normalized location events.
type EventWriter interface {
	InsertEvent(ctx context.Context, event *core.LocationEvent) error
}

// SOSResponder turns a distress event into an incident. The bool result
// reports whether a new incident was created or an open one absorbed
// the signal.
type SOSResponder interface {
	AutoCreateFromSOS(ctx context.Context, event *core.LocationEvent, message string) (*core.Incident, bool, error)
}

// Broadcaster publishes dashboard notifications. Publish never blocks
// the caller.
type Broadcaster interface {
	Publish(eventType string, payload interface{})
}

// Pipeline runs device submissions through the fixed ingestion order:
// authenticate, normalize, persist, respond, broadcast. Failures before
// persistence leave no side effects; broadcasts happen only after the
// event is committed.
type Pipeline struct {
	devices     DeviceAuthenticator
	events      EventWriter
	sos         SOSResponder
	broadcaster Broadcaster
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewPipeline(devices DeviceAuthenticator, events EventWriter, sos SOSResponder, broadcaster Broadcaster, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		devices:     devices,
		events:      events,
		sos:         sos,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// IngestLocation processes one positioning submission end to end and
// returns the persisted event.
func (p *Pipeline) IngestLocation(ctx context.Context, apiKey, deviceID string, payload *LocationPayload) (*core.LocationEvent, error) {
	if _, err := p.devices.Authenticate(ctx, deviceID, apiKey); err != nil {
		metrics.DeviceAuthFailures.Inc()
		return nil, err
	}

	event, err := Normalize(deviceID, payload, p.now())
	if err != nil {
		return nil, err
	}

	if err := p.events.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("persist location event: %w", err)
	}
	metrics.EventsIngested.WithLabelValues(string(event.Source)).Inc()

	if event.TouristID != nil {
		p.publish("tourist_updated", event)
	}

	p.logger.Debugw("Location event ingested",
		"event_id", event.EventID,
		"device_id", event.DeviceID,
		"source", event.Source)
	return event, nil
}

// IngestHeartbeat refreshes a device's status and last-seen time. No
// location event is recorded.
func (p *Pipeline) IngestHeartbeat(ctx context.Context, apiKey, deviceID string, payload *HeartbeatPayload) (*core.Device, error) {
	status := payload.Status
	if status == "" {
		status = core.DeviceStatusActive
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown device status %q", core.ErrValidationFailed, status)
	}

	device, err := p.devices.Heartbeat(ctx, deviceID, apiKey, status)
	if err != nil {
		metrics.DeviceAuthFailures.Inc()
		return nil, err
	}
	return device, nil
}

// IngestSOS records a distress event and raises an incident for it. A
// tourist with an incident already open absorbs the signal into that
// incident; an anonymous SOS always opens a new one.
func (p *Pipeline) IngestSOS(ctx context.Context, apiKey, deviceID string, payload *SOSPayload) (*core.LocationEvent, *core.Incident, error) {
	if _, err := p.devices.Authenticate(ctx, deviceID, apiKey); err != nil {
		metrics.DeviceAuthFailures.Inc()
		return nil, nil, err
	}

	event, err := Normalize(deviceID, &LocationPayload{
		TouristID: payload.TouristID,
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		Source:    core.SourceSOS,
		SOSFlag:   true,
	}, p.now())
	if err != nil {
		return nil, nil, err
	}

	if err := p.events.InsertEvent(ctx, event); err != nil {
		return nil, nil, fmt.Errorf("persist sos event: %w", err)
	}
	metrics.EventsIngested.WithLabelValues(string(core.SourceSOS)).Inc()

	incident, created, err := p.sos.AutoCreateFromSOS(ctx, event, payload.Message)
	if err != nil {
		// The distress event itself is already durable; surface the
		// incident failure without pretending the SOS was lost.
		p.logger.Errorw("SOS incident creation failed", "event_id", event.EventID, "error", err)
		return event, nil, err
	}
	if created {
		p.logger.Infow("SOS incident opened",
			"incident_id", incident.ID,
			"event_id", event.EventID,
			"device_id", deviceID)
	} else {
		p.logger.Infow("SOS absorbed by open incident",
			"incident_id", incident.ID,
			"event_id", event.EventID)
	}

	if event.TouristID != nil {
		p.publish("tourist_updated", event)
	}
	return event, incident, nil
}

func (p *Pipeline) publish(eventType string, payload interface{}) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Publish(eventType, payload)
}
