package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"saferoam/core"
	"saferoam/metrics"
	"saferoam/storage"
)

// Broadcaster publishes dashboard notifications. Publish never blocks
// or fails the caller.
type Broadcaster interface {
	Publish(eventType string, payload interface{})
}

// IncidentService owns the incident lifecycle: creation from tourist
// reports and SOS events, and forward-only status transitions.
type IncidentService struct {
	incidents   storage.IncidentStorage
	broadcaster Broadcaster
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewIncidentService(incidents storage.IncidentStorage, broadcaster Broadcaster, logger *zap.SugaredLogger) *IncidentService {
	if incidents == nil {
		panic("incidents storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &IncidentService{incidents: incidents, broadcaster: broadcaster, logger: logger, now: time.Now}
}

// Report creates an incident from a tourist-facing report. The
// broadcast goes out only after the incident is durable.
func (is *IncidentService) Report(ctx context.Context, touristID *int64, description string, lat, lng float64) (*core.Incident, error) {
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", core.ErrValidationFailed)
	}

	now := is.now().UTC()
	incident := &core.Incident{
		ID:          uuid.NewString(),
		Description: description,
		Latitude:    lat,
		Longitude:   lng,
		TouristID:   touristID,
		Status:      core.IncidentStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := is.incidents.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	metrics.IncidentsCreated.WithLabelValues("report").Inc()

	is.publish("incident_created", incident)
	is.logger.Infow("Incident reported", "incident_id", incident.ID)
	return incident, nil
}

// AutoCreateFromSOS raises an incident for a distress event. A tourist
// who already has an open incident absorbs the signal into it instead
// of opening a duplicate; anonymous events always open a new incident.
// The bool result reports whether a new incident was created.
func (is *IncidentService) AutoCreateFromSOS(ctx context.Context, event *core.LocationEvent, message string) (*core.Incident, bool, error) {
	if event.TouristID != nil {
		open, err := is.incidents.OpenIncidentForTourist(ctx, *event.TouristID)
		if err == nil {
			return open, false, nil
		}
		if !errors.Is(err, storage.ErrIncidentNotFound) {
			return nil, false, fmt.Errorf("check open incidents: %w", err)
		}
	}

	if message == "" {
		message = "SOS signal received"
	}
	var lat, lng float64
	if event.HasCoordinates() {
		lat, lng = *event.Latitude, *event.Longitude
	}

	now := is.now().UTC()
	incident := &core.Incident{
		ID:          uuid.NewString(),
		Description: message,
		Latitude:    lat,
		Longitude:   lng,
		TouristID:   event.TouristID,
		Status:      core.IncidentStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := is.incidents.CreateIncident(ctx, incident); err != nil {
		return nil, false, fmt.Errorf("create sos incident: %w", err)
	}
	metrics.IncidentsCreated.WithLabelValues("sos").Inc()

	is.publish("incident_created", incident)
	return incident, true, nil
}

// UpdateStatus moves an incident through its lifecycle. Invalid
// transitions leave the stored incident untouched and return an error
// naming the current and attempted status.
func (is *IncidentService) UpdateStatus(ctx context.Context, id string, target core.IncidentStatus) (*core.Incident, error) {
	incident, err := is.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := incident.TransitionTo(target, is.now().UTC()); err != nil {
		return nil, err
	}
	if err := is.incidents.UpdateIncidentStatus(ctx, id, incident.Status, incident.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}

	is.publish("incident_updated", incident)
	is.logger.Infow("Incident status updated", "incident_id", id, "status", target)
	return incident, nil
}

// Get returns one incident by id.
func (is *IncidentService) Get(ctx context.Context, id string) (*core.Incident, error) {
	return is.incidents.GetIncident(ctx, id)
}

// ListAll returns all incidents, newest first.
func (is *IncidentService) ListAll(ctx context.Context) ([]core.Incident, error) {
	return is.incidents.ListIncidents(ctx)
}

// ListByTourist returns a tourist's incidents, newest first.
func (is *IncidentService) ListByTourist(ctx context.Context, touristID int64) ([]core.Incident, error) {
	return is.incidents.ListIncidentsByTourist(ctx, touristID)
}

func (is *IncidentService) publish(eventType string, payload interface{}) {
	if is.broadcaster == nil {
		return
	}
	is.broadcaster.Publish(eventType, payload)
}
