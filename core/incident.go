package core

import "time"

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentStatusOpen       IncidentStatus = "open"
	IncidentStatusInProgress IncidentStatus = "in_progress"
	IncidentStatusResolved   IncidentStatus = "resolved"
)

// IsValid checks if the incident status is a recognized value.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInProgress, IncidentStatusResolved:
		return true
	}
	return false
}

// Incident is a safety incident: either reported by a tourist or
// auto-created from an SOS event during ingestion. Status only moves
// forward; incidents are never deleted.
type Incident struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	TouristID   *int64         `json:"tourist_id,omitempty"`
	Status      IncidentStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// validIncidentTransitions defines the fixed forward transition set.
// Backward transitions and no-ops are rejected; resolved is terminal.
var validIncidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:       {IncidentStatusInProgress, IncidentStatusResolved},
	IncidentStatusInProgress: {IncidentStatusResolved},
	IncidentStatusResolved:   {},
}

// TransitionTo validates and executes a status transition, stamping
// UpdatedAt. On failure the incident is left unchanged and the error
// carries the attempted and current status.
func (i *Incident) TransitionTo(target IncidentStatus, now time.Time) error {
	if !i.CanTransitionTo(target) {
		return &InvalidTransitionError{From: i.Status, To: target}
	}
	i.Status = target
	i.UpdatedAt = now
	return nil
}

// CanTransitionTo checks if a transition is allowed without executing it.
func (i *Incident) CanTransitionTo(target IncidentStatus) bool {
	if !target.IsValid() {
		return false
	}
	allowed, exists := validIncidentTransitions[i.Status]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == target {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the valid transitions from the
// current state.
func (i *Incident) AllowedTransitions() []IncidentStatus {
	allowed, exists := validIncidentTransitions[i.Status]
	if !exists {
		return []IncidentStatus{}
	}
	result := make([]IncidentStatus, len(allowed))
	copy(result, allowed)
	return result
}

// IsFinal checks if the incident has reached its terminal state.
func (i *Incident) IsFinal() bool {
	allowed, exists := validIncidentTransitions[i.Status]
	return exists && len(allowed) == 0
}
