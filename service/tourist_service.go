package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"saferoam/core"
	"saferoam/storage"
)

// TouristPresence staples the derived presence projection onto a
// tourist record for dashboard responses. Presence is never persisted.
type TouristPresence struct {
	Tourist   core.User           `json:"tourist"`
	Presence  core.PresenceLabel  `json:"presence"`
	LastEvent *core.LocationEvent `json:"last_event,omitempty"`
}

// TouristService serves tourist profiles and the presence projection
// derived from each tourist's latest location event.
type TouristService struct {
	users       storage.UserStorage
	events      storage.EventStorage
	broadcaster Broadcaster
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewTouristService(users storage.UserStorage, events storage.EventStorage, broadcaster Broadcaster, logger *zap.SugaredLogger) *TouristService {
	if users == nil {
		panic("users storage is required")
	}
	if events == nil {
		panic("events storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &TouristService{users: users, events: events, broadcaster: broadcaster, logger: logger, now: time.Now}
}

// Profile returns a tourist's account record.
func (ts *TouristService) Profile(ctx context.Context, touristID int64) (*core.User, error) {
	user, err := ts.users.GetUserByID(ctx, touristID)
	if err != nil {
		return nil, err
	}
	if user.Role != core.RoleTourist {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile updates the mutable contact fields of a tourist's
// profile and broadcasts the change to dashboards.
func (ts *TouristService) UpdateProfile(ctx context.Context, touristID int64, fullName, phone, emergencyContact string) (*core.User, error) {
	user, err := ts.Profile(ctx, touristID)
	if err != nil {
		return nil, err
	}
	user.FullName = fullName
	user.Phone = phone
	user.EmergencyContact = emergencyContact
	if err := ts.users.UpdateUserProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("update tourist profile: %w", err)
	}

	if ts.broadcaster != nil {
		ts.broadcaster.Publish("tourist_updated", user)
	}
	return user, nil
}

// Presence computes a tourist's presence from their latest location
// event at the supplied instant. It reads fresh state on every call;
// a tourist with no events at all is offline.
func (ts *TouristService) Presence(ctx context.Context, touristID int64, now time.Time) (core.PresenceLabel, *core.LocationEvent, error) {
	event, err := ts.events.LatestEventForTourist(ctx, touristID)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return core.PresenceOffline, nil, nil
		}
		return "", nil, fmt.Errorf("latest event: %w", err)
	}
	return core.PresenceFor(event.Timestamp, now), event, nil
}

// ListWithPresence returns every tourist with their current presence
// for the dashboard roster.
func (ts *TouristService) ListWithPresence(ctx context.Context) ([]TouristPresence, error) {
	tourists, err := ts.users.ListTourists(ctx)
	if err != nil {
		return nil, err
	}

	now := ts.now()
	result := make([]TouristPresence, 0, len(tourists))
	for _, tourist := range tourists {
		presence, event, err := ts.Presence(ctx, tourist.ID, now)
		if err != nil {
			return nil, err
		}
		result = append(result, TouristPresence{Tourist: tourist, Presence: presence, LastEvent: event})
	}
	return result, nil
}
