package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"saferoam/core"
	"saferoam/storage"
)

func newTestTouristService(t *testing.T) (*TouristService, *storage.MockUserStorage, *storage.MockEventStorage, *recordingBroadcaster) {
	t.Helper()
	users := storage.NewMockUserStorage()
	events := storage.NewMockEventStorage()
	bc := &recordingBroadcaster{}
	return NewTouristService(users, events, bc, zap.NewNop().Sugar()), users, events, bc
}

func seedTourist(t *testing.T, users *storage.MockUserStorage, email string) *core.User {
	t.Helper()
	user := &core.User{Email: email, PasswordHash: "x", Role: core.RoleTourist}
	require.NoError(t, users.CreateUser(context.Background(), user))
	return user
}

func TestTouristService_Presence(t *testing.T) {
	ts, users, events, _ := newTestTouristService(t)
	ctx := context.Background()
	now := time.Now()
	tourist := seedTourist(t, users, "a@example.com")

	// No events yet: offline with no last event.
	presence, event, err := ts.Presence(ctx, tourist.ID, now)
	require.NoError(t, err)
	assert.Equal(t, core.PresenceOffline, presence)
	assert.Nil(t, event)

	rssi := -60.0
	require.NoError(t, events.InsertEvent(ctx, &core.LocationEvent{
		EventID:   "evt-1",
		TouristID: &tourist.ID,
		DeviceID:  "gw-01",
		RSSI:      &rssi,
		Source:    core.SourceBLE,
		Timestamp: now.Add(-10 * time.Minute),
	}))

	presence, event, err = ts.Presence(ctx, tourist.ID, now)
	require.NoError(t, err)
	assert.Equal(t, core.PresenceDelayed, presence)
	require.NotNil(t, event)
	assert.Equal(t, "evt-1", event.EventID)

	// A newer event flips the projection without any stored state.
	require.NoError(t, events.InsertEvent(ctx, &core.LocationEvent{
		EventID:   "evt-2",
		TouristID: &tourist.ID,
		DeviceID:  "gw-01",
		RSSI:      &rssi,
		Source:    core.SourceBLE,
		Timestamp: now.Add(-time.Minute),
	}))
	presence, event, err = ts.Presence(ctx, tourist.ID, now)
	require.NoError(t, err)
	assert.Equal(t, core.PresenceActive, presence)
	assert.Equal(t, "evt-2", event.EventID)
}

func TestTouristService_ListWithPresence(t *testing.T) {
	ts, users, events, _ := newTestTouristService(t)
	ctx := context.Background()
	now := time.Now()

	active := seedTourist(t, users, "active@example.com")
	seedTourist(t, users, "silent@example.com")
	require.NoError(t, users.CreateUser(ctx, &core.User{Email: "ops@example.com", PasswordHash: "x", Role: core.RoleAuthority}))

	rssi := -55.0
	require.NoError(t, events.InsertEvent(ctx, &core.LocationEvent{
		EventID:   "evt-1",
		TouristID: &active.ID,
		DeviceID:  "gw-01",
		RSSI:      &rssi,
		Source:    core.SourceBLE,
		Timestamp: now.Add(-time.Minute),
	}))

	roster, err := ts.ListWithPresence(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 2)

	byEmail := map[string]TouristPresence{}
	for _, entry := range roster {
		byEmail[entry.Tourist.Email] = entry
	}
	assert.Equal(t, core.PresenceActive, byEmail["active@example.com"].Presence)
	assert.Equal(t, core.PresenceOffline, byEmail["silent@example.com"].Presence)
	assert.Nil(t, byEmail["silent@example.com"].LastEvent)
}

func TestTouristService_UpdateProfile(t *testing.T) {
	ts, users, _, bc := newTestTouristService(t)
	ctx := context.Background()
	tourist := seedTourist(t, users, "a@example.com")

	updated, err := ts.UpdateProfile(ctx, tourist.ID, "Asha Rao", "+91-555-0101", "+91-555-0102")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", updated.FullName)
	assert.Equal(t, []string{"tourist_updated"}, bc.published())

	got, err := ts.Profile(ctx, tourist.ID)
	require.NoError(t, err)
	assert.Equal(t, "+91-555-0102", got.EmergencyContact)
}

func TestTouristService_ProfileExcludesAuthorities(t *testing.T) {
	ts, users, _, _ := newTestTouristService(t)
	ctx := context.Background()

	authority := &core.User{Email: "ops@example.com", PasswordHash: "x", Role: core.RoleAuthority}
	require.NoError(t, users.CreateUser(ctx, authority))

	_, err := ts.Profile(ctx, authority.ID)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = ts.Profile(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}
