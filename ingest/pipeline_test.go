package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"saferoam/core"
	"saferoam/storage"
)

type fakeAuthenticator struct {
	mu        sync.Mutex
	devices   map[string]string
	inactive  map[string]bool
	authCalls int
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{
		devices:  map[string]string{"gw-01": "key-01"},
		inactive: map[string]bool{},
	}
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, deviceID, apiKey string) (*core.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	key, ok := f.devices[deviceID]
	if !ok || key != apiKey || f.inactive[deviceID] {
		return nil, core.ErrAuthenticationFailed
	}
	return &core.Device{DeviceID: deviceID, Status: core.DeviceStatusActive}, nil
}

func (f *fakeAuthenticator) Heartbeat(ctx context.Context, deviceID, apiKey string, status core.DeviceStatus) (*core.Device, error) {
	device, err := f.Authenticate(ctx, deviceID, apiKey)
	if err != nil {
		return nil, err
	}
	device.Status = status
	device.LastSeen = time.Now()
	return device, nil
}

type fakeSOSResponder struct {
	mu        sync.Mutex
	incidents []*core.Incident
	err       error
}

func (f *fakeSOSResponder) AutoCreateFromSOS(ctx context.Context, event *core.LocationEvent, message string) (*core.Incident, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	incident := &core.Incident{ID: "inc-1", TouristID: event.TouristID, Description: message, Status: core.IncidentStatusOpen}
	f.incidents = append(f.incidents, incident)
	return incident, true, nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	types  []string
	events []interface{}
}

func (r *recordingBroadcaster) Publish(eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	r.events = append(r.events, payload)
}

func newTestPipeline() (*Pipeline, *fakeAuthenticator, *storage.MockEventStorage, *fakeSOSResponder, *recordingBroadcaster) {
	auth := newFakeAuthenticator()
	events := storage.NewMockEventStorage()
	sos := &fakeSOSResponder{}
	bc := &recordingBroadcaster{}
	p := NewPipeline(auth, events, sos, bc, zap.NewNop().Sugar())
	return p, auth, events, sos, bc
}

func TestPipeline_IngestLocation(t *testing.T) {
	p, _, events, _, bc := newTestPipeline()

	event, err := p.IngestLocation(context.Background(), "key-01", "gw-01", &LocationPayload{
		TouristID: ptrI(5),
		Latitude:  ptrF(12.9716),
		Longitude: ptrF(77.5946),
		Source:    core.SourceGNSS,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, events.Count())
	require.Len(t, bc.types, 1)
	assert.Equal(t, "tourist_updated", bc.types[0])
	assert.Equal(t, event, bc.events[0])
}

func TestPipeline_AnonymousEventNotBroadcast(t *testing.T) {
	p, _, events, _, bc := newTestPipeline()

	_, err := p.IngestLocation(context.Background(), "key-01", "gw-01", &LocationPayload{
		RSSI:   ptrF(-60),
		Source: core.SourceBLE,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, events.Count())
	assert.Empty(t, bc.types)
}

func TestPipeline_RejectedSubmissionHasNoSideEffects(t *testing.T) {
	p, auth, events, _, bc := newTestPipeline()
	auth.inactive["gw-01"] = true

	_, err := p.IngestLocation(context.Background(), "key-01", "gw-01", &LocationPayload{
		RSSI:   ptrF(-60),
		Source: core.SourceBLE,
	})
	assert.ErrorIs(t, err, core.ErrAuthenticationFailed)
	assert.Zero(t, events.Count())
	assert.Empty(t, bc.types)
}

func TestPipeline_ValidationFailureHasNoSideEffects(t *testing.T) {
	p, _, events, _, bc := newTestPipeline()

	_, err := p.IngestLocation(context.Background(), "key-01", "gw-01", &LocationPayload{
		Source: "LORA",
		RSSI:   ptrF(-60),
	})
	assert.ErrorIs(t, err, core.ErrValidationFailed)
	assert.Zero(t, events.Count())
	assert.Empty(t, bc.types)
}

func TestPipeline_PersistenceFailureSuppressesBroadcast(t *testing.T) {
	p, _, events, _, bc := newTestPipeline()
	events.InsertErr = assert.AnError

	_, err := p.IngestLocation(context.Background(), "key-01", "gw-01", &LocationPayload{
		TouristID: ptrI(5),
		RSSI:      ptrF(-60),
		Source:    core.SourceBLE,
	})
	assert.Error(t, err)
	assert.Empty(t, bc.types)
}

func TestPipeline_IngestHeartbeat(t *testing.T) {
	p, _, events, _, _ := newTestPipeline()

	device, err := p.IngestHeartbeat(context.Background(), "key-01", "gw-01", &HeartbeatPayload{})
	require.NoError(t, err)
	assert.Equal(t, core.DeviceStatusActive, device.Status)
	assert.Zero(t, events.Count())

	_, err = p.IngestHeartbeat(context.Background(), "key-01", "gw-01", &HeartbeatPayload{Status: "sleeping"})
	assert.ErrorIs(t, err, core.ErrValidationFailed)

	_, err = p.IngestHeartbeat(context.Background(), "wrong-key", "gw-01", &HeartbeatPayload{})
	assert.ErrorIs(t, err, core.ErrAuthenticationFailed)
}

func TestPipeline_IngestSOS(t *testing.T) {
	p, _, events, sos, bc := newTestPipeline()

	event, incident, err := p.IngestSOS(context.Background(), "key-01", "gw-01", &SOSPayload{
		TouristID: ptrI(9),
		Latitude:  ptrF(12.9),
		Longitude: ptrF(77.6),
		Message:   "lost near the falls",
	})
	require.NoError(t, err)
	assert.True(t, event.SOSFlag)
	assert.Equal(t, core.SourceSOS, event.Source)
	require.NotNil(t, incident)
	assert.Equal(t, "lost near the falls", incident.Description)
	assert.Equal(t, 1, events.Count())
	require.Len(t, sos.incidents, 1)
	assert.Equal(t, []string{"tourist_updated"}, bc.types)
}

func TestPipeline_AnonymousSOS(t *testing.T) {
	p, _, events, sos, bc := newTestPipeline()

	event, incident, err := p.IngestSOS(context.Background(), "key-01", "gw-01", &SOSPayload{})
	require.NoError(t, err)
	assert.Nil(t, event.TouristID)
	require.NotNil(t, incident)
	assert.Equal(t, 1, events.Count())
	require.Len(t, sos.incidents, 1)
	assert.Empty(t, bc.types)
}

func TestPipeline_SOSIncidentFailureKeepsEvent(t *testing.T) {
	p, _, events, sos, _ := newTestPipeline()
	sos.err = assert.AnError

	event, incident, err := p.IngestSOS(context.Background(), "key-01", "gw-01", &SOSPayload{TouristID: ptrI(2)})
	assert.Error(t, err)
	assert.Nil(t, incident)
	require.NotNil(t, event)
	assert.Equal(t, 1, events.Count())
}
