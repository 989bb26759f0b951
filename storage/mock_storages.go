package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"saferoam/core"
)

// In-memory storage fakes for service and API tests. They honor the same
// contracts as the SQLite implementations (sentinel errors, append-only
// events) without touching disk.

// MockDeviceStorage implements DeviceStorage for testing
type MockDeviceStorage struct {
	mu      sync.Mutex
	devices map[string]core.Device
}

func NewMockDeviceStorage() *MockDeviceStorage {
	return &MockDeviceStorage{devices: make(map[string]core.Device)}
}

func (m *MockDeviceStorage) CreateDevice(ctx context.Context, device *core.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[device.DeviceID]; exists {
		return ErrDuplicateDevice
	}
	if device.Status == "" {
		device.Status = core.DeviceStatusActive
	}
	m.devices[device.DeviceID] = *device
	return nil
}

func (m *MockDeviceStorage) GetDevice(ctx context.Context, deviceID string) (*core.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, exists := m.devices[deviceID]
	if !exists {
		return nil, ErrDeviceNotFound
	}
	return &device, nil
}

func (m *MockDeviceStorage) UpdateDeviceStatus(ctx context.Context, deviceID string, status core.DeviceStatus, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, exists := m.devices[deviceID]
	if !exists {
		return ErrDeviceNotFound
	}
	device.Status = status
	device.LastSeen = seenAt
	m.devices[deviceID] = device
	return nil
}

func (m *MockDeviceStorage) ListDevices(ctx context.Context) ([]core.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]core.Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	return devices, nil
}

// MockEventStorage implements EventStorage for testing
type MockEventStorage struct {
	mu     sync.Mutex
	events []core.LocationEvent

	// InsertErr, when set, is returned by InsertEvent to simulate
	// persistence failures.
	InsertErr error
}

func NewMockEventStorage() *MockEventStorage {
	return &MockEventStorage{}
}

func (m *MockEventStorage) InsertEvent(ctx context.Context, event *core.LocationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *MockEventStorage) LatestEventForTourist(ctx context.Context, touristID int64) (*core.LocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *core.LocationEvent
	for i := range m.events {
		e := m.events[i]
		if e.TouristID == nil || *e.TouristID != touristID {
			continue
		}
		if latest == nil || e.Timestamp.After(latest.Timestamp) {
			latest = &e
		}
	}
	if latest == nil {
		return nil, ErrEventNotFound
	}
	copied := *latest
	return &copied, nil
}

func (m *MockEventStorage) GetEvents(ctx context.Context, limit, offset int) ([]core.LocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]core.LocationEvent, len(m.events))
	copy(events, m.events)
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if offset >= len(events) {
		return nil, nil
	}
	events = events[offset:]
	if limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

func (m *MockEventStorage) ZoneFeatures(ctx context.Context, zoneID int64, window time.Duration, now time.Time) (*core.ZoneFeatures, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-window)
	var count int64
	var rssiSum float64
	var rssiCount int64
	for _, e := range m.events {
		if e.ZoneID == nil || *e.ZoneID != zoneID || e.Timestamp.Before(cutoff) {
			continue
		}
		count++
		if e.RSSI != nil {
			rssiSum += *e.RSSI
			rssiCount++
		}
	}
	features := &core.ZoneFeatures{ZoneID: zoneID, EventCount: count}
	if rssiCount > 0 {
		features.AvgRSSI = rssiSum / float64(rssiCount)
	}
	return features, nil
}

// Count returns the number of stored events.
func (m *MockEventStorage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// MockZoneStorage implements ZoneStorage for testing
type MockZoneStorage struct {
	mu    sync.Mutex
	zones map[int64]core.ZoneRiskState
}

func NewMockZoneStorage() *MockZoneStorage {
	return &MockZoneStorage{zones: make(map[int64]core.ZoneRiskState)}
}

func (m *MockZoneStorage) UpsertZoneRisk(ctx context.Context, state *core.ZoneRiskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[state.ZoneID] = *state
	return nil
}

func (m *MockZoneStorage) GetZoneRisk(ctx context.Context, zoneID int64) (*core.ZoneRiskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, exists := m.zones[zoneID]
	if !exists {
		return nil, ErrZoneNotFound
	}
	return &state, nil
}

func (m *MockZoneStorage) ListZoneRisk(ctx context.Context) ([]core.ZoneRiskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]core.ZoneRiskState, 0, len(m.zones))
	for _, s := range m.zones {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ZoneID < states[j].ZoneID })
	return states, nil
}

// MockIncidentStorage implements IncidentStorage for testing
type MockIncidentStorage struct {
	mu        sync.Mutex
	incidents map[string]core.Incident
	order     []string
}

func NewMockIncidentStorage() *MockIncidentStorage {
	return &MockIncidentStorage{incidents: make(map[string]core.Incident)}
}

func (m *MockIncidentStorage) CreateIncident(ctx context.Context, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[incident.ID] = *incident
	m.order = append(m.order, incident.ID)
	return nil
}

func (m *MockIncidentStorage) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, exists := m.incidents[id]
	if !exists {
		return nil, ErrIncidentNotFound
	}
	return &incident, nil
}

func (m *MockIncidentStorage) UpdateIncidentStatus(ctx context.Context, id string, status core.IncidentStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, exists := m.incidents[id]
	if !exists {
		return ErrIncidentNotFound
	}
	incident.Status = status
	incident.UpdatedAt = updatedAt
	m.incidents[id] = incident
	return nil
}

func (m *MockIncidentStorage) ListIncidents(ctx context.Context) ([]core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incidents := make([]core.Incident, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		incidents = append(incidents, m.incidents[m.order[i]])
	}
	return incidents, nil
}

func (m *MockIncidentStorage) ListIncidentsByTourist(ctx context.Context, touristID int64) ([]core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var incidents []core.Incident
	for i := len(m.order) - 1; i >= 0; i-- {
		incident := m.incidents[m.order[i]]
		if incident.TouristID != nil && *incident.TouristID == touristID {
			incidents = append(incidents, incident)
		}
	}
	return incidents, nil
}

func (m *MockIncidentStorage) OpenIncidentForTourist(ctx context.Context, touristID int64) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		incident := m.incidents[m.order[i]]
		if incident.TouristID != nil && *incident.TouristID == touristID &&
			incident.Status != core.IncidentStatusResolved {
			return &incident, nil
		}
	}
	return nil, ErrIncidentNotFound
}

// MockUserStorage implements UserStorage for testing
type MockUserStorage struct {
	mu     sync.Mutex
	users  map[int64]core.User
	nextID int64
}

func NewMockUserStorage() *MockUserStorage {
	return &MockUserStorage{users: make(map[int64]core.User), nextID: 1}
}

func (m *MockUserStorage) CreateUser(ctx context.Context, user *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = *user
	return nil
}

func (m *MockUserStorage) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserStorage) GetUserByID(ctx context.Context, id int64) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, exists := m.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (m *MockUserStorage) UpdateUserProfile(ctx context.Context, user *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.users[user.ID]
	if !exists {
		return ErrUserNotFound
	}
	existing.FullName = user.FullName
	existing.Phone = user.Phone
	existing.EmergencyContact = user.EmergencyContact
	m.users[user.ID] = existing
	return nil
}

func (m *MockUserStorage) ListTourists(ctx context.Context) ([]core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tourists []core.User
	for _, user := range m.users {
		if user.Role == core.RoleTourist {
			tourists = append(tourists, user)
		}
	}
	sort.Slice(tourists, func(i, j int) bool { return tourists[i].ID < tourists[j].ID })
	return tourists, nil
}
