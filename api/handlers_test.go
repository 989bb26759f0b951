package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"saferoam/config"
	"saferoam/core"
	"saferoam/ingest"
	"saferoam/service"
	"saferoam/storage"
)

type testEnv struct {
	api       *API
	server    *httptest.Server
	hub       *Hub
	events    *storage.MockEventStorage
	incidents *storage.MockIncidentStorage
	devices   *storage.MockDeviceStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()

	cfg := &config.Config{}
	cfg.API.Port = 8080
	cfg.API.RateLimit.RequestsPerSecond = 10000
	cfg.API.RateLimit.Burst = 10000
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Geofence.CenterLat = 12.9716
	cfg.Geofence.CenterLng = 77.5946
	cfg.Geofence.RadiusKM = 2.0

	deviceStore := storage.NewMockDeviceStorage()
	eventStore := storage.NewMockEventStorage()
	zoneStore := storage.NewMockZoneStorage()
	incidentStore := storage.NewMockIncidentStorage()
	userStore := storage.NewMockUserStorage()

	hub := NewHub(logger, context.Background())
	go hub.Start()
	t.Cleanup(hub.Stop)

	deviceSvc := service.NewDeviceService(deviceStore, logger)
	incidentSvc := service.NewIncidentService(incidentStore, hub, logger)
	zoneSvc := service.NewZoneService(zoneStore, eventStore, hub, logger)
	touristSvc := service.NewTouristService(userStore, eventStore, hub, logger)
	authSvc := service.NewAuthService(userStore, hub, cfg.Auth.JWTSecret, logger)
	pipeline := ingest.NewPipeline(deviceSvc, eventStore, incidentSvc, hub, logger)

	api := NewAPI(pipeline, deviceSvc, incidentSvc, zoneSvc, touristSvc, authSvc, hub, cfg, logger)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	t.Cleanup(func() { api.Stop(context.Background()) })

	return &testEnv{
		api:       api,
		server:    server,
		hub:       hub,
		events:    eventStore,
		incidents: incidentStore,
		devices:   deviceStore,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) registerAndLogin(t *testing.T, email string, role core.Role) (string, int64) {
	t.Helper()
	resp, _ := e.request(t, "POST", "/api/v1/auth/register", map[string]interface{}{
		"email":    email,
		"password": "longenough",
		"role":     role,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.request(t, "POST", "/api/v1/auth/login", map[string]interface{}{
		"email":    email,
		"password": "longenough",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	user := body["user"].(map[string]interface{})
	return token, int64(user["id"].(float64))
}

func (e *testEnv) provisionDevice(t *testing.T, authorityToken, deviceID string) string {
	t.Helper()
	resp, body := e.request(t, "POST", "/api/v1/devices", map[string]string{
		"device_id":   deviceID,
		"device_type": "esp32_gateway",
	}, map[string]string{"Authorization": "Bearer " + authorityToken})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	key, _ := body["api_key"].(string)
	require.NotEmpty(t, key)
	return key
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAPI_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_RegisterLoginRoundtrip(t *testing.T) {
	env := newTestEnv(t)

	token, id := env.registerAndLogin(t, "asha@example.com", core.RoleTourist)
	assert.NotEmpty(t, token)
	assert.NotZero(t, id)

	// Duplicate registration conflicts.
	resp, _ := env.request(t, "POST", "/api/v1/auth/register", map[string]interface{}{
		"email":    "asha@example.com",
		"password": "longenough",
		"role":     core.RoleTourist,
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Wrong password is a 401.
	resp, _ = env.request(t, "POST", "/api/v1/auth/login", map[string]interface{}{
		"email":    "asha@example.com",
		"password": "wrong password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_LocationIngestion(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	apiKey := env.provisionDevice(t, authority, "gw-01")

	resp, body := env.request(t, "POST", "/api/v1/iot/location", map[string]interface{}{
		"device_id": "gw-01",
		"latitude":  12.9716,
		"longitude": 77.5946,
		"source":    "GNSS",
	}, map[string]string{"X-API-Key": apiKey})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "GNSS", body["source"])
	assert.Equal(t, 1, env.events.Count())
}

func TestAPI_LocationRejectedWithoutValidKey(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	env.provisionDevice(t, authority, "gw-01")

	payload := map[string]interface{}{
		"device_id": "gw-01",
		"rssi":      -60.0,
		"source":    "BLE",
	}

	resp, _ := env.request(t, "POST", "/api/v1/iot/location", payload, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.events.Count())

	resp, _ = env.request(t, "POST", "/api/v1/iot/location", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.events.Count())
}

func TestAPI_DeactivatedDeviceHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	apiKey := env.provisionDevice(t, authority, "gw-01")

	resp, _ := env.request(t, "POST", "/api/v1/devices/gw-01/deactivate", nil, authHeader(authority))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, "POST", "/api/v1/iot/location", map[string]interface{}{
		"device_id": "gw-01",
		"rssi":      -60.0,
		"source":    "BLE",
	}, map[string]string{"X-API-Key": apiKey})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.events.Count())
}

func TestAPI_MalformedPayloadRejected(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	apiKey := env.provisionDevice(t, authority, "gw-01")

	resp, _ := env.request(t, "POST", "/api/v1/iot/location", map[string]interface{}{
		"device_id": "gw-01",
		"source":    "LORA",
		"rssi":      -60.0,
	}, map[string]string{"X-API-Key": apiKey})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, env.events.Count())
}

func TestAPI_HeartbeatUpdatesDevice(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	apiKey := env.provisionDevice(t, authority, "gw-01")

	resp, body := env.request(t, "POST", "/api/v1/iot/heartbeat", map[string]interface{}{
		"device_id": "gw-01",
	}, map[string]string{"X-API-Key": apiKey})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])
	assert.NotEqual(t, time.Time{}.Format(time.RFC3339Nano), body["last_seen"])
}

func TestAPI_SOSCreatesIncidentAndBroadcastsOnce(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	_, touristID := env.registerAndLogin(t, "asha@example.com", core.RoleTourist)
	apiKey := env.provisionDevice(t, authority, "btn-01")

	// Dashboard subscriber watching before the SOS arrives.
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/dashboard"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForSubscribers(t, env.hub, 1)

	resp, body := env.request(t, "POST", "/api/v1/iot/sos", map[string]interface{}{
		"device_id":  "btn-01",
		"tourist_id": touristID,
		"latitude":   12.9,
		"longitude":  77.6,
		"message":    "lost near the falls",
	}, map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	incident := body["incident"].(map[string]interface{})
	incidentID := incident["id"].(string)
	require.NotEmpty(t, incidentID)

	// Exactly one incident_created lands on the wire for this SOS.
	created := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && created == 0 {
		for _, msg := range readBroadcast(t, conn) {
			if msg.Type == "incident_created" {
				created++
			}
		}
	}
	assert.Equal(t, 1, created)

	// A second SOS for the same tourist is absorbed, not duplicated.
	resp, body = env.request(t, "POST", "/api/v1/iot/sos", map[string]interface{}{
		"device_id":  "btn-01",
		"tourist_id": touristID,
	}, map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := body["incident"].(map[string]interface{})
	assert.Equal(t, incidentID, second["id"].(string))
	assert.Equal(t, 2, env.events.Count())
}

func TestAPI_IncidentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	tourist, _ := env.registerAndLogin(t, "asha@example.com", core.RoleTourist)

	resp, body := env.request(t, "POST", "/api/v1/incidents", map[string]interface{}{
		"description": "injured hiker",
		"latitude":    12.97,
		"longitude":   77.59,
	}, authHeader(tourist))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	incidentID := body["id"].(string)

	// Tourists cannot drive the lifecycle.
	resp, _ = env.request(t, "PUT", fmt.Sprintf("/api/v1/incidents/%s/status", incidentID),
		map[string]string{"status": "in_progress"}, authHeader(tourist))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.request(t, "PUT", fmt.Sprintf("/api/v1/incidents/%s/status", incidentID),
		map[string]string{"status": "in_progress"}, authHeader(authority))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", body["status"])

	// Backward transition conflicts and leaves state untouched.
	resp, _ = env.request(t, "PUT", fmt.Sprintf("/api/v1/incidents/%s/status", incidentID),
		map[string]string{"status": "open"}, authHeader(authority))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.request(t, "GET", "/api/v1/incidents/"+incidentID, nil, authHeader(authority))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", body["status"])

	resp, _ = env.request(t, "GET", "/api/v1/incidents/no-such-id", nil, authHeader(authority))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ZoneRiskVisibleImmediately(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)

	resp, body := env.request(t, "PUT", "/api/v1/zones/12/risk",
		map[string]float64{"risk_score": 0.85}, authHeader(authority))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "high", body["risk_level"])

	resp, body = env.request(t, "GET", "/api/v1/zones/12/risk", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.85, body["risk_score"])
	assert.Equal(t, "high", body["risk_level"])

	resp, _ = env.request(t, "GET", "/api/v1/zones/404/risk", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.request(t, "PUT", "/api/v1/zones/12/risk",
		map[string]float64{"risk_score": 1.5}, authHeader(authority))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GeofenceCheck(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, "POST", "/api/v1/geofence/check",
		map[string]float64{"latitude": 12.9716, "longitude": 77.5946}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["outside_geofence"])

	resp, body = env.request(t, "POST", "/api/v1/geofence/check",
		map[string]float64{"latitude": 13.1986, "longitude": 77.7066}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["outside_geofence"])
	assert.Greater(t, body["distance_km"], 2.0)

	resp, _ = env.request(t, "POST", "/api/v1/geofence/check",
		map[string]float64{"latitude": 12.9716}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_TouristAccessControl(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	asha, ashaID := env.registerAndLogin(t, "asha@example.com", core.RoleTourist)
	_, otherID := env.registerAndLogin(t, "ravi@example.com", core.RoleTourist)

	// A tourist reads their own profile but not a stranger's.
	resp, body := env.request(t, "GET", fmt.Sprintf("/api/v1/tourists/%d", ashaID), nil, authHeader(asha))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "asha@example.com", body["email"])

	resp, _ = env.request(t, "GET", fmt.Sprintf("/api/v1/tourists/%d", otherID), nil, authHeader(asha))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Authorities see the full roster with presence stapled in.
	resp, _ = env.request(t, "GET", "/api/v1/tourists", nil, authHeader(asha))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest("GET", env.server.URL+"/api/v1/tourists", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+authority)
	rosterResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rosterResp.Body.Close()
	require.Equal(t, http.StatusOK, rosterResp.StatusCode)
	var roster []map[string]interface{}
	require.NoError(t, json.NewDecoder(rosterResp.Body).Decode(&roster))
	assert.Len(t, roster, 2)
	for _, entry := range roster {
		assert.Equal(t, "offline", entry["presence"])
	}

	// Unauthenticated requests are rejected outright.
	resp, _ = env.request(t, "GET", fmt.Sprintf("/api/v1/tourists/%d", ashaID), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_TouristPresenceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	authority, _ := env.registerAndLogin(t, "ops@example.com", core.RoleAuthority)
	asha, ashaID := env.registerAndLogin(t, "asha@example.com", core.RoleTourist)
	apiKey := env.provisionDevice(t, authority, "gw-01")

	resp, body := env.request(t, "GET", fmt.Sprintf("/api/v1/tourists/%d/presence", ashaID), nil, authHeader(asha))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "offline", body["presence"])

	resp, _ = env.request(t, "POST", "/api/v1/iot/location", map[string]interface{}{
		"device_id":  "gw-01",
		"tourist_id": ashaID,
		"rssi":       -58.0,
		"source":     "BLE",
	}, map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = env.request(t, "GET", fmt.Sprintf("/api/v1/tourists/%d/presence", ashaID), nil, authHeader(asha))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["presence"])
	assert.NotNil(t, body["last_event"])
}
