package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"saferoam/core"
	"saferoam/geo"
	"saferoam/ingest"
	"saferoam/service"
	"saferoam/storage"
)

// respondJSON writes a JSON response with proper error handling.
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, message string) {
	a.respondJSON(w, map[string]string{"error": message}, statusCode)
}

// respondServiceError maps domain errors onto HTTP statuses. Internal
// failures are logged but never echoed to the client.
func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrAuthenticationFailed):
		a.respondError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, core.ErrValidationFailed):
		a.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrInvalidTransition):
		a.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrDuplicateDevice), errors.Is(err, storage.ErrDuplicateEmail):
		a.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrDeviceNotFound),
		errors.Is(err, storage.ErrEventNotFound),
		errors.Is(err, storage.ErrZoneNotFound),
		errors.Is(err, storage.ErrIncidentNotFound),
		errors.Is(err, storage.ErrUserNotFound):
		a.respondError(w, http.StatusNotFound, "not found")
	default:
		a.logger.Errorw("Request failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", core.ErrValidationFailed)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", core.ErrValidationFailed, raw)
	}
	return id, nil
}

// --- device ingestion ---

func (a *API) postLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		ingest.LocationPayload
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	event, err := a.pipeline.IngestLocation(r.Context(), deviceKey(r), req.DeviceID, &req.LocationPayload)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, event, http.StatusCreated)
}

func (a *API) postHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		ingest.HeartbeatPayload
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	device, err := a.pipeline.IngestHeartbeat(r.Context(), deviceKey(r), req.DeviceID, &req.HeartbeatPayload)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, device, http.StatusOK)
}

func (a *API) postSOS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		ingest.SOSPayload
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	event, incident, err := a.pipeline.IngestSOS(r.Context(), deviceKey(r), req.DeviceID, &req.SOSPayload)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]interface{}{
		"event":    event,
		"incident": incident,
	}, http.StatusCreated)
}

// --- accounts ---

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	user, err := a.auth.Register(r.Context(), &req)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusCreated)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	token, user, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]interface{}{
		"token": token,
		"user":  user,
	}, http.StatusOK)
}

// --- incidents ---

func (a *API) reportIncident(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	var req struct {
		Description string  `json:"description"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		TouristID   *int64  `json:"tourist_id,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	// Tourists always report as themselves; authorities may report on
	// a tourist's behalf.
	touristID := req.TouristID
	if claims.Role == core.RoleTourist {
		touristID = &claims.UserID
	}

	incident, err := a.incidents.Report(r.Context(), touristID, req.Description, req.Latitude, req.Longitude)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, incident, http.StatusCreated)
}

func (a *API) listIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.incidents.ListAll(r.Context())
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, incidents, http.StatusOK)
}

func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := a.incidents.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, incident, http.StatusOK)
}

func (a *API) updateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status core.IncidentStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	incident, err := a.incidents.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, incident, http.StatusOK)
}

// --- zones ---

func (a *API) updateZoneRisk(w http.ResponseWriter, r *http.Request) {
	zoneID, err := pathID(r)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	var req struct {
		RiskScore float64 `json:"risk_score"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	state, err := a.zones.UpdateRisk(r.Context(), zoneID, req.RiskScore)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, state, http.StatusOK)
}

func (a *API) getZoneRisk(w http.ResponseWriter, r *http.Request) {
	zoneID, err := pathID(r)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	state, err := a.zones.GetRisk(r.Context(), zoneID)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, state, http.StatusOK)
}

func (a *API) listZoneRisk(w http.ResponseWriter, r *http.Request) {
	states, err := a.zones.ListRisk(r.Context())
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, states, http.StatusOK)
}

func (a *API) getZoneFeatures(w http.ResponseWriter, r *http.Request) {
	zoneID, err := pathID(r)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	features, err := a.zones.AggregateFeatures(r.Context(), zoneID)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, features, http.StatusOK)
}

func (a *API) checkGeofence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		a.respondServiceError(w, fmt.Errorf("%w: latitude and longitude are required", core.ErrValidationFailed))
		return
	}

	fence := a.config.Geofence
	distance := geo.Distance(*req.Latitude, *req.Longitude, fence.CenterLat, fence.CenterLng)
	a.respondJSON(w, map[string]interface{}{
		"outside_geofence": distance > fence.RadiusKM,
		"distance_km":      distance,
	}, http.StatusOK)
}

// --- tourists ---

// authorizeTourist lets a tourist act on their own record and an
// authority on any record.
func authorizeTourist(claims *service.Claims, touristID int64) bool {
	if claims.Role == core.RoleAuthority {
		return true
	}
	return claims.UserID == touristID
}

func (a *API) listTourists(w http.ResponseWriter, r *http.Request) {
	roster, err := a.tourists.ListWithPresence(r.Context())
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, roster, http.StatusOK)
}

func (a *API) getTourist(w http.ResponseWriter, r *http.Request) {
	touristID, err := pathID(r)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	claims, _ := claimsFromContext(r.Context())
	if !authorizeTourist(claims, touristID) {
		a.respondError(w, http.StatusForbidden, "insufficient role")
		return
	}

	tourist, err := a.tourists.Profile(r.Context(), touristID)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, tourist, http.StatusOK)
}

func (a *API) updateTourist(w http.ResponseWriter, r *http.Request) {
	touristID, err := pathID(r)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	claims, _ := claimsFromContext(r.Context())
	if !authorizeTourist(claims, touristID) {
		a.respondError(w, http.StatusForbidden, "insufficient role")
		return
	}

	var req struct {
		FullName         string `json:"full_name"`
		Phone            string `json:"phone"`
		EmergencyContact string `json:"emergency_contact"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	tourist, err := a.tourists.UpdateProfile(r.Context(), touristID, req.FullName, req.Phone, req.EmergencyContact)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, tourist, http.StatusOK)
}

func (a *API) getTouristPresence(w http.ResponseWriter, r *http.Request) {
	touristID, err := pathID(r)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	claims, _ := claimsFromContext(r.Context())
	if !authorizeTourist(claims, touristID) {
		a.respondError(w, http.StatusForbidden, "insufficient role")
		return
	}

	presence, event, err := a.tourists.Presence(r.Context(), touristID, time.Now())
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]interface{}{
		"tourist_id": touristID,
		"presence":   presence,
		"last_event": event,
	}, http.StatusOK)
}

func (a *API) listTouristIncidents(w http.ResponseWriter, r *http.Request) {
	touristID, err := pathID(r)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	claims, _ := claimsFromContext(r.Context())
	if !authorizeTourist(claims, touristID) {
		a.respondError(w, http.StatusForbidden, "insufficient role")
		return
	}

	incidents, err := a.incidents.ListByTourist(r.Context(), touristID)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, incidents, http.StatusOK)
}

// --- devices ---

func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.devices.List(r.Context())
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, devices, http.StatusOK)
}

// provisionDevice returns the generated API key exactly once, in this
// response. It is never retrievable afterwards.
func (a *API) provisionDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID     string `json:"device_id"`
		DeviceType   string `json:"device_type"`
		LocationName string `json:"location_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondServiceError(w, err)
		return
	}

	device, err := a.devices.Provision(r.Context(), req.DeviceID, req.DeviceType, req.LocationName)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]interface{}{
		"device":  device,
		"api_key": device.APIKey,
	}, http.StatusCreated)
}

func (a *API) deactivateDevice(w http.ResponseWriter, r *http.Request) {
	if err := a.devices.Deactivate(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, map[string]string{"status": "deactivated"}, http.StatusOK)
}

// --- infrastructure ---

func (a *API) dashboardWS(w http.ResponseWriter, r *http.Request) {
	serveWs(a.hub, a.logger, w, r)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, map[string]interface{}{
		"status":      "ok",
		"subscribers": a.hub.SubscriberCount(),
	}, http.StatusOK)
}
