package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"saferoam/config"
	"saferoam/core"
	"saferoam/ingest"
	"saferoam/service"
)

// rateLimiterEntry holds a rate limiter with last seen time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the HTTP server and its route dependencies.
type API struct {
	router   *mux.Router
	server   *http.Server
	pipeline *ingest.Pipeline

	devices   *service.DeviceService
	incidents *service.IncidentService
	zones     *service.ZoneService
	tourists  *service.TouristService
	auth      *service.AuthService
	hub       *Hub

	config *config.Config
	logger *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI wires the HTTP surface. The hub must already be started.
func NewAPI(
	pipeline *ingest.Pipeline,
	devices *service.DeviceService,
	incidents *service.IncidentService,
	zones *service.ZoneService,
	tourists *service.TouristService,
	auth *service.AuthService,
	hub *Hub,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *API {
	api := &API{
		router:       mux.NewRouter(),
		pipeline:     pipeline,
		devices:      devices,
		incidents:    incidents,
		zones:        zones,
		tourists:     tourists,
		auth:         auth,
		hub:          hub,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

func (a *API) setupRoutes() {
	a.router.Use(a.loggingMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	// Device ingestion, authenticated per call via X-API-Key.
	a.router.HandleFunc("/api/v1/iot/location", a.postLocation).Methods("POST")
	a.router.HandleFunc("/api/v1/iot/heartbeat", a.postHeartbeat).Methods("POST")
	a.router.HandleFunc("/api/v1/iot/sos", a.postSOS).Methods("POST")

	// Accounts.
	a.router.HandleFunc("/api/v1/auth/register", a.register).Methods("POST")
	a.router.HandleFunc("/api/v1/auth/login", a.login).Methods("POST")

	// Incidents.
	a.router.Handle("/api/v1/incidents", a.requireAuth(a.reportIncident)).Methods("POST")
	a.router.Handle("/api/v1/incidents", a.requireRole(core.RoleAuthority, a.listIncidents)).Methods("GET")
	a.router.Handle("/api/v1/incidents/{id}", a.requireAuth(a.getIncident)).Methods("GET")
	a.router.Handle("/api/v1/incidents/{id}/status", a.requireRole(core.RoleAuthority, a.updateIncidentStatus)).Methods("PUT")

	// Zone risk.
	a.router.HandleFunc("/api/v1/zones/risk", a.listZoneRisk).Methods("GET")
	a.router.HandleFunc("/api/v1/zones/{id}/risk", a.getZoneRisk).Methods("GET")
	a.router.Handle("/api/v1/zones/{id}/risk", a.requireRole(core.RoleAuthority, a.updateZoneRisk)).Methods("PUT")
	a.router.HandleFunc("/api/v1/zones/{id}/features", a.getZoneFeatures).Methods("GET")

	// Geofence check
	a.router.HandleFunc("/api/v1/geofence/check", a.checkGeofence).Methods("POST")

	// Tourists.
	a.router.Handle("/api/v1/tourists", a.requireRole(core.RoleAuthority, a.listTourists)).Methods("GET")
	a.router.Handle("/api/v1/tourists/{id}", a.requireAuth(a.getTourist)).Methods("GET")
	a.router.Handle("/api/v1/tourists/{id}", a.requireAuth(a.updateTourist)).Methods("PUT")
	a.router.Handle("/api/v1/tourists/{id}/presence", a.requireAuth(a.getTouristPresence)).Methods("GET")
	a.router.Handle("/api/v1/tourists/{id}/incidents", a.requireAuth(a.listTouristIncidents)).Methods("GET")

	// Devices, authority-only administration.
	a.router.Handle("/api/v1/devices", a.requireRole(core.RoleAuthority, a.listDevices)).Methods("GET")
	a.router.Handle("/api/v1/devices", a.requireRole(core.RoleAuthority, a.provisionDevice)).Methods("POST")
	a.router.Handle("/api/v1/devices/{id}/deactivate", a.requireRole(core.RoleAuthority, a.deactivateDevice)).Methods("POST")

	a.router.HandleFunc("/ws/dashboard", a.dashboardWS)
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.API.Port),
		Handler: a.router,
	}
	if a.config.API.TLS {
		return a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server.
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// cleanupRateLimiters periodically removes inactive rate limiters to
// prevent memory growth from churning client IPs.
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if time.Since(entry.lastSeen) > 1*time.Hour {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}
