package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoam_events_ingested_total",
			Help: "Total number of location events ingested",
		},
		[]string{"source"},
	)

	DeviceAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saferoam_device_auth_failures_total",
			Help: "Total number of rejected device submissions",
		},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoam_incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"origin"},
	)

	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoam_broadcasts_sent_total",
			Help: "Total number of dashboard broadcasts published",
		},
		[]string{"type"},
	)

	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saferoam_subscribers_dropped_total",
			Help: "Total number of dashboard subscribers dropped for slow consumption",
		},
	)

	ConnectedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saferoam_connected_subscribers",
			Help: "Current number of connected dashboard subscribers",
		},
	)
)
