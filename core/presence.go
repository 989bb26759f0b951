package core

import "time"

// PresenceLabel classifies a tourist's liveness from the recency of
// their last accepted location event.
type PresenceLabel string

const (
	PresenceActive  PresenceLabel = "active"
	PresenceDelayed PresenceLabel = "delayed"
	PresenceOffline PresenceLabel = "offline"
)

// Presence recency thresholds.
const (
	PresenceActiveWindow  = 5 * time.Minute
	PresenceDelayedWindow = 15 * time.Minute
)

// PresenceFor derives the presence classification from the last event
// timestamp. A zero lastSeen means no event exists and the tourist is
// offline. Pure projection: computed fresh on every query, never cached.
func PresenceFor(lastSeen, now time.Time) PresenceLabel {
	if lastSeen.IsZero() {
		return PresenceOffline
	}
	age := now.Sub(lastSeen)
	switch {
	case age <= PresenceActiveWindow:
		return PresenceActive
	case age <= PresenceDelayedWindow:
		return PresenceDelayed
	default:
		return PresenceOffline
	}
}
