package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"saferoam/core"
	"saferoam/storage"
)

const zoneLockStripes = 16

// DefaultFeatureWindow bounds the event history aggregated into zone
// features for the external risk scorer.
const DefaultFeatureWindow = time.Hour

// ZoneService maintains the single risk record per zone. Concurrent
// score submissions for the same zone are serialized through a striped
// lock so the stored level always matches the stored score.
type ZoneService struct {
	zones       storage.ZoneStorage
	events      storage.EventStorage
	broadcaster Broadcaster
	logger      *zap.SugaredLogger
	locks       [zoneLockStripes]sync.Mutex
	now         func() time.Time
}

func NewZoneService(zones storage.ZoneStorage, events storage.EventStorage, broadcaster Broadcaster, logger *zap.SugaredLogger) *ZoneService {
	if zones == nil {
		panic("zones storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &ZoneService{zones: zones, events: events, broadcaster: broadcaster, logger: logger, now: time.Now}
}

// UpdateRisk stores a new risk score for a zone and classifies it. The
// level is always derived from the score inside the critical section,
// never supplied by the caller.
func (zs *ZoneService) UpdateRisk(ctx context.Context, zoneID int64, score float64) (*core.ZoneRiskState, error) {
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: risk score %v outside [0, 1]", core.ErrValidationFailed, score)
	}

	lock := &zs.locks[uint64(zoneID)%zoneLockStripes]
	lock.Lock()
	defer lock.Unlock()

	state := &core.ZoneRiskState{
		ZoneID:    zoneID,
		RiskScore: score,
		RiskLevel: core.RiskLevelForScore(score),
		UpdatedAt: zs.now().UTC(),
	}
	if err := zs.zones.UpsertZoneRisk(ctx, state); err != nil {
		return nil, fmt.Errorf("upsert zone risk: %w", err)
	}

	if zs.broadcaster != nil {
		zs.broadcaster.Publish("zone_updated", state)
	}
	zs.logger.Debugw("Zone risk updated", "zone_id", zoneID, "score", score, "level", state.RiskLevel)
	return state, nil
}

// GetRisk returns the current risk record for a zone.
func (zs *ZoneService) GetRisk(ctx context.Context, zoneID int64) (*core.ZoneRiskState, error) {
	return zs.zones.GetZoneRisk(ctx, zoneID)
}

// ListRisk returns the risk records for all scored zones.
func (zs *ZoneService) ListRisk(ctx context.Context) ([]core.ZoneRiskState, error) {
	return zs.zones.ListZoneRisk(ctx)
}

// AggregateFeatures summarizes a zone's recent events into the inputs
// the external scorer consumes. A zone with no recent events yields a
// zero-valued summary, not an error.
func (zs *ZoneService) AggregateFeatures(ctx context.Context, zoneID int64) (*core.ZoneFeatures, error) {
	return zs.events.ZoneFeatures(ctx, zoneID, DefaultFeatureWindow, zs.now().UTC())
}
