// README: Tracking store backed by Redis (live snapshots, GEO) and Postgres (history, archive).
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridepulse/internal/types"
)

const (
	driverGeoKey  = "tracking:drivers"
	liveKeyPrefix = "tracking:trip:%s:live"
	// Live snapshots outlive the trip briefly so late joiners and the
	// tracking page survive an eviction race.
	liveTTL = 1 * time.Hour
)

// PersistentStore implements Store on the redis live cache plus the Postgres
// trip archive. Either backend may be nil; the corresponding calls become
// no-ops so the core runs without infrastructure in tests and local setups.
type PersistentStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *PersistentStore {
	return &PersistentStore{db: db, redis: redis}
}

func (s *PersistentStore) SaveLive(ctx context.Context, snap ConsolidatedSnapshot) error {
	if s.redis == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, liveKey(snap.Trip.TripID), payload, liveTTL)
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(snap.Trip.DriverID),
		Longitude: snap.Trip.Position.Lng,
		Latitude:  snap.Trip.Position.Lat,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *PersistentStore) GetLive(ctx context.Context, tripID types.ID) (*ConsolidatedSnapshot, error) {
	if s.redis == nil {
		return nil, nil
	}
	val, err := s.redis.Get(ctx, liveKey(tripID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap ConsolidatedSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PersistentStore) AppendFix(ctx context.Context, fix AcceptedFix) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO trip_position_fixes (
            trip_id, driver_id, lat, lng, heading, speed_kmh, recorded_at, duplicate
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(fix.TripID),
		string(fix.DriverID),
		fix.Position.Lat, fix.Position.Lng,
		fix.Heading, fix.SpeedKmh,
		fix.Timestamp,
		fix.Duplicate,
	)
	return err
}

func (s *PersistentStore) ArchiveFinal(ctx context.Context, final FinalSnapshot) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO trip_track_final (
            trip_id, driver_id, last_lat, last_lng,
            cumulative_distance_km, elapsed_seconds,
            percent_complete, reason, started_at, evicted_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (trip_id) DO NOTHING`,
		string(final.Trip.TripID),
		string(final.Trip.DriverID),
		final.Trip.Position.Lat, final.Trip.Position.Lng,
		final.Trip.CumulativeDistanceKm,
		final.Trip.ElapsedSeconds,
		final.Progress.PercentComplete,
		string(final.Reason),
		final.Trip.TripStartTime,
		final.EvictedAt,
	)
	return err
}

func (s *PersistentStore) ClearLive(ctx context.Context, tripID, driverID types.ID) error {
	if s.redis == nil {
		return nil
	}
	pipe := s.redis.Pipeline()
	pipe.Del(ctx, liveKey(tripID))
	if driverID != "" {
		pipe.ZRem(ctx, driverGeoKey, string(driverID))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func liveKey(tripID types.ID) string {
	return fmt.Sprintf(liveKeyPrefix, string(tripID))
}
