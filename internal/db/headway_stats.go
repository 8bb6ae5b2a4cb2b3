package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mini-subway-board/poller/internal/arrivals"
	"github.com/mini-subway-board/poller/internal/metrics"
)

// HeadwayObservation is the predicted gap between two consecutive arrivals
// of the same route
type HeadwayObservation struct {
	RouteID        string
	HeadwaySeconds int
}

// HeadwayStats is one row of stats_headway_hourly
type HeadwayStats struct {
	RouteID    string
	HourBucket string
	Count      int
	Mean       float64
	StdDev     float64
	Min        int
	Max        int
}

// Headways derives headway observations from a soonest-first arrival list
func Headways(records []arrivals.Record) []HeadwayObservation {
	last := make(map[string]int64)
	var out []HeadwayObservation

	for _, r := range records {
		if prev, ok := last[r.Route]; ok {
			out = append(out, HeadwayObservation{
				RouteID:        r.Route,
				HeadwaySeconds: int(r.ArrivalEpochSeconds - prev),
			})
		}
		last[r.Route] = r.ArrivalEpochSeconds
	}

	return out
}

// updateHeadwayStats folds observations into the hourly rows using Welford's algorithm
func updateHeadwayStats(ctx context.Context, tx *sql.Tx, stationKey string, polledAt time.Time, observations []HeadwayObservation) error {
	if len(observations) == 0 {
		return nil
	}

	byRoute := make(map[string][]int)
	for _, obs := range observations {
		byRoute[obs.RouteID] = append(byRoute[obs.RouteID], obs.HeadwaySeconds)
	}

	hourBucket := formatTime(polledAt.Truncate(time.Hour))

	for routeID, headways := range byRoute {
		var count, minHeadway, maxHeadway int
		var mean, m2 float64

		err := tx.QueryRowContext(ctx, `
			SELECT observation_count, headway_mean_seconds, headway_m2,
				min_headway_seconds, max_headway_seconds
			FROM stats_headway_hourly
			WHERE station_key = ? AND route_id = ? AND hour_bucket = ?
		`, stationKey, routeID, hourBucket).Scan(&count, &mean, &m2, &minHeadway, &maxHeadway)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read headway stats for %s: %w", routeID, err)
		}

		stats := metrics.RunningStats{Count: count, Mean: mean, M2: m2}
		for _, h := range headways {
			if stats.Count == 0 || h < minHeadway {
				minHeadway = h
			}
			if h > maxHeadway {
				maxHeadway = h
			}
			stats.Update(float64(h))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stats_headway_hourly (station_key, route_id, hour_bucket, observation_count,
				headway_mean_seconds, headway_m2, min_headway_seconds, max_headway_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (station_key, route_id, hour_bucket) DO UPDATE SET
				observation_count = excluded.observation_count,
				headway_mean_seconds = excluded.headway_mean_seconds,
				headway_m2 = excluded.headway_m2,
				min_headway_seconds = excluded.min_headway_seconds,
				max_headway_seconds = excluded.max_headway_seconds
		`, stationKey, routeID, hourBucket, stats.Count, stats.Mean, stats.M2, minHeadway, maxHeadway)
		if err != nil {
			return fmt.Errorf("failed to upsert headway stats for %s: %w", routeID, err)
		}
	}

	return nil
}

// GetHeadwayStats returns the hourly headway rows for a station, newest hour first
func (db *DB) GetHeadwayStats(ctx context.Context, stationKey string) ([]HeadwayStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT route_id, hour_bucket, observation_count, headway_mean_seconds, headway_m2,
			min_headway_seconds, max_headway_seconds
		FROM stats_headway_hourly
		WHERE station_key = ?
		ORDER BY hour_bucket DESC, route_id
	`, stationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query headway stats: %w", err)
	}
	defer rows.Close()

	var out []HeadwayStats
	for rows.Next() {
		var s HeadwayStats
		var m2 float64
		if err := rows.Scan(&s.RouteID, &s.HourBucket, &s.Count, &s.Mean, &m2, &s.Min, &s.Max); err != nil {
			return nil, fmt.Errorf("failed to scan headway stats: %w", err)
		}
		running := metrics.RunningStats{Count: s.Count, Mean: s.Mean, M2: m2}
		s.StdDev = running.StdDev()
		out = append(out, s)
	}

	return out, rows.Err()
}
