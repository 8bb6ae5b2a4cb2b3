package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mini-subway-board/poller/internal/metrics"
)

// GetBaseline retrieves a baseline for a specific station, hour, and day
func (db *DB) GetBaseline(ctx context.Context, stationKey string, hour, dayOfWeek int) (*metrics.StationBaseline, error) {
	query := `
		SELECT station_key, hour_of_day, day_of_week, arrival_count_mean, arrival_count_stddev, sample_count
		FROM metrics_baselines
		WHERE station_key = ? AND hour_of_day = ? AND day_of_week = ?
	`

	var baseline metrics.StationBaseline
	err := db.conn.QueryRowContext(ctx, query, stationKey, hour, dayOfWeek).Scan(
		&baseline.StationKey,
		&baseline.HourOfDay,
		&baseline.DayOfWeek,
		&baseline.ArrivalCountMean,
		&baseline.ArrivalCountStdDev,
		&baseline.SampleCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &baseline, nil
}

// SaveBaseline upserts a baseline record
func (db *DB) SaveBaseline(ctx context.Context, baseline metrics.StationBaseline) error {
	db.LockWrite()
	defer db.UnlockWrite()

	query := `
		INSERT INTO metrics_baselines (station_key, hour_of_day, day_of_week, arrival_count_mean, arrival_count_stddev, sample_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_key, hour_of_day, day_of_week) DO UPDATE SET
			arrival_count_mean = excluded.arrival_count_mean,
			arrival_count_stddev = excluded.arrival_count_stddev,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		baseline.StationKey,
		baseline.HourOfDay,
		baseline.DayOfWeek,
		baseline.ArrivalCountMean,
		baseline.ArrivalCountStdDev,
		baseline.SampleCount,
		formatTime(time.Now()),
	)
	return err
}

// GetArrivalCount returns the number of current arrivals for a station that
// were refreshed in the last 10 minutes
func (db *DB) GetArrivalCount(ctx context.Context, stationKey string) (int, error) {
	query := `
		SELECT COUNT(*) FROM arrivals_current
		WHERE station_key = ? AND datetime(updated_at) > datetime('now', '-10 minutes')
	`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, stationKey).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// LastPollSucceeded reports whether the station's most recent poll succeeded.
// known is false when no poll has been recorded.
func (db *DB) LastPollSucceeded(ctx context.Context, stationKey string) (ok, known bool, err error) {
	status, err := db.GetLastPollStatus(ctx, stationKey)
	if err != nil || status == nil {
		return false, false, err
	}
	return status.OK, true, nil
}

// RecordHealthStatus records a health status snapshot for uptime tracking
func (db *DB) RecordHealthStatus(ctx context.Context, status metrics.HealthStatus) error {
	db.LockWrite()
	defer db.UnlockWrite()

	query := `
		INSERT INTO metrics_health_history (recorded_at, station_key, health_score, status, arrival_count)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		formatTime(time.Now()),
		status.StationKey,
		status.HealthScore,
		status.Status,
		status.ArrivalCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record health status: %w", err)
	}
	return nil
}

// CleanupHealthHistory removes health history older than retention
func (db *DB) CleanupHealthHistory(ctx context.Context, retention time.Duration) error {
	db.LockWrite()
	defer db.UnlockWrite()

	hours := int(retention.Hours())
	if hours < 1 {
		hours = 1
	}

	query := `DELETE FROM metrics_health_history WHERE datetime(recorded_at) < datetime('now', ?)`
	_, err := db.conn.ExecContext(ctx, query, fmt.Sprintf("-%d hours", hours))
	return err
}

// GetHealthHistory returns recorded health snapshots for a station, newest first
func (db *DB) GetHealthHistory(ctx context.Context, stationKey string, limit int) ([]metrics.HealthStatus, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT station_key, health_score, status, arrival_count
		FROM metrics_health_history
		WHERE station_key = ?
		ORDER BY id DESC
		LIMIT ?
	`, stationKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query health history: %w", err)
	}
	defer rows.Close()

	var out []metrics.HealthStatus
	for rows.Next() {
		var s metrics.HealthStatus
		if err := rows.Scan(&s.StationKey, &s.HealthScore, &s.Status, &s.ArrivalCount); err != nil {
			return nil, fmt.Errorf("failed to scan health status: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
