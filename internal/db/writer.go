package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mini-subway-board/poller/internal/arrivals"
	"github.com/mini-subway-board/poller/internal/realtime/feed"
)

// PollStatus is one recorded poll outcome
type PollStatus struct {
	StationKey string
	PolledAt   time.Time
	OK         bool
	Error      string
}

// SaveArrivals records a successful poll: a snapshot row, a wholesale
// replacement of the station's current arrivals, history rows, and the
// hourly headway statistics.
func (db *DB) SaveArrivals(ctx context.Context, stationKey string, polledAt time.Time, snap *feed.Snapshot, records []arrivals.Record) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snapshotID, err := createSnapshot(ctx, tx, stationKey, polledAt, snap, len(records))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM arrivals_current WHERE station_key = ?", stationKey); err != nil {
		return fmt.Errorf("failed to clear current arrivals: %w", err)
	}

	currentStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO arrivals_current (
			station_key, record_id, trip_id, route_id, arrival_utc, snapshot_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_key, record_id) DO UPDATE SET
			trip_id = excluded.trip_id,
			route_id = excluded.route_id,
			arrival_utc = excluded.arrival_utc,
			snapshot_id = excluded.snapshot_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare current statement: %w", err)
	}
	defer currentStmt.Close()

	historyStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO arrivals_history (
			snapshot_id, station_key, record_id, trip_id, route_id, arrival_utc, polled_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history statement: %w", err)
	}
	defer historyStmt.Close()

	polledAtStr := formatTime(polledAt)
	for _, r := range records {
		arrivalStr := formatTime(r.Time())

		if _, err := currentStmt.ExecContext(ctx,
			stationKey, r.ID, r.TripID, r.Route, arrivalStr, snapshotID, polledAtStr,
		); err != nil {
			return fmt.Errorf("failed to upsert arrival %s: %w", r.ID, err)
		}

		if _, err := historyStmt.ExecContext(ctx,
			snapshotID, stationKey, r.ID, r.TripID, r.Route, arrivalStr, polledAtStr,
		); err != nil {
			return fmt.Errorf("failed to insert history %s: %w", r.ID, err)
		}
	}

	if err := updateHeadwayStats(ctx, tx, stationKey, polledAt, Headways(records)); err != nil {
		return err
	}

	return tx.Commit()
}

// createSnapshot inserts a poll snapshot row and returns its ID
func createSnapshot(ctx context.Context, tx *sql.Tx, stationKey string, polledAt time.Time, snap *feed.Snapshot, arrivalCount int) (string, error) {
	snapshotID := uuid.New().String()

	var feedTS *string
	entityCount := 0
	if snap != nil {
		entityCount = len(snap.Entities)
		if !snap.Timestamp.IsZero() {
			s := formatTime(snap.Timestamp)
			feedTS = &s
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO poll_snapshots (snapshot_id, station_key, polled_at_utc, feed_timestamp_utc, entity_count, arrival_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snapshotID, stationKey, formatTime(polledAt), feedTS, entityCount, arrivalCount)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}

	return snapshotID, nil
}

// RecordPollStatus appends a poll outcome; a nil pollErr records success
func (db *DB) RecordPollStatus(ctx context.Context, stationKey string, polledAt time.Time, pollErr error) error {
	db.LockWrite()
	defer db.UnlockWrite()

	var errText *string
	if pollErr != nil {
		s := pollErr.Error()
		errText = &s
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO poll_status (station_key, polled_at_utc, ok, error) VALUES (?, ?, ?, ?)",
		stationKey, formatTime(polledAt), pollErr == nil, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record poll status: %w", err)
	}
	return nil
}

// GetLastPollStatus returns the most recent poll outcome for a station, or
// nil if none was recorded
func (db *DB) GetLastPollStatus(ctx context.Context, stationKey string) (*PollStatus, error) {
	var (
		status   PollStatus
		polledAt string
		errText  sql.NullString
	)

	err := db.conn.QueryRowContext(ctx, `
		SELECT station_key, polled_at_utc, ok, error
		FROM poll_status
		WHERE station_key = ?
		ORDER BY id DESC
		LIMIT 1
	`, stationKey).Scan(&status.StationKey, &polledAt, &status.OK, &errText)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query poll status: %w", err)
	}

	status.PolledAt, err = time.Parse(time.RFC3339, polledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse poll time: %w", err)
	}
	status.Error = errText.String
	return &status, nil
}

// GetCurrentArrivals returns the stored arrival list for a station, soonest first
func (db *DB) GetCurrentArrivals(ctx context.Context, stationKey string) ([]arrivals.Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT record_id, trip_id, route_id, arrival_utc
		FROM arrivals_current
		WHERE station_key = ?
		ORDER BY arrival_utc, rowid
	`, stationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query current arrivals: %w", err)
	}
	defer rows.Close()

	records := []arrivals.Record{}
	for rows.Next() {
		var r arrivals.Record
		var arrivalStr string
		if err := rows.Scan(&r.ID, &r.TripID, &r.Route, &arrivalStr); err != nil {
			return nil, fmt.Errorf("failed to scan arrival: %w", err)
		}
		at, err := time.Parse(time.RFC3339, arrivalStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse arrival time: %w", err)
		}
		r.ArrivalEpochSeconds = at.Unix()
		records = append(records, r)
	}

	return records, rows.Err()
}
