package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Cleanup deletes data older than the specified retention duration
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	hours := int(retention.Hours())
	if hours < 1 {
		hours = 1
	}
	window := fmt.Sprintf("-%d hours", hours)

	queries := []struct {
		name  string
		query string
	}{
		{
			name:  "arrivals_history",
			query: "DELETE FROM arrivals_history WHERE datetime(polled_at_utc) < datetime('now', ?)",
		},
		{
			name:  "poll_snapshots",
			query: "DELETE FROM poll_snapshots WHERE datetime(polled_at_utc) < datetime('now', ?)",
		},
		{
			name:  "poll_status",
			query: "DELETE FROM poll_status WHERE datetime(polled_at_utc) < datetime('now', ?)",
		},
	}

	db.LockWrite()
	defer db.UnlockWrite()

	totalDeleted := 0
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query, window)
		if err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}

	if totalDeleted > 0 {
		log.Info().Int("deleted", totalDeleted).Int("hours", hours).Msg("Cleanup: deleted old records")
	}

	return nil
}
