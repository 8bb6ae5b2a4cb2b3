package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthHistoryRetention is how long health snapshots are kept
const HealthHistoryRetention = 48 * time.Hour

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// StationBaseline is the expected number of upcoming arrivals at a station
// for one hour of the week
type StationBaseline struct {
	StationKey         string
	HourOfDay          int
	DayOfWeek          int
	ArrivalCountMean   float64
	ArrivalCountStdDev float64
	SampleCount        int
}

// HealthStatus is a recorded health snapshot
type HealthStatus struct {
	StationKey   string
	HealthScore  int
	Status       string
	ArrivalCount int
}

// BaselineStore defines the interface for baseline persistence
type BaselineStore interface {
	GetBaseline(ctx context.Context, stationKey string, hour, dayOfWeek int) (*StationBaseline, error)
	SaveBaseline(ctx context.Context, baseline StationBaseline) error
	GetArrivalCount(ctx context.Context, stationKey string) (int, error)
	LastPollSucceeded(ctx context.Context, stationKey string) (ok, known bool, err error)
	RecordHealthStatus(ctx context.Context, status HealthStatus) error
	CleanupHealthHistory(ctx context.Context, retention time.Duration) error
}

// BaselineLearner handles incremental baseline updates
type BaselineLearner struct {
	store BaselineStore
	now   func() time.Time
}

// NewBaselineLearner creates a new baseline learner
func NewBaselineLearner(store BaselineStore) *BaselineLearner {
	return &BaselineLearner{store: store, now: time.Now}
}

// UpdateBaseline folds the station's current arrival count into the
// baseline for the current hour and weekday
func (l *BaselineLearner) UpdateBaseline(ctx context.Context, stationKey string) error {
	now := l.now()
	hour := now.Hour()
	dayOfWeek := int(now.Weekday())

	count, err := l.store.GetArrivalCount(ctx, stationKey)
	if err != nil {
		return err
	}

	// Skip empty boards (avoid skewing the baseline during outages)
	if count == 0 {
		return nil
	}

	existing, err := l.store.GetBaseline(ctx, stationKey, hour, dayOfWeek)
	if err != nil {
		return err
	}

	stats := RunningStats{}
	if existing != nil {
		stats = NewRunningStats(existing.ArrivalCountMean, existing.ArrivalCountStdDev, existing.SampleCount)
	}
	stats.Update(float64(count))

	return l.store.SaveBaseline(ctx, StationBaseline{
		StationKey:         stationKey,
		HourOfDay:          hour,
		DayOfWeek:          dayOfWeek,
		ArrivalCountMean:   stats.Mean,
		ArrivalCountStdDev: stats.StdDev(),
		SampleCount:        stats.Count,
	})
}

// RecordHealth records the station's health and prunes old history
func (l *BaselineLearner) RecordHealth(ctx context.Context, stationKey string) (HealthStatus, error) {
	ok, known, err := l.store.LastPollSucceeded(ctx, stationKey)
	if err != nil {
		return HealthStatus{}, err
	}

	count, err := l.store.GetArrivalCount(ctx, stationKey)
	if err != nil {
		return HealthStatus{}, err
	}

	status := Health(stationKey, ok, known, count)
	if err := l.store.RecordHealthStatus(ctx, status); err != nil {
		return status, err
	}

	if err := l.store.CleanupHealthHistory(ctx, HealthHistoryRetention); err != nil {
		log.Warn().Err(err).Msg("Health status: cleanup failed")
	}

	return status, nil
}

// Health grades a station from its last poll outcome and arrival count
func Health(stationKey string, lastPollOK, known bool, arrivalCount int) HealthStatus {
	status := HealthStatus{StationKey: stationKey, ArrivalCount: arrivalCount}

	switch {
	case !known:
		status.Status = StatusUnknown
	case !lastPollOK:
		status.Status = StatusUnhealthy
	case arrivalCount == 0:
		status.HealthScore = 50
		status.Status = StatusDegraded
	default:
		status.HealthScore = 100
		status.Status = StatusHealthy
	}

	return status
}
