package position

import (
	"time"

	"github.com/mini-subway-board/poller/internal/arrivals"
)

// ArrivedThreshold is the time remaining below which a train counts as arrived
const ArrivedThreshold = time.Second

// Model maps time remaining to a coordinate on [0, RangeMax].
// RangeMax is the arrived end of the line, 0 the farthest end.
type Model struct {
	MaxTravelTime time.Duration
	RangeMax      float64
}

// Update is one train's position for a tick
type Update struct {
	ID            string        `json:"id"`
	Route         string        `json:"route"`
	Position      float64       `json:"position"`
	TimeRemaining time.Duration `json:"timeRemaining"`
	Arrived       bool          `json:"arrived"` // true only on the tick that crossed ArrivedThreshold
}

// PositionFor maps an arrival instant to a coordinate at now.
//
// Time remaining is clamped to [0, maxTravel] first, so overdue trains sit at
// the arrived end and distant trains at the farthest end; the mapping never
// extrapolates beyond [0, rangeMax].
func PositionFor(arrival, now time.Time, maxTravel time.Duration, rangeMax float64) float64 {
	if maxTravel <= 0 {
		return rangeMax
	}

	remaining := arrival.Sub(now).Seconds()
	max := maxTravel.Seconds()
	fraction := Clamp(remaining, 0, max) / max

	return Interpolate(rangeMax, 0, fraction)
}

// Advance computes every present record's position at now and upserts it
// into state. Arrived is set on the first tick a record's time remaining
// drops below ArrivedThreshold.
func (m Model) Advance(state *State, records []arrivals.Record, now time.Time) []Update {
	updates := make([]Update, 0, len(records))

	for _, rec := range records {
		arrival := rec.Time()
		remaining := arrival.Sub(now)
		pos := PositionFor(arrival, now, m.MaxTravelTime, m.RangeMax)

		arrived := state.upsert(rec.ID, rec.Route, pos, remaining)

		updates = append(updates, Update{
			ID:            rec.ID,
			Route:         rec.Route,
			Position:      pos,
			TimeRemaining: remaining,
			Arrived:       arrived,
		})
	}

	return updates
}

// Clamp constrains a value between min and max
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Interpolate linearly interpolates between start and end
func Interpolate(start, end, fraction float64) float64 {
	return start + (end-start)*fraction
}
