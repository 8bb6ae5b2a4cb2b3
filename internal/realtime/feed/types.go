package feed

import "time"

// Snapshot is one decoded GTFS-RT FeedMessage reduced to what the arrivals
// pipeline reads. It is immutable once decoded.
type Snapshot struct {
	Timestamp time.Time // header timestamp, zero if absent
	Entities  []Entity
}

// Entity is one feed entity; TripUpdate is nil for vehicle/alert entities
type Entity struct {
	ID         string
	TripUpdate *TripUpdate
}

// TripUpdate is a trip's predicted stop times in this snapshot
type TripUpdate struct {
	TripID          string
	RouteID         string // empty when the feed omits it
	StopTimeUpdates []StopTimeUpdate
}

// StopTimeUpdate is a prediction for one stop of a trip.
// Arrival and Departure are epoch seconds, nil when absent.
type StopTimeUpdate struct {
	StopID    string
	Arrival   *int64
	Departure *int64
}

// TripUpdateCount returns the number of entities carrying a trip update
func (s *Snapshot) TripUpdateCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, e := range s.Entities {
		if e.TripUpdate != nil {
			n++
		}
	}
	return n
}
