package arrivals

import (
	"strings"
	"time"
)

// UnknownRoute is the route reported for trips whose feed entry has no route id
const UnknownRoute = "Unknown"

// Record is one upcoming arrival of a trip at the selected stop
type Record struct {
	ID                  string `json:"id"`     // trip id with '.' replaced by '-', safe as a lookup key
	TripID              string `json:"tripId"` // raw trip id as published in the feed
	Route               string `json:"route"`
	ArrivalEpochSeconds int64  `json:"arrivalEpochSeconds"`
}

// Time returns the predicted arrival instant
func (r Record) Time() time.Time {
	return time.Unix(r.ArrivalEpochSeconds, 0)
}

// Remaining returns the time left until arrival, negative when overdue
func (r Record) Remaining(now time.Time) time.Duration {
	return r.Time().Sub(now)
}

// NormalizeID derives a record id from a trip id
func NormalizeID(tripID string) string {
	return strings.ReplaceAll(tripID, ".", "-")
}

// IDs returns the record ids in list order
func IDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
