package arrivals

import (
	"time"

	"github.com/mini-subway-board/poller/internal/realtime/feed"
)

// Extract returns the upcoming arrivals at stationKey in snap.
//
// A stop time update contributes only when its stop id equals stationKey
// exactly and its arrival time is present and strictly after ref. A trip
// that calls at the stop more than once keeps only its earliest arrival.
// The result is unordered; use Order for display order.
func Extract(snap *feed.Snapshot, stationKey string, ref time.Time) []Record {
	records := []Record{}
	if snap == nil {
		return records
	}

	index := make(map[string]int) // record id -> position in records

	for _, entity := range snap.Entities {
		tu := entity.TripUpdate
		if tu == nil {
			continue
		}

		for _, stu := range tu.StopTimeUpdates {
			if stu.StopID != stationKey || stu.Arrival == nil {
				continue
			}

			arrival := *stu.Arrival
			if !time.Unix(arrival, 0).After(ref) {
				continue
			}

			rec := Record{
				ID:                  NormalizeID(tu.TripID),
				TripID:              tu.TripID,
				Route:               tu.RouteID,
				ArrivalEpochSeconds: arrival,
			}
			if rec.Route == "" {
				rec.Route = UnknownRoute
			}

			if i, seen := index[rec.ID]; seen {
				if arrival < records[i].ArrivalEpochSeconds {
					records[i] = rec
				}
				continue
			}
			index[rec.ID] = len(records)
			records = append(records, rec)
		}
	}

	return records
}

// ExtractNow is Extract with the current time as reference
func ExtractNow(snap *feed.Snapshot, stationKey string) []Record {
	return Extract(snap, stationKey, time.Now())
}
