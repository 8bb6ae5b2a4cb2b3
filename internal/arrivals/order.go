package arrivals

import (
	"cmp"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mini-subway-board/poller/internal/realtime/feed"
)

// Order returns a copy of records sorted soonest first.
// Equal arrival times keep their relative input order.
func Order(records []Record) []Record {
	ordered := make([]Record, len(records))
	copy(ordered, records)

	slices.SortStableFunc(ordered, func(a, b Record) int {
		return cmp.Compare(a.ArrivalEpochSeconds, b.ArrivalEpochSeconds)
	})

	return ordered
}

// Upcoming runs Extract and Order in one step
func Upcoming(snap *feed.Snapshot, stationKey string, ref time.Time) []Record {
	return Order(Extract(snap, stationKey, ref))
}
