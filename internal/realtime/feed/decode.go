package feed

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

var (
	// ErrFetch marks transport failures: request, non-200 status, body read
	ErrFetch = errors.New("feed fetch failed")
	// ErrDecode marks malformed or schema-mismatched feed bytes
	ErrDecode = errors.New("feed decode failed")
)

// Decode parses GTFS-RT protobuf bytes into a Snapshot.
// Failures wrap ErrDecode; a partial snapshot is never returned.
func Decode(body []byte) (*Snapshot, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrDecode)
	}

	msg := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse protobuf: %w", ErrDecode, err)
	}

	return FromMessage(msg), nil
}

// FromMessage converts an already decoded FeedMessage
func FromMessage(msg *gtfs.FeedMessage) *Snapshot {
	snap := &Snapshot{
		Entities: make([]Entity, 0, len(msg.GetEntity())),
	}
	if ts := msg.GetHeader().GetTimestamp(); ts > 0 {
		snap.Timestamp = time.Unix(int64(ts), 0).UTC()
	}

	for _, entity := range msg.GetEntity() {
		e := Entity{ID: entity.GetId()}
		if tu := entity.GetTripUpdate(); tu != nil {
			e.TripUpdate = convertTripUpdate(tu)
		}
		snap.Entities = append(snap.Entities, e)
	}

	return snap
}

func convertTripUpdate(tu *gtfs.TripUpdate) *TripUpdate {
	out := &TripUpdate{
		TripID:          tu.GetTrip().GetTripId(),
		RouteID:         tu.GetTrip().GetRouteId(),
		StopTimeUpdates: make([]StopTimeUpdate, 0, len(tu.GetStopTimeUpdate())),
	}

	for _, stu := range tu.GetStopTimeUpdate() {
		update := StopTimeUpdate{StopID: stu.GetStopId()}

		if stu.Arrival != nil && stu.Arrival.Time != nil {
			t := *stu.Arrival.Time
			update.Arrival = &t
		}
		if stu.Departure != nil && stu.Departure.Time != nil {
			t := *stu.Departure.Time
			update.Departure = &t
		}

		out.StopTimeUpdates = append(out.StopTimeUpdates, update)
	}

	return out
}
