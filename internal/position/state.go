package position

import (
	"time"

	"github.com/mini-subway-board/poller/internal/arrivals"
)

// entry is the per-train animation state
type entry struct {
	route     string
	position  float64
	remaining time.Duration
	arrived   bool // latch for the edge-triggered arrived signal
}

// State holds the last known coordinate of every tracked train, keyed by
// arrivals.Record ID. Entries are created on first sighting and removed by
// Reconcile. State is not safe for concurrent use; the scheduler's event
// loop is its only writer.
type State struct {
	entries map[string]*entry
}

// NewState creates an empty position state
func NewState() *State {
	return &State{entries: make(map[string]*entry)}
}

// upsert stores a position and reports whether this call crossed the
// arrived threshold
func (s *State) upsert(id, route string, pos float64, remaining time.Duration) bool {
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}

	e.route = route
	e.position = pos
	e.remaining = remaining

	if remaining < ArrivedThreshold {
		if e.arrived {
			return false
		}
		e.arrived = true
		return true
	}

	// Prediction moved back out of the threshold; re-arm
	e.arrived = false
	return false
}

// Reconcile removes entries for ids no longer in records and returns them
func (s *State) Reconcile(records []arrivals.Record) []string {
	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[r.ID] = struct{}{}
	}

	var removed []string
	for id := range s.entries {
		if _, ok := present[id]; !ok {
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Reset drops every entry
func (s *State) Reset() {
	s.entries = make(map[string]*entry)
}

// Position returns the last coordinate stored for id
func (s *State) Position(id string) (float64, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.position, true
}

// Len returns the number of tracked trains
func (s *State) Len() int {
	return len(s.entries)
}

// Positions returns a copy of the id -> coordinate mapping
func (s *State) Positions() map[string]float64 {
	out := make(map[string]float64, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.position
	}
	return out
}
