package position

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-subway-board/poller/internal/arrivals"
)

func TestPositionFor(t *testing.T) {
	now := time.Unix(1700000000, 0)
	max := 100 * time.Second
	const rangeMax = 1000.0

	tests := []struct {
		name      string
		remaining time.Duration
		want      float64
	}{
		{"arrived end at zero remaining", 0, rangeMax},
		{"overdue clamps to arrived end", -45 * time.Second, rangeMax},
		{"farthest end at max", max, 0},
		{"beyond max clamps to farthest end", 10 * max, 0},
		{"halfway", 50 * time.Second, 500},
		{"quarter remaining", 25 * time.Second, 750},
		{"fractional seconds", 99500 * time.Millisecond, 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PositionFor(now.Add(tc.remaining), now, max, rangeMax)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestPositionForStaysInRange(t *testing.T) {
	now := time.Unix(1700000000, 0)
	for s := -600; s <= 600; s += 7 {
		got := PositionFor(now.Add(time.Duration(s)*time.Second), now, 300*time.Second, 640)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 640.0)
	}
}

func TestPositionForNonPositiveMax(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, 800.0, PositionFor(now.Add(time.Minute), now, 0, 800))
}

func TestPositionDecaysTowardArrival(t *testing.T) {
	now := time.Unix(1700000000, 0)
	arrival := now.Add(90 * time.Second)

	prev := -1.0
	for tick := 0; tick <= 95; tick++ {
		pos := PositionFor(arrival, now.Add(time.Duration(tick)*time.Second), 100*time.Second, 1000)
		assert.GreaterOrEqual(t, pos, prev, "position must move toward the arrived end")
		prev = pos
	}
	assert.Equal(t, 1000.0, prev)
}

func TestAdvanceUpsertsState(t *testing.T) {
	now := time.Unix(1700000000, 0)
	model := Model{MaxTravelTime: 100 * time.Second, RangeMax: 1000}
	state := NewState()

	records := []arrivals.Record{
		{ID: "A-1", Route: "6", ArrivalEpochSeconds: now.Unix() + 50},
		{ID: "B-2", Route: "4", ArrivalEpochSeconds: now.Unix() + 200},
	}

	updates := model.Advance(state, records, now)
	require.Len(t, updates, 2)
	assert.Equal(t, 2, state.Len())

	pos, ok := state.Position("A-1")
	require.True(t, ok)
	assert.InDelta(t, 500, pos, 1e-9)
	assert.Equal(t, "6", updates[0].Route)
	assert.Equal(t, 50*time.Second, updates[0].TimeRemaining)

	pos, ok = state.Position("B-2")
	require.True(t, ok)
	assert.Equal(t, 0.0, pos)

	// Next tick overwrites in place
	model.Advance(state, records, now.Add(10*time.Second))
	pos, _ = state.Position("A-1")
	assert.InDelta(t, 600, pos, 1e-9)
	assert.Equal(t, 2, state.Len())
}

func TestArrivedIsEdgeTriggered(t *testing.T) {
	now := time.Unix(1700000000, 0)
	model := Model{MaxTravelTime: 100 * time.Second, RangeMax: 1000}
	state := NewState()
	rec := []arrivals.Record{{ID: "A-1", Route: "6", ArrivalEpochSeconds: now.Unix() + 2}}

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, false},                      // 2s remaining
		{1500 * time.Millisecond, true}, // 0.5s remaining: crossing
		{1800 * time.Millisecond, false},
		{3 * time.Second, false}, // overdue, still below threshold
		{4 * time.Second, false},
	}

	for _, step := range steps {
		updates := model.Advance(state, rec, now.Add(step.offset))
		require.Len(t, updates, 1)
		assert.Equal(t, step.want, updates[0].Arrived, "offset %v", step.offset)
	}
}

func TestArrivedRearmsWhenPredictionSlips(t *testing.T) {
	now := time.Unix(1700000000, 0)
	model := Model{MaxTravelTime: 100 * time.Second, RangeMax: 1000}
	state := NewState()

	first := model.Advance(state, []arrivals.Record{{ID: "A-1", ArrivalEpochSeconds: now.Unix()}}, now)
	assert.True(t, first[0].Arrived)

	// Feed pushes the arrival back by a minute
	slipped := []arrivals.Record{{ID: "A-1", ArrivalEpochSeconds: now.Unix() + 60}}
	assert.False(t, model.Advance(state, slipped, now)[0].Arrived)

	assert.True(t, model.Advance(state, slipped, now.Add(60*time.Second))[0].Arrived)
}

func TestArrivedIsPerID(t *testing.T) {
	now := time.Unix(1700000000, 0)
	model := Model{MaxTravelTime: 100 * time.Second, RangeMax: 1000}
	state := NewState()

	records := []arrivals.Record{
		{ID: "A-1", ArrivalEpochSeconds: now.Unix()},
		{ID: "B-2", ArrivalEpochSeconds: now.Unix()},
	}
	updates := model.Advance(state, records, now)
	assert.True(t, updates[0].Arrived)
	assert.True(t, updates[1].Arrived)
}

func TestReconcile(t *testing.T) {
	now := time.Unix(1700000000, 0)
	model := Model{MaxTravelTime: 100 * time.Second, RangeMax: 1000}
	state := NewState()

	model.Advance(state, []arrivals.Record{
		{ID: "gone-1", ArrivalEpochSeconds: now.Unix() + 10},
		{ID: "kept", ArrivalEpochSeconds: now.Unix() + 20},
		{ID: "gone-2", ArrivalEpochSeconds: now.Unix() + 30},
	}, now)

	removed := state.Reconcile([]arrivals.Record{{ID: "kept"}, {ID: "new"}})
	sort.Strings(removed)

	assert.Equal(t, []string{"gone-1", "gone-2"}, removed)
	assert.Equal(t, 1, state.Len())
	_, ok := state.Position("kept")
	assert.True(t, ok)
	_, ok = state.Position("new")
	assert.False(t, ok, "reconcile must not create entries")
}

func TestPositionsIsACopy(t *testing.T) {
	now := time.Unix(1700000000, 0)
	state := NewState()
	Model{MaxTravelTime: time.Minute, RangeMax: 10}.Advance(state, []arrivals.Record{{ID: "A", ArrivalEpochSeconds: now.Unix()}}, now)

	snapshot := state.Positions()
	snapshot["A"] = -1
	pos, _ := state.Position("A")
	assert.Equal(t, 10.0, pos)

	state.Reset()
	assert.Equal(t, 0, state.Len())
}
