package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-subway-board/poller/internal/arrivals"
	"github.com/mini-subway-board/poller/internal/position"
	"github.com/mini-subway-board/poller/internal/realtime/feed"
)

type fakeClock struct{ ns atomic.Int64 }

func newClock(t time.Time) *fakeClock {
	c := &fakeClock{}
	c.Set(t)
	return c
}

func (c *fakeClock) Now() time.Time  { return time.Unix(0, c.ns.Load()) }
func (c *fakeClock) Set(t time.Time) { c.ns.Store(t.UnixNano()) }

type sourceFunc func(ctx context.Context, call int) (*feed.Snapshot, error)

type fakeSource struct {
	calls atomic.Int32
	fn    sourceFunc
}

func (f *fakeSource) Fetch(ctx context.Context) (*feed.Snapshot, error) {
	return f.fn(ctx, int(f.calls.Add(1)))
}

type fakePublisher struct {
	mu        sync.Mutex
	batches   int
	arrived   []string
	positions map[string]float64
}

func (p *fakePublisher) PublishPositions(_ string, updates []position.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	if p.positions == nil {
		p.positions = make(map[string]float64)
	}
	for _, u := range updates {
		p.positions[u.ID] = u.Position
	}
	return nil
}

func (p *fakePublisher) PublishArrived(_ string, u position.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arrived = append(p.arrived, u.ID)
	return nil
}

func (p *fakePublisher) arrivedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.arrived)
}

type fakeStore struct {
	mu       sync.Mutex
	saved    int
	statuses []error
}

func (s *fakeStore) SaveArrivals(_ context.Context, _ string, _ time.Time, _ *feed.Snapshot, _ []arrivals.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	return nil
}

func (s *fakeStore) RecordPollStatus(_ context.Context, _ string, _ time.Time, pollErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, pollErr)
	return nil
}

func snapshot(stopID string, trips map[string]time.Time) *feed.Snapshot {
	snap := &feed.Snapshot{}
	for tripID, at := range trips {
		arrival := at.Unix()
		snap.Entities = append(snap.Entities, feed.Entity{
			ID: tripID,
			TripUpdate: &feed.TripUpdate{
				TripID:          tripID,
				RouteID:         "6",
				StopTimeUpdates: []feed.StopTimeUpdate{{StopID: stopID, Arrival: &arrival}},
			},
		})
	}
	return snap
}

func newScheduler(src Source, clock *fakeClock, slow time.Duration, opts ...func(*Options)) *Scheduler {
	o := Options{
		StationKey: "635N",
		FastTick:   5 * time.Millisecond,
		SlowTick:   slow,
		Model:      position.Model{MaxTravelTime: 100 * time.Second, RangeMax: 1000},
		Source:     src,
		Now:        clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func run(t *testing.T, s *Scheduler) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return ctx
}

func TestNewBoardIsIdle(t *testing.T) {
	s := newScheduler(&fakeSource{}, newClock(time.Unix(1700000000, 0)), time.Hour)

	b := s.Board()
	require.NotNil(t, b)
	assert.Equal(t, "635N", b.StationKey)
	assert.Equal(t, PhaseIdle, b.Phase)
	assert.Equal(t, PhaseIdle, b.Status)
	assert.True(t, b.Updating())
	assert.Empty(t, b.Arrivals)
}

func TestSchedulerPollsAndAnimates(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := newClock(now)
	store := &fakeStore{}
	pub := &fakePublisher{}

	src := &fakeSource{fn: func(context.Context, int) (*feed.Snapshot, error) {
		return snapshot("635N", map[string]time.Time{
			"later":  now.Add(200 * time.Second),
			"sooner": now.Add(50 * time.Second),
		}), nil
	}}
	s := newScheduler(src, clock, time.Hour, func(o *Options) {
		o.Store = store
		o.Publisher = pub
	})
	run(t, s)

	require.Eventually(t, func() bool {
		b := s.Board()
		return b.Status == PhaseReady && len(b.Positions) == 2
	}, time.Second, 5*time.Millisecond)

	b := s.Board()
	assert.Equal(t, PhaseIdle, b.Phase)
	assert.Equal(t, now, b.LastUpdated)
	assert.Empty(t, b.LastError)
	assert.Equal(t, []string{"sooner", "later"}, arrivals.IDs(b.Arrivals))

	byID := map[string]position.Update{}
	for _, u := range b.Positions {
		byID[u.ID] = u
	}
	assert.InDelta(t, 500, byID["sooner"].Position, 1e-9)
	assert.Equal(t, 0.0, byID["later"].Position)

	store.mu.Lock()
	assert.Equal(t, 1, store.saved)
	assert.Equal(t, []error{nil}, store.statuses)
	store.mu.Unlock()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return pub.batches > 0 && len(pub.positions) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerFetchFailureKeepsPreviousList(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := newClock(now)
	store := &fakeStore{}

	src := &fakeSource{fn: func(_ context.Context, call int) (*feed.Snapshot, error) {
		if call == 1 {
			return snapshot("635N", map[string]time.Time{"T1": now.Add(60 * time.Second)}), nil
		}
		return nil, fmt.Errorf("%w: unexpected status code 503", feed.ErrFetch)
	}}
	s := newScheduler(src, clock, 20*time.Millisecond, func(o *Options) { o.Store = store })
	run(t, s)

	require.Eventually(t, func() bool {
		return s.Board().Status == PhaseError
	}, time.Second, 5*time.Millisecond)

	b := s.Board()
	assert.Equal(t, []string{"T1"}, arrivals.IDs(b.Arrivals))
	assert.Equal(t, now, b.LastUpdated, "last updated only advances on success")
	assert.Contains(t, b.LastError, "503")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.GreaterOrEqual(t, len(store.statuses), 2)
	assert.NoError(t, store.statuses[0])
	assert.ErrorIs(t, store.statuses[1], feed.ErrFetch)
}

func TestSchedulerKeepsTickingAfterFailures(t *testing.T) {
	clock := newClock(time.Unix(1700000000, 0))
	src := &fakeSource{fn: func(context.Context, int) (*feed.Snapshot, error) {
		return nil, feed.ErrDecode
	}}
	s := newScheduler(src, clock, 10*time.Millisecond)
	run(t, s)

	require.Eventually(t, func() bool {
		return src.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseError, s.Board().Status)
	assert.True(t, s.Board().Updating())
}

func TestSchedulerDiscardsStaleResult(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := newClock(now)
	started := make(chan struct{})
	release := make(chan struct{})

	src := &fakeSource{fn: func(_ context.Context, call int) (*feed.Snapshot, error) {
		if call == 1 {
			close(started)
			<-release
			// Responds successfully even though its selection is gone
			return snapshot("635N", map[string]time.Time{"A": now.Add(30 * time.Second)}), nil
		}
		return snapshot("640S", map[string]time.Time{"B": now.Add(30 * time.Second)}), nil
	}}
	s := newScheduler(src, clock, time.Hour)
	ctx := run(t, s)

	<-started
	require.NoError(t, s.Select(ctx, "640S"))

	require.Eventually(t, func() bool {
		b := s.Board()
		return b.StationKey == "640S" && b.Status == PhaseReady
	}, time.Second, 5*time.Millisecond)

	close(release)

	assert.Never(t, func() bool {
		b := s.Board()
		return b.Token != 1 || len(b.Arrivals) != 1 || b.Arrivals[0].TripID != "B"
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestSelectResetsDisplayedState(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := newClock(now)
	release := make(chan struct{})

	src := &fakeSource{fn: func(ctx context.Context, call int) (*feed.Snapshot, error) {
		if call == 1 {
			return snapshot("635N", map[string]time.Time{"A": now.Add(30 * time.Second)}), nil
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return snapshot("640S", nil), nil
	}}
	s := newScheduler(src, clock, time.Hour)
	ctx := run(t, s)
	defer close(release)

	require.Eventually(t, func() bool {
		return len(s.Board().Arrivals) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Select(ctx, "640S"))

	require.Eventually(t, func() bool {
		b := s.Board()
		return b.StationKey == "640S" && b.Phase == PhaseFetching
	}, time.Second, 5*time.Millisecond)

	b := s.Board()
	assert.Equal(t, PhaseIdle, b.Status)
	assert.Empty(t, b.Arrivals)
	assert.Empty(t, b.Positions)
	assert.True(t, b.Updating())
	assert.Equal(t, uint64(1), b.Token)
}

func TestSchedulerReconcilesDepartedTrains(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := newClock(now)

	src := &fakeSource{fn: func(_ context.Context, call int) (*feed.Snapshot, error) {
		if call == 1 {
			return snapshot("635N", map[string]time.Time{
				"A": now.Add(30 * time.Second),
				"B": now.Add(60 * time.Second),
			}), nil
		}
		return snapshot("635N", map[string]time.Time{"B": now.Add(60 * time.Second)}), nil
	}}
	s := newScheduler(src, clock, 20*time.Millisecond)
	run(t, s)

	require.Eventually(t, func() bool {
		return src.calls.Load() >= 2 && len(s.Board().Positions) == 1
	}, time.Second, 5*time.Millisecond)

	b := s.Board()
	assert.Equal(t, []string{"B"}, arrivals.IDs(b.Arrivals))
	assert.Equal(t, "B", b.Positions[0].ID)
}

func TestSchedulerFiresArrivedOnce(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := newClock(now)
	pub := &fakePublisher{}

	src := &fakeSource{fn: func(context.Context, int) (*feed.Snapshot, error) {
		return snapshot("635N", map[string]time.Time{"T1": now.Add(2 * time.Second)}), nil
	}}
	s := newScheduler(src, clock, time.Hour, func(o *Options) { o.Publisher = pub })
	run(t, s)

	require.Eventually(t, func() bool {
		return len(s.Board().Positions) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, pub.arrivedCount())

	clock.Set(now.Add(1500 * time.Millisecond))

	require.Eventually(t, func() bool {
		return pub.arrivedCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return pub.arrivedCount() > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSelectValidation(t *testing.T) {
	s := newScheduler(&fakeSource{}, newClock(time.Now()), time.Hour)
	assert.ErrorIs(t, s.Select(context.Background(), "  "), ErrInvalidStation)

	// Nothing is running the loop, so the request times out
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(s.Select(ctx, "640S"), context.DeadlineExceeded))
}
