package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mini-subway-board/poller/internal/arrivals"
	"github.com/mini-subway-board/poller/internal/position"
)

// ErrInvalidStation is returned by Select for an empty station key
var ErrInvalidStation = errors.New("invalid station key")

const storeTimeout = 5 * time.Second

// Options configures a Scheduler. Store, Publisher and Observer are optional.
type Options struct {
	StationKey string
	FastTick   time.Duration
	SlowTick   time.Duration
	Model      position.Model
	Source     Source
	Store      Store
	Publisher  Publisher
	Observer   Observer
	Now        func() time.Time
}

// Scheduler drives the arrival pipeline on two cadences. The fast tick
// advances train positions; the slow tick re-fetches the feed and replaces
// the arrival list. All state is owned by the goroutine running Run.
type Scheduler struct {
	opts Options
	now  func() time.Time

	selectCh chan string
	board    atomic.Pointer[Board]

	// Loop-owned state
	stationKey  string
	token       uint64
	phase       Phase
	status      Phase
	lastUpdated time.Time
	lastError   string
	records     []arrivals.Record
	updates     []position.Update
	state       *position.State
	fetching    bool
	cancelFetch context.CancelFunc
}

// New creates a scheduler for the configured station
func New(opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		opts:       opts,
		now:        now,
		selectCh:   make(chan string),
		stationKey: strings.TrimSpace(opts.StationKey),
		phase:      PhaseIdle,
		status:     PhaseIdle,
		records:    []arrivals.Record{},
		updates:    []position.Update{},
		state:      position.NewState(),
	}
	s.publish()
	return s
}

// Board returns the latest published board
func (s *Scheduler) Board() *Board {
	return s.board.Load()
}

// Select switches the scheduler to another station. Any in-flight fetch for
// the previous selection is cancelled and its result ignored; a fetch for the
// new selection starts immediately. Select blocks until Run accepts the
// request or ctx is done.
func (s *Scheduler) Select(ctx context.Context, stationKey string) error {
	stationKey = strings.TrimSpace(stationKey)
	if stationKey == "" {
		return ErrInvalidStation
	}

	select {
	case s.selectCh <- stationKey:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the event loop until ctx is cancelled. The first slow tick
// runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	fast := time.NewTicker(s.opts.FastTick)
	defer fast.Stop()
	slow := time.NewTicker(s.opts.SlowTick)
	defer slow.Stop()

	results := make(chan fetchResult)

	log.Info().
		Str("station", s.stationKey).
		Dur("fast_tick", s.opts.FastTick).
		Dur("slow_tick", s.opts.SlowTick).
		Msg("Scheduler: started")

	s.startFetch(ctx, results)

	for {
		select {
		case <-ctx.Done():
			if s.cancelFetch != nil {
				s.cancelFetch()
			}
			log.Info().Msg("Scheduler: stopped")
			return nil

		case <-fast.C:
			s.tickFast()

		case <-slow.C:
			if s.fetching {
				log.Debug().Uint64("token", s.token).Msg("Scheduler: fetch still in flight, skipping slow tick")
				continue
			}
			s.startFetch(ctx, results)

		case key := <-s.selectCh:
			s.applySelect(key)
			s.startFetch(ctx, results)

		case res := <-results:
			s.applyResult(ctx, res)
		}
	}
}

// startFetch launches the fetch for the current token in its own goroutine
func (s *Scheduler) startFetch(ctx context.Context, results chan<- fetchResult) {
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	s.fetching = true
	s.phase = PhaseFetching
	s.publish()

	token := s.token
	go func() {
		defer cancel()

		start := time.Now()
		snap, err := s.opts.Source.Fetch(fetchCtx)
		res := fetchResult{token: token, snapshot: snap, err: err, elapsed: time.Since(start)}

		select {
		case results <- res:
		case <-ctx.Done():
		}
	}()
}

// applySelect resets displayed state for a new selection
func (s *Scheduler) applySelect(key string) {
	if s.cancelFetch != nil {
		s.cancelFetch()
	}

	s.token++
	s.stationKey = key
	s.fetching = false
	s.status = PhaseIdle
	s.lastUpdated = time.Time{}
	s.lastError = ""
	s.records = []arrivals.Record{}
	s.updates = []position.Update{}
	s.state.Reset()

	log.Info().Str("station", key).Uint64("token", s.token).Msg("Scheduler: station selected")
}

// applyResult applies a completed fetch. Results for a superseded token are
// dropped. Failures keep the previous arrival list and positions.
func (s *Scheduler) applyResult(ctx context.Context, res fetchResult) {
	if res.token != s.token {
		log.Debug().
			Uint64("token", res.token).
			Uint64("current", s.token).
			Msg("Scheduler: discarding stale fetch result")
		return
	}

	s.fetching = false
	polledAt := s.now()

	if res.err != nil {
		s.status = PhaseError
		s.lastError = res.err.Error()
		s.phase = PhaseIdle

		log.Error().Err(res.err).Str("station", s.stationKey).Msg("Scheduler: poll failed")
		s.observePoll(res.elapsed, len(s.records), res.err)
		s.recordStatus(ctx, polledAt, res.err)
		s.publish()
		return
	}

	records := arrivals.Upcoming(res.snapshot, s.stationKey, polledAt)
	s.records = records

	if removed := s.state.Reconcile(records); len(removed) > 0 {
		log.Debug().Strs("ids", removed).Msg("Scheduler: pruned departed trains")
		s.updates = keepPresent(s.updates, records)
	}

	s.status = PhaseReady
	s.lastUpdated = polledAt
	s.lastError = ""
	s.phase = PhaseIdle

	log.Debug().
		Str("station", s.stationKey).
		Int("upcoming", len(records)).
		Int("entities", len(res.snapshot.Entities)).
		Msg("Scheduler: poll complete")

	s.observePoll(res.elapsed, len(records), nil)
	s.saveArrivals(ctx, polledAt, res, records)
	s.recordStatus(ctx, polledAt, nil)
	s.publish()
}

// tickFast advances every tracked train and publishes the result
func (s *Scheduler) tickFast() {
	start := time.Now()
	updates := s.opts.Model.Advance(s.state, s.records, s.now())
	s.updates = updates

	arrived := 0
	if s.opts.Publisher != nil && len(updates) > 0 {
		if err := s.opts.Publisher.PublishPositions(s.stationKey, updates); err != nil {
			log.Warn().Err(err).Msg("Scheduler: failed to publish positions")
		}
	}
	for _, u := range updates {
		if !u.Arrived {
			continue
		}
		arrived++
		log.Info().Str("station", s.stationKey).Str("id", u.ID).Str("route", u.Route).Msg("Scheduler: train arrived")
		if s.opts.Publisher != nil {
			if err := s.opts.Publisher.PublishArrived(s.stationKey, u); err != nil {
				log.Warn().Err(err).Str("id", u.ID).Msg("Scheduler: failed to publish arrival")
			}
		}
	}

	if s.opts.Observer != nil {
		s.opts.Observer.ObserveTick(time.Since(start), s.state.Len(), arrived)
	}
	s.publish()
}

func (s *Scheduler) observePoll(elapsed time.Duration, upcoming int, err error) {
	if s.opts.Observer != nil {
		s.opts.Observer.ObservePoll(s.stationKey, elapsed, upcoming, err)
	}
}

func (s *Scheduler) saveArrivals(ctx context.Context, polledAt time.Time, res fetchResult, records []arrivals.Record) {
	if s.opts.Store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.opts.Store.SaveArrivals(storeCtx, s.stationKey, polledAt, res.snapshot, records); err != nil {
		log.Warn().Err(err).Msg("Scheduler: failed to save arrivals")
	}
}

func (s *Scheduler) recordStatus(ctx context.Context, polledAt time.Time, pollErr error) {
	if s.opts.Store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.opts.Store.RecordPollStatus(storeCtx, s.stationKey, polledAt, pollErr); err != nil {
		log.Warn().Err(err).Msg("Scheduler: failed to record poll status")
	}
}

// publish swaps in a new Board built from loop-owned state
func (s *Scheduler) publish() {
	s.board.Store(&Board{
		StationKey:  s.stationKey,
		Token:       s.token,
		Phase:       s.phase,
		Status:      s.status,
		LastUpdated: s.lastUpdated,
		LastError:   s.lastError,
		Arrivals:    s.records,
		Positions:   s.updates,
	})
}

// keepPresent drops updates whose id is no longer in records
func keepPresent(updates []position.Update, records []arrivals.Record) []position.Update {
	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[r.ID] = struct{}{}
	}

	kept := make([]position.Update, 0, len(updates))
	for _, u := range updates {
		if _, ok := present[u.ID]; ok {
			kept = append(kept, u)
		}
	}
	return kept
}
