package scheduler

import (
	"context"
	"time"

	"github.com/mini-subway-board/poller/internal/arrivals"
	"github.com/mini-subway-board/poller/internal/position"
	"github.com/mini-subway-board/poller/internal/realtime/feed"
)

// Phase is a step of the per-selection poll state machine:
// IDLE -> FETCHING -> {READY | ERROR} -> IDLE
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseFetching Phase = "FETCHING"
	PhaseReady    Phase = "READY"
	PhaseError    Phase = "ERROR"
)

// Board is an immutable view of the scheduler's state. A new Board is
// published after every change; readers never see one being built.
type Board struct {
	StationKey  string            `json:"stationKey"`
	Token       uint64            `json:"token"`
	Phase       Phase             `json:"phase"`  // live phase, IDLE or FETCHING
	Status      Phase             `json:"status"` // outcome of the last completed poll
	LastUpdated time.Time         `json:"lastUpdated"`
	LastError   string            `json:"lastError,omitempty"`
	Arrivals    []arrivals.Record `json:"arrivals"`
	Positions   []position.Update `json:"positions"`
}

// Updating reports whether the board has never completed a successful poll
// for its current selection
func (b *Board) Updating() bool {
	return b.LastUpdated.IsZero()
}

// Source fetches and decodes one feed snapshot
type Source interface {
	Fetch(ctx context.Context) (*feed.Snapshot, error)
}

// Store persists poll outcomes
type Store interface {
	SaveArrivals(ctx context.Context, stationKey string, polledAt time.Time, snap *feed.Snapshot, records []arrivals.Record) error
	RecordPollStatus(ctx context.Context, stationKey string, polledAt time.Time, pollErr error) error
}

// Publisher fans position updates out to subscribers
type Publisher interface {
	PublishPositions(stationKey string, updates []position.Update) error
	PublishArrived(stationKey string, update position.Update) error
}

// Observer receives timing and outcome measurements
type Observer interface {
	ObservePoll(stationKey string, elapsed time.Duration, upcoming int, err error)
	ObserveTick(elapsed time.Duration, tracked, arrived int)
}

// fetchResult carries a completed fetch back to the event loop
type fetchResult struct {
	token    uint64
	snapshot *feed.Snapshot
	err      error
	elapsed  time.Duration
}
