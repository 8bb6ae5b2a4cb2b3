package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mini-subway-board/poller/internal/realtime/feed"
)

// Collector exposes poller metrics on its own registry
type Collector struct {
	reg *prometheus.Registry

	Polls          *prometheus.CounterVec // result label: ok|error
	PollFailures   *prometheus.CounterVec // kind label: fetch|decode|other
	Upcoming       *prometheus.GaugeVec   // station label
	TrackedTrains  prometheus.Gauge
	ArrivedEvents  prometheus.Counter
	HealthScore    *prometheus.GaugeVec // station label
	Published      prometheus.Counter
	PublishErrors  prometheus.Counter
	PollDuration   prometheus.Histogram
	TickDuration   prometheus.Histogram
	FastTick       prometheus.Gauge // seconds
	SlowTick       prometheus.Gauge // seconds
	MaxTravelTime  prometheus.Gauge // seconds
	NATSConnected  prometheus.Gauge
	StaticStations prometheus.Gauge
}

// NewCollector creates a collector and records the configured cadences
func NewCollector(fastTick, slowTick, maxTravel time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_polls_total",
			Help: "Total feed polls by result.",
		}, []string{"result"}),
		PollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_poll_failures_total",
			Help: "Failed feed polls by failure kind.",
		}, []string{"kind"}),
		Upcoming: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "poller_upcoming_arrivals",
			Help: "Upcoming arrivals on the board after the last successful poll.",
		}, []string{"station"}),
		TrackedTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_tracked_trains",
			Help: "Trains with an animation position.",
		}),
		ArrivedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_arrived_events_total",
			Help: "Total arrived events emitted.",
		}),
		HealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "poller_health_score",
			Help: "Station health score from 0 to 100.",
		}, []string{"station"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poller_poll_duration_seconds",
			Help:    "Duration of feed fetch and decode.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poller_tick_duration_seconds",
			Help:    "Duration of fast tick position updates.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		FastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_fast_tick_seconds",
			Help: "Fast tick interval in seconds.",
		}),
		SlowTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_slow_tick_seconds",
			Help: "Slow tick interval in seconds.",
		}),
		MaxTravelTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_max_travel_time_seconds",
			Help: "Time remaining mapped to the farthest end of the line.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		StaticStations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_static_stations",
			Help: "Selectable stations loaded from static GTFS.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.PollFailures, c.Upcoming,
		c.TrackedTrains, c.ArrivedEvents, c.HealthScore, c.Published, c.PublishErrors,
		c.PollDuration, c.TickDuration,
		c.FastTick, c.SlowTick, c.MaxTravelTime,
		c.NATSConnected, c.StaticStations,
	)

	c.FastTick.Set(fastTick.Seconds())
	c.SlowTick.Set(slowTick.Seconds())
	c.MaxTravelTime.Set(maxTravel.Seconds())

	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// ObservePoll records the outcome of one slow tick
func (c *Collector) ObservePoll(stationKey string, elapsed time.Duration, upcoming int, err error) {
	c.PollDuration.Observe(elapsed.Seconds())

	if err != nil {
		c.Polls.WithLabelValues("error").Inc()
		c.PollFailures.WithLabelValues(failureKind(err)).Inc()
		return
	}

	c.Polls.WithLabelValues("ok").Inc()
	c.Upcoming.Reset()
	c.Upcoming.WithLabelValues(stationKey).Set(float64(upcoming))
}

// ObserveTick records one fast tick
func (c *Collector) ObserveTick(elapsed time.Duration, tracked, arrived int) {
	c.TickDuration.Observe(elapsed.Seconds())
	c.TrackedTrains.Set(float64(tracked))
	c.ArrivedEvents.Add(float64(arrived))
}

// SetHealth records the latest health grade
func (c *Collector) SetHealth(status HealthStatus) {
	c.HealthScore.Reset()
	c.HealthScore.WithLabelValues(status.StationKey).Set(float64(status.HealthScore))
}

func (c *Collector) NATSPublishedInc() { c.Published.Inc() }
func (c *Collector) NATSPublishErrInc() { c.PublishErrors.Inc() }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, feed.ErrFetch):
		return "fetch"
	case errors.Is(err, feed.ErrDecode):
		return "decode"
	default:
		return "other"
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics: server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("Metrics: listening")
	return srv
}
