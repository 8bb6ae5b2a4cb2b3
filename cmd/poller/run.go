package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mini-subway-board/poller/internal/api"
	"github.com/mini-subway-board/poller/internal/config"
	"github.com/mini-subway-board/poller/internal/db"
	"github.com/mini-subway-board/poller/internal/metrics"
	"github.com/mini-subway-board/poller/internal/position"
	"github.com/mini-subway-board/poller/internal/publisher"
	"github.com/mini-subway-board/poller/internal/realtime/feed"
	"github.com/mini-subway-board/poller/internal/render"
	"github.com/mini-subway-board/poller/internal/scheduler"
	"github.com/mini-subway-board/poller/internal/static"
	"github.com/mini-subway-board/poller/internal/stations"
)

const (
	maintenanceInterval   = 5 * time.Minute
	staticRefreshInterval = 24 * time.Hour
	shutdownTimeout       = 5 * time.Second
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "run the poller service",
		Flags:  []cli.Flag{stationFlag},
		Action: runService,
	}
}

func runService(c *cli.Context) error {
	log.Info().Msg("Starting arrivals poller...")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log.Info().
		Str("station", cfg.StationKey).
		Dur("fast_tick", cfg.FastTickInterval).
		Dur("slow_tick", cfg.SlowTickInterval).
		Dur("max_travel", cfg.MaxTravelTime).
		Msg("Config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Metrics
	// ═══════════════════════════════════════════════════════
	collector := metrics.NewCollector(cfg.FastTickInterval, cfg.SlowTickInterval, cfg.MaxTravelTime)
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = collector.Serve(cfg.MetricsAddr)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Static Data (station names, route colours)
	// ═══════════════════════════════════════════════════════
	styles, err := render.LoadRouteStyles(cfg.RouteStylesFile)
	if err != nil {
		return err
	}

	var directory api.StationDirectory
	if dir, routeStyles, err := loadStatic(ctx, cfg, styles); err != nil {
		log.Warn().Err(err).Msg("Static: data unavailable, station names disabled")
	} else {
		directory = dir
		styles = routeStyles
		collector.StaticStations.Set(float64(dir.Len()))
		if !dir.Has(cfg.StationKey) {
			log.Warn().Str("station", cfg.StationKey).Msg("Static: selected station not found in stops.txt")
		}
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Initialize Database
	// ═══════════════════════════════════════════════════════
	var database *db.DB
	if cfg.DatabasePath != "" {
		database, err = db.Open(ctx, cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer database.Close()
		log.Info().Str("path", cfg.DatabasePath).Msg("Database initialized")
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Scheduler
	// ═══════════════════════════════════════════════════════
	opts := scheduler.Options{
		StationKey: cfg.StationKey,
		FastTick:   cfg.FastTickInterval,
		SlowTick:   cfg.SlowTickInterval,
		Model: position.Model{
			MaxTravelTime: cfg.MaxTravelTime,
			RangeMax:      cfg.PositionRangeMax,
		},
		Source:   feed.NewClient(cfg.FeedURL, cfg.FeedAPIKey, cfg.FeedTimeout),
		Observer: collector,
	}
	if database != nil {
		opts.Store = database
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, false, collector)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("NATS: connect failed, publishing disabled")
		} else {
			defer pub.Close()
			opts.Publisher = pub
			log.Info().Str("url", cfg.NATSURL).Msg("NATS: connected")
		}
	}

	sched := scheduler.New(opts)

	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
	}()

	// ═══════════════════════════════════════════════════════
	// PHASE 5: HTTP API
	// ═══════════════════════════════════════════════════════
	var apiServer *http.Server
	if cfg.HTTPAddr != "" {
		handler := api.NewHandler(sched, directory, styles, cfg.Location)
		apiServer = api.Serve(cfg.HTTPAddr, api.NewRouter(handler, cfg.CORSOrigins))
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 6: Background Loops
	// ═══════════════════════════════════════════════════════
	if database != nil {
		go maintenanceLoop(ctx, database, sched, collector, cfg.RetentionDuration)
	}
	go staticRefreshLoop(ctx, cfg)

	log.Info().
		Str("station", cfg.StationKey).
		Dur("slow_tick", cfg.SlowTickInterval).
		Dur("retention", cfg.RetentionDuration).
		Msg("Poller running")

	// ═══════════════════════════════════════════════════════
	// PHASE 7: Graceful Shutdown
	// ═══════════════════════════════════════════════════════
	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range []*http.Server{apiServer, metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("addr", srv.Addr).Msg("HTTP server shutdown failed")
		}
	}

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("Scheduler stopped with error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("Scheduler did not stop in time")
	}

	log.Info().Msg("Goodbye!")
	return nil
}

// loadStatic refreshes the static feed cache and builds the station
// directory and the route table coloured from routes.txt
func loadStatic(ctx context.Context, cfg *config.Config, styles render.RouteStyles) (*stations.Directory, render.RouteStyles, error) {
	data, err := static.Load(ctx, cfg)
	if err != nil {
		return nil, styles, err
	}

	dir := stations.NewDirectory(data.Stops)
	log.Info().Int("stations", dir.Len()).Int("routes", len(data.Routes)).Msg("Static: data loaded")
	return dir, styles.WithGTFSColors(data.Routes), nil
}

// maintenanceLoop prunes history and updates the health baseline for the
// currently selected station
func maintenanceLoop(ctx context.Context, database *db.DB, sched *scheduler.Scheduler, collector *metrics.Collector, retention time.Duration) {
	learner := metrics.NewBaselineLearner(database)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			maintain(ctx, database, learner, collector, sched.Board().StationKey, retention)
		case <-ctx.Done():
			log.Debug().Msg("Maintenance loop stopped")
			return
		}
	}
}

func maintain(ctx context.Context, database *db.DB, learner *metrics.BaselineLearner, collector *metrics.Collector, stationKey string, retention time.Duration) {
	if err := database.Cleanup(ctx, retention); err != nil {
		log.Warn().Err(err).Msg("Cleanup error")
	}

	if err := learner.UpdateBaseline(ctx, stationKey); err != nil {
		log.Warn().Err(err).Str("station", stationKey).Msg("Metrics: baseline update failed")
	}

	status, err := learner.RecordHealth(ctx, stationKey)
	if err != nil {
		log.Warn().Err(err).Str("station", stationKey).Msg("Metrics: health record failed")
		return
	}
	collector.SetHealth(status)
	log.Debug().Str("station", stationKey).Str("status", status.Status).Int("score", status.HealthScore).Msg("Metrics: health recorded")
}

// staticRefreshLoop keeps the cached static feed fresh. New station data is
// picked up on the next start.
func staticRefreshLoop(ctx context.Context, cfg *config.Config) {
	ticker := time.NewTicker(staticRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info().Msg("Running daily static data freshness check...")
			if _, err := static.RefreshIfStale(ctx, cfg); err != nil {
				log.Warn().Err(err).Msg("Static: daily refresh failed")
			}
		case <-ctx.Done():
			log.Debug().Msg("Static refresh loop stopped")
			return
		}
	}
}
