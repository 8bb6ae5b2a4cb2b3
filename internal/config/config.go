package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid is returned when an environment value cannot be used
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the arrivals poller
type Config struct {
	// Station selection
	StationKey string

	// Real-time feed
	FeedURL     string
	FeedAPIKey  string
	FeedTimeout time.Duration

	// Scheduler cadences
	FastTickInterval time.Duration
	SlowTickInterval time.Duration

	// Position model
	MaxTravelTime    time.Duration
	PositionRangeMax float64

	// Display
	Location        *time.Location
	RouteStylesFile string

	// Database
	DatabasePath      string
	RetentionDuration time.Duration

	// Outer surfaces (empty disables)
	HTTPAddr    string
	CORSOrigins []string
	MetricsAddr string
	NATSURL     string

	// Static data refresh
	StaticGTFSURL     string
	CacheDir          string
	StaticRefreshDays int
}

// Load reads configuration from .env files and environment variables with sensible defaults
func Load() (*Config, error) {
	// .env.local overrides .env; both are optional
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	return FromEnv()
}

// FromEnv builds the configuration from the current process environment only
func FromEnv() (*Config, error) {
	cfg := &Config{
		StationKey: strings.TrimSpace(getEnv("STATION_KEY", "635N")),

		FeedURL:    getEnv("FEED_URL", "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"),
		FeedAPIKey: os.Getenv("FEED_API_KEY"),

		DatabasePath:    getEnv("SQLITE_DATABASE", "/data/arrivals.db"),
		RouteStylesFile: os.Getenv("ROUTE_STYLES_FILE"),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8081"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		NATSURL:     os.Getenv("NATS_URL"),

		StaticGTFSURL: getEnv("GTFS_STATIC_URL", "http://web.mta.info/developers/data/nyct/subway/google_transit.zip"),
		CacheDir:      getEnv("CACHE_DIR", "/data/cache"),
	}

	// SQLITE_DATABASE="" explicitly disables persistence
	if v, ok := os.LookupEnv("SQLITE_DATABASE"); ok && v == "" {
		cfg.DatabasePath = ""
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok && v == "" {
		cfg.HTTPAddr = ""
	}

	var err error
	if cfg.FeedTimeout, err = getEnvDuration("FEED_TIMEOUT_SEC", 15, time.Second); err != nil {
		return nil, err
	}
	if cfg.FastTickInterval, err = getEnvDuration("FAST_TICK_MS", 1000, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SlowTickInterval, err = getEnvDuration("SLOW_TICK_MS", 10000, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.MaxTravelTime, err = getEnvDuration("MAX_TRAVEL_SECONDS", 100, time.Second); err != nil {
		return nil, err
	}
	if cfg.RetentionDuration, err = getEnvDuration("RETENTION_HOURS", 24, time.Hour); err != nil {
		return nil, err
	}
	if cfg.StaticRefreshDays, err = getEnvInt("STATIC_REFRESH_DAYS", 7); err != nil {
		return nil, err
	}

	cfg.PositionRangeMax = 1000
	if v := os.Getenv("POSITION_RANGE_MAX"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("%w: POSITION_RANGE_MAX=%q", ErrInvalid, v)
		}
		cfg.PositionRangeMax = f
	}

	tz := getEnv("DISPLAY_TZ", "America/New_York")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: DISPLAY_TZ=%q: %v", ErrInvalid, tz, err)
	}
	cfg.Location = loc

	if cfg.StationKey == "" {
		return nil, fmt.Errorf("%w: STATION_KEY must not be empty", ErrInvalid)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil || intValue <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, value)
	}
	return intValue, nil
}

// getEnvDuration reads a positive integer count of unit
func getEnvDuration(key string, defaultValue int, unit time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
