package static

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mini-subway-board/poller/internal/config"
	"github.com/mini-subway-board/poller/internal/static/gtfs"
)

const (
	zipName      = "gtfs_static.zip"
	manifestName = "manifest.json"
)

// Manifest records when and from where the cached static feed was fetched
type Manifest struct {
	UpdatedAt   string `json:"updated_at"`
	GeneratedAt string `json:"generated_at,omitempty"` // legacy field name
	Source      string `json:"source,omitempty"`
	Stops       int    `json:"stops"`
	Routes      int    `json:"routes"`
}

// timestamp returns UpdatedAt, falling back to the legacy GeneratedAt
func (m Manifest) timestamp() string {
	if m.UpdatedAt != "" {
		return m.UpdatedAt
	}
	return m.GeneratedAt
}

// ZipPath returns where the static feed is cached
func ZipPath(cfg *config.Config) string {
	return filepath.Join(cfg.CacheDir, zipName)
}

// RefreshIfStale downloads the static GTFS feed when the cached copy is
// missing, older than StaticRefreshDays, or came from a different URL.
// A failed refresh falls back to an existing cached copy.
func RefreshIfStale(ctx context.Context, cfg *config.Config) (string, error) {
	zipPath := ZipPath(cfg)
	manifestPath := filepath.Join(cfg.CacheDir, manifestName)

	_, statErr := os.Stat(zipPath)
	cached := statErr == nil

	if cached && !isStaleOrMissing(manifestPath, cfg.StaticRefreshDays) && storedSource(manifestPath) == cfg.StaticGTFSURL {
		log.Debug().Str("path", zipPath).Msg("Static: data is fresh, skipping refresh")
		return zipPath, nil
	}

	if err := refresh(ctx, cfg, zipPath, manifestPath); err != nil {
		if cached {
			log.Warn().Err(err).Msg("Static: refresh failed, using cached data")
			return zipPath, nil
		}
		return "", err
	}

	return zipPath, nil
}

// Load refreshes the cache if needed and parses it
func Load(ctx context.Context, cfg *config.Config) (*gtfs.Data, error) {
	zipPath, err := RefreshIfStale(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return gtfs.Parse(zipPath)
}

func refresh(ctx context.Context, cfg *config.Config, zipPath, manifestPath string) error {
	if cfg.StaticGTFSURL == "" {
		return fmt.Errorf("static GTFS URL not configured")
	}

	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return err
	}

	log.Info().Str("url", cfg.StaticGTFSURL).Msg("Static: refreshing GTFS data")

	// Download next to the live copy and validate before swapping it in
	staging := zipPath + ".new"
	if err := gtfs.Download(ctx, cfg.StaticGTFSURL, staging); err != nil {
		return err
	}
	defer os.Remove(staging)

	data, err := gtfs.Parse(staging)
	if err != nil {
		return fmt.Errorf("downloaded feed is unusable: %w", err)
	}

	if err := os.Rename(staging, zipPath); err != nil {
		return fmt.Errorf("failed to replace cached feed: %w", err)
	}

	return writeManifest(manifestPath, Manifest{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Source:    cfg.StaticGTFSURL,
		Stops:     len(data.Stops),
		Routes:    len(data.Routes),
	})
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

func isStaleOrMissing(manifestPath string, maxAgeDays int) bool {
	manifest, err := readManifest(manifestPath)
	if err != nil {
		return true
	}

	updatedAt, err := time.Parse(time.RFC3339, manifest.timestamp())
	if err != nil {
		return true
	}

	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	return time.Since(updatedAt) > maxAge
}

// storedSource returns the URL recorded in the manifest, or "" if unknown
func storedSource(manifestPath string) string {
	manifest, err := readManifest(manifestPath)
	if err != nil {
		return ""
	}
	return manifest.Source
}
