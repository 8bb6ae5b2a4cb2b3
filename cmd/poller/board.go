package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mini-subway-board/poller/internal/arrivals"
	"github.com/mini-subway-board/poller/internal/config"
	"github.com/mini-subway-board/poller/internal/realtime/feed"
	"github.com/mini-subway-board/poller/internal/render"
	"github.com/mini-subway-board/poller/internal/scheduler"
	"github.com/mini-subway-board/poller/internal/static"
	"github.com/mini-subway-board/poller/internal/static/gtfs"
	"github.com/mini-subway-board/poller/internal/stations"
)

func boardCommand() *cli.Command {
	return &cli.Command{
		Name:  "board",
		Usage: "fetch the feed once and print the arrivals table",
		Flags: []cli.Flag{stationFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			styles, err := render.LoadRouteStyles(cfg.RouteStylesFile)
			if err != nil {
				return err
			}

			// Station names come from the cached static feed only; a one-shot
			// board never downloads it
			name := cfg.StationKey
			if data, err := gtfs.Parse(static.ZipPath(cfg)); err == nil {
				name = stations.NewDirectory(data.Stops).DisplayName(cfg.StationKey)
				styles = styles.WithGTFSColors(data.Routes)
			} else {
				log.Debug().Err(err).Msg("Static: no cached data, showing station key")
			}

			client := feed.NewClient(cfg.FeedURL, cfg.FeedAPIKey, cfg.FeedTimeout)
			return printBoard(c.Context, os.Stdout, client, cfg, name, styles, time.Now())
		},
	}
}

// printBoard fetches one snapshot and prints the station's upcoming arrivals
func printBoard(ctx context.Context, w io.Writer, src scheduler.Source, cfg *config.Config, stationName string, styles render.RouteStyles, now time.Time) error {
	snap, err := src.Fetch(ctx)
	if err != nil {
		return err
	}

	board := &scheduler.Board{
		StationKey:  cfg.StationKey,
		Phase:       scheduler.PhaseIdle,
		Status:      scheduler.PhaseReady,
		LastUpdated: now,
		Arrivals:    arrivals.Upcoming(snap, cfg.StationKey, now),
	}

	view := render.BuildView(board, styles, cfg.Location, now)
	if stationName != "" {
		view.StationName = stationName
	}
	return render.Table(w, view)
}

func stationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stations",
		Usage: "list selectable stations from the static GTFS feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "filter",
				Usage: "only list stations whose name or key contains this text",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			data, err := static.Load(c.Context, cfg)
			if err != nil {
				return err
			}

			dir := stations.NewDirectory(data.Stops)
			return printStations(os.Stdout, dir.Options(), c.String("filter"))
		},
	}
}

// printStations writes one KEY/NAME line per option matching filter
func printStations(w io.Writer, options []stations.Option, filter string) error {
	filter = strings.ToLower(strings.TrimSpace(filter))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME")
	for _, o := range options {
		if filter != "" && !strings.Contains(strings.ToLower(o.Key+" "+o.Name), filter) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", o.Key, o.Name)
	}
	return tw.Flush()
}
