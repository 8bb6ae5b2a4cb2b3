package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mini-subway-board/poller/internal/config"

	_ "time/tzdata"
)

func main() {
	if os.Getenv("LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if os.Getenv("DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "poller",
		Usage:       "subway arrivals board",
		Description: "Polls a GTFS-Realtime feed for one station and animates its upcoming trains",

		Commands: []*cli.Command{
			runCommand(),
			boardCommand(),
			stationsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

var stationFlag = &cli.StringFlag{
	Name:    "station",
	Aliases: []string{"s"},
	Usage:   "station key (platform stop id such as 635N), overrides STATION_KEY",
}

// loadConfig reads the environment and applies command line overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.IsSet(stationFlag.Name) {
		cfg.StationKey = c.String(stationFlag.Name)
	}
	return cfg, nil
}
