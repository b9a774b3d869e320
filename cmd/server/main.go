// The server binary serves the price tag snapshot over HTTP and
// triggers a scan on a schedule. Overlapping triggers are skipped, not
// queued.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"supermarket-scanner/config"
	"supermarket-scanner/scan"
	"supermarket-scanner/server"
	"supermarket-scanner/storage"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("can't load configuration")
	}

	store, err := storage.NewPostgres(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("can't connect to Postgres")
	}
	defer store.Close()

	if err := store.CreateTables(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("can't create tables")
	}

	scanner := scan.New(cfg, store, logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.CronSpec, func() {
		logger.Info().Msg("updating supermarket information")
		err := scanner.Run(context.Background())
		switch {
		case errors.Is(err, scan.ErrScanRunning):
			logger.Warn().Msg("previous scan still running, skipping this trigger")
		case err != nil:
			logger.Error().Err(err).Msg("scheduled scan failed")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.CronSpec).Msg("can't schedule scan")
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(store, logger)
	logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Handler()); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
