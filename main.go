package main

import (
	"context"
	"os"

	"supermarket-scanner/config"
	"supermarket-scanner/scan"
	"supermarket-scanner/storage"

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

	ctx := context.Background()
	if err := store.CreateTables(ctx); err != nil {
		logger.Fatal().Err(err).Msg("can't create tables")
	}

	scanner := scan.New(cfg, store, logger)
	if err := scanner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("scan failed")
		store.Close()
		os.Exit(1)
	}

	logger.Info().Msg("done")
}
