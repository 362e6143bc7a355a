package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/config"
	"github.com/Rrens/imagegen-studio/internal/logging"
	"github.com/Rrens/imagegen-studio/internal/repository/postgres"
)

func main() {
	source := flag.String("source", "file://migrations", "migration source URL")
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg.Logging.ErrorLogDir = ""
	if _, err := logging.Setup(cfg.Logging, false); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("source", *source).
		Int("down", *down).
		Msg("Running migrations")

	if *down > 0 {
		err = postgres.RollbackMigrations(cfg.Database.DSN(), *source, *down)
	} else {
		err = postgres.RunMigrations(cfg.Database.DSN(), *source)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
