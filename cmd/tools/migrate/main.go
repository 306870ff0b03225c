package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
	"github.com/Developersbbs/Rental-client-sub001/internal/repo"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down or version")
	steps := flag.Int("steps", 1, "number of migrations to roll back with -direction=down")
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	switch *direction {
	case "up":
		if err := repo.Migrate(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	case "down":
		if err := repo.MigrateDown(dbURL, *steps); err != nil {
			logger.Fatal().Err(err).Int("steps", *steps).Msg("roll back migrations")
		}
	case "version":
	default:
		logger.Fatal().Str("direction", *direction).Msg("unknown direction")
	}

	version, dirty, err := repo.MigrationVersion(dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("read migration version")
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations done")
}
