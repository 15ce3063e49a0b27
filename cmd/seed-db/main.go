// Command seed-db loads the demo shipping data set into PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-shipping/internal/seed"
	"github.com/xenking/kart-shipping/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		years       int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&years, "years", 2, "number of years of public holidays to deny, starting with the current one")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, years); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, years int) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	first := time.Now().Year()
	ys := make([]int, 0, years)
	for y := first; y < first+years; y++ {
		ys = append(ys, y)
	}

	stats, err := postgres.NewImporter(pool).Replace(ctx, seed.Demo(ys...))
	if err != nil {
		return errors.Wrap(err, "replace shipping data")
	}

	slog.Info("seeded shipping data",
		slog.Int64("zones", stats.Zones),
		slog.Int64("rules", stats.Rules),
		slog.Int64("denied_dates", stats.DeniedDates),
		slog.Int64("pickup_locations", stats.PickupLocations),
	)
	return nil
}
