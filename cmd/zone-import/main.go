// Command zone-import replaces the shipping zones, rules, denylist and
// pickup locations with the content of gzip-compressed CSV files.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
	"github.com/xenking/kart-shipping/internal/events/rabbitmq"
	"github.com/xenking/kart-shipping/internal/storage/postgres"
)

const (
	zonesFile     = "zones.csv.gz"
	rulesFile     = "rules.csv.gz"
	deniedFile    = "denied_dates.csv.gz"
	locationsFile = "pickup_locations.csv.gz"
)

type options struct {
	dataDir     string
	databaseURL string
	rabbitURL   string
	exchange    string
	dryRun      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing the *.csv.gz files")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.rabbitURL, "rabbitmq-url", "", "AMQP URL; when set, running servers are told to drop their caches")
	flag.StringVar(&opts.exchange, "exchange", "shipping", "topic exchange of invalidation events")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "parse and validate only")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" && !opts.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("zone import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("zone import completed successfully")
}

func run(ctx context.Context, opts options) error {
	ds, err := loadDataset(ctx, opts.dataDir)
	if err != nil {
		return errors.Wrap(err, "load dataset")
	}
	slog.Info("dataset parsed",
		slog.Int("zones", len(ds.Zones)),
		slog.Int("denied_dates", len(ds.DeniedDates)),
		slog.Int("pickup_locations", len(ds.PickupLocations)),
	)
	if opts.dryRun {
		return nil
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	stats, err := postgres.NewImporter(pool).Replace(ctx, ds)
	if err != nil {
		return err
	}
	slog.Info("shipping data replaced",
		slog.Int64("zones", stats.Zones),
		slog.Int64("rules", stats.Rules),
		slog.Int64("denied_dates", stats.DeniedDates),
		slog.Int64("pickup_locations", stats.PickupLocations),
	)

	if opts.rabbitURL == "" {
		return nil
	}
	return publishInvalidation(ctx, opts.rabbitURL, opts.exchange)
}

// loadDataset parses the four files concurrently.
func loadDataset(ctx context.Context, dir string) (postgres.Dataset, error) {
	var (
		zones []shipping.Zone
		rules []shipping.ZoneRule
		ds    postgres.Dataset
	)
	var (
		zoneKeys     = lineIndex{}
		ruleKeys     = lineIndex{}
		deniedKeys   = lineIndex{}
		locationKeys = lineIndex{}
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readGzCSV(ctx, filepath.Join(dir, zonesFile), func(line int, rec record) error {
			z, err := parseZone(rec)
			if err != nil {
				return err
			}
			if err := zoneKeys.add("zone", z.PostalCode, line); err != nil {
				return err
			}
			zones = append(zones, z)
			return nil
		})
	})
	g.Go(func() error {
		return readGzCSV(ctx, filepath.Join(dir, rulesFile), func(line int, rec record) error {
			r, err := parseRule(rec)
			if err != nil {
				return err
			}
			if err := ruleKeys.add("rule id", r.ID, line); err != nil {
				return err
			}
			rules = append(rules, r)
			return nil
		})
	})
	g.Go(func() error {
		return readGzCSV(ctx, filepath.Join(dir, deniedFile), func(line int, rec record) error {
			d, err := parseDeniedDate(rec)
			if err != nil {
				return err
			}
			if err := deniedKeys.add("denied date", d.Date.String(), line); err != nil {
				return err
			}
			ds.DeniedDates = append(ds.DeniedDates, d)
			return nil
		})
	})
	g.Go(func() error {
		return readGzCSV(ctx, filepath.Join(dir, locationsFile), func(line int, rec record) error {
			l, err := parsePickupLocation(rec)
			if err != nil {
				return err
			}
			if err := locationKeys.add("pickup location", l.ID, line); err != nil {
				return err
			}
			ds.PickupLocations = append(ds.PickupLocations, l)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return postgres.Dataset{}, err
	}

	var err error
	if ds.Zones, err = assemble(zones, rules); err != nil {
		return postgres.Dataset{}, err
	}
	return ds, nil
}

func publishInvalidation(ctx context.Context, url, exchange string) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return errors.Wrap(err, "dial rabbitmq")
	}
	defer func() { _ = conn.Close() }()

	pub, err := rabbitmq.NewPublisher(conn, exchange)
	if err != nil {
		return errors.Wrap(err, "create publisher")
	}
	defer func() { _ = pub.Close() }()

	ev := rabbitmq.Event{Resource: rabbitmq.ResourceAll, Action: rabbitmq.ActionInvalidate}
	if err := pub.Publish(ctx, ev); err != nil {
		return err
	}
	slog.Info("cache invalidation published", slog.String("routing_key", ev.RoutingKey()))
	return nil
}
