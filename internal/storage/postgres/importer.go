package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

// DeniedDate is a denylist row.
type DeniedDate struct {
	Date   shipping.Date
	Reason string
}

// Dataset is a complete replacement of the shipping tables.
type Dataset struct {
	Zones           []shipping.Zone
	DeniedDates     []DeniedDate
	PickupLocations []shipping.PickupLocation
}

// ImportStats counts the rows written by Importer.Replace.
type ImportStats struct {
	Zones           int64
	Rules           int64
	DeniedDates     int64
	PickupLocations int64
}

// Importer bulk-loads shipping data.
type Importer struct {
	pool *pgxpool.Pool
}

// NewImporter returns an Importer that uses the given pool.
func NewImporter(pool *pgxpool.Pool) *Importer {
	return &Importer{pool: pool}
}

// Replace swaps the content of all shipping tables for ds in one
// transaction. Readers see either the old or the new data set.
func (i *Importer) Replace(ctx context.Context, ds Dataset) (ImportStats, error) {
	var stats ImportStats
	err := pgx.BeginFunc(ctx, i.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE shipping_zone_rules, shipping_zones, denied_dates, pickup_locations`); err != nil {
			return errors.Wrap(err, "truncate")
		}

		var err error
		if stats.Zones, err = tx.CopyFrom(ctx,
			pgx.Identifier{"shipping_zones"},
			[]string{"postal_code", "name", "delivery_fee", "free_shipping_threshold"},
			pgx.CopyFromSlice(len(ds.Zones), func(n int) ([]any, error) {
				z := ds.Zones[n]
				return []any{z.PostalCode, z.Name, z.DeliveryFee, z.FreeShippingThreshold}, nil
			}),
		); err != nil {
			return errors.Wrap(err, "copy zones")
		}

		var rules []shipping.ZoneRule
		for _, z := range ds.Zones {
			rules = append(rules, z.Rules...)
		}
		if stats.Rules, err = tx.CopyFrom(ctx,
			pgx.Identifier{"shipping_zone_rules"},
			[]string{"id", "postal_code", "order_day", "cutoff_time", "delivery_day"},
			pgx.CopyFromSlice(len(rules), func(n int) ([]any, error) {
				r := rules[n]
				return []any{r.ID, r.PostalCode, int16(r.OrderDay), timeOfDayToPg(r.Cutoff), int16(r.DeliveryDay)}, nil
			}),
		); err != nil {
			return errors.Wrap(err, "copy rules")
		}

		if stats.DeniedDates, err = tx.CopyFrom(ctx,
			pgx.Identifier{"denied_dates"},
			[]string{"date", "reason"},
			pgx.CopyFromSlice(len(ds.DeniedDates), func(n int) ([]any, error) {
				d := ds.DeniedDates[n]
				return []any{d.Date.Time(), d.Reason}, nil
			}),
		); err != nil {
			return errors.Wrap(err, "copy denied dates")
		}

		if stats.PickupLocations, err = tx.CopyFrom(ctx,
			pgx.Identifier{"pickup_locations"},
			[]string{"id", "name", "address", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"},
			pgx.CopyFromSlice(len(ds.PickupLocations), func(n int) ([]any, error) {
				l := ds.PickupLocations[n]
				row := []any{l.ID, l.Name, l.Address}
				for _, h := range l.Hours {
					row = append(row, nullableHours(h))
				}
				return row, nil
			}),
		); err != nil {
			return errors.Wrap(err, "copy pickup locations")
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, errors.Wrap(err, "replace shipping data")
	}
	return stats, nil
}

func nullableHours(h string) *string {
	if h == "" {
		return nil
	}
	return &h
}
