package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

const (
	getZoneSQL = `SELECT postal_code, name, delivery_fee, free_shipping_threshold
		FROM shipping_zones WHERE postal_code = $1`

	listZoneRulesSQL = `SELECT id, postal_code, order_day, cutoff_time, delivery_day
		FROM shipping_zone_rules WHERE postal_code = $1 ORDER BY id`

	listDeniedDatesSQL = `SELECT date FROM denied_dates ORDER BY date`

	pickupLocationColumns = `id, name, address,
		monday, tuesday, wednesday, thursday, friday, saturday, sunday`

	getPickupLocationSQL = `SELECT ` + pickupLocationColumns + `
		FROM pickup_locations WHERE id = $1 AND active = TRUE`

	listPickupLocationsSQL = `SELECT ` + pickupLocationColumns + `
		FROM pickup_locations WHERE active = TRUE ORDER BY name, id`

	listPostalCodesSQL = `SELECT postal_code FROM shipping_zones`
)

// snapshotTx reads a zone and its rules as of one point in time.
var snapshotTx = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

var _ shipping.Repository = (*ShippingRepository)(nil)

// ShippingRepository implements shipping.Repository backed by PostgreSQL.
type ShippingRepository struct {
	pool *pgxpool.Pool
}

// NewShippingRepository returns a ShippingRepository that uses the given pool.
func NewShippingRepository(pool *pgxpool.Pool) *ShippingRepository {
	return &ShippingRepository{pool: pool}
}

// ZoneByPostalCode loads the zone row and every rule of the postal code
// inside one read-only REPEATABLE READ transaction.
func (r *ShippingRepository) ZoneByPostalCode(ctx context.Context, postalCode string) (*shipping.Zone, error) {
	var zone shipping.Zone
	err := pgx.BeginTxFunc(ctx, r.pool, snapshotTx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, getZoneSQL, postalCode)
		if err != nil {
			return err
		}
		zone, err = pgx.CollectExactlyOneRow(rows, scanZone)
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, listZoneRulesSQL, postalCode)
		if err != nil {
			return err
		}
		zone.Rules, err = pgx.CollectRows(rows, scanZoneRule)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrZoneNotFound
		}
		return nil, errors.Wrapf(err, "get zone %q", postalCode)
	}
	return &zone, nil
}

// DeniedDates returns the full denylist.
func (r *ShippingRepository) DeniedDates(ctx context.Context) (shipping.DeniedDates, error) {
	rows, err := r.pool.Query(ctx, listDeniedDatesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list denied dates")
	}
	dates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shipping.Date, error) {
		var t time.Time
		err := row.Scan(&t)
		return shipping.DateOf(t), err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list denied dates")
	}
	return shipping.NewDeniedDates(dates...), nil
}

// PickupLocation returns an active pickup location by id.
func (r *ShippingRepository) PickupLocation(ctx context.Context, id string) (*shipping.PickupLocation, error) {
	rows, err := r.pool.Query(ctx, getPickupLocationSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get pickup location %q", id)
	}
	loc, err := pgx.CollectExactlyOneRow(rows, scanPickupLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrPickupLocationNotFound
		}
		return nil, errors.Wrapf(err, "get pickup location %q", id)
	}
	return &loc, nil
}

// ListPickupLocations returns all active pickup locations ordered by name.
func (r *ShippingRepository) ListPickupLocations(ctx context.Context) ([]shipping.PickupLocation, error) {
	rows, err := r.pool.Query(ctx, listPickupLocationsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list pickup locations")
	}
	locations, err := pgx.CollectRows(rows, scanPickupLocation)
	if err != nil {
		return nil, errors.Wrap(err, "list pickup locations")
	}
	return locations, nil
}

// PostalCodes returns every postal code that has a zone.
func (r *ShippingRepository) PostalCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPostalCodesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list postal codes")
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "list postal codes")
	}
	return codes, nil
}

func scanZone(row pgx.CollectableRow) (shipping.Zone, error) {
	var z shipping.Zone
	err := row.Scan(&z.PostalCode, &z.Name, &z.DeliveryFee, &z.FreeShippingThreshold)
	return z, err
}

func scanZoneRule(row pgx.CollectableRow) (shipping.ZoneRule, error) {
	var (
		rule        shipping.ZoneRule
		orderDay    int16
		cutoff      pgtype.Time
		deliveryDay int16
	)
	err := row.Scan(&rule.ID, &rule.PostalCode, &orderDay, &cutoff, &deliveryDay)
	rule.OrderDay = shipping.Weekday(orderDay)
	rule.DeliveryDay = shipping.Weekday(deliveryDay)
	rule.Cutoff = timeOfDayFromPg(cutoff)
	return rule, err
}

func scanPickupLocation(row pgx.CollectableRow) (shipping.PickupLocation, error) {
	var (
		loc   shipping.PickupLocation
		hours [7]*string
	)
	err := row.Scan(&loc.ID, &loc.Name, &loc.Address,
		&hours[0], &hours[1], &hours[2], &hours[3], &hours[4], &hours[5], &hours[6],
	)
	for i, h := range hours {
		if h != nil {
			loc.Hours[i] = *h
		}
	}
	return loc, err
}

const microsPerSecond = int64(time.Second / time.Microsecond)

func timeOfDayFromPg(t pgtype.Time) shipping.TimeOfDay {
	if !t.Valid {
		// Out of range, so the rule is skipped as invalid.
		return shipping.TimeOfDay{Hour: -1}
	}
	secs := int(t.Microseconds / microsPerSecond)
	return shipping.TimeOfDay{Hour: secs / 3600, Minute: secs / 60 % 60, Second: secs % 60}
}

func timeOfDayToPg(t shipping.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Seconds()) * microsPerSecond, Valid: true}
}
