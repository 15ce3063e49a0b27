package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
	"github.com/xenking/kart-shipping/internal/storage/postgres"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// record maps header names to the values of one CSV row.
type record map[string]string

// readGzCSV streams a gzip-compressed CSV file through readCSV.
func readGzCSV(ctx context.Context, path string, fn func(line int, rec record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	if err := readCSV(ctx, gz, fn); err != nil {
		return errors.Wrap(err, path)
	}
	return nil
}

// readCSV calls fn for every row after the header. Header names are
// lower-cased and trimmed; values are trimmed.
func readCSV(ctx context.Context, r io.Reader, fn func(line int, rec record) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return errors.Wrap(err, "read header")
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}

		rec := make(record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = strings.TrimSpace(row[i])
			}
		}
		if err := fn(line, rec); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
	}
}

func validateRow(row any) error {
	err := validate.Struct(row)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fe.Field() + " failed " + fe.Tag()
		if p := fe.Param(); p != "" {
			msgs[i] += "=" + p
		}
	}
	return errors.New(strings.Join(msgs, ", "))
}

// lineIndex remembers the line a key was first read on.
type lineIndex map[string]int

// add records key at line, or reports the earlier line of a duplicate.
func (idx lineIndex) add(kind, key string, line int) error {
	if first, dup := idx[key]; dup {
		return errors.Errorf("duplicate %s %s, first defined on line %d", kind, key, first)
	}
	idx[key] = line
	return nil
}

func atoi(rec record, name string) (int, error) {
	n, err := strconv.Atoi(rec[name])
	if err != nil {
		return 0, errors.Errorf("%s: %q is not an integer", name, rec[name])
	}
	return n, nil
}

type zoneRow struct {
	PostalCode            string `validate:"required,max=16"`
	Name                  string `validate:"required,max=200"`
	DeliveryFee           string `validate:"required,numeric"`
	FreeShippingThreshold string `validate:"omitempty,numeric"`
}

func parseZone(rec record) (shipping.Zone, error) {
	row := zoneRow{
		PostalCode:            rec["postal_code"],
		Name:                  rec["name"],
		DeliveryFee:           rec["delivery_fee"],
		FreeShippingThreshold: rec["free_shipping_threshold"],
	}
	if err := validateRow(row); err != nil {
		return shipping.Zone{}, err
	}

	code, err := shipping.NormalizePostalCode(row.PostalCode)
	if err != nil {
		return shipping.Zone{}, errors.Wrapf(err, "postal code %q", row.PostalCode)
	}
	z := shipping.Zone{PostalCode: code, Name: row.Name}
	if z.DeliveryFee, err = decimal.NewFromString(row.DeliveryFee); err != nil {
		return shipping.Zone{}, errors.Wrap(err, "delivery_fee")
	}
	if row.FreeShippingThreshold != "" {
		if z.FreeShippingThreshold, err = decimal.NewFromString(row.FreeShippingThreshold); err != nil {
			return shipping.Zone{}, errors.Wrap(err, "free_shipping_threshold")
		}
	}
	if z.DeliveryFee.IsNegative() || z.FreeShippingThreshold.IsNegative() {
		return shipping.Zone{}, errors.New("amounts must not be negative")
	}
	return z, nil
}

type ruleRow struct {
	ID          string `validate:"max=64"`
	PostalCode  string `validate:"required,max=16"`
	OrderDay    int    `validate:"gte=1,lte=7"`
	Cutoff      string `validate:"required"`
	DeliveryDay int    `validate:"gte=1,lte=6"`
}

// parseRule reads a rule row. A missing id gets a random one.
func parseRule(rec record) (shipping.ZoneRule, error) {
	row := ruleRow{
		ID:         rec["id"],
		PostalCode: rec["postal_code"],
		Cutoff:     rec["cutoff_time"],
	}
	var err error
	if row.OrderDay, err = atoi(rec, "order_day"); err != nil {
		return shipping.ZoneRule{}, err
	}
	if row.DeliveryDay, err = atoi(rec, "delivery_day"); err != nil {
		return shipping.ZoneRule{}, err
	}
	if err := validateRow(row); err != nil {
		return shipping.ZoneRule{}, err
	}

	r := shipping.ZoneRule{
		ID:          row.ID,
		OrderDay:    shipping.Weekday(row.OrderDay),
		DeliveryDay: shipping.Weekday(row.DeliveryDay),
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.PostalCode, err = shipping.NormalizePostalCode(row.PostalCode); err != nil {
		return shipping.ZoneRule{}, errors.Wrapf(err, "postal code %q", row.PostalCode)
	}
	if r.Cutoff, err = shipping.ParseTimeOfDay(row.Cutoff); err != nil {
		return shipping.ZoneRule{}, errors.Wrap(err, "cutoff_time")
	}
	if err := r.Validate(); err != nil {
		return shipping.ZoneRule{}, err
	}
	return r, nil
}

type deniedRow struct {
	Date   string `validate:"required,datetime=2006-01-02"`
	Reason string `validate:"max=200"`
}

func parseDeniedDate(rec record) (postgres.DeniedDate, error) {
	row := deniedRow{Date: rec["date"], Reason: rec["reason"]}
	if err := validateRow(row); err != nil {
		return postgres.DeniedDate{}, err
	}
	d, err := shipping.ParseDate(row.Date)
	if err != nil {
		return postgres.DeniedDate{}, err
	}
	return postgres.DeniedDate{Date: d, Reason: row.Reason}, nil
}

var weekdayColumns = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

type locationRow struct {
	ID      string    `validate:"required,max=64"`
	Name    string    `validate:"required,max=200"`
	Address string    `validate:"max=500"`
	Hours   [7]string `validate:"dive,max=64"`
}

func parsePickupLocation(rec record) (shipping.PickupLocation, error) {
	row := locationRow{ID: rec["id"], Name: rec["name"], Address: rec["address"]}
	for i, col := range weekdayColumns {
		row.Hours[i] = rec[col]
	}
	if err := validateRow(row); err != nil {
		return shipping.PickupLocation{}, err
	}
	return shipping.PickupLocation{
		ID:      row.ID,
		Name:    row.Name,
		Address: row.Address,
		Hours:   row.Hours,
	}, nil
}

// assemble attaches rules to their zones and rejects duplicates and rules
// of unknown zones.
func assemble(zones []shipping.Zone, rules []shipping.ZoneRule) ([]shipping.Zone, error) {
	idx := make(map[string]int, len(zones))
	for i, z := range zones {
		if _, dup := idx[z.PostalCode]; dup {
			return nil, errors.Errorf("duplicate zone %s", z.PostalCode)
		}
		idx[z.PostalCode] = i
	}

	ids := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, dup := ids[r.ID]; dup {
			return nil, errors.Errorf("duplicate rule id %s", r.ID)
		}
		ids[r.ID] = struct{}{}

		i, ok := idx[r.PostalCode]
		if !ok {
			return nil, errors.Errorf("rule %s references unknown zone %s", r.ID, r.PostalCode)
		}
		zones[i].Rules = append(zones[i].Rules, r)
	}
	return zones, nil
}
