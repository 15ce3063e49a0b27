package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

func records(t *testing.T, data string) []record {
	t.Helper()
	var out []record
	err := readCSV(context.Background(), strings.NewReader(data), func(_ int, rec record) error {
		out = append(out, rec)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestReadCSV(t *testing.T) {
	recs := records(t, " Postal_Code ,Name\n1051, Budapest V. \n1052\n")
	require.Len(t, recs, 2)
	assert.Equal(t, record{"postal_code": "1051", "name": "Budapest V."}, recs[0])
	assert.Equal(t, record{"postal_code": "1052"}, recs[1])

	err := readCSV(context.Background(), strings.NewReader("a\n1\n2\n"), func(line int, _ record) error {
		if line == 3 {
			return assert.AnError
		}
		return nil
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "line 3")
}

func TestParseZone(t *testing.T) {
	z, err := parseZone(record{"postal_code": " 10 51", "name": "Budapest V.", "delivery_fee": "990", "free_shipping_threshold": "15000.00"})
	require.NoError(t, err)
	assert.Equal(t, "1051", z.PostalCode)
	assert.Equal(t, "990", z.DeliveryFee.String())
	assert.Equal(t, "15000", z.FreeShippingThreshold.String())

	z, err = parseZone(record{"postal_code": "1052", "name": "Lipótváros", "delivery_fee": "0"})
	require.NoError(t, err)
	assert.True(t, z.FreeShippingThreshold.IsZero())

	for _, rec := range []record{
		{"name": "x", "delivery_fee": "1"},
		{"postal_code": "1051", "delivery_fee": "1"},
		{"postal_code": "1051", "name": "x", "delivery_fee": "free"},
		{"postal_code": "1051", "name": "x", "delivery_fee": "-5"},
	} {
		_, err := parseZone(rec)
		assert.Error(t, err, rec)
	}
}

func TestParseRule(t *testing.T) {
	r, err := parseRule(record{"id": "r1", "postal_code": "1051", "order_day": "1", "cutoff_time": "14:00", "delivery_day": "3"})
	require.NoError(t, err)
	assert.Equal(t, shipping.ZoneRule{
		ID:          "r1",
		PostalCode:  "1051",
		OrderDay:    shipping.Monday,
		Cutoff:      shipping.TimeOfDay{Hour: 14},
		DeliveryDay: shipping.Wednesday,
	}, r)

	r, err = parseRule(record{"postal_code": "1051", "order_day": "7", "cutoff_time": "23:59:59", "delivery_day": "1"})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)

	tests := []struct {
		name string
		rec  record
		err  string
	}{
		{"BadOrderDay", record{"postal_code": "1051", "order_day": "mon", "cutoff_time": "14:00", "delivery_day": "3"}, "order_day"},
		{"SundayDelivery", record{"postal_code": "1051", "order_day": "1", "cutoff_time": "14:00", "delivery_day": "7"}, "DeliveryDay failed lte=6"},
		{"ZeroOrderDay", record{"postal_code": "1051", "order_day": "0", "cutoff_time": "14:00", "delivery_day": "3"}, "OrderDay failed gte=1"},
		{"BadCutoff", record{"postal_code": "1051", "order_day": "1", "cutoff_time": "25:00", "delivery_day": "3"}, "cutoff_time"},
		{"NoCutoff", record{"postal_code": "1051", "order_day": "1", "delivery_day": "3"}, "Cutoff failed required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRule(tt.rec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestParseDeniedDate(t *testing.T) {
	d, err := parseDeniedDate(record{"date": "2025-12-25", "reason": "Christmas"})
	require.NoError(t, err)
	assert.Equal(t, shipping.MustDate(2025, 12, 25), d.Date)
	assert.Equal(t, "Christmas", d.Reason)

	_, err = parseDeniedDate(record{"date": "25/12/2025"})
	assert.ErrorContains(t, err, "Date failed datetime")
}

func TestParsePickupLocation(t *testing.T) {
	l, err := parsePickupLocation(record{"id": "depot", "name": "Depot", "saturday": "10:00-14:00"})
	require.NoError(t, err)
	assert.True(t, l.OpenOn(shipping.Saturday))
	assert.False(t, l.OpenOn(shipping.Monday))

	_, err = parsePickupLocation(record{"name": "Depot"})
	assert.ErrorContains(t, err, "ID failed required")
}

func TestAssemble(t *testing.T) {
	zones := []shipping.Zone{{PostalCode: "1051"}, {PostalCode: "1052"}}
	rules := []shipping.ZoneRule{
		{ID: "a", PostalCode: "1052"},
		{ID: "b", PostalCode: "1051"},
		{ID: "c", PostalCode: "1052"},
	}
	got, err := assemble(zones, rules)
	require.NoError(t, err)
	assert.Len(t, got[0].Rules, 1)
	assert.Len(t, got[1].Rules, 2)

	_, err = assemble([]shipping.Zone{{PostalCode: "1"}, {PostalCode: "1"}}, nil)
	assert.ErrorContains(t, err, "duplicate zone")

	_, err = assemble([]shipping.Zone{{PostalCode: "1"}}, []shipping.ZoneRule{{ID: "a", PostalCode: "2"}})
	assert.ErrorContains(t, err, "unknown zone")

	_, err = assemble([]shipping.Zone{{PostalCode: "1"}}, []shipping.ZoneRule{{ID: "a", PostalCode: "1"}, {ID: "a", PostalCode: "1"}})
	assert.ErrorContains(t, err, "duplicate rule id")
}

func writeGz(t *testing.T, dir, name, data string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, dir, zonesFile, "postal_code,name,delivery_fee\n1051,Budapest V.,990\n")
	writeGz(t, dir, rulesFile, "id,postal_code,order_day,cutoff_time,delivery_day\nr1,1051,1,14:00,3\nr2,1051,3,14:00,5\n")
	writeGz(t, dir, deniedFile, "date,reason\n2025-12-25,Christmas\n")
	writeGz(t, dir, locationsFile, "id,name,address,saturday\ndepot,Depot,Fő utca 1.,10:00-14:00\n")

	ds, err := loadDataset(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, ds.Zones, 1)
	assert.Len(t, ds.Zones[0].Rules, 2)
	assert.Len(t, ds.DeniedDates, 1)
	require.Len(t, ds.PickupLocations, 1)
	assert.Equal(t, "10:00-14:00", ds.PickupLocations[0].HoursOn(shipping.Saturday))

	writeGz(t, dir, rulesFile, "id,postal_code,order_day,cutoff_time,delivery_day\nr1,1051,1,14:00,9\n")
	_, err = loadDataset(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	require.NoError(t, os.Remove(filepath.Join(dir, deniedFile)))
	_, err = loadDataset(context.Background(), dir)
	assert.ErrorContains(t, err, deniedFile)
}

func TestLoadDataset_Duplicates(t *testing.T) {
	const (
		zones     = "postal_code,name,delivery_fee\n1051,Budapest V.,990\n"
		rules     = "id,postal_code,order_day,cutoff_time,delivery_day\nr1,1051,1,14:00,3\n"
		denied    = "date,reason\n2025-12-25,Christmas\n"
		locations = "id,name,address,saturday\ndepot,Depot,Fő utca 1.,10:00-14:00\n"
	)
	tests := []struct {
		name string
		file string
		data string
		err  string
	}{
		{
			name: "Zone",
			file: zonesFile,
			data: zones + "1051,Belváros,990\n",
			err:  "line 3: duplicate zone 1051, first defined on line 2",
		},
		{
			name: "RuleID",
			file: rulesFile,
			data: rules + "r1,1051,3,14:00,5\n",
			err:  "line 3: duplicate rule id r1, first defined on line 2",
		},
		{
			name: "DeniedDate",
			file: deniedFile,
			data: denied + "2025-12-26,Boxing Day\n2025-12-25,Christmas again\n",
			err:  "line 4: duplicate denied date 2025-12-25, first defined on line 2",
		},
		{
			name: "PickupLocation",
			file: locationsFile,
			data: locations + "depot,Other depot,,09:00-12:00\n",
			err:  "line 3: duplicate pickup location depot, first defined on line 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeGz(t, dir, zonesFile, zones)
			writeGz(t, dir, rulesFile, rules)
			writeGz(t, dir, deniedFile, denied)
			writeGz(t, dir, locationsFile, locations)
			writeGz(t, dir, tt.file, tt.data)

			_, err := loadDataset(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}
