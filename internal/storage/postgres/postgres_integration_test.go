//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shipping",
				"POSTGRES_PASSWORD": "shipping",
				"POSTGRES_DB":       "shipping",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "host: %v\n", err)
		return 1
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mapped port: %v\n", err)
		return 1
	}

	dsn := fmt.Sprintf("postgres://shipping:shipping@%s:%s/shipping?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return 1
	}
	return m.Run()
}

func mustTime(t *testing.T, s string) shipping.TimeOfDay {
	t.Helper()
	v, err := shipping.ParseTimeOfDay(s)
	require.NoError(t, err)
	return v
}

func testDataset(t *testing.T) Dataset {
	depot := shipping.PickupLocation{ID: "depot", Name: "Depot", Address: "Váci út 1"}
	depot.Hours[shipping.Saturday-1] = "08:00-13:00"

	return Dataset{
		Zones: []shipping.Zone{
			{
				PostalCode:            "1051",
				Name:                  "Budapest V.",
				DeliveryFee:           decimal.RequireFromString("990.00"),
				FreeShippingThreshold: decimal.RequireFromString("15000.00"),
				Rules: []shipping.ZoneRule{
					{ID: "1051-a", PostalCode: "1051", OrderDay: shipping.Monday, Cutoff: mustTime(t, "14:00"), DeliveryDay: shipping.Wednesday},
					{ID: "1051-b", PostalCode: "1051", OrderDay: shipping.Thursday, Cutoff: mustTime(t, "23:59:59"), DeliveryDay: shipping.Saturday},
				},
			},
			{PostalCode: "2000", Name: "Szentendre"},
		},
		DeniedDates: []DeniedDate{
			{Date: shipping.MustDate(2025, 12, 25), Reason: "Christmas"},
		},
		PickupLocations: []shipping.PickupLocation{depot},
	}
}

func TestShippingRepository(t *testing.T) {
	ctx := context.Background()

	stats, err := NewImporter(testPool).Replace(ctx, testDataset(t))
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Zones: 2, Rules: 2, DeniedDates: 1, PickupLocations: 1}, stats)

	// Replacing twice must not fail on primary keys.
	_, err = NewImporter(testPool).Replace(ctx, testDataset(t))
	require.NoError(t, err)

	repo := NewShippingRepository(testPool)

	t.Run("ZoneByPostalCode", func(t *testing.T) {
		zone, err := repo.ZoneByPostalCode(ctx, "1051")
		require.NoError(t, err)
		assert.Equal(t, "Budapest V.", zone.Name)
		assert.True(t, zone.DeliveryFee.Equal(decimal.RequireFromString("990")))
		require.Len(t, zone.Rules, 2)
		assert.Equal(t, shipping.ZoneRule{
			ID: "1051-a", PostalCode: "1051",
			OrderDay: shipping.Monday, Cutoff: shipping.TimeOfDay{Hour: 14}, DeliveryDay: shipping.Wednesday,
		}, zone.Rules[0])
		assert.Equal(t, shipping.TimeOfDay{Hour: 23, Minute: 59, Second: 59}, zone.Rules[1].Cutoff)
	})

	t.Run("ZoneWithoutRules", func(t *testing.T) {
		zone, err := repo.ZoneByPostalCode(ctx, "2000")
		require.NoError(t, err)
		assert.Empty(t, zone.Rules)
	})

	t.Run("ZoneNotFound", func(t *testing.T) {
		_, err := repo.ZoneByPostalCode(ctx, "9999")
		require.ErrorIs(t, err, shipping.ErrZoneNotFound)
	})

	t.Run("DeniedDates", func(t *testing.T) {
		denied, err := repo.DeniedDates(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, denied.Len())
		assert.True(t, denied.Contains(shipping.MustDate(2025, 12, 25)))
	})

	t.Run("PickupLocation", func(t *testing.T) {
		loc, err := repo.PickupLocation(ctx, "depot")
		require.NoError(t, err)
		assert.Equal(t, "08:00-13:00", loc.HoursOn(shipping.Saturday))
		assert.False(t, loc.OpenOn(shipping.Monday))

		_, err = repo.PickupLocation(ctx, "missing")
		require.ErrorIs(t, err, shipping.ErrPickupLocationNotFound)

		all, err := repo.ListPickupLocations(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("PostalCodes", func(t *testing.T) {
		codes, err := repo.PostalCodes(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1051", "2000"}, codes)
	})
}
