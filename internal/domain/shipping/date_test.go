package shipping

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_Arithmetic(t *testing.T) {
	d := MustDate(2025, 12, 30)

	assert.Equal(t, MustDate(2026, 1, 2), d.AddDays(3))
	assert.Equal(t, MustDate(2025, 12, 1), d.AddDays(-29))
	assert.Equal(t, 3, d.DaysUntil(MustDate(2026, 1, 2)))
	assert.Equal(t, -29, d.DaysUntil(MustDate(2025, 12, 1)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
	assert.False(t, d.Before(d))
	assert.Equal(t, "2025-12-30", d.String())
	assert.Equal(t, MustDate(2024, 3, 1), MustDate(2024, 2, 30))
}

func TestDate_Weekday(t *testing.T) {
	for i, want := range []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday} {
		assert.Equal(t, want, MustDate(2025, 9, 1+i).Weekday())
	}
}

func TestDateOf_UsesLocation(t *testing.T) {
	loc := budapest(t)
	instant := time.Date(2025, time.September, 1, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, MustDate(2025, 9, 1), DateOf(instant))
	assert.Equal(t, MustDate(2025, 9, 2), DateOf(instant.In(loc)))
	assert.Equal(t, TimeOfDay{Hour: 0, Minute: 30}, ClockOf(instant.In(loc)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, MustDate(2025, 9, 3), d)
	assert.False(t, d.IsZero())
	assert.True(t, Date{}.IsZero())

	for _, s := range []string{"", "2025-9-3", "2025-02-30", "03.09.2025"} {
		_, err := ParseDate(s)
		assert.Error(t, err, s)
	}
}

func TestWeekday_DaysUntil(t *testing.T) {
	tests := []struct {
		from, to Weekday
		want     int
	}{
		{Monday, Monday, 0},
		{Monday, Wednesday, 2},
		{Friday, Tuesday, 4},
		{Sunday, Monday, 1},
		{Saturday, Friday, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.DaysUntil(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.Equal(t, "Sunday", Sunday.String())
	assert.Equal(t, "Monday", Monday.String())
	assert.Equal(t, "Weekday(8)", Weekday(8).String())
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "14:00", want: TimeOfDay{Hour: 14}},
		{in: " 09:30:15 ", want: TimeOfDay{Hour: 9, Minute: 30, Second: 15}},
		{in: "23:59:59", want: TimeOfDay{Hour: 23, Minute: 59, Second: 59}},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "07:05:00", TimeOfDay{Hour: 7, Minute: 5}.String())
	assert.True(t, TimeOfDay{Hour: 13, Minute: 59, Second: 59}.Before(TimeOfDay{Hour: 14}))
	assert.False(t, TimeOfDay{Hour: 14}.Before(TimeOfDay{Hour: 14}))
}

func TestNormalizePostalCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1051", want: "1051"},
		{in: " sw1a 1aa ", want: "SW1A1AA"},
		{in: "10-115", want: "10-115"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "10;drop", wantErr: true},
		{in: "12345678901234567", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePostalCode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPostalCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestZone_Fee(t *testing.T) {
	z := &Zone{
		DeliveryFee:           decimal.RequireFromString("990"),
		FreeShippingThreshold: decimal.RequireFromString("15000"),
	}
	assert.True(t, z.Fee(decimal.RequireFromString("14999.99")).Equal(decimal.RequireFromString("990")))
	assert.True(t, z.Fee(decimal.RequireFromString("15000")).IsZero())

	z.FreeShippingThreshold = decimal.Zero
	assert.True(t, z.Fee(decimal.RequireFromString("1000000")).Equal(decimal.RequireFromString("990")))
}

func TestZoneRule_Validate(t *testing.T) {
	require.NoError(t, rule("ok", Sunday, "10:00", Monday).Validate())

	err := rule("sun", Monday, "10:00", Sunday).Validate()
	var invalid *InvalidRuleError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "delivery_day", invalid.Field)
	assert.Contains(t, err.Error(), "sun")
}

func TestDeniedDates(t *testing.T) {
	var empty DeniedDates
	assert.False(t, empty.Contains(MustDate(2025, 1, 1)))
	assert.Zero(t, empty.Len())

	set := NewDeniedDates(MustDate(2025, 12, 25), MustDate(2025, 12, 25), MustDate(2025, 12, 26))
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(MustDate(2025, 12, 26)))
	assert.False(t, set.Contains(MustDate(2025, 12, 24)))
}
