// Package seed builds the demo shipping data set used for local
// development and end-to-end tests.
package seed

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
	"github.com/xenking/kart-shipping/internal/storage/postgres"
)

// Districts is the number of Budapest districts. Districts up to
// InnerDistricts get next-day delivery.
const (
	Districts      = 23
	InnerDistricts = 13
)

var roman = [...]string{
	"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X", "XI", "XII",
	"XIII", "XIV", "XV", "XVI", "XVII", "XVIII", "XIX", "XX", "XXI", "XXII", "XXIII",
}

var ruleNamespace = uuid.MustParse("6f1d8a4e-5c0b-4f7e-9a43-2d1c7b0e8f55")

// PostalCode returns the main postal code of a district, e.g. 1051 for V.
func PostalCode(district int) string {
	return fmt.Sprintf("1%02d1", district)
}

// Demo returns zones for every Budapest district, public holidays of the
// given years as denied dates and two pickup locations.
func Demo(years ...int) postgres.Dataset {
	ds := postgres.Dataset{
		PickupLocations: pickupLocations(),
	}
	for d := 1; d <= Districts; d++ {
		ds.Zones = append(ds.Zones, zone(d))
	}
	for _, y := range years {
		ds.DeniedDates = append(ds.DeniedDates, Holidays(y)...)
	}
	return ds
}

func zone(district int) shipping.Zone {
	z := shipping.Zone{
		PostalCode:            PostalCode(district),
		Name:                  "Budapest " + roman[district-1] + ".",
		FreeShippingThreshold: decimal.NewFromInt(20000),
	}

	type cycle struct{ order, delivery shipping.Weekday }
	var (
		cycles []cycle
		cutoff shipping.TimeOfDay
	)
	if district <= InnerDistricts {
		z.DeliveryFee = decimal.NewFromInt(990)
		cutoff = shipping.TimeOfDay{Hour: 14}
		cycles = []cycle{
			{shipping.Monday, shipping.Tuesday},
			{shipping.Tuesday, shipping.Wednesday},
			{shipping.Wednesday, shipping.Thursday},
			{shipping.Thursday, shipping.Friday},
			{shipping.Friday, shipping.Saturday},
			{shipping.Saturday, shipping.Monday},
		}
	} else {
		z.DeliveryFee = decimal.NewFromInt(1490)
		cutoff = shipping.TimeOfDay{Hour: 12}
		cycles = []cycle{
			{shipping.Monday, shipping.Wednesday},
			{shipping.Wednesday, shipping.Friday},
			{shipping.Friday, shipping.Monday},
		}
	}

	for _, c := range cycles {
		name := fmt.Sprintf("%s/%d/%d", z.PostalCode, c.order, c.delivery)
		z.Rules = append(z.Rules, shipping.ZoneRule{
			ID:          uuid.NewSHA1(ruleNamespace, []byte(name)).String(),
			PostalCode:  z.PostalCode,
			OrderDay:    c.order,
			Cutoff:      cutoff,
			DeliveryDay: c.delivery,
		})
	}
	return z
}

func pickupLocations() []shipping.PickupLocation {
	return []shipping.PickupLocation{
		{
			ID:      "deak-ter",
			Name:    "Deák tér pickup point",
			Address: "1052 Budapest, Deák Ferenc tér 3.",
			Hours: [7]string{
				"08:00-20:00", "08:00-20:00", "08:00-20:00", "08:00-20:00", "08:00-20:00",
				"09:00-14:00", "",
			},
		},
		{
			ID:      "ujbuda-depot",
			Name:    "Újbuda depot",
			Address: "1117 Budapest, Hunyadi János út 19.",
			Hours:   [7]string{5: "10:00-16:00"},
		},
	}
}

// Holidays returns the Hungarian public holidays of year with a delivery
// stop on Christmas Eve.
func Holidays(year int) []postgres.DeniedDate {
	easter := easterSunday(year)
	return []postgres.DeniedDate{
		{Date: shipping.MustDate(year, time.January, 1), Reason: "New Year's Day"},
		{Date: shipping.MustDate(year, time.March, 15), Reason: "National Day"},
		{Date: easter.AddDays(-2), Reason: "Good Friday"},
		{Date: easter.AddDays(1), Reason: "Easter Monday"},
		{Date: shipping.MustDate(year, time.May, 1), Reason: "Labour Day"},
		{Date: easter.AddDays(50), Reason: "Whit Monday"},
		{Date: shipping.MustDate(year, time.August, 20), Reason: "State Foundation Day"},
		{Date: shipping.MustDate(year, time.October, 23), Reason: "National Day"},
		{Date: shipping.MustDate(year, time.November, 1), Reason: "All Saints' Day"},
		{Date: shipping.MustDate(year, time.December, 24), Reason: "Christmas Eve"},
		{Date: shipping.MustDate(year, time.December, 25), Reason: "Christmas"},
		{Date: shipping.MustDate(year, time.December, 26), Reason: "Christmas"},
	}
}

// easterSunday uses the anonymous Gregorian algorithm.
func easterSunday(year int) shipping.Date {
	a := year % 19
	b, c := year/100, year%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return shipping.MustDate(year, time.Month(month), day)
}
