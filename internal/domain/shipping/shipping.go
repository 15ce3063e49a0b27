// Package shipping resolves which calendar dates are valid for home delivery
// and pickup, given postal-code scoped order/cutoff/delivery rules, a global
// denylist of dates, and the current instant.
package shipping

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrZoneNotFound is returned by a Repository when no shipping zone
	// serves the postal code.
	ErrZoneNotFound = errors.New("shipping zone not found")
	// ErrPickupLocationNotFound is returned when a pickup location does not exist.
	ErrPickupLocationNotFound = errors.New("pickup location not found")
	// ErrInvalidPostalCode is returned for blank or malformed postal codes.
	ErrInvalidPostalCode = errors.New("invalid postal code")
)

// InvalidRuleError describes a rule that was skipped during resolution
// because one of its fields is out of range.
type InvalidRuleError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid shipping rule %s: %s %s", e.RuleID, e.Field, e.Reason)
}

// ZoneRule states that an order for PostalCode placed on OrderDay before
// Cutoff (business local time) is delivered on DeliveryDay.
type ZoneRule struct {
	ID          string
	PostalCode  string
	OrderDay    Weekday
	Cutoff      TimeOfDay
	DeliveryDay Weekday
}

// Validate checks the weekday and cutoff ranges. Sunday is a valid order day
// but never a delivery day.
func (r ZoneRule) Validate() error {
	if err := r.check(); err != nil {
		return err
	}
	return nil
}

func (r ZoneRule) check() *InvalidRuleError {
	switch {
	case !r.OrderDay.Valid():
		return &InvalidRuleError{RuleID: r.ID, Field: "order_day", Reason: fmt.Sprintf("%d outside 1..7", int(r.OrderDay))}
	case r.DeliveryDay < Monday || r.DeliveryDay > Saturday:
		return &InvalidRuleError{RuleID: r.ID, Field: "delivery_day", Reason: fmt.Sprintf("%d outside 1..6", int(r.DeliveryDay))}
	case !r.Cutoff.Valid():
		return &InvalidRuleError{RuleID: r.ID, Field: "cutoff_time", Reason: fmt.Sprintf("%s out of range", r.Cutoff)}
	}
	return nil
}

// leadDays is the number of days between the order day and the delivery day
// of the same delivery cycle, in 0..6.
func (r ZoneRule) leadDays() int {
	return r.OrderDay.DaysUntil(r.DeliveryDay)
}

// Zone is the snapshot of a postal code's shipping configuration.
type Zone struct {
	PostalCode string
	Name       string
	// DeliveryFee is charged per order.
	DeliveryFee decimal.Decimal
	// FreeShippingThreshold waives the fee for subtotals at or above it.
	// Zero means no threshold.
	FreeShippingThreshold decimal.Decimal
	Rules                 []ZoneRule
}

// Fee returns the delivery fee for an order with the given subtotal.
func (z *Zone) Fee(subtotal decimal.Decimal) decimal.Decimal {
	if z.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(z.FreeShippingThreshold) {
		return decimal.Zero
	}
	return z.DeliveryFee
}

// PickupLocation holds the weekly opening windows of a pickup point.
type PickupLocation struct {
	ID      string
	Name    string
	Address string
	// Hours is indexed by Weekday-1. An empty string means closed.
	Hours [7]string
}

// HoursOn returns the opening window string for w, or "" when closed.
func (l *PickupLocation) HoursOn(w Weekday) string {
	if !w.Valid() {
		return ""
	}
	return strings.TrimSpace(l.Hours[w-1])
}

// OpenOn reports whether the location opens on weekday w.
func (l *PickupLocation) OpenOn(w Weekday) bool {
	return l.HoursOn(w) != ""
}

// ResolvedDeliveryDate is a reachable delivery date.
type ResolvedDeliveryDate struct {
	Date         Date
	DisplayLabel string
	IsAvailable  bool
	IsDenied     bool
}

// ResolvedPickupTime is a date on which a pickup location is open.
type ResolvedPickupTime struct {
	Date         Date
	DisplayLabel string
	TimeRange    string
	IsAvailable  bool
	IsDenied     bool
}

// Repository supplies read-only snapshots of zone rules, the denylist and
// pickup schedules. Returned values must not be mutated by callers.
type Repository interface {
	// ZoneByPostalCode returns the zone and all of its rules as one snapshot.
	// It returns ErrZoneNotFound when the postal code is not served.
	ZoneByPostalCode(ctx context.Context, postalCode string) (*Zone, error)
	DeniedDates(ctx context.Context) (DeniedDates, error)
	PickupLocation(ctx context.Context, id string) (*PickupLocation, error)
	ListPickupLocations(ctx context.Context) ([]PickupLocation, error)
}

// NormalizePostalCode upper-cases the code and removes whitespace.
func NormalizePostalCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(code), ""))
	if normalized == "" || len(normalized) > 16 {
		return "", ErrInvalidPostalCode
	}
	for _, c := range normalized {
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') && c != '-' {
			return "", ErrInvalidPostalCode
		}
	}
	return normalized, nil
}
