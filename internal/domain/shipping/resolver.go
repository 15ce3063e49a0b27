package shipping

import (
	"time"
)

const (
	// DefaultMaxHorizonDays caps how far ahead the resolver searches.
	DefaultMaxHorizonDays = 60
	// DefaultLocation is the zone shipping rules are authored in.
	DefaultLocation = "Europe/Budapest"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Location is the business time zone used for "today" and for cutoff
	// comparisons. Defaults to UTC when nil.
	Location *time.Location
	// MaxHorizonDays clamps requested horizons. Defaults to DefaultMaxHorizonDays.
	MaxHorizonDays int
	// Label renders the display label of a date. Defaults to DefaultLabel.
	Label func(Date) string
}

// Resolver maps rules, the denylist and "now" to resolved dates. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	loc        *time.Location
	maxHorizon int
	label      func(Date) string
}

// NewResolver creates a Resolver, filling zero config fields with defaults.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		loc:        cfg.Location,
		maxHorizon: cfg.MaxHorizonDays,
		label:      cfg.Label,
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	if r.maxHorizon <= 0 {
		r.maxHorizon = DefaultMaxHorizonDays
	}
	if r.label == nil {
		r.label = DefaultLabel
	}
	return r
}

// Location returns the business time zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// DefaultLabel renders d as e.g. "Wed, Sep 3".
func DefaultLabel(d Date) string {
	return d.Time().Format("Mon, Jan 2")
}

// DeliveryResult is the outcome of a delivery date resolution.
type DeliveryResult struct {
	// Dates are reachable dates in ascending order, one entry per date.
	Dates []ResolvedDeliveryDate
	// Skipped lists rules ignored because of invalid data.
	Skipped []*InvalidRuleError
	// Horizon is the effective horizon after clamping.
	Horizon int
	// Clamped is set when the requested horizon was out of range.
	Clamped bool
}

// PickupResult is the outcome of a pickup window resolution.
type PickupResult struct {
	Windows []ResolvedPickupTime
	Horizon int
	Clamped bool
}

// clampHorizon bounds the requested horizon to 0..maxHorizon.
func (r *Resolver) clampHorizon(days int) (int, bool) {
	switch {
	case days < 0:
		return 0, true
	case days > r.maxHorizon:
		return r.maxHorizon, true
	}
	return days, false
}

// localNow returns today's date and the wall-clock time in the business zone.
func (r *Resolver) localNow(now time.Time) (Date, TimeOfDay) {
	local := now.In(r.loc)
	return DateOf(local), ClockOf(local)
}

// DeliveryDates resolves the home delivery dates reachable from now within
// the horizon. Rules must belong to a single postal code; invalid rules are
// skipped and reported in the result. An empty rule set yields no dates.
//
// A candidate date is reachable through a rule when the rule delivers on the
// candidate's weekday and the rule's order day of that delivery cycle
// (leadDays before the candidate) is after today, or is today with the
// current local time strictly before the cutoff.
func (r *Resolver) DeliveryDates(rules []ZoneRule, denied DeniedDates, now time.Time, horizonDays int) DeliveryResult {
	horizon, clamped := r.clampHorizon(horizonDays)
	res := DeliveryResult{Horizon: horizon, Clamped: clamped}

	valid := make([]ZoneRule, 0, len(rules))
	for _, rule := range rules {
		if err := rule.check(); err != nil {
			res.Skipped = append(res.Skipped, err)
			continue
		}
		valid = append(valid, rule)
	}
	if len(valid) == 0 {
		return res
	}

	today, clock := r.localNow(now)
	for offset := 0; offset <= horizon; offset++ {
		candidate := today.AddDays(offset)
		if !reachable(valid, candidate, today, clock) {
			continue
		}
		isDenied := denied.Contains(candidate)
		res.Dates = append(res.Dates, ResolvedDeliveryDate{
			Date:         candidate,
			DisplayLabel: r.label(candidate),
			IsAvailable:  !isDenied,
			IsDenied:     isDenied,
		})
	}
	return res
}

func reachable(rules []ZoneRule, candidate, today Date, clock TimeOfDay) bool {
	weekday := candidate.Weekday()
	for _, rule := range rules {
		if rule.DeliveryDay != weekday {
			continue
		}
		orderDate := candidate.AddDays(-rule.leadDays())
		switch {
		case orderDate.After(today):
			return true
		case orderDate == today && clock.Before(rule.Cutoff):
			return true
		}
	}
	return false
}

// PickupWindows resolves the dates within the horizon on which the location
// is open. Pickup has no cutoff; only the weekday schedule and the denylist
// apply.
func (r *Resolver) PickupWindows(loc *PickupLocation, denied DeniedDates, now time.Time, horizonDays int) PickupResult {
	horizon, clamped := r.clampHorizon(horizonDays)
	res := PickupResult{Horizon: horizon, Clamped: clamped}
	if loc == nil {
		return res
	}

	today, _ := r.localNow(now)
	for offset := 0; offset <= horizon; offset++ {
		candidate := today.AddDays(offset)
		hours := loc.HoursOn(candidate.Weekday())
		if hours == "" {
			continue
		}
		isDenied := denied.Contains(candidate)
		res.Windows = append(res.Windows, ResolvedPickupTime{
			Date:         candidate,
			DisplayLabel: r.label(candidate),
			TimeRange:    hours,
			IsAvailable:  !isDenied,
			IsDenied:     isDenied,
		})
	}
	return res
}
