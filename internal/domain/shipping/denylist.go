package shipping

// DeniedDates is the global set of dates on which nothing is delivered or
// picked up. A nil set denies nothing.
type DeniedDates map[Date]struct{}

// NewDeniedDates builds a set from the given dates.
func NewDeniedDates(dates ...Date) DeniedDates {
	s := make(DeniedDates, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}

// Contains reports whether d is denied. Only the calendar date matters.
func (s DeniedDates) Contains(d Date) bool {
	_, ok := s[d]
	return ok
}

// Len returns the number of denied dates.
func (s DeniedDates) Len() int {
	return len(s)
}
