package cache

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// invalidate bumps the generation and runs drop under mu, so no load that
// started before the call can store its snapshot afterwards.
func (r *Repository) invalidate(drop func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen.Add(1)
	drop()
}

// InvalidateZone drops the cached zone of postalCode and marks the code as
// possibly served, so a newly created zone is visible on the next lookup.
func (r *Repository) InvalidateZone(postalCode string) {
	r.invalidate(func() {
		r.group.Forget("zone:" + postalCode)
		r.zones.Remove(postalCode)
		r.addPostalCode(postalCode)
	})
}

// InvalidateDeniedDates forces the next DeniedDates call to reload.
func (r *Repository) InvalidateDeniedDates() {
	r.invalidate(func() {
		r.group.Forget("denied")
		r.denied.Store(nil)
	})
}

// InvalidatePickupLocation drops one pickup location and the cached list.
func (r *Repository) InvalidatePickupLocation(id string) {
	r.invalidate(func() {
		r.group.Forget("location:" + id)
		r.group.Forget("locations")
		r.locations.Remove(id)
		r.list.Store(nil)
	})
}

// Purge drops every cached snapshot. The postal code filter is disabled
// until the next RefreshPostalCodes.
func (r *Repository) Purge() {
	r.invalidate(func() {
		r.zones.Purge()
		r.locations.Purge()
		r.list.Store(nil)
		r.denied.Store(nil)
		r.filter.Store(nil)
	})
}

// RefreshPostalCodes rebuilds the served postal code filter from the store
// and returns the number of codes loaded. Codes added through
// InvalidateZone while the store is read are kept.
func (r *Repository) RefreshPostalCodes(ctx context.Context) (int, error) {
	r.mu.Lock()
	r.refreshing++
	r.mu.Unlock()

	codes, err := r.src.PostalCodes(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshing--
	pending := r.pending
	if r.refreshing == 0 {
		r.pending = make(map[string]struct{})
	}
	if err != nil {
		return 0, errors.Wrap(err, "load postal codes")
	}

	// Headroom for codes added between refreshes.
	f := bloom.NewWithEstimates(uint(len(codes)+len(pending))*2+1024, r.fpr)
	for _, code := range codes {
		f.AddString(code)
	}
	for code := range pending {
		f.AddString(code)
	}
	r.filter.Store(f)
	r.refreshedAt.Store(r.now().UnixNano())
	return len(codes), nil
}

// PostalCodesRefreshedAt returns the time of the last successful
// RefreshPostalCodes, or the zero time.
func (r *Repository) PostalCodesRefreshedAt() time.Time {
	ns := r.refreshedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// addPostalCode adds code to the filter copy-on-write: readers never see a
// filter that is being mutated. Callers hold mu.
func (r *Repository) addPostalCode(code string) {
	if r.refreshing > 0 {
		r.pending[code] = struct{}{}
	}
	cur := r.filter.Load()
	if cur == nil || cur.TestString(code) {
		return
	}
	next := cur.Copy()
	next.AddString(code)
	r.filter.Store(next)
}
