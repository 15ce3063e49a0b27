// Package cache keeps short-lived snapshots of shipping data in memory in
// front of the rule store.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

// Source is the backing store.
type Source interface {
	shipping.Repository
	PostalCodes(ctx context.Context) ([]string, error)
}

// Config configures a Repository.
type Config struct {
	// TTL bounds how stale a cached snapshot may be.
	TTL time.Duration
	// Size is the maximum number of cached zones and pickup locations each.
	Size int
	// FalsePositiveRate of the served postal code filter.
	FalsePositiveRate float64
	// LoadTimeout bounds one store load shared by concurrent callers.
	LoadTimeout time.Duration

	MeterProvider metric.MeterProvider
}

func (c *Config) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.Size <= 0 {
		c.Size = 10_000
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		c.FalsePositiveRate = 0.001
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 10 * time.Second
	}
	if c.MeterProvider == nil {
		c.MeterProvider = otel.GetMeterProvider()
	}
}

type stamped[T any] struct {
	value    T
	loadedAt time.Time
}

var _ shipping.Repository = (*Repository)(nil)

// Repository is a caching shipping.Repository.
//
// Each call returns one complete snapshot: a zone is cached together with
// all of its rules and the denylist is swapped as a whole.
type Repository struct {
	src         Source
	ttl         time.Duration
	fpr         float64
	loadTimeout time.Duration
	now         func() time.Time

	zones     *expirable.LRU[string, *shipping.Zone]
	locations *expirable.LRU[string, *shipping.PickupLocation]
	list      atomic.Pointer[stamped[[]shipping.PickupLocation]]
	denied    atomic.Pointer[stamped[shipping.DeniedDates]]

	// mu serializes invalidations, stores of loaded snapshots and filter
	// swaps.
	mu sync.Mutex
	// gen is bumped on every invalidation under mu; loads started under an
	// older generation are returned but not stored.
	gen   atomic.Uint64
	group singleflight.Group

	filter      atomic.Pointer[bloom.BloomFilter]
	refreshedAt atomic.Int64
	// refreshing counts in-flight RefreshPostalCodes calls; pending holds
	// codes added meanwhile so the rebuilt filter keeps them. Both under mu.
	refreshing int
	pending    map[string]struct{}

	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// New creates a Repository in front of src.
func New(src Source, cfg Config) (*Repository, error) {
	cfg.setDefaults()
	r := &Repository{
		src:         src,
		ttl:         cfg.TTL,
		fpr:         cfg.FalsePositiveRate,
		loadTimeout: cfg.LoadTimeout,
		now:         time.Now,
		zones:       expirable.NewLRU[string, *shipping.Zone](cfg.Size, nil, cfg.TTL),
		locations:   expirable.NewLRU[string, *shipping.PickupLocation](cfg.Size, nil, cfg.TTL),
		pending:     make(map[string]struct{}),
	}

	meter := cfg.MeterProvider.Meter("github.com/xenking/kart-shipping/internal/storage/cache")
	var err error
	if r.hits, err = meter.Int64Counter("shipping.cache.hits"); err != nil {
		return nil, errors.Wrap(err, "create hits counter")
	}
	if r.misses, err = meter.Int64Counter("shipping.cache.misses"); err != nil {
		return nil, errors.Wrap(err, "create misses counter")
	}
	return r, nil
}

func (r *Repository) observe(ctx context.Context, resource string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("resource", resource))
	if hit {
		r.hits.Add(ctx, 1, attrs)
		return
	}
	r.misses.Add(ctx, 1, attrs)
}

func (r *Repository) fresh(loadedAt time.Time) bool {
	return r.now().Sub(loadedAt) < r.ttl
}

// load runs fn once per key for all concurrent callers. fn gets a context
// that keeps ctx values but not its cancellation, so one caller giving up
// does not fail the others; the caller itself still returns on ctx.Done.
func (r *Repository) load(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := r.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()
		return fn(lctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// commit runs store unless an invalidation happened since gen was read.
func (r *Repository) commit(gen uint64, store func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen.Load() == gen {
		store()
	}
}

// ZoneByPostalCode returns the cached zone snapshot, loading it on miss.
// Codes the postal code filter rules out return shipping.ErrZoneNotFound
// without a store round trip.
func (r *Repository) ZoneByPostalCode(ctx context.Context, postalCode string) (*shipping.Zone, error) {
	if f := r.filter.Load(); f != nil && !f.TestString(postalCode) {
		r.observe(ctx, "zone_filter", true)
		return nil, shipping.ErrZoneNotFound
	}
	if zone, ok := r.zones.Get(postalCode); ok {
		r.observe(ctx, "zone", true)
		if zone == nil {
			return nil, shipping.ErrZoneNotFound
		}
		return zone, nil
	}
	r.observe(ctx, "zone", false)

	gen := r.gen.Load()
	v, err := r.load(ctx, "zone:"+postalCode, func(ctx context.Context) (any, error) {
		zone, err := r.src.ZoneByPostalCode(ctx, postalCode)
		switch {
		case errors.Is(err, shipping.ErrZoneNotFound):
			zone = nil
		case err != nil:
			return nil, err
		}
		r.commit(gen, func() { r.zones.Add(postalCode, zone) })
		return zone, nil
	})
	if err != nil {
		return nil, err
	}
	zone := v.(*shipping.Zone)
	if zone == nil {
		return nil, shipping.ErrZoneNotFound
	}
	return zone, nil
}

// DeniedDates returns the cached denylist, reloading it after the TTL.
func (r *Repository) DeniedDates(ctx context.Context) (shipping.DeniedDates, error) {
	if e := r.denied.Load(); e != nil && r.fresh(e.loadedAt) {
		r.observe(ctx, "denied_dates", true)
		return e.value, nil
	}
	r.observe(ctx, "denied_dates", false)

	gen := r.gen.Load()
	v, err := r.load(ctx, "denied", func(ctx context.Context) (any, error) {
		set, err := r.src.DeniedDates(ctx)
		if err != nil {
			return nil, err
		}
		r.commit(gen, func() {
			r.denied.Store(&stamped[shipping.DeniedDates]{value: set, loadedAt: r.now()})
		})
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(shipping.DeniedDates), nil
}

// PickupLocation returns the cached pickup location, loading it on miss.
// Unknown ids are not cached.
func (r *Repository) PickupLocation(ctx context.Context, id string) (*shipping.PickupLocation, error) {
	if loc, ok := r.locations.Get(id); ok {
		r.observe(ctx, "pickup_location", true)
		return loc, nil
	}
	r.observe(ctx, "pickup_location", false)

	gen := r.gen.Load()
	v, err := r.load(ctx, "location:"+id, func(ctx context.Context) (any, error) {
		loc, err := r.src.PickupLocation(ctx, id)
		if err != nil {
			return nil, err
		}
		r.commit(gen, func() { r.locations.Add(id, loc) })
		return loc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*shipping.PickupLocation), nil
}

// ListPickupLocations returns the cached list of active pickup locations.
func (r *Repository) ListPickupLocations(ctx context.Context) ([]shipping.PickupLocation, error) {
	if e := r.list.Load(); e != nil && r.fresh(e.loadedAt) {
		r.observe(ctx, "pickup_locations", true)
		return e.value, nil
	}
	r.observe(ctx, "pickup_locations", false)

	gen := r.gen.Load()
	v, err := r.load(ctx, "locations", func(ctx context.Context) (any, error) {
		list, err := r.src.ListPickupLocations(ctx)
		if err != nil {
			return nil, err
		}
		r.commit(gen, func() {
			r.list.Store(&stamped[[]shipping.PickupLocation]{value: list, loadedAt: r.now()})
		})
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]shipping.PickupLocation), nil
}
