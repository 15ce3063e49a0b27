// Package rabbitmq carries shipping cache invalidation events over an AMQP
// topic exchange.
//
// Routing keys have the form shipping.<resource>.<action>, for example
// shipping.zone.invalidate or shipping.all.invalidate. The body is a JSON
// object {"id": "..."} naming the changed resource; it may be empty for
// resources without an id.
package rabbitmq

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

// RoutingPrefix is the first segment of every shipping routing key.
const RoutingPrefix = "shipping"

// Resource is the kind of changed data.
type Resource string

const (
	ResourceZone           Resource = "zone"
	ResourceDeniedDate     Resource = "denied_date"
	ResourcePickupLocation Resource = "pickup_location"
	ResourceAll            Resource = "all"
)

// Action tells whether data was written or just needs to be dropped.
// Both lead to invalidation since cached snapshots are reloaded lazily.
type Action string

const (
	ActionStore      Action = "store"
	ActionInvalidate Action = "invalidate"
)

// ErrMalformed marks events that can never be processed.
var ErrMalformed = errors.New("malformed event")

// Event is a decoded invalidation event.
type Event struct {
	Resource Resource
	Action   Action
	ID       string
}

// RoutingKey returns the routing key of e.
func (e Event) RoutingKey() string {
	return RoutingPrefix + "." + string(e.Resource) + "." + string(e.Action)
}

// ParseRoutingKey splits key into resource and action.
func ParseRoutingKey(key string) (Resource, Action, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != RoutingPrefix {
		return "", "", errors.Wrapf(ErrMalformed, "routing key %q", key)
	}
	res, act := Resource(parts[1]), Action(parts[2])
	switch res {
	case ResourceZone, ResourceDeniedDate, ResourcePickupLocation, ResourceAll:
	default:
		return "", "", errors.Wrapf(ErrMalformed, "unknown resource %q", res)
	}
	switch act {
	case ActionStore, ActionInvalidate:
	default:
		return "", "", errors.Wrapf(ErrMalformed, "unknown action %q", act)
	}
	return res, act, nil
}

// DecodeEvent parses a delivery into an Event.
func DecodeEvent(routingKey string, body []byte) (Event, error) {
	res, act, err := ParseRoutingKey(routingKey)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Resource: res, Action: act}

	if len(strings.TrimSpace(string(body))) > 0 {
		d := jx.DecodeBytes(body)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Str()
				ev.ID = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return Event{}, errors.Wrapf(ErrMalformed, "decode body: %v", err)
		}
	}

	if ev.ID == "" && (res == ResourceZone || res == ResourcePickupLocation) {
		return Event{}, errors.Wrapf(ErrMalformed, "%s event without id", res)
	}
	if res == ResourceZone {
		code, err := shipping.NormalizePostalCode(ev.ID)
		if err != nil {
			return Event{}, errors.Wrapf(ErrMalformed, "zone id %q", ev.ID)
		}
		ev.ID = code
	}
	return ev, nil
}

// EncodeBody renders the JSON body of e.
func EncodeBody(e Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		if e.ID != "" {
			enc.Field("id", func(enc *jx.Encoder) {
				enc.Str(e.ID)
			})
		}
	})
	return enc.Bytes()
}

// Invalidator drops cached shipping snapshots.
type Invalidator interface {
	InvalidateZone(postalCode string)
	InvalidateDeniedDates()
	InvalidatePickupLocation(id string)
	Purge()
	RefreshPostalCodes(ctx context.Context) (int, error)
}

// Apply invalidates the cache entries affected by e.
func Apply(ctx context.Context, inv Invalidator, e Event) error {
	switch e.Resource {
	case ResourceZone:
		inv.InvalidateZone(e.ID)
	case ResourceDeniedDate:
		inv.InvalidateDeniedDates()
	case ResourcePickupLocation:
		inv.InvalidatePickupLocation(e.ID)
	case ResourceAll:
		inv.Purge()
		if _, err := inv.RefreshPostalCodes(ctx); err != nil {
			return errors.Wrap(err, "refresh postal codes")
		}
	}
	return nil
}
