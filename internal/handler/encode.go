package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, code, e)
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Float64(d.InexactFloat64())
}

func encodeDeliveryQuote(q *shipping.DeliveryQuote) *jx.Encoder {
	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("postalCode", func(e *jx.Encoder) { e.Str(q.PostalCode) })
		if z := q.Zone; z != nil {
			e.Field("zone", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("name", func(e *jx.Encoder) { e.Str(z.Name) })
					e.Field("deliveryFee", func(e *jx.Encoder) { money(e, z.DeliveryFee) })
					if z.FreeShippingThreshold.IsPositive() {
						e.Field("freeShippingThreshold", func(e *jx.Encoder) { money(e, z.FreeShippingThreshold) })
					}
				})
			})
		}
		if q.Fee.Valid {
			e.Field("fee", func(e *jx.Encoder) { money(e, q.Fee.Decimal) })
		}
		e.Field("horizon", func(e *jx.Encoder) { e.Int(q.Result.Horizon) })
		e.Field("clamped", func(e *jx.Encoder) { e.Bool(q.Result.Clamped) })
		e.Field("skippedRules", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range q.Result.Skipped {
					e.Obj(func(e *jx.Encoder) {
						e.Field("ruleId", func(e *jx.Encoder) { e.Str(s.RuleID) })
						e.Field("field", func(e *jx.Encoder) { e.Str(s.Field) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(s.Reason) })
					})
				}
			})
		})
		e.Field("dates", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, d := range q.Result.Dates {
					e.Obj(func(e *jx.Encoder) {
						e.Field("date", func(e *jx.Encoder) { e.Str(d.Date.String()) })
						e.Field("displayLabel", func(e *jx.Encoder) { e.Str(d.DisplayLabel) })
						e.Field("isAvailable", func(e *jx.Encoder) { e.Bool(d.IsAvailable) })
						e.Field("isDenied", func(e *jx.Encoder) { e.Bool(d.IsDenied) })
					})
				}
			})
		})
	})
	return e
}

func encodePickupQuotes(quotes []shipping.PickupQuote) *jx.Encoder {
	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("locations", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range quotes {
					pickupQuote(e, &quotes[i])
				}
			})
		})
	})
	return e
}

func encodePickupQuote(q *shipping.PickupQuote) *jx.Encoder {
	e := &jx.Encoder{}
	pickupQuote(e, q)
	return e
}

func pickupQuote(e *jx.Encoder, q *shipping.PickupQuote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("location", func(e *jx.Encoder) {
			loc := q.Location
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(loc.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(loc.Name) })
				e.Field("address", func(e *jx.Encoder) { e.Str(loc.Address) })
			})
		})
		e.Field("horizon", func(e *jx.Encoder) { e.Int(q.Result.Horizon) })
		e.Field("clamped", func(e *jx.Encoder) { e.Bool(q.Result.Clamped) })
		e.Field("windows", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, w := range q.Result.Windows {
					e.Obj(func(e *jx.Encoder) {
						e.Field("date", func(e *jx.Encoder) { e.Str(w.Date.String()) })
						e.Field("displayLabel", func(e *jx.Encoder) { e.Str(w.DisplayLabel) })
						e.Field("timeRange", func(e *jx.Encoder) { e.Str(w.TimeRange) })
						e.Field("isAvailable", func(e *jx.Encoder) { e.Bool(w.IsAvailable) })
						e.Field("isDenied", func(e *jx.Encoder) { e.Bool(w.IsDenied) })
					})
				}
			})
		})
	})
}
