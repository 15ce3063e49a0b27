package shipping

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/xenking/kart-shipping/internal/domain/shipping"

// ServiceOptions holds optional Service dependencies.
type ServiceOptions struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// DeliveryQuoteRequest holds the input for a delivery date lookup.
type DeliveryQuoteRequest struct {
	PostalCode  string
	HorizonDays int
	// Subtotal, when valid, is used to compute the zone's delivery fee.
	Subtotal decimal.NullDecimal
}

// DeliveryQuote is the delivery availability for one postal code.
type DeliveryQuote struct {
	PostalCode string
	// Zone is nil when the postal code is not served.
	Zone   *Zone
	Fee    decimal.NullDecimal
	Result DeliveryResult
}

// PickupQuote is the pickup availability for one location.
type PickupQuote struct {
	Location *PickupLocation
	Result   PickupResult
}

// Service loads rule snapshots from a Repository and resolves them.
type Service struct {
	repo     Repository
	resolver *Resolver
	now      func() time.Time

	tracer      trace.Tracer
	resolutions metric.Int64Counter
	skipped     metric.Int64Counter
	denied      metric.Int64Counter
}

// NewService creates a Service. Nil providers fall back to the global ones.
func NewService(repo Repository, resolver *Resolver, opts ServiceOptions) (*Service, error) {
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	meter := opts.MeterProvider.Meter(instrumentationName)

	s := &Service{
		repo:     repo,
		resolver: resolver,
		now:      time.Now,
		tracer:   opts.TracerProvider.Tracer(instrumentationName),
	}

	var err error
	if s.resolutions, err = meter.Int64Counter("shipping.resolutions",
		metric.WithDescription("Number of date resolutions by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "create resolutions counter")
	}
	if s.skipped, err = meter.Int64Counter("shipping.rules.skipped",
		metric.WithDescription("Number of shipping rules skipped because of invalid data"),
	); err != nil {
		return nil, errors.Wrap(err, "create skipped rules counter")
	}
	if s.denied, err = meter.Int64Counter("shipping.dates.denied",
		metric.WithDescription("Number of reachable dates excluded by the denylist"),
	); err != nil {
		return nil, errors.Wrap(err, "create denied dates counter")
	}
	return s, nil
}

// DeliveryQuote resolves the delivery dates for a postal code. A postal code
// without a zone or rules yields an empty quote, not an error.
func (s *Service) DeliveryQuote(ctx context.Context, req DeliveryQuoteRequest) (_ *DeliveryQuote, rerr error) {
	ctx, span := s.tracer.Start(ctx, "shipping.DeliveryQuote")
	defer func() { endSpan(span, rerr) }()

	code, err := NormalizePostalCode(req.PostalCode)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("shipping.postal_code", code))

	quote := &DeliveryQuote{PostalCode: code}
	zone, err := s.repo.ZoneByPostalCode(ctx, code)
	switch {
	case errors.Is(err, ErrZoneNotFound):
		quote.Result = s.resolver.DeliveryDates(nil, nil, s.now(), req.HorizonDays)
		return quote, nil
	case err != nil:
		return nil, errors.Wrap(err, "get zone")
	}

	denied, err := s.repo.DeniedDates(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get denied dates")
	}

	quote.Zone = zone
	quote.Result = s.resolver.DeliveryDates(zone.Rules, denied, s.now(), req.HorizonDays)
	if req.Subtotal.Valid {
		quote.Fee = decimal.NewNullDecimal(zone.Fee(req.Subtotal.Decimal))
	}

	s.observeDelivery(ctx, code, quote.Result)
	return quote, nil
}

// endSpan marks span as failed when err is set and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) observeDelivery(ctx context.Context, code string, res DeliveryResult) {
	kind := metric.WithAttributes(attribute.String("kind", "delivery"))
	s.resolutions.Add(ctx, 1, kind)

	var denied int64
	for _, d := range res.Dates {
		if d.IsDenied {
			denied++
		}
	}
	if denied > 0 {
		s.denied.Add(ctx, denied, kind)
	}

	if len(res.Skipped) == 0 {
		return
	}
	s.skipped.Add(ctx, int64(len(res.Skipped)))
	lg := zctx.From(ctx)
	for _, e := range res.Skipped {
		lg.Warn("Skipping invalid shipping rule",
			zap.String("postal_code", code),
			zap.String("rule_id", e.RuleID),
			zap.String("field", e.Field),
			zap.String("reason", e.Reason),
		)
	}
}

// PickupWindows resolves the opening dates of one pickup location.
func (s *Service) PickupWindows(ctx context.Context, locationID string, horizonDays int) (_ *PickupQuote, rerr error) {
	ctx, span := s.tracer.Start(ctx, "shipping.PickupWindows",
		trace.WithAttributes(attribute.String("shipping.pickup_location", locationID)),
	)
	defer func() { endSpan(span, rerr) }()

	loc, err := s.repo.PickupLocation(ctx, locationID)
	if err != nil {
		if errors.Is(err, ErrPickupLocationNotFound) {
			return nil, ErrPickupLocationNotFound
		}
		return nil, errors.Wrap(err, "get pickup location")
	}

	denied, err := s.repo.DeniedDates(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get denied dates")
	}

	s.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "pickup")))
	return &PickupQuote{
		Location: loc,
		Result:   s.resolver.PickupWindows(loc, denied, s.now(), horizonDays),
	}, nil
}

// PickupLocations resolves the opening dates of every pickup location
// against one denylist snapshot.
func (s *Service) PickupLocations(ctx context.Context, horizonDays int) (_ []PickupQuote, rerr error) {
	ctx, span := s.tracer.Start(ctx, "shipping.PickupLocations")
	defer func() { endSpan(span, rerr) }()

	locations, err := s.repo.ListPickupLocations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pickup locations")
	}
	denied, err := s.repo.DeniedDates(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get denied dates")
	}

	now := s.now()
	quotes := make([]PickupQuote, len(locations))
	for i := range locations {
		quotes[i] = PickupQuote{
			Location: &locations[i],
			Result:   s.resolver.PickupWindows(&locations[i], denied, now, horizonDays),
		}
	}
	s.resolutions.Add(ctx, int64(len(quotes)), metric.WithAttributes(attribute.String("kind", "pickup")))
	return quotes, nil
}
