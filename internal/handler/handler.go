// Package handler exposes the shipping service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

// Service is the subset of shipping.Service used by the handlers.
type Service interface {
	DeliveryQuote(ctx context.Context, req shipping.DeliveryQuoteRequest) (*shipping.DeliveryQuote, error)
	PickupWindows(ctx context.Context, locationID string, horizonDays int) (*shipping.PickupQuote, error)
	PickupLocations(ctx context.Context, horizonDays int) ([]shipping.PickupQuote, error)
}

var _ Service = (*shipping.Service)(nil)

// Probes serves the health endpoints.
type Probes interface {
	LiveEndpoint(w http.ResponseWriter, r *http.Request)
	ReadyEndpoint(w http.ResponseWriter, r *http.Request)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// DefaultHorizonDays is used when a request has no horizon parameter.
	// Values below 1 select DefaultHorizonDays.
	DefaultHorizonDays int
}

// DefaultHorizonDays is the horizon of requests without one when the
// HandlerConfig leaves it unset.
const DefaultHorizonDays = 14

// Handler serves the shipping API.
type Handler struct {
	svc            Service
	defaultHorizon int
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, svc Service) *Handler {
	if cfg.DefaultHorizonDays <= 0 {
		cfg.DefaultHorizonDays = DefaultHorizonDays
	}
	return &Handler{svc: svc, defaultHorizon: cfg.DefaultHorizonDays}
}

// Router returns the chi router with every API route. probes may be nil.
func (h *Handler) Router(probes Probes) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if probes != nil {
		r.Get("/livez", probes.LiveEndpoint)
		r.Get("/readyz", probes.ReadyEndpoint)
	}

	r.Route("/api/shipping", func(r chi.Router) {
		r.Get("/delivery-dates", h.DeliveryDates)
		r.Get("/pickup-locations", h.PickupLocations)
		r.Get("/pickup-locations/{locationID}/windows", h.PickupWindows)
	})
	return r
}
