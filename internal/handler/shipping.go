package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
)

// DeliveryDates handles GET /api/shipping/delivery-dates.
func (h *Handler) DeliveryDates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	code := strings.TrimSpace(q.Get("postalCode"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "postalCode is required")
		return
	}
	horizon, err := h.horizon(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var subtotal decimal.NullDecimal
	if s := q.Get("subtotal"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil || d.IsNegative() {
			writeError(w, http.StatusBadRequest, "subtotal must be a non-negative decimal")
			return
		}
		subtotal = decimal.NewNullDecimal(d)
	}

	quote, err := h.svc.DeliveryQuote(r.Context(), shipping.DeliveryQuoteRequest{
		PostalCode:  code,
		HorizonDays: horizon,
		Subtotal:    subtotal,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeDeliveryQuote(quote))
}

// PickupLocations handles GET /api/shipping/pickup-locations.
func (h *Handler) PickupLocations(w http.ResponseWriter, r *http.Request) {
	horizon, err := h.horizon(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quotes, err := h.svc.PickupLocations(r.Context(), horizon)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodePickupQuotes(quotes))
}

// PickupWindows handles GET /api/shipping/pickup-locations/{locationID}/windows.
func (h *Handler) PickupWindows(w http.ResponseWriter, r *http.Request) {
	horizon, err := h.horizon(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := h.svc.PickupWindows(r.Context(), chi.URLParam(r, "locationID"), horizon)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodePickupQuote(quote))
}

// horizon parses the optional horizon query parameter. Out of range values
// are clamped by the resolver.
func (h *Handler) horizon(r *http.Request) (int, error) {
	s := r.URL.Query().Get("horizon")
	if s == "" {
		return h.defaultHorizon, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("horizon must be an integer")
	}
	return n, nil
}

// fail maps domain errors to HTTP responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shipping.ErrInvalidPostalCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shipping.ErrPickupLocationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		zctx.From(r.Context()).Error("Shipping request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
