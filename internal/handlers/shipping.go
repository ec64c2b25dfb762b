package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/platform/httpx"
	"github.com/nilemarket/storefront/internal/services"
)

// ShippingHandlers exposes zone estimates and cart quotes.
type ShippingHandlers struct {
	shipping services.ShippingService
}

// NewShippingHandlers constructs shipping handlers.
func NewShippingHandlers(shipping services.ShippingService) *ShippingHandlers {
	return &ShippingHandlers{shipping: shipping}
}

// Routes wires the /shipping endpoints onto the provided router.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/estimate", h.estimate)
	r.Get("/quote", h.quote)
}

type shippingEstimatePayload struct {
	City    string `json:"city"`
	Zone    string `json:"zone"`
	MinDays int    `json:"minDays"`
	MaxDays int    `json:"maxDays"`
	Rate    int64  `json:"rate"`
}

type shippingQuoteResponse struct {
	Estimate shippingEstimatePayload `json:"estimate"`
	Subtotal int64                   `json:"subtotal"`
	Shipping int64                   `json:"shipping"`
	Total    int64                   `json:"total"`
}

func (h *ShippingHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		writeShippingUnavailable(ctx, w)
		return
	}
	city, ok := cityFromQuery(ctx, w, r)
	if !ok {
		return
	}
	estimate, err := h.shipping.Estimate(city)
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildEstimatePayload(city, estimate))
}

func (h *ShippingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		writeShippingUnavailable(ctx, w)
		return
	}
	city, ok := cityFromQuery(ctx, w, r)
	if !ok {
		return
	}
	quote, err := h.shipping.Quote(ctx, currentSession(ctx), city)
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, shippingQuoteResponse{
		Estimate: buildEstimatePayload(city, quote.Estimate),
		Subtotal: quote.Cost.Subtotal,
		Shipping: quote.Cost.Shipping,
		Total:    quote.Cost.Total,
	})
}

func cityFromQuery(ctx context.Context, w http.ResponseWriter, r *http.Request) (domain.City, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("city"))
	if raw == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "city is required", http.StatusBadRequest))
		return "", false
	}
	city, ok := domain.ParseCity(raw)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_city", "city is not a supported destination", http.StatusBadRequest))
		return "", false
	}
	return city, true
}

func buildEstimatePayload(city domain.City, estimate domain.ZoneEstimate) shippingEstimatePayload {
	return shippingEstimatePayload{
		City:    string(city),
		Zone:    string(estimate.Zone),
		MinDays: estimate.MinDays,
		MaxDays: estimate.MaxDays,
		Rate:    estimate.Rate,
	}
}

func writeShippingUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("shipping_unavailable", "shipping service is unavailable", http.StatusServiceUnavailable))
}

func writeShippingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrShippingUnknownCity):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_city", "city is not a supported destination", http.StatusBadRequest))
	case errors.Is(err, services.ErrShippingUnavailable):
		writeShippingUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "shipping request failed", http.StatusInternalServerError))
	}
}
