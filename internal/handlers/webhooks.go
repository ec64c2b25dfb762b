package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nilemarket/storefront/internal/payments"
	"github.com/nilemarket/storefront/internal/platform/httpx"
	"github.com/nilemarket/storefront/internal/platform/requestctx"
	"github.com/nilemarket/storefront/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// PaymentWebhookVerifier authenticates a provider callback and extracts its payment outcome.
type PaymentWebhookVerifier interface {
	Verify(payload []byte, signature string) (payments.Notification, error)
}

// PaymentWebhookHandlers applies card provider callbacks to orders.
type PaymentWebhookHandlers struct {
	stripe PaymentWebhookVerifier
	orders services.OrderService
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(stripe PaymentWebhookVerifier, orders services.OrderService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{stripe: stripe, orders: orders}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
	OrderID  string `json:"orderId,omitempty"`
}

func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stripe == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhooks are not configured", http.StatusServiceUnavailable))
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	notification, err := h.stripe.Verify(payload, r.Header.Get(payments.StripeSignatureHeader))
	if err != nil {
		h.writeVerifyError(ctx, w, err)
		return
	}

	logger := requestctx.Logger(ctx).With(
		zap.String("provider", notification.Provider),
		zap.String("eventId", notification.EventID),
		zap.String("orderId", notification.OrderID),
	)
	_, err = h.orders.ConfirmPayment(ctx, services.PaymentConfirmation{
		OrderID:   notification.OrderID,
		Outcome:   services.PaymentOutcome(notification.Outcome),
		Provider:  notification.Provider,
		Reference: notification.Reference,
	})
	switch {
	case err == nil:
		logger.Info("webhook.payment.applied", zap.String("outcome", string(notification.Outcome)))
		writeJSONResponse(w, http.StatusOK, webhookResponse{Received: true, Status: "applied", OrderID: notification.OrderID})
	case errors.Is(err, services.ErrOrderNotFound):
		// Acknowledge so the provider stops redelivering a callback no order can accept.
		logger.Warn("webhook.payment.unknown_order")
		writeJSONResponse(w, http.StatusOK, webhookResponse{Received: true, Status: "unknown_order", OrderID: notification.OrderID})
	case errors.Is(err, services.ErrOrderInvalidInput):
		logger.Warn("webhook.payment.rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusBadRequest))
	default:
		logger.Error("webhook.payment.failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("webhook_retry", "payment update could not be applied", http.StatusServiceUnavailable))
	}
}

func (h *PaymentWebhookHandlers) writeVerifyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payments.ErrUnsupportedEvent):
		writeJSONResponse(w, http.StatusOK, webhookResponse{Received: true, Status: "ignored"})
	case errors.Is(err, payments.ErrInvalidSignature):
		requestctx.Logger(ctx).Warn("webhook.signature.invalid", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	default:
		requestctx.Logger(ctx).Warn("webhook.payload.malformed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", "webhook payload is malformed", http.StatusBadRequest))
	}
}
