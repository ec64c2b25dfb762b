package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nilemarket/storefront/internal/payments"
	"github.com/nilemarket/storefront/internal/services"
)

func TestPaymentWebhookHandlersAppliesOutcome(t *testing.T) {
	verifier := &stubWebhookVerifier{notification: payments.Notification{
		Provider:  payments.ProviderStripe,
		EventID:   "evt_1",
		OrderID:   "ord_01",
		Reference: "pi_1",
		Outcome:   payments.OutcomeSucceeded,
	}}
	var captured services.PaymentConfirmation
	orders := &stubOrderService{confirmFn: func(ctx context.Context, cmd services.PaymentConfirmation) (services.Order, error) {
		captured = cmd
		return services.Order{ID: cmd.OrderID}, nil
	}}

	router := newWebhookRouter(NewPaymentWebhookHandlers(verifier, orders))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set(payments.StripeSignatureHeader, "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if verifier.signature != "t=1,v1=abc" || verifier.payload != `{"id":"evt_1"}` {
		t.Fatalf("verifier received %q / %q", verifier.signature, verifier.payload)
	}
	if captured.OrderID != "ord_01" || captured.Outcome != services.PaymentOutcomeSucceeded || captured.Reference != "pi_1" || captured.Provider != "stripe" {
		t.Fatalf("unexpected confirmation %+v", captured)
	}
}

func TestPaymentWebhookHandlersResponses(t *testing.T) {
	valid := payments.Notification{Provider: payments.ProviderStripe, OrderID: "ord_01", Outcome: payments.OutcomeFailed}
	cases := []struct {
		name      string
		verifyErr error
		orderErr  error
		status    int
	}{
		{"unsupported event acknowledged", payments.ErrUnsupportedEvent, nil, http.StatusOK},
		{"bad signature", payments.ErrInvalidSignature, nil, http.StatusBadRequest},
		{"malformed", payments.ErrMalformedEvent, nil, http.StatusBadRequest},
		{"unknown order acknowledged", nil, services.ErrOrderNotFound, http.StatusOK},
		{"store down retried", nil, services.ErrOrderUnavailable, http.StatusServiceUnavailable},
		{"invalid outcome", nil, services.ErrOrderInvalidInput, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier := &stubWebhookVerifier{notification: valid, err: tc.verifyErr}
			orders := &stubOrderService{confirmFn: func(ctx context.Context, cmd services.PaymentConfirmation) (services.Order, error) {
				if tc.verifyErr != nil {
					t.Fatalf("orders must not be touched when verification fails")
				}
				return services.Order{}, tc.orderErr
			}}
			router := newWebhookRouter(NewPaymentWebhookHandlers(verifier, orders))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`)))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestPaymentWebhookHandlersNotConfigured(t *testing.T) {
	router := newWebhookRouter(NewPaymentWebhookHandlers(nil, &stubOrderService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func newWebhookRouter(h *PaymentWebhookHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", h.Routes)
	return router
}

type stubWebhookVerifier struct {
	notification payments.Notification
	err          error
	payload      string
	signature    string
}

func (s *stubWebhookVerifier) Verify(payload []byte, signature string) (payments.Notification, error) {
	s.payload = string(payload)
	s.signature = signature
	if s.err != nil {
		return payments.Notification{}, errors.Join(s.err, errors.New("detail"))
	}
	return s.notification, nil
}

var _ PaymentWebhookVerifier = (*stubWebhookVerifier)(nil)
