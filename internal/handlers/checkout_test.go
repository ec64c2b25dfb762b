package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/services"
)

func TestCheckoutHandlersAdvanceToSummary(t *testing.T) {
	router := newCheckoutRouter(NewCheckoutHandlers(nil, nil))
	body := `{"state":{"activeStep":"payment","completedSteps":["cart","shipping"],"paymentMethod":"card"},"action":"advance"}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/transitions", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp checkoutTransitionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.State.ActiveStep != "summary" || !resp.CanPlace {
		t.Fatalf("expected summary ready to place, got %+v", resp)
	}
	if strings.Join(resp.State.CompletedSteps, ",") != "cart,shipping,payment" {
		t.Fatalf("unexpected completed steps %v", resp.State.CompletedSteps)
	}
	if len(resp.Enterable) != 4 {
		t.Fatalf("expected all steps enterable, got %v", resp.Enterable)
	}
}

func TestCheckoutHandlersBackFromPaymentClearsMethod(t *testing.T) {
	router := newCheckoutRouter(NewCheckoutHandlers(nil, nil))
	body := `{"state":{"activeStep":"payment","completedSteps":["cart","shipping"],"paymentMethod":"card"},"action":"back"}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/transitions", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp checkoutTransitionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.State.ActiveStep != "shipping" || resp.State.PaymentMethod != nil {
		t.Fatalf("expected shipping without payment method, got %+v", resp.State)
	}
	if strings.Join(resp.State.CompletedSteps, ",") != "cart" {
		t.Fatalf("expected only cart completed, got %v", resp.State.CompletedSteps)
	}
}

func TestCheckoutHandlersTransitionErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{
			name:   "payment method required",
			body:   `{"state":{"activeStep":"payment","completedSteps":["cart","shipping"]},"action":"advance"}`,
			status: http.StatusConflict,
			code:   "payment_method_required",
		},
		{
			name:   "locked step",
			body:   `{"state":{"activeStep":"cart","completedSteps":[]},"action":"enter","step":"summary"}`,
			status: http.StatusConflict,
			code:   "step_locked",
		},
		{
			name:   "unknown step",
			body:   `{"state":{"activeStep":"delivery"},"action":"advance"}`,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "unknown action",
			body:   `{"state":{"activeStep":"cart"},"action":"teleport"}`,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "invalid method",
			body:   `{"state":{"activeStep":"payment","completedSteps":["cart","shipping"]},"action":"select_payment","paymentMethod":"barter"}`,
			status: http.StatusBadRequest,
			code:   "invalid_payment_method",
		},
	}
	router := newCheckoutRouter(NewCheckoutHandlers(nil, nil))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/transitions", strings.NewReader(tc.body)))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			assertErrorCode(t, rr, tc.code)
		})
	}
}

func TestCheckoutHandlersGetAddress(t *testing.T) {
	updated := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	addresses := &stubAddressService{
		getFunc: func(ctx context.Context, sessionID string) (services.Address, error) {
			if sessionID != "sess-1" {
				return services.Address{}, services.ErrAddressNotFound
			}
			return services.Address{Name: "Mona", City: domain.CityGiza, UpdatedAt: updated}, nil
		},
	}
	router := newCheckoutRouter(NewCheckoutHandlers(&stubSessionIssuer{}, addresses))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withSession(httptest.NewRequest(http.MethodGet, "/checkout/address", nil), "sess-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body addressPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Name != "Mona" || body.City != "giza" || body.UpdatedAt == "" {
		t.Fatalf("unexpected address %+v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/address", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 without session, got %d", rr.Code)
	}
	assertErrorCode(t, rr, "address_not_found")
}

func TestCheckoutHandlersSaveAddress(t *testing.T) {
	issuer := &stubSessionIssuer{id: "sess-new"}
	var saved services.Address
	addresses := &stubAddressService{
		saveFunc: func(ctx context.Context, sessionID string, addr services.Address) (services.Address, error) {
			if sessionID != "sess-new" {
				t.Fatalf("unexpected session %q", sessionID)
			}
			saved = addr
			return addr, nil
		},
	}
	router := newCheckoutRouter(NewCheckoutHandlers(issuer, addresses))
	body := `{"name":"Mona","email":"mona@example.com","phone":"01012345678","address":"12 Nile St","buildingNumber":"12","flatNumber":"4","city":"Kafr El Sheikh","district":"Center"}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/checkout/address", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if issuer.calls != 1 {
		t.Fatalf("expected session to be issued, got %d calls", issuer.calls)
	}
	if saved.City != domain.CityKafrElSheikh || saved.FloorNumber != nil {
		t.Fatalf("unexpected saved address %+v", saved)
	}
}

func TestCheckoutHandlersSaveAddressInvalid(t *testing.T) {
	addresses := &stubAddressService{
		saveFunc: func(ctx context.Context, sessionID string, addr services.Address) (services.Address, error) {
			if addr.City != "atlantis" {
				t.Fatalf("expected raw city to reach the service, got %q", addr.City)
			}
			return services.Address{}, errors.Join(services.ErrAddressInvalidInput, errors.New("city unsupported"))
		},
	}
	router := newCheckoutRouter(NewCheckoutHandlers(&stubSessionIssuer{}, addresses))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/checkout/address", strings.NewReader(`{"name":"Mona","city":"atlantis"}`))
	router.ServeHTTP(rr, withSession(req, "sess-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr, "invalid_address")
}

func newCheckoutRouter(h *CheckoutHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/checkout", h.Routes)
	return router
}

type stubAddressService struct {
	getFunc  func(ctx context.Context, sessionID string) (services.Address, error)
	saveFunc func(ctx context.Context, sessionID string, addr services.Address) (services.Address, error)
}

func (s *stubAddressService) Get(ctx context.Context, sessionID string) (services.Address, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, sessionID)
	}
	return services.Address{}, services.ErrAddressNotFound
}

func (s *stubAddressService) Save(ctx context.Context, sessionID string, addr services.Address) (services.Address, error) {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, sessionID, addr)
	}
	return services.Address{}, errors.New("not implemented")
}

var _ services.AddressService = (*stubAddressService)(nil)
