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

const maxCheckoutBodySize = 8 * 1024

// CheckoutHandlers exposes the checkout step machine and the saved shipping address.
type CheckoutHandlers struct {
	sessions  SessionIssuer
	addresses services.AddressService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(sessions SessionIssuer, addresses services.AddressService) *CheckoutHandlers {
	return &CheckoutHandlers{sessions: sessions, addresses: addresses}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/transitions", h.transition)
	r.Get("/address", h.getAddress)
	r.Put("/address", h.saveAddress)
}

type checkoutStatePayload struct {
	ActiveStep     string   `json:"activeStep"`
	CompletedSteps []string `json:"completedSteps"`
	PaymentMethod  *string  `json:"paymentMethod,omitempty"`
}

type checkoutTransitionRequest struct {
	State         checkoutStatePayload `json:"state"`
	Action        string               `json:"action"`
	Step          string               `json:"step"`
	PaymentMethod string               `json:"paymentMethod"`
}

type checkoutTransitionResponse struct {
	State      checkoutStatePayload `json:"state"`
	Enterable  []string             `json:"enterableSteps"`
	CanPlace   bool                 `json:"canPlaceOrder"`
	Normalised bool                 `json:"normalised,omitempty"`
}

type addressPayload struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	Address        string  `json:"address"`
	BuildingNumber string  `json:"buildingNumber"`
	FloorNumber    *string `json:"floorNumber,omitempty"`
	FlatNumber     string  `json:"flatNumber"`
	City           string  `json:"city"`
	District       string  `json:"district"`
	UpdatedAt      string  `json:"updatedAt,omitempty"`
}

func (h *CheckoutHandlers) transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutTransitionRequest
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := services.ApplyCheckoutTransition(services.CheckoutTransitionCommand{
		State:  req.State.toDomain(),
		Action: services.CheckoutAction(strings.TrimSpace(req.Action)),
		Step:   domain.CheckoutStep(strings.TrimSpace(req.Step)),
		Method: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	enterable := make([]string, 0, len(result.Enterable))
	for _, step := range result.Enterable {
		enterable = append(enterable, string(step))
	}
	writeJSONResponse(w, http.StatusOK, checkoutTransitionResponse{
		State:      newCheckoutStatePayload(result.State),
		Enterable:  enterable,
		CanPlace:   result.CanPlace,
		Normalised: result.Normalised,
	})
}

func (h *CheckoutHandlers) getAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		writeAddressError(ctx, w, services.ErrAddressUnavailable)
		return
	}
	sessionID := currentSession(ctx)
	if sessionID == "" {
		writeAddressError(ctx, w, services.ErrAddressNotFound)
		return
	}
	addr, err := h.addresses.Get(ctx, sessionID)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAddressPayload(addr))
}

func (h *CheckoutHandlers) saveAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		writeAddressError(ctx, w, services.ErrAddressUnavailable)
		return
	}
	var req addressPayload
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	sessionID, ok := ensureSession(w, r, h.sessions)
	if !ok {
		return
	}
	saved, err := h.addresses.Save(ctx, sessionID, req.toDomain())
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAddressPayload(saved))
}

func (p checkoutStatePayload) toDomain() domain.CheckoutState {
	state := domain.CheckoutState{
		ActiveStep:     domain.CheckoutStep(strings.TrimSpace(p.ActiveStep)),
		CompletedSteps: make([]domain.CheckoutStep, 0, len(p.CompletedSteps)),
	}
	for _, step := range p.CompletedSteps {
		state.CompletedSteps = append(state.CompletedSteps, domain.CheckoutStep(strings.TrimSpace(step)))
	}
	if p.PaymentMethod != nil {
		method := domain.PaymentMethod(strings.TrimSpace(*p.PaymentMethod))
		state.PaymentMethod = &method
	}
	return state
}

func newCheckoutStatePayload(state domain.CheckoutState) checkoutStatePayload {
	payload := checkoutStatePayload{
		ActiveStep:     string(state.ActiveStep),
		CompletedSteps: make([]string, 0, len(state.CompletedSteps)),
	}
	for _, step := range state.CompletedSteps {
		payload.CompletedSteps = append(payload.CompletedSteps, string(step))
	}
	if state.PaymentMethod != nil {
		method := string(*state.PaymentMethod)
		payload.PaymentMethod = &method
	}
	return payload
}

// toDomain keeps an unparseable city verbatim so the address service can reject it.
func (p addressPayload) toDomain() domain.Address {
	city, ok := domain.ParseCity(p.City)
	if !ok {
		city = domain.City(strings.TrimSpace(p.City))
	}
	return domain.Address{
		Name:           p.Name,
		Email:          p.Email,
		Phone:          p.Phone,
		Address:        p.Address,
		BuildingNumber: p.BuildingNumber,
		FloorNumber:    p.FloorNumber,
		FlatNumber:     p.FlatNumber,
		City:           city,
		District:       p.District,
	}
}

func newAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Name:           addr.Name,
		Email:          addr.Email,
		Phone:          addr.Phone,
		Address:        addr.Address,
		BuildingNumber: addr.BuildingNumber,
		FloorNumber:    addr.FloorNumber,
		FlatNumber:     addr.FlatNumber,
		City:           string(addr.City),
		District:       addr.District,
		UpdatedAt:      formatTime(addr.UpdatedAt),
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutStepLocked):
		httpx.WriteError(ctx, w, httpx.NewError("step_locked", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentMethodRequired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_required", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidPaymentMethod):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_method", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidStep), errors.Is(err, services.ErrCheckoutInvalidAction):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout transition failed", http.StatusInternalServerError))
	}
}

func writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAddressInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "no saved address", http.StatusNotFound))
	case errors.Is(err, services.ErrAddressUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("address_unavailable", "address store is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("address_error", "address request failed", http.StatusInternalServerError))
	}
}
