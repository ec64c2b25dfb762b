package services

import (
	"errors"
	"slices"
	"testing"

	domain "github.com/nilemarket/storefront/internal/domain"
)

func paymentMethod(m domain.PaymentMethod) *domain.PaymentMethod {
	return &m
}

func newMachine(t *testing.T, state domain.CheckoutState) *CheckoutMachine {
	t.Helper()
	m, err := NewCheckoutMachine(state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestCheckoutMachine_InitialState(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{})
	state := m.State()
	if state.ActiveStep != domain.CheckoutStepCart {
		t.Fatalf("expected cart, got %s", state.ActiveStep)
	}
	if len(state.CompletedSteps) != 0 || state.PaymentMethod != nil {
		t.Fatalf("unexpected state %+v", state)
	}
	if got := m.EnterableSteps(); !slices.Equal(got, []domain.CheckoutStep{domain.CheckoutStepCart}) {
		t.Fatalf("unexpected enterable steps %v", got)
	}
}

func TestCheckoutMachine_CanEnterRequiresPredecessor(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{
		ActiveStep:     domain.CheckoutStepPayment,
		CompletedSteps: []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping},
	})
	if !m.CanEnter(domain.CheckoutStepShipping) || !m.CanEnter(domain.CheckoutStepPayment) {
		t.Fatal("expected shipping and payment to be enterable")
	}
	if m.CanEnter(domain.CheckoutStepSummary) {
		t.Fatal("summary must not be enterable before payment is completed")
	}
	if m.CanEnter("review") {
		t.Fatal("unknown steps are never enterable")
	}
}

func TestCheckoutMachine_SummaryNeedsPaymentMethod(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{
		ActiveStep:     domain.CheckoutStepPayment,
		CompletedSteps: []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping, domain.CheckoutStepPayment},
	})
	if m.CanEnter(domain.CheckoutStepSummary) {
		t.Fatal("summary requires a payment method")
	}
	if err := m.SelectPayment(domain.PaymentMethodCard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.CanEnter(domain.CheckoutStepSummary) {
		t.Fatal("summary should be enterable once payment is selected")
	}
}

func TestCheckoutMachine_FullForwardFlow(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{})
	for _, step := range []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping} {
		if err := m.Advance(step); err != nil {
			t.Fatalf("advance %s: %v", step, err)
		}
	}
	if err := m.Advance(domain.CheckoutStepPayment); !errors.Is(err, ErrCheckoutPaymentMethodRequired) {
		t.Fatalf("expected payment method required, got %v", err)
	}
	if got := m.State(); got.ActiveStep != domain.CheckoutStepPayment || slices.Contains(got.CompletedSteps, domain.CheckoutStepPayment) {
		t.Fatalf("rejected advance must not change state: %+v", got)
	}

	if err := m.SelectPayment(domain.PaymentMethodCashOnDelivery); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Advance(domain.CheckoutStepPayment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := m.State()
	if state.ActiveStep != domain.CheckoutStepSummary {
		t.Fatalf("expected summary, got %s", state.ActiveStep)
	}
	want := []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping, domain.CheckoutStepPayment}
	if !slices.Equal(state.CompletedSteps, want) {
		t.Fatalf("unexpected completed steps %v", state.CompletedSteps)
	}
	if !m.ReadyToPlace() {
		t.Fatal("expected ready to place")
	}
	if err := m.Advance(domain.CheckoutStepSummary); !errors.Is(err, ErrCheckoutStepLocked) {
		t.Fatalf("summary is terminal, got %v", err)
	}
}

func TestCheckoutMachine_AdvanceRejectsInactiveStep(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{})
	if err := m.Advance(domain.CheckoutStepShipping); !errors.Is(err, ErrCheckoutStepLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
	if err := m.Advance("gift-wrap"); !errors.Is(err, ErrCheckoutInvalidStep) {
		t.Fatalf("expected invalid step, got %v", err)
	}
}

func TestCheckoutMachine_GoBackRevokesLaterSteps(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{
		ActiveStep:     domain.CheckoutStepSummary,
		CompletedSteps: []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping, domain.CheckoutStepPayment},
		PaymentMethod:  paymentMethod(domain.PaymentMethodCard),
	})

	if err := m.GoBack(domain.CheckoutStepSummary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := m.State()
	if state.ActiveStep != domain.CheckoutStepPayment {
		t.Fatalf("expected payment, got %s", state.ActiveStep)
	}
	if state.PaymentMethod == nil {
		t.Fatal("leaving summary keeps the payment method")
	}

	if err := m.GoBack(domain.CheckoutStepPayment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state = m.State()
	if state.ActiveStep != domain.CheckoutStepShipping {
		t.Fatalf("expected shipping, got %s", state.ActiveStep)
	}
	if !slices.Equal(state.CompletedSteps, []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping}) {
		t.Fatalf("unexpected completed steps %v", state.CompletedSteps)
	}
	if state.PaymentMethod != nil {
		t.Fatal("revoking payment clears the method")
	}
	if m.CanEnter(domain.CheckoutStepSummary) {
		t.Fatal("summary must be locked after going back")
	}
}

func TestCheckoutMachine_GoBackFromCartIsNoop(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{})
	if err := m.GoBack(domain.CheckoutStepCart); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State().ActiveStep != domain.CheckoutStepCart {
		t.Fatalf("unexpected active step %s", m.State().ActiveStep)
	}
}

func TestCheckoutMachine_EditOrder(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{
		ActiveStep:     domain.CheckoutStepSummary,
		CompletedSteps: []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping, domain.CheckoutStepPayment},
		PaymentMethod:  paymentMethod(domain.PaymentMethodCashOnDelivery),
	})
	if err := m.EditOrder(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := m.State()
	if state.ActiveStep != domain.CheckoutStepPayment || len(state.CompletedSteps) != 3 {
		t.Fatalf("unexpected state %+v", state)
	}
	if err := m.EditOrder(); !errors.Is(err, ErrCheckoutStepLocked) {
		t.Fatalf("edit only from summary, got %v", err)
	}
}

func TestNewCheckoutMachine_NormalisesClientState(t *testing.T) {
	m := newMachine(t, domain.CheckoutState{
		ActiveStep:     domain.CheckoutStepSummary,
		CompletedSteps: []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepPayment},
	})
	state := m.State()
	if !slices.Equal(state.CompletedSteps, []domain.CheckoutStep{domain.CheckoutStepCart}) {
		t.Fatalf("completed steps should be cut to a prefix, got %v", state.CompletedSteps)
	}
	if state.ActiveStep != domain.CheckoutStepShipping {
		t.Fatalf("expected fallback to shipping, got %s", state.ActiveStep)
	}

	if _, err := NewCheckoutMachine(domain.CheckoutState{ActiveStep: "wishlist"}); !errors.Is(err, ErrCheckoutInvalidStep) {
		t.Fatalf("expected invalid step, got %v", err)
	}
	if _, err := NewCheckoutMachine(domain.CheckoutState{PaymentMethod: paymentMethod("bitcoin")}); !errors.Is(err, ErrCheckoutInvalidPaymentMethod) {
		t.Fatalf("expected invalid payment method, got %v", err)
	}
}

func TestApplyCheckoutTransition(t *testing.T) {
	res, err := ApplyCheckoutTransition(CheckoutTransitionCommand{
		State:  domain.CheckoutState{ActiveStep: domain.CheckoutStepCart},
		Action: CheckoutActionAdvance,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.ActiveStep != domain.CheckoutStepShipping || res.CanPlace || res.Normalised {
		t.Fatalf("unexpected result %+v", res)
	}
	if !slices.Equal(res.Enterable, []domain.CheckoutStep{domain.CheckoutStepCart, domain.CheckoutStepShipping}) {
		t.Fatalf("unexpected enterable %v", res.Enterable)
	}

	res, err = ApplyCheckoutTransition(CheckoutTransitionCommand{
		State:  res.State,
		Action: CheckoutActionSelectPayment,
		Method: domain.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.PaymentMethod == nil || *res.State.PaymentMethod != domain.PaymentMethodCard {
		t.Fatalf("expected card selected, got %+v", res.State)
	}

	if _, err := ApplyCheckoutTransition(CheckoutTransitionCommand{Action: "jump"}); !errors.Is(err, ErrCheckoutInvalidAction) {
		t.Fatalf("expected invalid action, got %v", err)
	}
	if _, err := ApplyCheckoutTransition(CheckoutTransitionCommand{Action: CheckoutActionSelectPayment, Method: "cheque"}); !errors.Is(err, ErrCheckoutInvalidPaymentMethod) {
		t.Fatalf("expected invalid method, got %v", err)
	}
}
