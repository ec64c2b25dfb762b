package services

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	domain "github.com/nilemarket/storefront/internal/domain"
)

var (
	// ErrCheckoutInvalidStep indicates a step name outside the checkout sequence.
	ErrCheckoutInvalidStep = errors.New("checkout: invalid step")
	// ErrCheckoutStepLocked indicates the step cannot be entered or left from the current state.
	ErrCheckoutStepLocked = errors.New("checkout: step locked")
	// ErrCheckoutPaymentMethodRequired indicates leaving the payment step without a method.
	ErrCheckoutPaymentMethodRequired = errors.New("checkout: payment method required")
	// ErrCheckoutInvalidPaymentMethod indicates an unsupported payment method.
	ErrCheckoutInvalidPaymentMethod = errors.New("checkout: invalid payment method")
	// ErrCheckoutInvalidAction indicates an unknown transition action.
	ErrCheckoutInvalidAction = errors.New("checkout: invalid action")
)

// CheckoutMachine enforces the ordered cart, shipping, payment, summary sequence over a
// client-held CheckoutState. Methods mutate the receiver only when the transition is accepted.
type CheckoutMachine struct {
	state domain.CheckoutState
}

// NewCheckoutMachine normalises a client supplied state. Unknown steps are rejected. Completed
// steps are cut back to the longest prefix of the sequence, and an active step that can no longer
// be entered falls back to the furthest enterable step.
func NewCheckoutMachine(state domain.CheckoutState) (*CheckoutMachine, error) {
	m := &CheckoutMachine{}
	if state.PaymentMethod != nil {
		if !state.PaymentMethod.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrCheckoutInvalidPaymentMethod, *state.PaymentMethod)
		}
		method := *state.PaymentMethod
		m.state.PaymentMethod = &method
	}
	for _, step := range state.CompletedSteps {
		if stepIndex(step) < 0 {
			return nil, fmt.Errorf("%w: %q", ErrCheckoutInvalidStep, step)
		}
	}
	for _, step := range completableSteps() {
		if !slices.Contains(state.CompletedSteps, step) {
			break
		}
		m.state.CompletedSteps = append(m.state.CompletedSteps, step)
	}

	active := state.ActiveStep
	if active == "" {
		active = domain.CheckoutStepCart
	}
	if stepIndex(active) < 0 {
		return nil, fmt.Errorf("%w: %q", ErrCheckoutInvalidStep, active)
	}
	for !m.CanEnter(active) {
		active = domain.CheckoutSteps[stepIndex(active)-1]
	}
	m.state.ActiveStep = active
	return m, nil
}

// State returns a copy of the current state.
func (m *CheckoutMachine) State() domain.CheckoutState {
	out := domain.CheckoutState{
		ActiveStep:     m.state.ActiveStep,
		CompletedSteps: slices.Clone(m.state.CompletedSteps),
	}
	if out.CompletedSteps == nil {
		out.CompletedSteps = []domain.CheckoutStep{}
	}
	if m.state.PaymentMethod != nil {
		method := *m.state.PaymentMethod
		out.PaymentMethod = &method
	}
	return out
}

// CanEnter reports whether step is reachable: cart always, every later step once its predecessor
// is completed. Summary additionally needs a selected payment method.
func (m *CheckoutMachine) CanEnter(step domain.CheckoutStep) bool {
	idx := stepIndex(step)
	switch {
	case idx < 0:
		return false
	case idx == 0:
		return true
	}
	if !m.completed(domain.CheckoutSteps[idx-1]) {
		return false
	}
	if step == domain.CheckoutStepSummary && m.state.PaymentMethod == nil {
		return false
	}
	return true
}

// EnterableSteps lists every step CanEnter accepts, in sequence order.
func (m *CheckoutMachine) EnterableSteps() []domain.CheckoutStep {
	out := make([]domain.CheckoutStep, 0, len(domain.CheckoutSteps))
	for _, step := range domain.CheckoutSteps {
		if m.CanEnter(step) {
			out = append(out, step)
		}
	}
	return out
}

// Enter makes step active without changing completion.
func (m *CheckoutMachine) Enter(step domain.CheckoutStep) error {
	if stepIndex(step) < 0 {
		return fmt.Errorf("%w: %q", ErrCheckoutInvalidStep, step)
	}
	if !m.CanEnter(step) {
		return fmt.Errorf("%w: %s", ErrCheckoutStepLocked, step)
	}
	m.state.ActiveStep = step
	return nil
}

// Advance completes from and activates the next step. Leaving payment requires a payment method;
// summary is terminal and only leads to order placement.
func (m *CheckoutMachine) Advance(from domain.CheckoutStep) error {
	idx := stepIndex(from)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrCheckoutInvalidStep, from)
	}
	if from != m.state.ActiveStep || !m.CanEnter(from) || from == domain.CheckoutStepSummary {
		return fmt.Errorf("%w: cannot advance from %s", ErrCheckoutStepLocked, from)
	}
	if from == domain.CheckoutStepPayment && m.state.PaymentMethod == nil {
		return ErrCheckoutPaymentMethodRequired
	}
	if !m.completed(from) {
		m.state.CompletedSteps = append(m.state.CompletedSteps, from)
	}
	m.state.ActiveStep = domain.CheckoutSteps[idx+1]
	return nil
}

// GoBack activates the step before from and revokes completion of from and every later step.
// Revoking payment clears the selected method. Going back from cart is a no-op.
func (m *CheckoutMachine) GoBack(from domain.CheckoutStep) error {
	idx := stepIndex(from)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrCheckoutInvalidStep, from)
	}
	if idx == 0 {
		return nil
	}
	if from != m.state.ActiveStep {
		return fmt.Errorf("%w: %s is not the active step", ErrCheckoutStepLocked, from)
	}
	m.revokeFrom(idx)
	m.state.ActiveStep = domain.CheckoutSteps[idx-1]
	return nil
}

// SelectPayment records the payment method without advancing.
func (m *CheckoutMachine) SelectPayment(method domain.PaymentMethod) error {
	method = domain.PaymentMethod(strings.TrimSpace(string(method)))
	if !method.Valid() {
		return fmt.Errorf("%w: %q", ErrCheckoutInvalidPaymentMethod, method)
	}
	m.state.PaymentMethod = &method
	return nil
}

// EditOrder returns from summary to payment. Completed steps are kept so shipping need not be
// confirmed again.
func (m *CheckoutMachine) EditOrder() error {
	if m.state.ActiveStep != domain.CheckoutStepSummary {
		return fmt.Errorf("%w: edit is only available from summary", ErrCheckoutStepLocked)
	}
	m.state.ActiveStep = domain.CheckoutStepPayment
	return nil
}

// ReadyToPlace reports whether the state may submit an order.
func (m *CheckoutMachine) ReadyToPlace() bool {
	return m.state.ActiveStep == domain.CheckoutStepSummary && m.CanEnter(domain.CheckoutStepSummary)
}

func (m *CheckoutMachine) completed(step domain.CheckoutStep) bool {
	return slices.Contains(m.state.CompletedSteps, step)
}

func (m *CheckoutMachine) revokeFrom(idx int) {
	m.state.CompletedSteps = slices.DeleteFunc(m.state.CompletedSteps, func(step domain.CheckoutStep) bool {
		return stepIndex(step) >= idx
	})
	if idx <= stepIndex(domain.CheckoutStepPayment) {
		m.state.PaymentMethod = nil
	}
}

// CheckoutAction names a transition requested by the client.
type CheckoutAction string

const (
	CheckoutActionEnter         CheckoutAction = "enter"
	CheckoutActionAdvance       CheckoutAction = "advance"
	CheckoutActionBack          CheckoutAction = "back"
	CheckoutActionSelectPayment CheckoutAction = "select_payment"
	CheckoutActionEditOrder     CheckoutAction = "edit_order"
)

// CheckoutTransitionCommand is a client state plus the action to apply to it.
type CheckoutTransitionCommand struct {
	State  domain.CheckoutState
	Action CheckoutAction
	Step   domain.CheckoutStep
	Method domain.PaymentMethod
}

// CheckoutTransitionResult carries the new state and the steps enterable from it.
type CheckoutTransitionResult struct {
	State      domain.CheckoutState
	Enterable  []domain.CheckoutStep
	CanPlace   bool
	Normalised bool
}

// ApplyCheckoutTransition runs one action against a client held state. The step defaults to the
// active step for advance and back.
func ApplyCheckoutTransition(cmd CheckoutTransitionCommand) (CheckoutTransitionResult, error) {
	m, err := NewCheckoutMachine(cmd.State)
	if err != nil {
		return CheckoutTransitionResult{}, err
	}
	normalised := m.state.ActiveStep != cmd.State.ActiveStep && cmd.State.ActiveStep != "" ||
		len(m.state.CompletedSteps) != len(cmd.State.CompletedSteps)

	step := cmd.Step
	if step == "" {
		step = m.state.ActiveStep
	}
	switch cmd.Action {
	case CheckoutActionEnter:
		err = m.Enter(step)
	case CheckoutActionAdvance:
		err = m.Advance(step)
	case CheckoutActionBack:
		err = m.GoBack(step)
	case CheckoutActionSelectPayment:
		err = m.SelectPayment(cmd.Method)
	case CheckoutActionEditOrder:
		err = m.EditOrder()
	default:
		err = fmt.Errorf("%w: %q", ErrCheckoutInvalidAction, cmd.Action)
	}
	if err != nil {
		return CheckoutTransitionResult{}, err
	}
	return CheckoutTransitionResult{
		State:      m.State(),
		Enterable:  m.EnterableSteps(),
		CanPlace:   m.ReadyToPlace(),
		Normalised: normalised,
	}, nil
}

func stepIndex(step domain.CheckoutStep) int {
	return slices.Index(domain.CheckoutSteps, step)
}

func completableSteps() []domain.CheckoutStep {
	return domain.CheckoutSteps[:len(domain.CheckoutSteps)-1]
}
