// Package payments turns payment provider callbacks into provider-neutral notifications. Card
// payments are processed entirely by the provider; the storefront only learns the outcome.
package payments

import (
	"errors"
	"time"
)

// Outcome is the normalised result reported by a provider.
type Outcome string

const (
	// OutcomeSucceeded means the provider captured the payment.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the provider gave up on the payment.
	OutcomeFailed Outcome = "failed"
)

var (
	// ErrInvalidSignature is returned when a callback cannot be authenticated.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrUnsupportedEvent is returned for authenticated events that carry no payment outcome.
	ErrUnsupportedEvent = errors.New("payments: unsupported event")
	// ErrMalformedEvent is returned when an event lacks the fields needed to locate the order.
	ErrMalformedEvent = errors.New("payments: malformed event")
)

// Notification is a verified payment outcome for one order.
type Notification struct {
	Provider   string
	EventID    string
	EventType  string
	OrderID    string
	Reference  string
	Outcome    Outcome
	OccurredAt time.Time
}
