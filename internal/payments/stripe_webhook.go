package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	// ProviderStripe names Stripe in notifications.
	ProviderStripe = "stripe"
	// StripeSignatureHeader carries the webhook signature.
	StripeSignatureHeader = "Stripe-Signature"
	// StripeOrderMetadataKey is the PaymentIntent metadata key holding the order ID.
	StripeOrderMetadataKey = "orderId"
)

// StripeWebhookVerifier authenticates Stripe webhook deliveries and extracts payment outcomes.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// StripeWebhookOption customises the verifier.
type StripeWebhookOption func(*StripeWebhookVerifier)

// WithStripeTolerance overrides the accepted signature age.
func WithStripeTolerance(tolerance time.Duration) StripeWebhookOption {
	return func(v *StripeWebhookVerifier) {
		if tolerance > 0 {
			v.tolerance = tolerance
		}
	}
}

// NewStripeWebhookVerifier constructs a verifier for the endpoint signing secret.
func NewStripeWebhookVerifier(secret string, opts ...StripeWebhookOption) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	v := &StripeWebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify checks the signature and maps payment_intent.succeeded and payment_intent.payment_failed
// to a Notification. Other event types return ErrUnsupportedEvent.
func (v *StripeWebhookVerifier) Verify(payload []byte, signature string) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var outcome Outcome
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		outcome = OutcomeSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		outcome = OutcomeFailed
	default:
		return Notification{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return Notification{}, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, event.ID)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return Notification{}, fmt.Errorf("%w: decode payment intent: %v", ErrMalformedEvent, err)
	}
	orderID := strings.TrimSpace(intent.Metadata[StripeOrderMetadataKey])
	if orderID == "" {
		return Notification{}, fmt.Errorf("%w: payment intent %s has no %s metadata", ErrMalformedEvent, intent.ID, StripeOrderMetadataKey)
	}

	return Notification{
		Provider:   ProviderStripe,
		EventID:    event.ID,
		EventType:  string(event.Type),
		OrderID:    orderID,
		Reference:  intent.ID,
		Outcome:    outcome,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}, nil
}
