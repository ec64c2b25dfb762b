package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nilemarket/storefront"

// Metrics exposes the storefront's domain counters. The zero value is not usable; construct with
// NewMetrics.
type Metrics struct {
	limitReached    metric.Int64Counter
	shortfall       metric.Int64Counter
	ordersPlaced    metric.Int64Counter
	cleanupDeferred metric.Int64Counter
}

// NewMetrics registers the counters on meter. A nil meter uses the global provider, which is a
// no-op until an SDK is installed.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var (
		m   Metrics
		err error
	)
	if m.limitReached, err = meter.Int64Counter("storefront.cart.limit_reached",
		metric.WithDescription("Cart mutations clamped because the variant had no remaining stock.")); err != nil {
		return nil, fmt.Errorf("observability: register limit_reached: %w", err)
	}
	if m.shortfall, err = meter.Int64Counter("storefront.inventory.shortfall",
		metric.WithDescription("Units debited beyond available stock and floored at zero."),
		metric.WithUnit("{unit}")); err != nil {
		return nil, fmt.Errorf("observability: register shortfall: %w", err)
	}
	if m.ordersPlaced, err = meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders persisted by checkout.")); err != nil {
		return nil, fmt.Errorf("observability: register orders_placed: %w", err)
	}
	if m.cleanupDeferred, err = meter.Int64Counter("storefront.orders.cleanup_deferred",
		metric.WithDescription("Post-placement steps handed to asynchronous retry.")); err != nil {
		return nil, fmt.Errorf("observability: register cleanup_deferred: %w", err)
	}
	return &m, nil
}

// CartLimitReached counts an add that could not increase the line.
func (m *Metrics) CartLimitReached(ctx context.Context, productID string) {
	if m == nil {
		return
	}
	m.limitReached.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", productID)))
}

// InventoryShortfall counts units that could not be covered by stock.
func (m *Metrics) InventoryShortfall(ctx context.Context, productID, color string, units int) {
	if m == nil || units <= 0 {
		return
	}
	m.shortfall.Add(ctx, int64(units), metric.WithAttributes(
		attribute.String("product_id", productID),
		attribute.String("color", color),
	))
}

// OrderPlaced counts a persisted order by payment method.
func (m *Metrics) OrderPlaced(ctx context.Context, paymentMethod string) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", paymentMethod)))
}

// CleanupDeferred counts a post-placement step that failed and was queued for retry.
func (m *Metrics) CleanupDeferred(ctx context.Context, step string) {
	if m == nil {
		return
	}
	m.cleanupDeferred.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}
