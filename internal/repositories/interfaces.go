package repositories

import (
	"context"

	"github.com/nilemarket/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Addresses() AddressRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository persists one cart document per session.
type CartRepository interface {
	Get(ctx context.Context, sessionID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, sessionID string) error
}

// ProductRepository reads catalog documents together with their color variants.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// InventoryRepository reads variant stock and applies order debits.
type InventoryRepository interface {
	Stock(ctx context.Context, productID, color string) (int, error)
	Debit(ctx context.Context, req InventoryDebitRequest) (InventoryDebitResult, error)
}

// InventoryDebitLine is a merged quantity to subtract from one variant.
type InventoryDebitLine struct {
	ProductID string
	Color     string
	Quantity  int
}

// InventoryDebitRequest groups the lines debited for one reference (typically an order ID).
type InventoryDebitRequest struct {
	Reference string
	Lines     []InventoryDebitLine
}

// VariantStockChange reports the before/after stock for a debited variant.
type VariantStockChange struct {
	ProductID      string
	Color          string
	Requested      int
	Previous       int
	Current        int
	TotalInventory int
}

// Shortfall reports whether the debit had to be floored at zero.
func (c VariantStockChange) Shortfall() int {
	if c.Requested > c.Previous {
		return c.Requested - c.Previous
	}
	return 0
}

// InventoryDebitResult captures the applied changes.
type InventoryDebitResult struct {
	Changes        []VariantStockChange
	AlreadyApplied bool
}

// OrderRepository persists orders and their mutable status fields.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	UpdatePayment(ctx context.Context, orderID string, update OrderPaymentUpdate) (domain.Order, error)
	UpdateCleanup(ctx context.Context, orderID string, cleanup domain.OrderCleanup) error
}

// OrderPaymentUpdate carries the status fields changed by a payment callback.
type OrderPaymentUpdate struct {
	PaymentStatus    domain.PaymentStatus
	OrderStatus      domain.OrderStatus
	PaymentReference string
	// Allow decides, against the stored order, whether the update applies.
	Allow func(current domain.Order) bool
}

// AddressRepository stores the single saved address of a session.
type AddressRepository interface {
	Get(ctx context.Context, sessionID string) (domain.Address, error)
	Upsert(ctx context.Context, sessionID string, addr domain.Address) (domain.Address, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
