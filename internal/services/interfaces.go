package services

import (
	"context"
	"time"

	domain "github.com/nilemarket/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart            = domain.Cart
	CartLine        = domain.CartLine
	StoreGroup      = domain.StoreGroup
	Product         = domain.Product
	ProductSnapshot = domain.ProductSnapshot
	Address         = domain.Address
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	StoreSummary    = domain.StoreSummary
	ZoneEstimate    = domain.ZoneEstimate
	CostBreakdown   = domain.CostBreakdown
	CheckoutState   = domain.CheckoutState
	HealthReport    = domain.HealthReport
)

// ShippingService exposes the destination zone table and cart quotes.
type ShippingService interface {
	Estimate(city domain.City) (ZoneEstimate, error)
	Quote(ctx context.Context, sessionID string, city domain.City) (ShippingQuote, error)
}

// CartService manages the session cart with inventory-aware quantity clamping.
type CartService interface {
	Read(ctx context.Context, sessionID string) (CartView, error)
	ReadUncached(ctx context.Context, sessionID string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartMutationResult, error)
	SetQuantity(ctx context.Context, cmd SetCartQuantityCommand) (CartMutationResult, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartMutationResult, error)
	Clear(ctx context.Context, sessionID string) error
}

// InventoryService reads and debits variant stock.
type InventoryService interface {
	CurrentStock(ctx context.Context, productID, color string) (int, error)
	Debit(ctx context.Context, cmd InventoryDebitCommand) (InventoryDebitResult, error)
}

// CatalogService resolves product variants for cart snapshots.
type CatalogService interface {
	Lookup(ctx context.Context, productID, color string) (ProductSnapshot, error)
}

// AddressService stores the single saved shipping address of a session.
type AddressService interface {
	Get(ctx context.Context, sessionID string) (Address, error)
	Save(ctx context.Context, sessionID string, addr Address) (Address, error)
}

// OrderService places orders and applies their post-placement lifecycle.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	GetOrder(ctx context.Context, sessionID, orderID string) (Order, error)
	CompleteCleanup(ctx context.Context, orderID string) (Order, error)
	ConfirmPayment(ctx context.Context, cmd PaymentConfirmation) (Order, error)
}

// SystemService reports dependency health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// CartCache is the read-through cache in front of the cart repository. Get returns an error on a
// miss; any Get error is treated as a miss. Mutations write through with Set; reads fill with
// SetIfAbsent, which leaves an existing entry untouched.
type CartCache interface {
	Get(ctx context.Context, sessionID string) (Cart, error)
	Set(ctx context.Context, cart Cart) error
	SetIfAbsent(ctx context.Context, cart Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// Metrics records domain counters. Implementations must tolerate concurrent use.
type Metrics interface {
	CartLimitReached(ctx context.Context, productID string)
	InventoryShortfall(ctx context.Context, productID, color string, units int)
	OrderPlaced(ctx context.Context, paymentMethod string)
	CleanupDeferred(ctx context.Context, step string)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// CleanupJobPublisher enqueues retries of unfinished post-placement steps.
type CleanupJobPublisher interface {
	PublishCleanupJob(ctx context.Context, job CleanupJobMessage) (string, error)
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string         `json:"type"`
	OrderID       string         `json:"orderId"`
	OrderNumber   string         `json:"orderNumber"`
	SessionID     string         `json:"sessionId,omitempty"`
	PaymentMethod string         `json:"paymentMethod,omitempty"`
	PaymentStatus string         `json:"paymentStatus,omitempty"`
	OrderStatus   string         `json:"orderStatus,omitempty"`
	Total         int64          `json:"total"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CleanupJobMessage asks the cleanup worker to finish an order's pending steps.
type CleanupJobMessage struct {
	OrderID  string    `json:"orderId"`
	Steps    []string  `json:"steps"`
	Attempt  int       `json:"attempt"`
	QueuedAt time.Time `json:"queuedAt"`
}

// ShippingQuote pairs the destination estimate with the cart's cost breakdown.
type ShippingQuote struct {
	Estimate ZoneEstimate
	Cost     CostBreakdown
}

// CartView is the read model of a cart: its lines plus the per-store grouping.
type CartView struct {
	SessionID string
	Lines     []CartLine
	Groups    []StoreGroup
	Subtotal  int64
	ItemCount int
	UpdatedAt time.Time
}

// IsEmpty reports whether the view has no lines.
func (v CartView) IsEmpty() bool {
	return len(v.Lines) == 0
}

// CartOutcome discriminates the result of a cart mutation.
type CartOutcome string

const (
	CartOutcomeAdded        CartOutcome = "added"
	CartOutcomeAdjusted     CartOutcome = "adjusted"
	CartOutcomeLimitReached CartOutcome = "limit_reached"
	CartOutcomeUpdated      CartOutcome = "updated"
	CartOutcomeRemoved      CartOutcome = "removed"
)

// CartAdjustment explains a clamped quantity change. Max is the stock ceiling, Existing the line
// quantity before the call and Added the net change that was applied.
type CartAdjustment struct {
	Max      int
	Existing int
	Added    int
}

// CartMutationResult is returned by every cart mutation.
type CartMutationResult struct {
	Outcome    CartOutcome
	Cart       CartView
	Adjustment *CartAdjustment
}

// AddCartItemCommand adds a product variant to the session cart.
type AddCartItemCommand struct {
	SessionID string
	ProductID string
	Color     string
	// Quantity is the increment for an existing line and must be positive. New lines always start at
	// one.
	Quantity int
}

// SetCartQuantityCommand sets the quantity of a cart line; a non-positive target removes it.
type SetCartQuantityCommand struct {
	SessionID string
	ProductID string
	Color     string
	Quantity  int
}

// RemoveCartItemCommand removes a cart line.
type RemoveCartItemCommand struct {
	SessionID string
	ProductID string
	Color     string
}

// InventoryDebitCommand debits the listed items under a reference, usually the order ID.
type InventoryDebitCommand struct {
	Reference string
	Items     []InventoryDebitItem
}

// InventoryDebitItem is one requested debit.
type InventoryDebitItem struct {
	ProductID string
	Color     string
	Quantity  int
}

// VariantStock is the post-debit stock of a variant and its product total.
type VariantStock struct {
	ProductID      string
	Color          string
	Stock          int
	TotalInventory int
}

// InventoryShortfall reports a debit that was floored at zero.
type InventoryShortfall struct {
	ProductID string
	Color     string
	Requested int
	Available int
}

// InventoryDebitResult summarises an applied debit.
type InventoryDebitResult struct {
	Updated        []VariantStock
	Shortfalls     []InventoryShortfall
	AlreadyApplied bool
}

// PlaceOrderCommand carries the checkout snapshot submitted from the summary step.
type PlaceOrderCommand struct {
	SessionID     string
	Cart          CartView
	Address       *Address
	PaymentMethod domain.PaymentMethod
}

// PlaceOrderResult returns the persisted order. CleanupPending is true when inventory or cart
// cleanup was deferred to the retry worker.
type PlaceOrderResult struct {
	Order          Order
	CleanupPending bool
}

// PaymentOutcome is the provider-reported result of an externally processed payment.
type PaymentOutcome string

const (
	PaymentOutcomeSucceeded PaymentOutcome = "succeeded"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
)

// PaymentConfirmation is the post-hoc payment callback applied to an order.
type PaymentConfirmation struct {
	OrderID   string
	Outcome   PaymentOutcome
	Provider  string
	Reference string
}
