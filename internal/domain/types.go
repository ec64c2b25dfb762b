package domain

import (
	"time"
)

// CartLine is a single product/color selection within a session cart.
type CartLine struct {
	ProductID   string
	Color       string
	Quantity    int
	UnitPrice   int64
	ProductName string
	ImageRef    string
	StoreID     string
	StoreName   string
	AddedAt     time.Time
	UpdatedAt   time.Time
}

// Key returns the identity of the line within its cart.
func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Color: l.Color}
}

// Total returns the extended price of the line.
func (l CartLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// LineKey identifies a cart line by product and color variant.
type LineKey struct {
	ProductID string
	Color     string
}

// Cart aggregates the lines selected by one shopper session.
type Cart struct {
	SessionID string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEmpty reports whether the cart carries no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// StoreGroup is the per-seller presentation slice of a cart.
type StoreGroup struct {
	StoreID   string
	StoreName string
	Lines     []CartLine
	Subtotal  int64
}

// ColorVariant carries the stock counter for one purchasable configuration of a product.
type ColorVariant struct {
	ProductID string
	Color     string
	Inventory int
	ImageURLs []string
}

// Product is the catalog record that owns color variants.
type Product struct {
	ID             string
	Name           string
	StoreID        string
	StoreName      string
	Price          int64
	ImageRef       string
	Variants       map[string]ColorVariant
	TotalInventory int
	UpdatedAt      time.Time
}

// ProductSnapshot is the catalog view of one variant used when adding to a cart.
type ProductSnapshot struct {
	ProductID string
	Color     string
	Name      string
	Price     int64
	ImageRef  string
	StoreID   string
	StoreName string
	Inventory int
}

// Address is the saved shipping destination for a session.
type Address struct {
	Name           string
	Email          string
	Phone          string
	Address        string
	BuildingNumber string
	FloorNumber    *string
	FlatNumber     string
	City           City
	District       string
	UpdatedAt      time.Time
}

// PaymentMethod enumerates supported ways of paying for an order.
type PaymentMethod string

const (
	// PaymentMethodCashOnDelivery collects payment when the parcel is handed over.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	// PaymentMethodCard is processed by an external card provider.
	PaymentMethodCard PaymentMethod = "card"
)

// Valid reports whether the method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCashOnDelivery, PaymentMethodCard:
		return true
	}
	return false
}

// CheckoutStep names a stage of the checkout sequence.
type CheckoutStep string

const (
	CheckoutStepCart     CheckoutStep = "cart"
	CheckoutStepShipping CheckoutStep = "shipping"
	CheckoutStepPayment  CheckoutStep = "payment"
	CheckoutStepSummary  CheckoutStep = "summary"
)

// CheckoutSteps lists the steps in traversal order.
var CheckoutSteps = []CheckoutStep{
	CheckoutStepCart,
	CheckoutStepShipping,
	CheckoutStepPayment,
	CheckoutStepSummary,
}

// CheckoutState is the client-held progress through checkout. It is never persisted server side.
type CheckoutState struct {
	ActiveStep     CheckoutStep
	CompletedSteps []CheckoutStep
	PaymentMethod  *PaymentMethod
}

// PaymentStatus tracks the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentStatusPending              PaymentStatus = "pending"
	PaymentStatusAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentStatusPaid                 PaymentStatus = "paid"
	PaymentStatusFailed               PaymentStatus = "failed"
)

// OrderStatus tracks the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPlaced        OrderStatus = "placed"
	OrderStatusConfirmed     OrderStatus = "confirmed"
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
)

// StoreStatus is the per-seller fulfillment status within a multi-seller order.
type StoreStatus string

const (
	StoreStatusPending StoreStatus = "pending"
)

// OrderItem is the immutable line snapshot stored on an order.
type OrderItem struct {
	ProductID   string
	Color       string
	ProductName string
	ImageRef    string
	StoreID     string
	StoreName   string
	Quantity    int
	UnitPrice   int64
	Total       int64
}

// StoreSummary partitions an order by seller.
type StoreSummary struct {
	StoreID   string
	StoreName string
	ItemCount int
	Subtotal  int64
	Status    StoreStatus
}

// OrderCleanup records progress of the post-placement steps that may be retried asynchronously.
type OrderCleanup struct {
	InventoryDebited bool
	CartCleared      bool
	Attempts         int
	LastError        string
	CompletedAt      *time.Time
}

// Done reports whether all post-placement steps have been applied.
func (c OrderCleanup) Done() bool {
	return c.InventoryDebited && c.CartCleared
}

// Order is created exactly once per successful checkout.
type Order struct {
	ID               string
	OrderNumber      string
	SessionID        string
	Items            []OrderItem
	ShippingAddress  Address
	StoreSummaries   []StoreSummary
	Subtotal         int64
	ShippingCost     int64
	Total            int64
	Shipping         ZoneEstimate
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentReference string
	OrderStatus      OrderStatus
	Cleanup          OrderCleanup
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
