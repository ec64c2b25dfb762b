package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nilemarket/storefront/internal/domain"
	pfirestore "github.com/nilemarket/storefront/internal/platform/firestore"
	"github.com/nilemarket/storefront/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber      string                 `firestore:"orderNumber"`
	SessionID        string                 `firestore:"sessionId"`
	Items            []orderItemDocument    `firestore:"items"`
	ShippingAddress  addressDocument        `firestore:"shippingAddress"`
	StoreSummaries   []storeSummaryDocument `firestore:"storeSummaries"`
	Subtotal         int64                  `firestore:"subtotal"`
	ShippingCost     int64                  `firestore:"shippingCost"`
	Total            int64                  `firestore:"total"`
	Shipping         shippingDocument       `firestore:"shipping"`
	PaymentMethod    string                 `firestore:"paymentMethod"`
	PaymentStatus    string                 `firestore:"paymentStatus"`
	PaymentReference string                 `firestore:"paymentReference,omitempty"`
	OrderStatus      string                 `firestore:"orderStatus"`
	Cleanup          orderCleanupDocument   `firestore:"cleanup"`
	CreatedAt        time.Time              `firestore:"createdAt"`
	UpdatedAt        time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	Color       string `firestore:"color"`
	ProductName string `firestore:"productName"`
	ImageRef    string `firestore:"imageRef,omitempty"`
	StoreID     string `firestore:"storeId"`
	StoreName   string `firestore:"storeName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Total       int64  `firestore:"total"`
}

type storeSummaryDocument struct {
	StoreID   string `firestore:"storeId"`
	StoreName string `firestore:"storeName"`
	ItemCount int    `firestore:"itemCount"`
	Subtotal  int64  `firestore:"subtotal"`
	Status    string `firestore:"status"`
}

type shippingDocument struct {
	Zone    string `firestore:"zone"`
	MinDays int    `firestore:"minDays"`
	MaxDays int    `firestore:"maxDays"`
	Rate    int64  `firestore:"rate"`
}

type orderCleanupDocument struct {
	InventoryDebited bool       `firestore:"inventoryDebited"`
	CartCleared      bool       `firestore:"cartCleared"`
	Attempts         int        `firestore:"attempts"`
	LastError        string     `firestore:"lastError,omitempty"`
	CompletedAt      *time.Time `firestore:"completedAt,omitempty"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// OrderRepository persists orders. Only the payment status fields and the cleanup record change
// after insert.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document. An existing ID surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.orders.Create(ctx, id, newOrderDocument(order))
	return err
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(id), nil
}

// UpdatePayment applies the payment fields in a transaction when update.Allow accepts the stored
// order. A rejected update returns the stored order unchanged.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID string, update repositories.OrderPaymentUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := r.orders.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		result = current.Data.toDomain(id)
		if update.Allow != nil && !update.Allow(result) {
			return nil
		}

		now := time.Now().UTC()
		updates := []firestore.Update{
			{Path: "paymentStatus", Value: string(update.PaymentStatus)},
			{Path: "orderStatus", Value: string(update.OrderStatus)},
			{Path: "updatedAt", Value: now},
		}
		if ref := strings.TrimSpace(update.PaymentReference); ref != "" {
			updates = append(updates, firestore.Update{Path: "paymentReference", Value: ref})
			result.PaymentReference = ref
		}
		docRef, err := r.orders.Ref(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Update(docRef, updates); err != nil {
			return err
		}
		result.PaymentStatus = update.PaymentStatus
		result.OrderStatus = update.OrderStatus
		result.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updatePayment", err)
	}
	return result, nil
}

// UpdateCleanup records post-placement progress.
func (r *OrderRepository) UpdateCleanup(ctx context.Context, orderID string, cleanup domain.OrderCleanup) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.orders.Update(ctx, id, []firestore.Update{
		{Path: "cleanup", Value: newOrderCleanupDocument(cleanup)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("record cleanup for %s: %w", id, err)
	}
	return nil
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		SessionID:   order.SessionID,
		Items:       make([]orderItemDocument, 0, len(order.Items)),
		ShippingAddress: addressDocument{
			Name:           order.ShippingAddress.Name,
			Email:          order.ShippingAddress.Email,
			Phone:          order.ShippingAddress.Phone,
			Address:        order.ShippingAddress.Address,
			BuildingNumber: order.ShippingAddress.BuildingNumber,
			FloorNumber:    order.ShippingAddress.FloorNumber,
			FlatNumber:     order.ShippingAddress.FlatNumber,
			City:           string(order.ShippingAddress.City),
			District:       order.ShippingAddress.District,
			UpdatedAt:      order.ShippingAddress.UpdatedAt.UTC(),
		},
		StoreSummaries: make([]storeSummaryDocument, 0, len(order.StoreSummaries)),
		Subtotal:       order.Subtotal,
		ShippingCost:   order.ShippingCost,
		Total:          order.Total,
		Shipping: shippingDocument{
			Zone:    string(order.Shipping.Zone),
			MinDays: order.Shipping.MinDays,
			MaxDays: order.Shipping.MaxDays,
			Rate:    order.Shipping.Rate,
		},
		PaymentMethod:    string(order.PaymentMethod),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentReference: order.PaymentReference,
		OrderStatus:      string(order.OrderStatus),
		Cleanup:          newOrderCleanupDocument(order.Cleanup),
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			Color:       item.Color,
			ProductName: item.ProductName,
			ImageRef:    item.ImageRef,
			StoreID:     item.StoreID,
			StoreName:   item.StoreName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
		})
	}
	for _, summary := range order.StoreSummaries {
		doc.StoreSummaries = append(doc.StoreSummaries, storeSummaryDocument{
			StoreID:   summary.StoreID,
			StoreName: summary.StoreName,
			ItemCount: summary.ItemCount,
			Subtotal:  summary.Subtotal,
			Status:    string(summary.Status),
		})
	}
	return doc
}

func newOrderCleanupDocument(cleanup domain.OrderCleanup) orderCleanupDocument {
	doc := orderCleanupDocument{
		InventoryDebited: cleanup.InventoryDebited,
		CartCleared:      cleanup.CartCleared,
		Attempts:         cleanup.Attempts,
		LastError:        cleanup.LastError,
	}
	if cleanup.CompletedAt != nil {
		at := cleanup.CompletedAt.UTC()
		doc.CompletedAt = &at
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		SessionID:       d.SessionID,
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		ShippingAddress: d.ShippingAddress.toDomain(),
		StoreSummaries:  make([]domain.StoreSummary, 0, len(d.StoreSummaries)),
		Subtotal:        d.Subtotal,
		ShippingCost:    d.ShippingCost,
		Total:           d.Total,
		Shipping: domain.ZoneEstimate{
			Zone:    domain.ShippingZone(d.Shipping.Zone),
			MinDays: d.Shipping.MinDays,
			MaxDays: d.Shipping.MaxDays,
			Rate:    d.Shipping.Rate,
		},
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		PaymentReference: d.PaymentReference,
		OrderStatus:      domain.OrderStatus(d.OrderStatus),
		Cleanup: domain.OrderCleanup{
			InventoryDebited: d.Cleanup.InventoryDebited,
			CartCleared:      d.Cleanup.CartCleared,
			Attempts:         d.Cleanup.Attempts,
			LastError:        d.Cleanup.LastError,
			CompletedAt:      d.Cleanup.CompletedAt,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			Color:       item.Color,
			ProductName: item.ProductName,
			ImageRef:    item.ImageRef,
			StoreID:     item.StoreID,
			StoreName:   item.StoreName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
		})
	}
	for _, summary := range d.StoreSummaries {
		order.StoreSummaries = append(order.StoreSummaries, domain.StoreSummary{
			StoreID:   summary.StoreID,
			StoreName: summary.StoreName,
			ItemCount: summary.ItemCount,
			Subtotal:  summary.Subtotal,
			Status:    domain.StoreStatus(summary.Status),
		})
	}
	return order
}
