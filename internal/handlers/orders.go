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

const maxOrderBodySize = 8 * 1024

// OrderHandlers places orders from the session checkout and reads them back.
type OrderHandlers struct {
	carts       services.CartService
	addresses   services.AddressService
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency wraps order placement with the given middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(carts services.CartService, addresses services.AddressService, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{carts: carts, addresses: addresses, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.placeOrder)
	} else {
		r.Post("/", h.placeOrder)
	}
	r.Get("/{orderId}", h.getOrder)
}

type placeOrderRequest struct {
	PaymentMethod string          `json:"paymentMethod"`
	Address       *addressPayload `json:"address"`
}

type placeOrderResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId"`
	OrderNumber    string `json:"orderNumber"`
	Total          int64  `json:"total"`
	PaymentStatus  string `json:"paymentStatus"`
	CleanupPending bool   `json:"cleanupPending"`
}

type orderItemPayload struct {
	ProductID   string `json:"productId"`
	Color       string `json:"color"`
	ProductName string `json:"productName"`
	ImageRef    string `json:"imageRef,omitempty"`
	StoreID     string `json:"storeId"`
	StoreName   string `json:"storeName,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Total       int64  `json:"total"`
}

type storeSummaryPayload struct {
	StoreID   string `json:"storeId"`
	StoreName string `json:"storeName,omitempty"`
	ItemCount int    `json:"itemCount"`
	Subtotal  int64  `json:"subtotal"`
	Status    string `json:"status"`
}

type orderPayload struct {
	ID              string                  `json:"id"`
	OrderNumber     string                  `json:"orderNumber"`
	Items           []orderItemPayload      `json:"items"`
	StoreSummaries  []storeSummaryPayload   `json:"storeSummaries"`
	ShippingAddress addressPayload          `json:"shippingAddress"`
	Shipping        shippingEstimatePayload `json:"shipping"`
	Subtotal        int64                   `json:"subtotal"`
	ShippingCost    int64                   `json:"shippingCost"`
	Total           int64                   `json:"total"`
	PaymentMethod   string                  `json:"paymentMethod"`
	PaymentStatus   string                  `json:"paymentStatus"`
	OrderStatus     string                  `json:"orderStatus"`
	CleanupPending  bool                    `json:"cleanupPending"`
	CreatedAt       string                  `json:"createdAt"`
	UpdatedAt       string                  `json:"updatedAt,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.carts == nil || h.addresses == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	var req placeOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	method := domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod))
	if !method.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_method", "paymentMethod must be cash_on_delivery or card", http.StatusBadRequest))
		return
	}

	sessionID := currentSession(ctx)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_incomplete", "cart is empty", http.StatusConflict))
		return
	}

	addr, err := h.resolveAddress(ctx, sessionID, req.Address)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	cart, err := h.carts.ReadUncached(ctx, sessionID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	result, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		SessionID:     sessionID,
		Cart:          cart,
		Address:       addr,
		PaymentMethod: method,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Success:        true,
		OrderID:        result.Order.ID,
		OrderNumber:    result.Order.OrderNumber,
		Total:          result.Order.Total,
		PaymentStatus:  string(result.Order.PaymentStatus),
		CleanupPending: result.CleanupPending,
	})
}

// resolveAddress saves a submitted address or falls back to the saved one. A session without
// either places with a nil address, which the order service rejects as incomplete.
func (h *OrderHandlers) resolveAddress(ctx context.Context, sessionID string, submitted *addressPayload) (*domain.Address, error) {
	if submitted != nil {
		saved, err := h.addresses.Save(ctx, sessionID, submitted.toDomain())
		if err != nil {
			return nil, err
		}
		return &saved, nil
	}
	saved, err := h.addresses.Get(ctx, sessionID)
	switch {
	case err == nil:
		return &saved, nil
	case errors.Is(err, services.ErrAddressNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	order, err := h.orders.GetOrder(ctx, currentSession(ctx), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderPayload(order))
}

func newOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		StoreSummaries:  make([]storeSummaryPayload, 0, len(order.StoreSummaries)),
		ShippingAddress: newAddressPayload(order.ShippingAddress),
		Shipping:        buildEstimatePayload(order.ShippingAddress.City, order.Shipping),
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		Total:           order.Total,
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		OrderStatus:     string(order.OrderStatus),
		CleanupPending:  !order.Cleanup.Done(),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
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
		payload.StoreSummaries = append(payload.StoreSummaries, storeSummaryPayload{
			StoreID:   summary.StoreID,
			StoreName: summary.StoreName,
			ItemCount: summary.ItemCount,
			Subtotal:  summary.Subtotal,
			Status:    string(summary.Status),
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderIncompleteCheckout):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_incomplete", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order request failed", http.StatusInternalServerError))
	}
}
