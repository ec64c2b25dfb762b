package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/repositories"
)

const (
	orderEventPlaced         = "order.placed"
	orderEventPaymentUpdated = "order.payment_updated"

	orderIDPrefix    = "ord_"
	orderCounterID   = "orders"
	orderNumberStart = "ORD"

	cleanupStepInventory = "inventory_debit"
	cleanupStepCart      = "cart_clear"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderIncompleteCheckout indicates placement was attempted without a complete checkout.
	ErrOrderIncompleteCheckout = errors.New("order: incomplete checkout")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates the order could not be persisted or read.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderCleanupPending indicates post-placement steps are still failing.
	ErrOrderCleanupPending = errors.New("order: cleanup pending")
)

type sessionCart interface {
	ReadUncached(ctx context.Context, sessionID string) (CartView, error)
	Clear(ctx context.Context, sessionID string) error
}

type inventoryDebiter interface {
	Debit(ctx context.Context, cmd InventoryDebitCommand) (InventoryDebitResult, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Inventory   inventoryDebiter
	Carts       sessionCart
	Events      OrderEventPublisher
	Cleanup     CleanupJobPublisher
	Metrics     Metrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	inventory inventoryDebiter
	carts     sessionCart
	events    OrderEventPublisher
	cleanup   CleanupJobPublisher
	metrics   Metrics
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &orderService{
		orders:    deps.Orders,
		counters:  deps.Counters,
		inventory: deps.Inventory,
		carts:     deps.Carts,
		events:    deps.Events,
		cleanup:   deps.Cleanup,
		metrics:   metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder re-validates the checkout, prices it, persists the order and then debits inventory
// and clears the cart. Once the order is persisted it stays placed: debit or clear failures are
// recorded on the order and handed to the cleanup worker.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}
	addr, err := validatePlacement(sessionID, cmd)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	cost, err := ComputeCost(cmd.Cart.Lines, addr.City)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("%w: %v", ErrOrderIncompleteCheckout, err)
	}
	estimate, err := EstimateForCity(addr.City)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("%w: %v", ErrOrderIncompleteCheckout, err)
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return PlaceOrderResult{}, s.mapRepositoryError(err)
	}

	order := domain.Order{
		ID:              s.nextOrderID(),
		OrderNumber:     number,
		SessionID:       sessionID,
		Items:           buildOrderItems(cmd.Cart.Lines),
		ShippingAddress: addr,
		StoreSummaries:  buildStoreSummaries(cmd.Cart.Lines),
		Subtotal:        cost.Subtotal,
		ShippingCost:    cost.Shipping,
		Total:           cost.Total,
		Shipping:        estimate,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   initialPaymentStatus(cmd.PaymentMethod),
		OrderStatus:     domain.OrderStatusPlaced,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "order.persist.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return PlaceOrderResult{}, s.mapRepositoryError(err)
	}

	s.metrics.OrderPlaced(ctx, string(order.PaymentMethod))
	s.logger(ctx, "order.placed", map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.OrderNumber,
		"total":         order.Total,
		"stores":        len(order.StoreSummaries),
		"paymentMethod": string(order.PaymentMethod),
	})

	// The request may be cancelled once the order exists; cleanup still runs to completion.
	cleanupCtx := context.WithoutCancel(ctx)
	s.runCleanup(cleanupCtx, &order, false)
	pending := !order.Cleanup.Done()
	if pending {
		s.deferCleanup(cleanupCtx, order)
	}

	s.publishEvent(cleanupCtx, OrderEvent{
		Type:          orderEventPlaced,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		SessionID:     order.SessionID,
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.OrderStatus),
		Total:         order.Total,
		OccurredAt:    now,
		Metadata: map[string]any{
			"stores":         len(order.StoreSummaries),
			"cleanupPending": pending,
		},
	})

	return PlaceOrderResult{Order: order, CleanupPending: pending}, nil
}

// GetOrder returns an order owned by the session. Orders of other sessions read as not found.
func (s *orderService) GetOrder(ctx context.Context, sessionID, orderID string) (Order, error) {
	sessionID = strings.TrimSpace(sessionID)
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if sessionID == "" {
		return Order{}, ErrOrderNotFound
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.SessionID != sessionID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// CompleteCleanup re-runs the unfinished post-placement steps of an order. It returns
// ErrOrderCleanupPending while any step still fails so the job is redelivered.
func (s *orderService) CompleteCleanup(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Cleanup.Done() {
		return order, nil
	}

	s.runCleanup(ctx, &order, true)
	if !order.Cleanup.Done() {
		for _, step := range pendingCleanupSteps(order.Cleanup) {
			s.metrics.CleanupDeferred(ctx, step)
		}
		return order, fmt.Errorf("%w: %s", ErrOrderCleanupPending, order.Cleanup.LastError)
	}
	s.logger(ctx, "order.cleanup.completed", map[string]any{
		"orderId":  order.ID,
		"attempts": order.Cleanup.Attempts,
	})
	return order, nil
}

// ConfirmPayment applies the provider callback. Repeated statuses are no-ops and a paid order
// ignores a later failure.
func (s *orderService) ConfirmPayment(ctx context.Context, cmd PaymentConfirmation) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var update repositories.OrderPaymentUpdate
	switch cmd.Outcome {
	case PaymentOutcomeSucceeded:
		update.PaymentStatus = domain.PaymentStatusPaid
		update.OrderStatus = domain.OrderStatusConfirmed
	case PaymentOutcomeFailed:
		update.PaymentStatus = domain.PaymentStatusFailed
		update.OrderStatus = domain.OrderStatusPaymentFailed
	default:
		return Order{}, fmt.Errorf("%w: unsupported payment outcome %q", ErrOrderInvalidInput, cmd.Outcome)
	}
	update.PaymentReference = strings.TrimSpace(cmd.Reference)

	var (
		applied  bool
		previous domain.PaymentStatus
	)
	update.Allow = func(current domain.Order) bool {
		previous = current.PaymentStatus
		applied = current.PaymentStatus != update.PaymentStatus &&
			current.PaymentStatus != domain.PaymentStatusPaid
		return applied
	}

	order, err := s.orders.UpdatePayment(ctx, orderID, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !applied {
		s.logger(ctx, "order.payment.ignored", map[string]any{
			"orderId":  orderID,
			"current":  string(previous),
			"incoming": string(update.PaymentStatus),
		})
		return order, nil
	}

	s.logger(ctx, "order.payment.updated", map[string]any{
		"orderId":  orderID,
		"provider": cmd.Provider,
		"from":     string(previous),
		"to":       string(order.PaymentStatus),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentUpdated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.OrderStatus),
		Total:         order.Total,
		OccurredAt:    s.clock(),
		Metadata: map[string]any{
			"provider":       cmd.Provider,
			"previousStatus": string(previous),
		},
	})
	return order, nil
}

// runCleanup applies the unfinished debit and clear steps and records progress on the order. On a
// retry the cart is left alone when the shopper has changed it since the order was placed.
func (s *orderService) runCleanup(ctx context.Context, order *domain.Order, retry bool) {
	var failures []string
	if !order.Cleanup.InventoryDebited {
		if err := s.debitInventory(ctx, *order); err != nil {
			failures = append(failures, cleanupStepInventory+": "+err.Error())
		} else {
			order.Cleanup.InventoryDebited = true
		}
	}
	if !order.Cleanup.CartCleared {
		if err := s.clearCart(ctx, *order, retry); err != nil {
			failures = append(failures, cleanupStepCart+": "+err.Error())
		} else {
			order.Cleanup.CartCleared = true
		}
	}

	now := s.clock()
	if retry {
		order.Cleanup.Attempts++
	}
	order.Cleanup.LastError = strings.Join(failures, "; ")
	if order.Cleanup.Done() {
		order.Cleanup.CompletedAt = &now
	}
	order.UpdatedAt = now

	if err := s.orders.UpdateCleanup(ctx, order.ID, order.Cleanup); err != nil {
		s.logger(ctx, "order.cleanup.record_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) debitInventory(ctx context.Context, order domain.Order) error {
	items := make([]InventoryDebitItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, InventoryDebitItem{
			ProductID: item.ProductID,
			Color:     item.Color,
			Quantity:  item.Quantity,
		})
	}
	result, err := s.inventory.Debit(ctx, InventoryDebitCommand{Reference: order.ID, Items: items})
	if err != nil {
		s.logger(ctx, "order.inventory_debit.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return err
	}
	if len(result.Shortfalls) > 0 {
		s.logger(ctx, "order.inventory.shortfall", map[string]any{
			"orderId":    order.ID,
			"shortfalls": len(result.Shortfalls),
		})
	}
	return nil
}

func (s *orderService) clearCart(ctx context.Context, order domain.Order, retry bool) error {
	if retry {
		cart, err := s.carts.ReadUncached(ctx, order.SessionID)
		if err != nil {
			return err
		}
		if cart.UpdatedAt.After(order.CreatedAt) {
			s.logger(ctx, "order.cart_clear.skipped", map[string]any{
				"orderId": order.ID,
				"reason":  "cart changed after placement",
			})
			return nil
		}
	}
	if err := s.carts.Clear(ctx, order.SessionID); err != nil {
		s.logger(ctx, "order.cart_clear.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

func (s *orderService) deferCleanup(ctx context.Context, order domain.Order) {
	steps := pendingCleanupSteps(order.Cleanup)
	for _, step := range steps {
		s.metrics.CleanupDeferred(ctx, step)
	}
	s.logger(ctx, "order.cleanup.deferred", map[string]any{
		"orderId": order.ID,
		"steps":   strings.Join(steps, ","),
		"error":   order.Cleanup.LastError,
	})
	if s.cleanup == nil {
		return
	}
	if _, err := s.cleanup.PublishCleanupJob(ctx, CleanupJobMessage{
		OrderID:  order.ID,
		Steps:    steps,
		Attempt:  order.Cleanup.Attempts + 1,
		QueuedAt: s.clock(),
	}); err != nil {
		s.logger(ctx, "order.cleanup.enqueue_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderCounterID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", orderNumberStart, now.Year(), seq), nil
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

// validatePlacement checks the checkout preconditions without trusting the client's step state.
func validatePlacement(sessionID string, cmd PlaceOrderCommand) (domain.Address, error) {
	if cmd.Cart.IsEmpty() {
		return domain.Address{}, fmt.Errorf("%w: cart is empty", ErrOrderIncompleteCheckout)
	}
	if owner := strings.TrimSpace(cmd.Cart.SessionID); owner != "" && owner != sessionID {
		return domain.Address{}, fmt.Errorf("%w: cart belongs to another session", ErrOrderIncompleteCheckout)
	}
	for i, line := range cmd.Cart.Lines {
		if strings.TrimSpace(line.ProductID) == "" || strings.TrimSpace(line.Color) == "" {
			return domain.Address{}, fmt.Errorf("%w: lines[%d] is missing product or color", ErrOrderIncompleteCheckout, i)
		}
		if line.Quantity < 1 {
			return domain.Address{}, fmt.Errorf("%w: lines[%d] quantity must be at least 1", ErrOrderIncompleteCheckout, i)
		}
		if line.UnitPrice < 0 {
			return domain.Address{}, fmt.Errorf("%w: lines[%d] price must not be negative", ErrOrderIncompleteCheckout, i)
		}
	}
	if cmd.Address == nil {
		return domain.Address{}, fmt.Errorf("%w: shipping address is required", ErrOrderIncompleteCheckout)
	}
	addr, err := sanitizeAddress(*cmd.Address)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", ErrOrderIncompleteCheckout, err)
	}
	if !cmd.PaymentMethod.Valid() {
		return domain.Address{}, fmt.Errorf("%w: payment method %q is not supported", ErrOrderIncompleteCheckout, cmd.PaymentMethod)
	}
	return addr, nil
}

func initialPaymentStatus(method domain.PaymentMethod) domain.PaymentStatus {
	if method == domain.PaymentMethodCard {
		return domain.PaymentStatusAwaitingConfirmation
	}
	return domain.PaymentStatusPending
}

func buildOrderItems(lines []CartLine) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ProductID:   line.ProductID,
			Color:       line.Color,
			ProductName: line.ProductName,
			ImageRef:    line.ImageRef,
			StoreID:     line.StoreID,
			StoreName:   line.StoreName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.Total(),
		})
	}
	return items
}

// buildStoreSummaries partitions lines by store in order of first appearance.
func buildStoreSummaries(lines []CartLine) []domain.StoreSummary {
	var summaries []domain.StoreSummary
	for _, line := range lines {
		idx := slices.IndexFunc(summaries, func(s domain.StoreSummary) bool { return s.StoreID == line.StoreID })
		if idx < 0 {
			summaries = append(summaries, domain.StoreSummary{
				StoreID:   line.StoreID,
				StoreName: line.StoreName,
				Status:    domain.StoreStatusPending,
			})
			idx = len(summaries) - 1
		}
		summaries[idx].ItemCount += line.Quantity
		summaries[idx].Subtotal += line.Total()
	}
	return summaries
}

func pendingCleanupSteps(cleanup domain.OrderCleanup) []string {
	var steps []string
	if !cleanup.InventoryDebited {
		steps = append(steps, cleanupStepInventory)
	}
	if !cleanup.CartCleared {
		steps = append(steps, cleanupStepCart)
	}
	return steps
}
