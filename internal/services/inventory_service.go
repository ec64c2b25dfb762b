package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nilemarket/storefront/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates a malformed stock read or debit.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the product or color variant does not exist.
	ErrInventoryNotFound = errors.New("inventory: not found")
	// ErrInventoryUnavailable indicates the backing store failed.
	ErrInventoryUnavailable = errors.New("inventory: unavailable")
)

// InventoryServiceDeps wires the inventory repository.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Metrics   Metrics
	Logger    func(context.Context, string, map[string]any)
}

type inventoryService struct {
	repo    repositories.InventoryRepository
	metrics Metrics
	logger  func(context.Context, string, map[string]any)
}

// NewInventoryService constructs the inventory ledger service.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &inventoryService{
		repo:    deps.Inventory,
		metrics: metrics,
		logger:  logger,
	}, nil
}

func (s *inventoryService) CurrentStock(ctx context.Context, productID, color string) (int, error) {
	productID = strings.TrimSpace(productID)
	color = strings.TrimSpace(color)
	if productID == "" || color == "" {
		return 0, fmt.Errorf("%w: product id and color are required", ErrInventoryInvalidInput)
	}
	stock, err := s.repo.Stock(ctx, productID, color)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	if stock < 0 {
		stock = 0
	}
	return stock, nil
}

// Debit floors each variant at zero instead of rejecting the debit. Floored variants are reported
// as shortfalls and logged; the order that triggered the debit stays placed.
func (s *inventoryService) Debit(ctx context.Context, cmd InventoryDebitCommand) (InventoryDebitResult, error) {
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return InventoryDebitResult{}, fmt.Errorf("%w: reference is required", ErrInventoryInvalidInput)
	}
	lines, err := mergeDebitItems(cmd.Items)
	if err != nil {
		return InventoryDebitResult{}, err
	}

	applied, err := s.repo.Debit(ctx, repositories.InventoryDebitRequest{
		Reference: reference,
		Lines:     lines,
	})
	if err != nil {
		return InventoryDebitResult{}, s.mapRepositoryError(err)
	}

	result := InventoryDebitResult{AlreadyApplied: applied.AlreadyApplied}
	if applied.AlreadyApplied {
		s.logger(ctx, "inventory.debit.replayed", map[string]any{"reference": reference})
		return result, nil
	}

	for _, change := range applied.Changes {
		result.Updated = append(result.Updated, VariantStock{
			ProductID:      change.ProductID,
			Color:          change.Color,
			Stock:          change.Current,
			TotalInventory: change.TotalInventory,
		})
		if short := change.Shortfall(); short > 0 {
			result.Shortfalls = append(result.Shortfalls, InventoryShortfall{
				ProductID: change.ProductID,
				Color:     change.Color,
				Requested: change.Requested,
				Available: change.Previous,
			})
			s.metrics.InventoryShortfall(ctx, change.ProductID, change.Color, short)
			s.logger(ctx, "inventory.shortfall", map[string]any{
				"reference": reference,
				"productId": change.ProductID,
				"color":     change.Color,
				"requested": change.Requested,
				"available": change.Previous,
			})
		}
	}

	s.logger(ctx, "inventory.debited", map[string]any{
		"reference":  reference,
		"variants":   len(result.Updated),
		"shortfalls": len(result.Shortfalls),
	})
	return result, nil
}

// mergeDebitItems sums quantities per variant, keeping first-seen order.
func mergeDebitItems(items []InventoryDebitItem) ([]repositories.InventoryDebitLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInventoryInvalidInput)
	}
	index := make(map[[2]string]int, len(items))
	lines := make([]repositories.InventoryDebitLine, 0, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		color := strings.TrimSpace(item.Color)
		if productID == "" || color == "" {
			return nil, fmt.Errorf("%w: items[%d] product id and color are required", ErrInventoryInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d] quantity must be positive", ErrInventoryInvalidInput, i)
		}
		key := [2]string{productID, color}
		if pos, ok := index[key]; ok {
			lines[pos].Quantity += item.Quantity
			continue
		}
		index[key] = len(lines)
		lines = append(lines, repositories.InventoryDebitLine{
			ProductID: productID,
			Color:     color,
			Quantity:  item.Quantity,
		})
	}
	return lines, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInvalidInput {
		return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
	}
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
}

type noopMetrics struct{}

func (noopMetrics) CartLimitReached(context.Context, string)                {}
func (noopMetrics) InventoryShortfall(context.Context, string, string, int) {}
func (noopMetrics) OrderPlaced(context.Context, string)                     {}
func (noopMetrics) CleanupDeferred(context.Context, string)                 {}
