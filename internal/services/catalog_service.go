package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	domain "github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/repositories"
)

const (
	defaultCatalogBreakerFailures = 5
	defaultCatalogBreakerTimeout  = 30 * time.Second
)

var (
	// ErrCatalogInvalidInput indicates a lookup without product or color.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the product does not exist.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogVariantNotFound indicates the product has no such color.
	ErrCatalogVariantNotFound = errors.New("catalog: variant not found")
	// ErrCatalogUnavailable indicates the backend failed or the breaker is open.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

// CatalogServiceDeps wires the product repository and breaker tuning.
type CatalogServiceDeps struct {
	Products        repositories.ProductRepository
	BreakerFailures int
	BreakerTimeout  time.Duration
	Logger          func(context.Context, string, map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	breaker  *gobreaker.CircuitBreaker[domain.Product]
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService whose reads go through a circuit breaker. The
// breaker opens after BreakerFailures consecutive backend failures. Missing products count as
// successes and context cancellations or deadlines are not counted at all.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	failures := deps.BreakerFailures
	if failures <= 0 {
		failures = defaultCatalogBreakerFailures
	}
	timeout := deps.BreakerTimeout
	if timeout <= 0 {
		timeout = defaultCatalogBreakerTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	svc := &catalogService{
		products: deps.Products,
		logger:   logger,
	}
	svc.breaker = gobreaker.NewCircuitBreaker[domain.Product](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isRepoNotFound(err)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "catalog.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return svc, nil
}

func (s *catalogService) Lookup(ctx context.Context, productID, color string) (ProductSnapshot, error) {
	productID = strings.TrimSpace(productID)
	color = strings.TrimSpace(color)
	if productID == "" || color == "" {
		return ProductSnapshot{}, fmt.Errorf("%w: product id and color are required", ErrCatalogInvalidInput)
	}

	product, err := s.breaker.Execute(func() (domain.Product, error) {
		return s.products.FindByID(ctx, productID)
	})
	if err != nil {
		switch {
		case isRepoNotFound(err):
			return ProductSnapshot{}, fmt.Errorf("%w: %s", ErrCatalogProductNotFound, productID)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return ProductSnapshot{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ProductSnapshot{}, err
		}
		s.logger(ctx, "catalog.lookup.failed", map[string]any{
			"productId": productID,
			"error":     err.Error(),
		})
		return ProductSnapshot{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	variant, ok := product.Variants[color]
	if !ok {
		return ProductSnapshot{}, fmt.Errorf("%w: %s/%s", ErrCatalogVariantNotFound, productID, color)
	}
	image := product.ImageRef
	if len(variant.ImageURLs) > 0 {
		image = variant.ImageURLs[0]
	}
	return ProductSnapshot{
		ProductID: product.ID,
		Color:     color,
		Name:      product.Name,
		Price:     product.Price,
		ImageRef:  image,
		StoreID:   product.StoreID,
		StoreName: product.StoreName,
		Inventory: variant.Inventory,
	}, nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
