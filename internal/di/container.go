package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nilemarket/storefront/internal/platform/config"
	"github.com/nilemarket/storefront/internal/repositories"
	"github.com/nilemarket/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Inventory services.InventoryService
	Cart      services.CartService
	Shipping  services.ShippingService
	Addresses services.AddressService
	Orders    services.OrderService
	System    services.SystemService
}

// Infrastructure carries the optional collaborators created outside the repository registry.
// Nil fields disable the corresponding behaviour.
type Infrastructure struct {
	CartCache services.CartCache
	Metrics   services.Metrics
	Events    services.OrderEventPublisher
	Cleanup   services.CleanupJobPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services
	var err error

	svc.Catalog, err = services.NewCatalogService(services.CatalogServiceDeps{
		Products:        reg.Products(),
		BreakerFailures: cfg.Catalog.BreakerFailures,
		BreakerTimeout:  cfg.Catalog.BreakerOpenTimeout,
		Logger:          infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	svc.Inventory, err = services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Metrics:   infra.Metrics,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}

	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Repository: reg.Carts(),
		Catalog:    svc.Catalog,
		Inventory:  svc.Inventory,
		Cache:      infra.CartCache,
		Metrics:    infra.Metrics,
		Clock:      infra.Clock,
		Logger:     infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Shipping, err = services.NewShippingService(services.ShippingServiceDeps{Carts: svc.Cart})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping service: %w", err)
	}

	svc.Addresses, err = services.NewAddressService(services.AddressServiceDeps{
		Addresses: reg.Addresses(),
		Clock:     infra.Clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Counters:  reg.Counters(),
		Inventory: svc.Inventory,
		Carts:     svc.Cart,
		Events:    infra.Events,
		Cleanup:   infra.Cleanup,
		Metrics:   infra.Metrics,
		Clock:     infra.Clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            infra.Clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
