package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/nilemarket/storefront/internal/platform/firestore"
	"github.com/nilemarket/storefront/internal/repositories"
)

var _ repositories.Registry = (*Registry)(nil)

// Registry exposes the Firestore repositories behind repositories.Registry. It owns the provider
// and closes it on shutdown.
type Registry struct {
	provider  *pfirestore.Provider
	carts     *CartRepository
	products  *ProductRepository
	inventory *InventoryRepository
	orders    *OrderRepository
	addresses *AddressRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// NewRegistry builds every repository on top of provider. health may be nil when readiness
// checks are not wired.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider, health: health}

	var err error
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("build cart repository: %w", err)
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	if reg.inventory, err = NewInventoryRepository(provider); err != nil {
		return nil, fmt.Errorf("build inventory repository: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, fmt.Errorf("build address repository: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository          { return r.carts }
func (r *Registry) Products() repositories.ProductRepository    { return r.products }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository        { return r.orders }
func (r *Registry) Addresses() repositories.AddressRepository   { return r.addresses }
func (r *Registry) Counters() repositories.CounterRepository    { return r.counters }
func (r *Registry) Health() repositories.HealthRepository       { return r.health }
