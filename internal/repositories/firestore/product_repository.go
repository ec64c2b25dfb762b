package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/nilemarket/storefront/internal/domain"
	pfirestore "github.com/nilemarket/storefront/internal/platform/firestore"
	"github.com/nilemarket/storefront/internal/repositories"
)

const productsCollection = "products"

// productDocument embeds the color variants so a debit touches one document per product.
type productDocument struct {
	Name           string                     `firestore:"name"`
	StoreID        string                     `firestore:"storeId"`
	StoreName      string                     `firestore:"storeName"`
	Price          int64                      `firestore:"price"`
	ImageRef       string                     `firestore:"imageRef,omitempty"`
	Variants       map[string]variantDocument `firestore:"variants"`
	TotalInventory int                        `firestore:"totalInventory"`
	UpdatedAt      time.Time                  `firestore:"updatedAt"`
}

type variantDocument struct {
	Inventory int      `firestore:"inventory"`
	ImageURLs []string `firestore:"imageUrls,omitempty"`
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// ProductRepository reads catalog documents.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

// FindByID loads the product with its variants.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(id), nil
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:             id,
		Name:           d.Name,
		StoreID:        d.StoreID,
		StoreName:      d.StoreName,
		Price:          d.Price,
		ImageRef:       d.ImageRef,
		Variants:       make(map[string]domain.ColorVariant, len(d.Variants)),
		TotalInventory: d.TotalInventory,
		UpdatedAt:      d.UpdatedAt,
	}
	for color, variant := range d.Variants {
		product.Variants[color] = domain.ColorVariant{
			ProductID: id,
			Color:     color,
			Inventory: max(variant.Inventory, 0),
			ImageURLs: append([]string(nil), variant.ImageURLs...),
		}
	}
	return product
}

// recomputeTotal resets TotalInventory to the sum of variant stock.
func (d *productDocument) recomputeTotal() {
	total := 0
	for _, variant := range d.Variants {
		total += max(variant.Inventory, 0)
	}
	d.TotalInventory = total
}
