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

const cartCollection = "carts"

type cartDocument struct {
	Lines      []cartLineDocument `firestore:"lines"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID   string    `firestore:"productId"`
	Color       string    `firestore:"color"`
	Quantity    int       `firestore:"quantity"`
	UnitPrice   int64     `firestore:"unitPrice"`
	ProductName string    `firestore:"productName"`
	ImageRef    string    `firestore:"imageRef,omitempty"`
	StoreID     string    `firestore:"storeId"`
	StoreName   string    `firestore:"storeName"`
	AddedAt     time.Time `firestore:"addedAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// CartRepository stores one cart document per session, keyed by the session ID.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{carts: pfirestore.NewCollection[cartDocument](provider, cartCollection)}, nil
}

// Get loads the session's cart. A missing document surfaces as a not-found repository error.
func (r *CartRepository) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.Cart{}, errors.New("cart repository: session id is required")
	}

	doc, err := r.carts.Get(ctx, sid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(sid), nil
}

// Save overwrites the session's cart document with the full line set.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	sid := strings.TrimSpace(cart.SessionID)
	if sid == "" {
		return domain.Cart{}, errors.New("cart repository: session id is required")
	}

	now := cart.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	doc := newCartDocument(cart)
	doc.UpdatedAt = now
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}

	if _, err := r.carts.Set(ctx, sid, doc); err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(sid), nil
}

// Delete removes the session's cart. Deleting a missing cart succeeds.
func (r *CartRepository) Delete(ctx context.Context, sessionID string) error {
	if r == nil || r.carts == nil {
		return errors.New("cart repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return errors.New("cart repository: session id is required")
	}
	return r.carts.Delete(ctx, sid)
}

func newCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		Lines:     make([]cartLineDocument, 0, len(cart.Lines)),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	for _, line := range cart.Lines {
		doc.Lines = append(doc.Lines, cartLineDocument{
			ProductID:   line.ProductID,
			Color:       line.Color,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			ProductName: line.ProductName,
			ImageRef:    line.ImageRef,
			StoreID:     line.StoreID,
			StoreName:   line.StoreName,
			AddedAt:     line.AddedAt.UTC(),
			UpdatedAt:   line.UpdatedAt.UTC(),
		})
		doc.ItemsCount += line.Quantity
	}
	return doc
}

func (d cartDocument) toDomain(sessionID string) domain.Cart {
	cart := domain.Cart{
		SessionID: sessionID,
		Lines:     make([]domain.CartLine, 0, len(d.Lines)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, line := range d.Lines {
		if line.Quantity < 1 {
			continue
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:   line.ProductID,
			Color:       line.Color,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			ProductName: line.ProductName,
			ImageRef:    line.ImageRef,
			StoreID:     line.StoreID,
			StoreName:   line.StoreName,
			AddedAt:     line.AddedAt,
			UpdatedAt:   line.UpdatedAt,
		})
	}
	return cart
}
