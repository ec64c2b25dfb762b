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

const addressCollection = "addresses"

type addressDocument struct {
	Name           string    `firestore:"name"`
	Email          string    `firestore:"email"`
	Phone          string    `firestore:"phone"`
	Address        string    `firestore:"address"`
	BuildingNumber string    `firestore:"buildingNumber"`
	FloorNumber    *string   `firestore:"floorNumber,omitempty"`
	FlatNumber     string    `firestore:"flatNumber"`
	City           string    `firestore:"city"`
	District       string    `firestore:"district"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// AddressRepository keeps the single saved address of a session, keyed by session ID.
type AddressRepository struct {
	addresses *pfirestore.Collection[addressDocument]
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{addresses: pfirestore.NewCollection[addressDocument](provider, addressCollection)}, nil
}

// Get returns the session's saved address.
func (r *AddressRepository) Get(ctx context.Context, sessionID string) (domain.Address, error) {
	if r == nil || r.addresses == nil {
		return domain.Address{}, errors.New("address repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.Address{}, errors.New("address repository: session id is required")
	}
	doc, err := r.addresses.Get(ctx, sid)
	if err != nil {
		return domain.Address{}, err
	}
	return doc.Data.toDomain(), nil
}

// Upsert replaces the session's address in place.
func (r *AddressRepository) Upsert(ctx context.Context, sessionID string, addr domain.Address) (domain.Address, error) {
	if r == nil || r.addresses == nil {
		return domain.Address{}, errors.New("address repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.Address{}, errors.New("address repository: session id is required")
	}
	doc := addressDocument{
		Name:           addr.Name,
		Email:          addr.Email,
		Phone:          addr.Phone,
		Address:        addr.Address,
		BuildingNumber: addr.BuildingNumber,
		FloorNumber:    addr.FloorNumber,
		FlatNumber:     addr.FlatNumber,
		City:           string(addr.City),
		District:       addr.District,
		UpdatedAt:      addr.UpdatedAt.UTC(),
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.addresses.Set(ctx, sid, doc); err != nil {
		return domain.Address{}, err
	}
	return doc.toDomain(), nil
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Name:           d.Name,
		Email:          d.Email,
		Phone:          d.Phone,
		Address:        d.Address,
		BuildingNumber: d.BuildingNumber,
		FloorNumber:    d.FloorNumber,
		FlatNumber:     d.FlatNumber,
		City:           domain.City(d.City),
		District:       d.District,
		UpdatedAt:      d.UpdatedAt,
	}
}
