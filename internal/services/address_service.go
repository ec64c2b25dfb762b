package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/repositories"
)

const maxAddressFieldLength = 200

var (
	// ErrAddressInvalidInput indicates a missing or malformed address field.
	ErrAddressInvalidInput = errors.New("address: invalid input")
	// ErrAddressNotFound indicates the session has not saved an address yet.
	ErrAddressNotFound = errors.New("address: not found")
	// ErrAddressUnavailable indicates the backing store failed.
	ErrAddressUnavailable = errors.New("address: unavailable")

	addressPhonePattern = regexp.MustCompile(`^\+?[0-9][0-9\-\s]{6,18}$`)
	addressTextPolicy   = bluemonday.StrictPolicy()
)

// AddressServiceDeps wires the address repository.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type addressService struct {
	repo   repositories.AddressRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewAddressService constructs the saved address service.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &addressService{
		repo:   deps.Addresses,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *addressService) Get(ctx context.Context, sessionID string) (Address, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Address{}, ErrAddressNotFound
	}
	addr, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return Address{}, translateAddressError(err)
	}
	return addr, nil
}

// Save validates and sanitises addr and replaces the session's saved address.
func (s *addressService) Save(ctx context.Context, sessionID string, addr Address) (Address, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Address{}, fmt.Errorf("%w: session id is required", ErrAddressInvalidInput)
	}
	sanitized, err := sanitizeAddress(addr)
	if err != nil {
		return Address{}, err
	}
	sanitized.UpdatedAt = s.now()

	saved, err := s.repo.Upsert(ctx, sessionID, sanitized)
	if err != nil {
		return Address{}, translateAddressError(err)
	}
	s.logger(ctx, "address.saved", map[string]any{"city": string(saved.City)})
	return saved, nil
}

func translateAddressError(err error) error {
	switch {
	case isRepoNotFound(err):
		return ErrAddressNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", ErrAddressUnavailable, err)
}

// sanitizeAddress strips markup from free text and checks required fields, email, phone and city.
func sanitizeAddress(addr Address) (Address, error) {
	sanitized := Address{
		Name:           cleanText(addr.Name),
		Email:          strings.ToLower(strings.TrimSpace(addr.Email)),
		Phone:          strings.TrimSpace(addr.Phone),
		Address:        cleanText(addr.Address),
		BuildingNumber: cleanText(addr.BuildingNumber),
		FlatNumber:     cleanText(addr.FlatNumber),
		District:       cleanText(addr.District),
		UpdatedAt:      addr.UpdatedAt,
	}
	if addr.FloorNumber != nil {
		if floor := cleanText(*addr.FloorNumber); floor != "" {
			sanitized.FloorNumber = &floor
		}
	}

	required := []struct {
		field string
		value string
	}{
		{"name", sanitized.Name},
		{"email", sanitized.Email},
		{"phone", sanitized.Phone},
		{"address", sanitized.Address},
		{"buildingNumber", sanitized.BuildingNumber},
		{"flatNumber", sanitized.FlatNumber},
		{"district", sanitized.District},
	}
	for _, r := range required {
		if r.value == "" {
			return Address{}, fmt.Errorf("%w: %s is required", ErrAddressInvalidInput, r.field)
		}
		if utf8.RuneCountInString(r.value) > maxAddressFieldLength {
			return Address{}, fmt.Errorf("%w: %s is too long", ErrAddressInvalidInput, r.field)
		}
	}

	parsed, err := mail.ParseAddress(sanitized.Email)
	if err != nil || parsed.Address != sanitized.Email {
		return Address{}, fmt.Errorf("%w: email is malformed", ErrAddressInvalidInput)
	}
	if !addressPhonePattern.MatchString(sanitized.Phone) {
		return Address{}, fmt.Errorf("%w: phone is malformed", ErrAddressInvalidInput)
	}
	city, ok := domain.ParseCity(string(addr.City))
	if !ok {
		return Address{}, fmt.Errorf("%w: city %q is not supported", ErrAddressInvalidInput, addr.City)
	}
	sanitized.City = city
	return sanitized, nil
}

// cleanText drops markup and unescapes the entities the policy introduces, so "Flat 3 & 4" is kept
// as typed.
func cleanText(value string) string {
	return strings.TrimSpace(html.UnescapeString(addressTextPolicy.Sanitize(strings.TrimSpace(value))))
}
