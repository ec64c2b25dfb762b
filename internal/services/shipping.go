package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/nilemarket/storefront/internal/domain"
)

var (
	// ErrShippingUnknownCity indicates the destination is outside the supported city set.
	ErrShippingUnknownCity = errors.New("shipping: unknown city")
	// ErrShippingUnavailable indicates the cart could not be loaded for a quote.
	ErrShippingUnavailable = errors.New("shipping: unavailable")
)

var zoneEstimates = map[domain.ShippingZone]ZoneEstimate{
	domain.ZoneCapitalRegion: {Zone: domain.ZoneCapitalRegion, MinDays: 1, MaxDays: 2, Rate: 50},
	domain.ZoneNearbyMetro:   {Zone: domain.ZoneNearbyMetro, MinDays: 2, MaxDays: 3, Rate: 65},
	domain.ZoneDeltaRegion:   {Zone: domain.ZoneDeltaRegion, MinDays: 2, MaxDays: 4, Rate: 75},
	domain.ZoneOther:         {Zone: domain.ZoneOther, MinDays: 3, MaxDays: 7, Rate: 100},
}

var cityZones = map[domain.City]domain.ShippingZone{
	domain.CityCairo: domain.ZoneCapitalRegion,
	domain.CityGiza:  domain.ZoneCapitalRegion,

	domain.CityQalyubia: domain.ZoneNearbyMetro,
	domain.CitySuez:     domain.ZoneNearbyMetro,
	domain.CityIsmailia: domain.ZoneNearbyMetro,
	domain.CityPortSaid: domain.ZoneNearbyMetro,

	domain.CityAlexandria:   domain.ZoneDeltaRegion,
	domain.CityGharbia:      domain.ZoneDeltaRegion,
	domain.CityDakahlia:     domain.ZoneDeltaRegion,
	domain.CityMonufia:      domain.ZoneDeltaRegion,
	domain.CityBeheira:      domain.ZoneDeltaRegion,
	domain.CityKafrElSheikh: domain.ZoneDeltaRegion,
	domain.CityDamietta:     domain.ZoneDeltaRegion,
	domain.CitySharqia:      domain.ZoneDeltaRegion,
}

// ZoneForCity maps a supported city to its shipping zone. Supported cities without an explicit
// mapping fall into the "other" zone.
func ZoneForCity(city domain.City) (domain.ShippingZone, error) {
	if !city.Valid() {
		return "", fmt.Errorf("%w: %q", ErrShippingUnknownCity, city)
	}
	if zone, ok := cityZones[city]; ok {
		return zone, nil
	}
	return domain.ZoneOther, nil
}

// EstimateForCity returns the delivery window and flat rate for city.
func EstimateForCity(city domain.City) (ZoneEstimate, error) {
	zone, err := ZoneForCity(city)
	if err != nil {
		return ZoneEstimate{}, err
	}
	return zoneEstimates[zone], nil
}

// ComputeCost prices lines for delivery to city: total = subtotal + zone rate.
func ComputeCost(lines []CartLine, city domain.City) (CostBreakdown, error) {
	estimate, err := EstimateForCity(city)
	if err != nil {
		return CostBreakdown{}, err
	}
	subtotal := linesSubtotal(lines)
	return CostBreakdown{
		Subtotal: subtotal,
		Shipping: estimate.Rate,
		Total:    subtotal + estimate.Rate,
	}, nil
}

func linesSubtotal(lines []CartLine) int64 {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.Total()
	}
	return subtotal
}

type cartReader interface {
	Read(ctx context.Context, sessionID string) (CartView, error)
}

// ShippingServiceDeps wires the cart reader used for quotes.
type ShippingServiceDeps struct {
	Carts cartReader
}

type shippingService struct {
	carts cartReader
}

// NewShippingService constructs a ShippingService.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Carts == nil {
		return nil, errors.New("shipping service: cart reader is required")
	}
	return &shippingService{carts: deps.Carts}, nil
}

func (s *shippingService) Estimate(city domain.City) (ZoneEstimate, error) {
	return EstimateForCity(city)
}

func (s *shippingService) Quote(ctx context.Context, sessionID string, city domain.City) (ShippingQuote, error) {
	estimate, err := EstimateForCity(city)
	if err != nil {
		return ShippingQuote{}, err
	}
	cart, err := s.carts.Read(ctx, sessionID)
	if err != nil {
		return ShippingQuote{}, fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
	}
	cost, err := ComputeCost(cart.Lines, city)
	if err != nil {
		return ShippingQuote{}, err
	}
	return ShippingQuote{Estimate: estimate, Cost: cost}, nil
}
