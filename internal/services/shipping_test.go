package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/nilemarket/storefront/internal/domain"
)

func TestEstimateForCity_Zones(t *testing.T) {
	cases := []struct {
		city    domain.City
		zone    domain.ShippingZone
		rate    int64
		minDays int
		maxDays int
	}{
		{domain.CityCairo, domain.ZoneCapitalRegion, 50, 1, 2},
		{domain.CityGiza, domain.ZoneCapitalRegion, 50, 1, 2},
		{domain.CitySuez, domain.ZoneNearbyMetro, 65, 2, 3},
		{domain.CityPortSaid, domain.ZoneNearbyMetro, 65, 2, 3},
		{domain.CityAlexandria, domain.ZoneDeltaRegion, 75, 2, 4},
		{domain.CitySharqia, domain.ZoneDeltaRegion, 75, 2, 4},
		{domain.CityAswan, domain.ZoneOther, 100, 3, 7},
		{domain.CityNewValley, domain.ZoneOther, 100, 3, 7},
	}
	for _, tc := range cases {
		t.Run(string(tc.city), func(t *testing.T) {
			got, err := EstimateForCity(tc.city)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Zone != tc.zone || got.Rate != tc.rate || got.MinDays != tc.minDays || got.MaxDays != tc.maxDays {
				t.Fatalf("unexpected estimate %+v", got)
			}
		})
	}
}

func TestEstimateForCity_EverySupportedCityHasAZone(t *testing.T) {
	for _, city := range domain.Cities {
		est, err := EstimateForCity(city)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", city, err)
		}
		if est.Rate <= 0 || est.MinDays > est.MaxDays {
			t.Fatalf("%s: invalid estimate %+v", city, est)
		}
	}
}

func TestEstimateForCity_UnknownCity(t *testing.T) {
	if _, err := EstimateForCity("atlantis"); !errors.Is(err, ErrShippingUnknownCity) {
		t.Fatalf("expected unknown city error, got %v", err)
	}
	if _, err := ComputeCost(nil, ""); !errors.Is(err, ErrShippingUnknownCity) {
		t.Fatalf("expected unknown city error for empty city, got %v", err)
	}
}

func TestComputeCost_CairoVersusAswan(t *testing.T) {
	lines := []CartLine{
		{ProductID: "p1", Color: "red", Quantity: 2, UnitPrice: 50},
		{ProductID: "p2", Color: "blue", Quantity: 1, UnitPrice: 100},
	}

	cairo, err := ComputeCost(lines, domain.CityCairo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cairo.Subtotal != 200 || cairo.Shipping != 50 || cairo.Total != 250 {
		t.Fatalf("unexpected cairo cost %+v", cairo)
	}

	aswan, err := ComputeCost(lines, domain.CityAswan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aswan.Subtotal != 200 || aswan.Shipping != 100 || aswan.Total != 300 {
		t.Fatalf("unexpected aswan cost %+v", aswan)
	}

	again, _ := ComputeCost(lines, domain.CityAswan)
	if again != aswan {
		t.Fatalf("expected deterministic cost, got %+v then %+v", aswan, again)
	}
}

func TestComputeCost_EmptyCartStillChargesShipping(t *testing.T) {
	cost, err := ComputeCost(nil, domain.CityAlexandria)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cost.Subtotal != 0 || cost.Total != 75 {
		t.Fatalf("unexpected cost %+v", cost)
	}
}

type stubCartReader struct {
	view CartView
	err  error
}

func (s stubCartReader) Read(context.Context, string) (CartView, error) {
	return s.view, s.err
}

func TestShippingService_Quote(t *testing.T) {
	svc, err := NewShippingService(ShippingServiceDeps{Carts: stubCartReader{view: CartView{
		SessionID: "sess",
		Lines:     []CartLine{{ProductID: "p1", Color: "red", Quantity: 3, UnitPrice: 40}},
	}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote, err := svc.Quote(context.Background(), "sess", domain.CityGiza)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Estimate.Zone != domain.ZoneCapitalRegion {
		t.Fatalf("unexpected zone %s", quote.Estimate.Zone)
	}
	if quote.Cost.Subtotal != 120 || quote.Cost.Total != 170 {
		t.Fatalf("unexpected cost %+v", quote.Cost)
	}
}

func TestShippingService_QuoteCartFailure(t *testing.T) {
	svc, err := NewShippingService(ShippingServiceDeps{Carts: stubCartReader{err: errBoom}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Quote(context.Background(), "sess", domain.CityCairo); !errors.Is(err, ErrShippingUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := svc.Quote(context.Background(), "sess", "mars"); !errors.Is(err, ErrShippingUnknownCity) {
		t.Fatalf("expected unknown city before reading the cart, got %v", err)
	}
}
