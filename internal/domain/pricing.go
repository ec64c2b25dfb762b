package domain

// ShippingZone groups destination cities that share a rate and delivery window.
type ShippingZone string

const (
	ZoneCapitalRegion ShippingZone = "capital-region"
	ZoneNearbyMetro   ShippingZone = "nearby-metro"
	ZoneDeltaRegion   ShippingZone = "delta-region"
	ZoneOther         ShippingZone = "other"
)

// ZoneEstimate is the delivery window and flat rate for a destination.
type ZoneEstimate struct {
	Zone    ShippingZone
	MinDays int
	MaxDays int
	Rate    int64
}

// CostBreakdown captures the monetary result of pricing a set of lines for a destination.
type CostBreakdown struct {
	Subtotal int64
	Shipping int64
	Total    int64
}
