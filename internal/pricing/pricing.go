package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Simplici0/foodcost/internal/program"
)

// FixedCostMode controls how the per-pound fixed cost is applied.
type FixedCostMode string

const (
	// FixedAnnual charges fixed cost once, on top of the annual delivery total.
	FixedAnnual FixedCostMode = "annual"
	// FixedPerDelivery folds fixed cost into every delivery.
	FixedPerDelivery FixedCostMode = "per_delivery"
)

// Scenario is a planned delivery. DeliveriesPerYear of 0 means the caller
// did not ask for annual totals.
type Scenario struct {
	Program           program.ID `json:"program"`
	Households        int        `json:"households"`
	DeliveriesPerYear int        `json:"deliveries_per_year"`
	ProduceLbPerHH    float64    `json:"produce_lb_per_hh"`
	PurchasedLbPerHH  float64    `json:"purchased_lb_per_hh"`
	DonatedLbPerHH    float64    `json:"donated_lb_per_hh"`
	MilesPerDelivery  float64    `json:"miles_per_delivery"`
}

// ValidationError lists rejected scenario fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range scenarioFields {
		if msg, ok := e.Fields[name]; ok {
			parts = append(parts, name+" "+msg)
		}
	}
	return "invalid scenario: " + strings.Join(parts, "; ")
}

var scenarioFields = []string{
	"program", "households", "deliveries_per_year",
	"produce_lb_per_hh", "purchased_lb_per_hh", "donated_lb_per_hh", "miles_per_delivery",
}

// Validate rejects scenarios that must not reach the calculator.
func (s Scenario) Validate() error {
	fields := make(map[string]string)
	if _, err := program.ParseID(string(s.Program)); err != nil {
		fields["program"] = "must be a known program"
	}
	if s.Households < 1 {
		fields["households"] = "must be at least 1"
	}
	if s.DeliveriesPerYear < 0 {
		fields["deliveries_per_year"] = "must be non-negative"
	}
	for name, v := range map[string]float64{
		"produce_lb_per_hh":   s.ProduceLbPerHH,
		"purchased_lb_per_hh": s.PurchasedLbPerHH,
		"donated_lb_per_hh":   s.DonatedLbPerHH,
		"miles_per_delivery":  s.MilesPerDelivery,
	} {
		if v < 0 {
			fields[name] = "must be non-negative"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Prices are the resolved per-pound channel prices.
type Prices struct {
	Produce   float64 `json:"produce"`
	Purchased float64 `json:"purchased"`
	Donated   float64 `json:"donated"`
}

// Rates are the surcharges shared across scenarios.
type Rates struct {
	FixedCostPerLb         float64
	TransportCostPerLbMile float64
	FixedCostMode          FixedCostMode
}

// Validate checks rate signs and mode.
func (r Rates) Validate() error {
	if r.FixedCostPerLb < 0 || r.TransportCostPerLbMile < 0 {
		return errors.New("rates must be non-negative")
	}
	if r.FixedCostMode != FixedAnnual && r.FixedCostMode != FixedPerDelivery {
		return fmt.Errorf("unknown fixed cost mode %q", r.FixedCostMode)
	}
	return nil
}

// Breakdown contains per-delivery line items.
type Breakdown struct {
	ProduceLbs    float64
	PurchasedLbs  float64
	DonatedLbs    float64
	TotalLbs      float64
	BaseFoodCost  float64
	FixedCost     float64
	TransportCost float64
	DeliveryCost  float64
}

// Annual contains roll-ups over the deliveries of a year.
type Annual struct {
	TotalCost        float64
	TotalLbs         float64
	BlendedCostPerLb float64
}

// Result groups the full calculation output.
type Result struct {
	Prices    Prices
	Breakdown Breakdown
	Annual    *Annual
}

// Calculate applies prices and rates to a validated scenario.
func Calculate(s Scenario, prices Prices, rates Rates) Result {
	hh := float64(s.Households)
	produceLbs := s.ProduceLbPerHH * hh
	purchasedLbs := s.PurchasedLbPerHH * hh
	donatedLbs := s.DonatedLbPerHH * hh
	totalLbs := produceLbs + purchasedLbs + donatedLbs

	baseCost := produceLbs*prices.Produce + purchasedLbs*prices.Purchased + donatedLbs*prices.Donated
	fixedCost := totalLbs * rates.FixedCostPerLb
	transportCost := totalLbs * s.MilesPerDelivery * rates.TransportCostPerLbMile

	deliveryCost := baseCost + transportCost
	if rates.FixedCostMode == FixedPerDelivery {
		deliveryCost += fixedCost
	}

	result := Result{
		Prices: prices,
		Breakdown: Breakdown{
			ProduceLbs:    produceLbs,
			PurchasedLbs:  purchasedLbs,
			DonatedLbs:    donatedLbs,
			TotalLbs:      totalLbs,
			BaseFoodCost:  baseCost,
			FixedCost:     fixedCost,
			TransportCost: transportCost,
			DeliveryCost:  deliveryCost,
		},
	}

	if s.DeliveriesPerYear > 0 {
		deliveries := float64(s.DeliveriesPerYear)
		total := deliveryCost * deliveries
		if rates.FixedCostMode == FixedAnnual {
			total += fixedCost
		}
		annualLbs := totalLbs * deliveries

		blended := 0.0
		if annualLbs > 0 {
			blended = total / annualLbs
		}
		result.Annual = &Annual{
			TotalCost:        total,
			TotalLbs:         annualLbs,
			BlendedCostPerLb: blended,
		}
	}

	return result
}
