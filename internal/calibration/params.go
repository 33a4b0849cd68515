// Package calibration turns aggregate historical spend into per-pound
// channel prices.
//
// For each program the observed blended cost satisfies
//
//	blended = rProd*x + rPurch*y + rDon*donated
//
// where x and y are the unknown produce and purchased prices. One unknown is
// solved exactly; two unknowns are resolved by a bounded grid search over y.
// Guardrails then fill every gap so each known program has a usable pair.
package calibration

import (
	"errors"
	"fmt"
)

// ProduceFallback selects how a fixed-price program's produce price is set
// when the solver leaves it unresolved.
type ProduceFallback string

const (
	// FallbackEqualSplit re-derives produce from the blended equation with
	// the fixed purchased price and an equal channel split.
	FallbackEqualSplit ProduceFallback = "equal_split"
	// FallbackDefault uses the generic default produce price.
	FallbackDefault ProduceFallback = "default"
)

// Params holds the calibration constants.
type Params struct {
	CostFloor             float64
	DonatedPrice          float64
	DefaultProducePrice   float64
	DefaultPurchasedPrice float64
	PurchasedMin          float64
	PurchasedMax          float64
	GridPoints            int
	FixedPurchasePrice    float64
	FixedSplit            float64
	FixedProduceFallback  ProduceFallback
}

// DefaultParams returns the standard calibration constants.
func DefaultParams() Params {
	return Params{
		CostFloor:             1,
		DonatedPrice:          0.04,
		DefaultProducePrice:   0.75,
		DefaultPurchasedPrice: 1.00,
		PurchasedMin:          0.5,
		PurchasedMax:          1.2,
		GridPoints:            71,
		FixedPurchasePrice:    1.27,
		FixedSplit:            1.0 / 3.0,
		FixedProduceFallback:  FallbackEqualSplit,
	}
}

// Validate reports constants that would make the solver ill-defined.
func (p Params) Validate() error {
	var errs []error
	if p.PurchasedMin > p.PurchasedMax {
		errs = append(errs, fmt.Errorf("purchased band [%v, %v] is inverted", p.PurchasedMin, p.PurchasedMax))
	}
	if p.GridPoints < 2 {
		errs = append(errs, fmt.Errorf("grid points must be at least 2, got %d", p.GridPoints))
	}
	if p.FixedSplit <= 0 || p.FixedSplit > 1 {
		errs = append(errs, fmt.Errorf("fixed split must be in (0, 1], got %v", p.FixedSplit))
	}
	if p.DonatedPrice < 0 || p.DefaultProducePrice < 0 || p.DefaultPurchasedPrice < 0 || p.FixedPurchasePrice < 0 {
		errs = append(errs, errors.New("prices must be non-negative"))
	}
	switch p.FixedProduceFallback {
	case FallbackEqualSplit, FallbackDefault:
	default:
		errs = append(errs, fmt.Errorf("unknown produce fallback %q", p.FixedProduceFallback))
	}
	return errors.Join(errs...)
}
