package calibration

import (
	"math"

	"github.com/Simplici0/foodcost/internal/history"
	"github.com/Simplici0/foodcost/internal/program"
)

// Method records which branch produced an estimate.
type Method string

const (
	MethodGrid          Method = "grid"
	MethodPurchasedOnly Method = "purchased_only"
	MethodProduceOnly   Method = "produce_only"
	MethodFixedPrice    Method = "fixed_price"
	MethodNone          Method = "none"
)

// Estimate is the solver output for one program. Nil prices are unresolved.
type Estimate struct {
	Program        program.ID            `json:"program"`
	Blended        float64               `json:"blended_cost_per_lb"`
	Shares         program.ChannelRatios `json:"shares"`
	ProducePrice   *float64              `json:"produce_price_per_lb"`
	PurchasedPrice *float64              `json:"purchased_price_per_lb"`
	Method         Method                `json:"method"`
	// Residual is the absolute reconstruction error of the grid choice.
	Residual float64 `json:"residual"`
}

// Solve backsolves channel prices from agg. fixedPurchase marks programs
// whose purchased price is contractual; with both channels present they are
// left unresolved for Finalize.
func Solve(agg history.Aggregate, fixedPurchase bool, params Params) Estimate {
	blended := agg.Blended()
	shares := agg.Shares()
	est := Estimate{
		Program: agg.Program,
		Blended: blended,
		Shares:  shares,
		Method:  MethodNone,
	}

	donated := shares.Donated * params.DonatedPrice
	switch {
	case shares.Produce > 0 && shares.Purchased > 0 && fixedPurchase:
		est.Method = MethodFixedPrice
	case shares.Produce > 0 && shares.Purchased > 0:
		x, y, residual, ok := searchGrid(blended, shares, params)
		if !ok {
			break
		}
		est.ProducePrice = finite(x)
		est.PurchasedPrice = finite(y)
		est.Residual = residual
		est.Method = MethodGrid
	case shares.Purchased > 0 && shares.Produce == 0:
		y := (blended - donated) / shares.Purchased
		y = math.Max(params.PurchasedMin, math.Min(params.PurchasedMax, y))
		est.PurchasedPrice = finite(y)
		est.Method = MethodPurchasedOnly
	case shares.Produce > 0 && shares.Purchased == 0:
		x := (blended - donated) / shares.Produce
		est.ProducePrice = finite(x)
		est.Method = MethodProduceOnly
	}
	return est
}

// searchGrid scans purchased candidates in ascending order and keeps the
// first one with strictly smaller reconstruction error. ok is false when no
// candidate has a comparable error, as with a NaN blended cost.
//
// Products are rounded explicitly so the scan never fuses into FMA and ties
// resolve identically on every architecture.
func searchGrid(blended float64, shares program.ChannelRatios, params Params) (x, y, residual float64, ok bool) {
	donated := float64(shares.Donated * params.DonatedPrice)
	residual = math.Inf(1)
	for _, cy := range Grid(params.PurchasedMin, params.PurchasedMax, params.GridPoints) {
		cx := (blended - float64(shares.Purchased*cy) - donated) / shares.Produce
		reconstructed := float64(shares.Produce*cx) + float64(shares.Purchased*cy) + donated
		if e := math.Abs(reconstructed - blended); e < residual {
			residual = e
			x, y, ok = cx, cy, true
		}
	}
	return x, y, residual, ok
}

// Grid returns n evenly spaced points covering [lo, hi] inclusive.
func Grid(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	step := (hi - lo) / float64(n-1)
	points := make([]float64, n)
	for i := range points {
		points[i] = lo + float64(float64(i)*step)
	}
	points[n-1] = hi
	return points
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
