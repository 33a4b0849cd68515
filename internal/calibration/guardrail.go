package calibration

import (
	"sort"

	"github.com/Simplici0/foodcost/internal/program"
)

// Source names where a finalized price came from.
type Source string

const (
	SourceSolved     Source = "solved"
	SourceDefault    Source = "default"
	SourceFixed      Source = "fixed"
	SourceEqualSplit Source = "equal_split"
)

// ChannelPrices is a fully resolved price pair for one program.
type ChannelPrices struct {
	Program         program.ID `json:"program"`
	Produce         float64    `json:"produce_price_per_lb"`
	Purchased       float64    `json:"purchased_price_per_lb"`
	Donated         float64    `json:"donated_price_per_lb"`
	ProduceSource   Source     `json:"produce_source"`
	PurchasedSource Source     `json:"purchased_source"`
}

// Table maps every known program to resolved prices. It is read-only once
// built.
type Table struct {
	rows     map[program.ID]ChannelPrices
	defaults ChannelPrices
}

// Lookup returns the prices for id; unknown programs get the generic
// defaults.
func (t Table) Lookup(id program.ID) ChannelPrices {
	if row, ok := t.rows[id]; ok {
		return row
	}
	d := t.defaults
	d.Program = id
	return d
}

// Rows returns all resolved rows sorted by program code.
func (t Table) Rows() []ChannelPrices {
	out := make([]ChannelPrices, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Program < out[j].Program })
	return out
}

// Len is the number of resolved programs.
func (t Table) Len() int { return len(t.rows) }

// Finalize resolves every program of model. Programs without an estimate
// fall back to defaults, except that fixed-price programs always carry the
// contractual purchased price.
func Finalize(model program.Model, estimates []Estimate, params Params) Table {
	byProgram := make(map[program.ID]Estimate, len(estimates))
	for _, est := range estimates {
		byProgram[est.Program] = est
	}

	t := Table{
		rows: make(map[program.ID]ChannelPrices),
		defaults: ChannelPrices{
			Produce:         params.DefaultProducePrice,
			Purchased:       params.DefaultPurchasedPrice,
			Donated:         params.DonatedPrice,
			ProduceSource:   SourceDefault,
			PurchasedSource: SourceDefault,
		},
	}

	for _, p := range model.Programs() {
		est, hasEstimate := byProgram[p.ID]
		row := t.defaults
		row.Program = p.ID

		if hasEstimate && est.ProducePrice != nil {
			row.Produce, row.ProduceSource = *est.ProducePrice, SourceSolved
		}

		if p.FixedPurchasePrice {
			row.Purchased, row.PurchasedSource = params.FixedPurchasePrice, SourceFixed
			if row.ProduceSource == SourceDefault && hasEstimate {
				if x, ok := equalSplitProduce(est, params); ok {
					row.Produce, row.ProduceSource = x, SourceEqualSplit
				}
			}
		} else if hasEstimate && est.PurchasedPrice != nil {
			row.Purchased, row.PurchasedSource = *est.PurchasedPrice, SourceSolved
		}

		t.rows[p.ID] = row
	}
	return t
}

// equalSplitProduce solves the blended equation for produce assuming each
// channel carries params.FixedSplit of the weight.
func equalSplitProduce(est Estimate, params Params) (float64, bool) {
	if params.FixedProduceFallback != FallbackEqualSplit || est.Blended == 0 {
		return 0, false
	}
	r := params.FixedSplit
	x := (est.Blended - (float64(r*params.FixedPurchasePrice) + float64(r*params.DonatedPrice))) / r
	if v := finite(x); v != nil {
		return *v, true
	}
	return 0, false
}
