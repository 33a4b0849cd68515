package history

import (
	"sort"

	"github.com/Simplici0/foodcost/internal/program"
)

// DefaultCostFloor is the cost at or below which a record is noise.
const DefaultCostFloor = 1.0

// Aggregate is the per-program roll-up of retained records.
type Aggregate struct {
	Program         program.ID `json:"program"`
	Records         int        `json:"records"`
	TotalCost       float64    `json:"total_cost"`
	TotalWeight     float64    `json:"total_weight"`
	ProduceWeight   float64    `json:"produce_weight"`
	PurchasedWeight float64    `json:"purchased_weight"`
	DonatedWeight   float64    `json:"donated_weight"`
}

// Blended is total cost per total pound, 0 when there is no weight.
func (a Aggregate) Blended() float64 {
	if a.TotalWeight == 0 {
		return 0
	}
	return a.TotalCost / a.TotalWeight
}

// Shares returns each channel's share of total weight, zeros when there is
// no weight.
func (a Aggregate) Shares() program.ChannelRatios {
	if a.TotalWeight == 0 {
		return program.ChannelRatios{}
	}
	return program.ChannelRatios{
		Produce:   a.ProduceWeight / a.TotalWeight,
		Purchased: a.PurchasedWeight / a.TotalWeight,
		Donated:   a.DonatedWeight / a.TotalWeight,
	}
}

// AggregateRecords drops records with cost <= floor, splits each retained
// weight by the program's ratios and sums per program. Programs absent from
// the model keep their totals with zero channel weights. The result is
// sorted by program code.
func AggregateRecords(records []Record, model program.Model, floor float64) []Aggregate {
	byProgram := make(map[program.ID]*Aggregate)
	for _, rec := range records {
		if rec.Cost <= floor {
			continue
		}

		agg, ok := byProgram[rec.Program]
		if !ok {
			agg = &Aggregate{Program: rec.Program}
			byProgram[rec.Program] = agg
		}

		r := model.RatiosFor(rec.Program)
		agg.Records++
		agg.TotalCost += rec.Cost
		agg.TotalWeight += rec.Weight
		agg.ProduceWeight += rec.Weight * r.Produce
		agg.PurchasedWeight += rec.Weight * r.Purchased
		agg.DonatedWeight += rec.Weight * r.Donated
	}

	out := make([]Aggregate, 0, len(byProgram))
	for _, agg := range byProgram {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Program < out[j].Program })
	return out
}
