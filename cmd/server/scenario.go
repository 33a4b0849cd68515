package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/foodcost/internal/calibration"
	"github.com/Simplici0/foodcost/internal/pricing"
	"github.com/Simplici0/foodcost/internal/program"
	"github.com/Simplici0/foodcost/internal/store"
)

// scenarioRequest mirrors pricing.Scenario; omitted lbs default to the
// program's household composition.
type scenarioRequest struct {
	Program           string   `json:"program"`
	Households        int      `json:"households"`
	DeliveriesPerYear int      `json:"deliveries_per_year"`
	ProduceLbPerHH    *float64 `json:"produce_lb_per_hh"`
	PurchasedLbPerHH  *float64 `json:"purchased_lb_per_hh"`
	DonatedLbPerHH    *float64 `json:"donated_lb_per_hh"`
	MilesPerDelivery  float64  `json:"miles_per_delivery"`
}

func (req scenarioRequest) scenario(model program.Model) pricing.Scenario {
	id := program.ID(req.Program)
	c := model.CompositionFor(id)
	return pricing.Scenario{
		Program:           id,
		Households:        req.Households,
		DeliveriesPerYear: req.DeliveriesPerYear,
		ProduceLbPerHH:    orDefault(req.ProduceLbPerHH, c.Produce),
		PurchasedLbPerHH:  orDefault(req.PurchasedLbPerHH, c.Purchased),
		DonatedLbPerHH:    orDefault(req.DonatedLbPerHH, c.Donated),
		MilesPerDelivery:  req.MilesPerDelivery,
	}
}

func orDefault(v, fallback *float64) float64 {
	switch {
	case v != nil:
		return *v
	case fallback != nil:
		return *fallback
	default:
		return 0
	}
}

func decodeScenarioRequest(r *http.Request) (scenarioRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req scenarioRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return scenarioRequest{}, fmt.Errorf("invalid request body: %w", err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return scenarioRequest{}, errors.New("invalid form")
	}
	return parseScenarioForm(r)
}

func parseScenarioForm(r *http.Request) (scenarioRequest, error) {
	req := scenarioRequest{Program: strings.TrimSpace(r.FormValue("program"))}

	var err error
	if req.Households, err = parsePositiveInt(r.FormValue("households"), "households"); err != nil {
		return req, err
	}
	if raw := r.FormValue("deliveries_per_year"); raw != "" {
		if req.DeliveriesPerYear, err = parsePositiveInt(raw, "deliveries_per_year"); err != nil {
			return req, err
		}
	}
	for field, dst := range map[string]**float64{
		"produce_lb_per_hh":   &req.ProduceLbPerHH,
		"purchased_lb_per_hh": &req.PurchasedLbPerHH,
		"donated_lb_per_hh":   &req.DonatedLbPerHH,
	} {
		raw := r.FormValue(field)
		if raw == "" {
			continue
		}
		v, err := parseNonNegativeFloat(raw, field)
		if err != nil {
			return req, err
		}
		*dst = &v
	}
	if raw := r.FormValue("miles_per_delivery"); raw != "" {
		if req.MilesPerDelivery, err = parseNonNegativeFloat(raw, "miles_per_delivery"); err != nil {
			return req, err
		}
	}
	return req, nil
}

func parseNonNegativeFloat(raw, field string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be numeric", field)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must be greater than or equal to 0", field)
	}
	return value, nil
}

func parsePositiveInt(raw, field string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be a whole number", field)
	}
	if value < 1 {
		return 0, fmt.Errorf("%s must be at least 1", field)
	}
	return value, nil
}

func (s *server) handleScenarioSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScenarioRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scenario := req.scenario(s.model)
	if err := scenario.Validate(); err != nil {
		var verr *pricing.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  verr.Error(),
				"fields": verr.Fields,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.calibration.Publisher().Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "calibration not available")
		return
	}

	row := snap.Table.Lookup(scenario.Program)
	prices := pricing.Prices{Produce: row.Produce, Purchased: row.Purchased, Donated: row.Donated}
	quote := store.Quote{
		Profile:    s.profile.Name,
		SnapshotID: snap.ID,
		Scenario:   scenario,
		Result:     pricing.Calculate(scenario, prices, s.profile.Rates()),
	}
	if err := s.store.SaveQuote(r.Context(), &quote); err != nil {
		log.Error().Err(err).Str("program", string(scenario.Program)).Msg("save quote")
		writeError(w, http.StatusInternalServerError, "failed to save quote")
		return
	}

	writeJSON(w, http.StatusCreated, newScenarioResponse(quote, row))
}

type priceView struct {
	Program         program.ID         `json:"program"`
	Produce         decimal.Decimal    `json:"produce_price_per_lb"`
	Purchased       decimal.Decimal    `json:"purchased_price_per_lb"`
	Donated         decimal.Decimal    `json:"donated_price_per_lb"`
	ProduceSource   calibration.Source `json:"produce_source"`
	PurchasedSource calibration.Source `json:"purchased_source"`
}

func newPriceView(row calibration.ChannelPrices) priceView {
	return priceView{
		Program:         row.Program,
		Produce:         unitPrice(row.Produce),
		Purchased:       unitPrice(row.Purchased),
		Donated:         unitPrice(row.Donated),
		ProduceSource:   row.ProduceSource,
		PurchasedSource: row.PurchasedSource,
	}
}

type annualView struct {
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalLbs         decimal.Decimal `json:"total_lbs"`
	BlendedCostPerLb decimal.Decimal `json:"blended_cost_per_lb"`
}

type scenarioResponse struct {
	QuoteID       string           `json:"quote_id"`
	SnapshotID    string           `json:"snapshot_id"`
	Profile       string           `json:"profile"`
	Scenario      pricing.Scenario `json:"scenario"`
	Prices        priceView        `json:"prices"`
	TotalLbs      decimal.Decimal  `json:"total_lbs"`
	BaseFoodCost  decimal.Decimal  `json:"base_food_cost"`
	FixedCost     decimal.Decimal  `json:"fixed_cost"`
	TransportCost decimal.Decimal  `json:"transport_cost"`
	DeliveryCost  decimal.Decimal  `json:"delivery_cost"`
	Annual        *annualView      `json:"annual,omitempty"`
}

func newScenarioResponse(q store.Quote, row calibration.ChannelPrices) scenarioResponse {
	b := q.Result.Breakdown
	resp := scenarioResponse{
		QuoteID:       q.ID.String(),
		SnapshotID:    q.SnapshotID.String(),
		Profile:       q.Profile,
		Scenario:      q.Scenario,
		Prices:        newPriceView(row),
		TotalLbs:      money(b.TotalLbs),
		BaseFoodCost:  money(b.BaseFoodCost),
		FixedCost:     money(b.FixedCost),
		TransportCost: money(b.TransportCost),
		DeliveryCost:  money(b.DeliveryCost),
	}
	if a := q.Result.Annual; a != nil {
		resp.Annual = &annualView{
			TotalCost:        money(a.TotalCost),
			TotalLbs:         money(a.TotalLbs),
			BlendedCostPerLb: unitPrice(a.BlendedCostPerLb),
		}
	}
	return resp
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func unitPrice(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(4)
}

func fileExt(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
