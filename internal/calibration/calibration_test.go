package calibration

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/Simplici0/foodcost/internal/history"
	"github.com/Simplici0/foodcost/internal/program"
)

func nearlyEqual(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func aggregateFor(id program.ID, ratios program.ChannelRatios, cost, weight float64) history.Aggregate {
	return history.Aggregate{
		Program:         id,
		Records:         1,
		TotalCost:       cost,
		TotalWeight:     weight,
		ProduceWeight:   weight * ratios.Produce,
		PurchasedWeight: weight * ratios.Purchased,
		DonatedWeight:   weight * ratios.Donated,
	}
}

func TestGrid_MatchesBandAndResolution(t *testing.T) {
	points := Grid(0.5, 1.2, 71)
	if len(points) != 71 {
		t.Fatalf("expected 71 points, got %d", len(points))
	}
	if points[0] != 0.5 || points[70] != 1.2 {
		t.Fatalf("unexpected endpoints %v, %v", points[0], points[70])
	}
	nearlyEqual(t, "step", points[1]-points[0], 0.01, 1e-12)
	for i := 1; i < len(points); i++ {
		if points[i] <= points[i-1] {
			t.Fatalf("grid not ascending at %d", i)
		}
	}
}

func TestSolve_GridChoiceIsMinimalAndFirst(t *testing.T) {
	params := DefaultParams()
	ratios := program.Ratios(program.Units(16, 5, 2))

	for _, blended := range []float64{0.42, 0.8, 1.10, 1.7} {
		agg := aggregateFor(program.MP, ratios, blended*1000, 1000)
		est := Solve(agg, false, params)

		if est.Method != MethodGrid || est.ProducePrice == nil || est.PurchasedPrice == nil {
			t.Fatalf("blended %v: expected grid estimate, got %+v", blended, est)
		}

		shares := agg.Shares()
		donated := float64(shares.Donated * params.DonatedPrice)
		best := math.Inf(1)
		bestY := 0.0
		for _, y := range Grid(params.PurchasedMin, params.PurchasedMax, params.GridPoints) {
			x := (agg.Blended() - float64(shares.Purchased*y) - donated) / shares.Produce
			e := math.Abs(float64(shares.Produce*x) + float64(shares.Purchased*y) + donated - agg.Blended())
			if e < best {
				best, bestY = e, y
			}
		}

		if est.Residual != best {
			t.Fatalf("blended %v: residual %v, want grid minimum %v", blended, est.Residual, best)
		}
		if *est.PurchasedPrice != bestY {
			t.Fatalf("blended %v: chose y=%v, first minimal candidate is %v", blended, *est.PurchasedPrice, bestY)
		}
		if *est.PurchasedPrice < params.PurchasedMin || *est.PurchasedPrice > params.PurchasedMax {
			t.Fatalf("blended %v: y=%v outside band", blended, *est.PurchasedPrice)
		}
	}
}

func TestSolve_StandardCompositionReconstructsBlended(t *testing.T) {
	params := DefaultParams()
	ratios := program.Ratios(program.Units(16, 5, 2))
	agg := aggregateFor(program.Agency, ratios, 1100, 1000)

	est := Solve(agg, false, params)
	s := est.Shares
	x, y := *est.ProducePrice, *est.PurchasedPrice
	reconstructed := s.Produce*x + s.Purchased*y + s.Donated*params.DonatedPrice

	nearlyEqual(t, "blended", est.Blended, 1.10, 1e-12)
	nearlyEqual(t, "reconstructed", reconstructed, 1.10, 1e-3)
}

func TestSolve_PurchasedOnlyIsClamped(t *testing.T) {
	params := DefaultParams()
	ratios := program.Ratios(program.Units(0, 4, 1))

	exact := Solve(aggregateFor(program.SP, ratios, 600, 1000), false, params)
	if exact.Method != MethodPurchasedOnly || exact.ProducePrice != nil || exact.PurchasedPrice == nil {
		t.Fatalf("unexpected estimate: %+v", exact)
	}
	nearlyEqual(t, "exact y", *exact.PurchasedPrice, (0.6-0.2*0.04)/0.8, 1e-12)

	high := Solve(aggregateFor(program.SP, ratios, 1000, 1000), false, params)
	if *high.PurchasedPrice != params.PurchasedMax {
		t.Fatalf("expected clamp to %v, got %v", params.PurchasedMax, *high.PurchasedPrice)
	}

	low := Solve(aggregateFor(program.SP, ratios, 100, 1000), false, params)
	if *low.PurchasedPrice != params.PurchasedMin {
		t.Fatalf("expected clamp to %v, got %v", params.PurchasedMin, *low.PurchasedPrice)
	}
}

func TestSolve_ProduceOnlyIsExactAndUnclamped(t *testing.T) {
	params := DefaultParams()
	ratios := program.Ratios(program.Units(24, 0, 0))

	est := Solve(aggregateFor(program.PP, ratios, 3000, 1000), false, params)
	if est.Method != MethodProduceOnly || est.PurchasedPrice != nil {
		t.Fatalf("unexpected estimate: %+v", est)
	}
	nearlyEqual(t, "x", *est.ProducePrice, 3.0, 1e-12)
}

func TestSolve_FixedPriceAndDegenerateAreUnresolved(t *testing.T) {
	params := DefaultParams()

	bp := Solve(aggregateFor(program.BP, program.Ratios(program.Units(4, 4, 4)), 100, 100), true, params)
	if bp.Method != MethodFixedPrice || bp.ProducePrice != nil || bp.PurchasedPrice != nil {
		t.Fatalf("expected unresolved fixed-price estimate, got %+v", bp)
	}

	none := Solve(aggregateFor("ZZ", program.ChannelRatios{}, 100, 100), false, params)
	if none.Method != MethodNone || none.ProducePrice != nil || none.PurchasedPrice != nil {
		t.Fatalf("expected unresolved estimate, got %+v", none)
	}

	zero := Solve(history.Aggregate{Program: program.MP, TotalCost: 10}, false, params)
	if zero.Blended != 0 || zero.Method != MethodNone {
		t.Fatalf("expected zero-weight aggregate to carry no signal, got %+v", zero)
	}
}

func TestSolve_NaNBlendedFallsBackToDefaults(t *testing.T) {
	params := DefaultParams()
	model := program.DefaultModel()
	agg := aggregateFor(program.MP, model.RatiosFor(program.MP), math.NaN(), 500)

	est := Solve(agg, false, params)
	if est.ProducePrice != nil || est.PurchasedPrice != nil || est.Method != MethodNone {
		t.Fatalf("expected unresolved estimate for NaN blended cost, got %+v", est)
	}

	row := Finalize(model, []Estimate{est}, params).Lookup(program.MP)
	if row.ProduceSource != SourceDefault || row.PurchasedSource != SourceDefault {
		t.Fatalf("expected default sources, got %+v", row)
	}
	if row.Produce != params.DefaultProducePrice || row.Purchased != params.DefaultPurchasedPrice {
		t.Fatalf("expected default prices, got %+v", row)
	}
}

func TestFinalize_IsTotalOverKnownPrograms(t *testing.T) {
	params := DefaultParams()
	model := program.DefaultModel()

	table := Finalize(model, nil, params)
	if table.Len() != len(program.KnownIDs()) {
		t.Fatalf("expected %d rows, got %d", len(program.KnownIDs()), table.Len())
	}
	for _, id := range program.KnownIDs() {
		row := table.Lookup(id)
		if row.Program != id {
			t.Fatalf("row program = %s, want %s", row.Program, id)
		}
		if id == program.BP {
			if row.Purchased != params.FixedPurchasePrice || row.PurchasedSource != SourceFixed {
				t.Fatalf("expected fixed BP purchased price, got %+v", row)
			}
			if row.Produce != params.DefaultProducePrice {
				t.Fatalf("expected default BP produce without history, got %+v", row)
			}
			continue
		}
		if row.Produce != params.DefaultProducePrice || row.Purchased != params.DefaultPurchasedPrice {
			t.Fatalf("expected defaults for %s, got %+v", id, row)
		}
	}

	unknown := table.Lookup("NOPE")
	if unknown.Produce != params.DefaultProducePrice || unknown.Purchased != params.DefaultPurchasedPrice {
		t.Fatalf("expected defaults for unknown program, got %+v", unknown)
	}
}

func TestFinalize_FixedPriceProgramUsesEqualSplit(t *testing.T) {
	params := DefaultParams()
	model := program.DefaultModel()
	est := Solve(aggregateFor(program.BP, model.RatiosFor(program.BP), 100, 100), true, params)

	row := Finalize(model, []Estimate{est}, params).Lookup(program.BP)

	if row.Purchased != 1.27 || row.PurchasedSource != SourceFixed {
		t.Fatalf("unexpected purchased: %+v", row)
	}
	if row.ProduceSource != SourceEqualSplit {
		t.Fatalf("expected equal-split produce, got %+v", row)
	}
	nearlyEqual(t, "produce", row.Produce, (1.0-(1.27/3+0.04/3))*3, 1e-9)

	params.FixedProduceFallback = FallbackDefault
	row = Finalize(model, []Estimate{est}, params).Lookup(program.BP)
	if row.Produce != params.DefaultProducePrice || row.ProduceSource != SourceDefault {
		t.Fatalf("expected default produce under default fallback, got %+v", row)
	}
}

func TestFinalize_FillsUnresolvedChannel(t *testing.T) {
	params := DefaultParams()
	model := program.DefaultModel()
	est := Solve(aggregateFor(program.PP, model.RatiosFor(program.PP), 900, 1000), false, params)

	row := Finalize(model, []Estimate{est}, params).Lookup(program.PP)

	nearlyEqual(t, "produce", row.Produce, 0.9, 1e-12)
	if row.ProduceSource != SourceSolved {
		t.Fatalf("expected solved produce, got %+v", row)
	}
	if row.Purchased != params.DefaultPurchasedPrice || row.PurchasedSource != SourceDefault {
		t.Fatalf("expected default purchased, got %+v", row)
	}
}

func sampleRecords() []history.Record {
	return []history.Record{
		{Program: program.Agency, Cost: 5200, Weight: 4600},
		{Program: program.Agency, Cost: 0.5, Weight: 4600},
		{Program: program.BP, Cost: 900, Weight: 800},
		{Program: program.MP, Cost: 4100, Weight: 4600},
		{Program: program.PP, Cost: 700, Weight: 1000},
	}
}

func TestCalibratorRun_IsIdempotent(t *testing.T) {
	c := NewCalibrator(program.DefaultModel(), DefaultParams(), "standard")

	first := c.Run(sampleRecords())
	second := c.Run(sampleRecords())

	if !reflect.DeepEqual(first.Estimates, second.Estimates) {
		t.Fatalf("estimates differ between runs")
	}
	if !reflect.DeepEqual(first.Table.Rows(), second.Table.Rows()) {
		t.Fatalf("tables differ between runs")
	}
	if first.RecordCount != 5 || len(first.Aggregates) != 4 {
		t.Fatalf("unexpected snapshot shape: records=%d aggregates=%d", first.RecordCount, len(first.Aggregates))
	}
	if first.Table.Lookup(program.SP).ProduceSource != SourceDefault {
		t.Fatalf("expected SP without history to fall back to defaults")
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}

	p := DefaultParams()
	p.PurchasedMin, p.PurchasedMax = 2, 1
	p.GridPoints = 1
	if err := p.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

type staticSource struct {
	records []history.Record
	err     error
}

func (s staticSource) ListHistory(context.Context) ([]history.Record, error) {
	return s.records, s.err
}

type recordingSink struct {
	mu    sync.Mutex
	saved []*Snapshot
}

func (s *recordingSink) SaveCalibration(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func TestServiceRefresh_PublishesSnapshot(t *testing.T) {
	sink := &recordingSink{}
	svc := NewService(NewCalibrator(program.DefaultModel(), DefaultParams(), "standard"), staticSource{records: sampleRecords()}, sink)

	if _, err := svc.Publisher().Current(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot before refresh, got %v", err)
	}

	snap, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	current, err := svc.Publisher().Current()
	if err != nil || current != snap {
		t.Fatalf("expected published snapshot, got %v, %v", current, err)
	}
	if len(sink.saved) != 1 || sink.saved[0] != snap {
		t.Fatalf("expected snapshot persisted once, got %d", len(sink.saved))
	}
}

func TestServiceRefresh_KeepsPreviousSnapshotOnError(t *testing.T) {
	svc := NewService(NewCalibrator(program.DefaultModel(), DefaultParams(), "standard"), staticSource{err: errors.New("boom")}, nil)
	prev := &Snapshot{Profile: "previous"}
	svc.Publisher().Publish(prev)

	if _, err := svc.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	current, _ := svc.Publisher().Current()
	if current != prev {
		t.Fatalf("expected previous snapshot to remain published")
	}
}

type failingImporter struct{ err error }

func (f failingImporter) ImportHistory(context.Context, []history.Record, *Snapshot) error {
	return f.err
}

func TestServiceImport_PublishesOnlyAfterStore(t *testing.T) {
	svc := NewService(NewCalibrator(program.DefaultModel(), DefaultParams(), "standard"), staticSource{}, nil)
	prev := &Snapshot{Profile: "previous"}
	svc.Publisher().Publish(prev)

	if _, err := svc.Import(context.Background(), sampleRecords(), failingImporter{err: errors.New("disk full")}); err == nil {
		t.Fatalf("expected import error")
	}
	if current, _ := svc.Publisher().Current(); current != prev {
		t.Fatalf("expected previous snapshot to remain published")
	}

	snap, err := svc.Import(context.Background(), sampleRecords(), failingImporter{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if current, _ := svc.Publisher().Current(); current != snap || snap.RecordCount != len(sampleRecords()) {
		t.Fatalf("expected imported snapshot to be published, got %+v", current)
	}
}
