package history

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/Simplici0/foodcost/internal/program"
)

func nearlyEqual(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func TestReadCSV_ParsesRecordsInAnyColumnOrder(t *testing.T) {
	input := "Weight,PROGRAM,Quarter,Cost\n100,MP,Q1,250.5\n40,PP,Q1,12\n\n"

	records, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0] != (Record{Program: program.MP, Cost: 250.5, Weight: 100}) {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Program != program.PP {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestReadCSV_MissingColumnFailsFast(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("PROGRAM,Cost\nMP,10\n"))

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if loadErr.Column != ColumnWeight {
		t.Fatalf("expected missing Weight column, got %+v", loadErr)
	}
}

func TestReadCSV_NonNumericCostFailsWithRow(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("PROGRAM,Cost,Weight\nMP,10,5\nSP,abc,5\n"))

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if loadErr.Row != 3 || loadErr.Column != ColumnCost {
		t.Fatalf("expected row 3 Cost, got %+v", loadErr)
	}
}

func TestReadCSV_EmptyWeightIsRejected(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("PROGRAM,Cost,Weight\nMP,10,\n"))

	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Column != ColumnWeight {
		t.Fatalf("expected Weight LoadError, got %v", err)
	}
}

func TestReadCSV_NonFiniteValuesAreRejected(t *testing.T) {
	for _, input := range []string{
		"PROGRAM,Cost,Weight\nMP,NaN,100\nMP,500,400\n",
		"PROGRAM,Cost,Weight\nMP,500,Inf\n",
		"PROGRAM,Cost,Weight\nMP,+Inf,100\n",
		"PROGRAM,Cost,Weight\nMP,-inf,100\n",
	} {
		_, err := ReadCSV(strings.NewReader(input))

		var loadErr *LoadError
		if !errors.As(err, &loadErr) || loadErr.Row != 2 {
			t.Fatalf("expected row 2 LoadError for %q, got %v", input, err)
		}
	}
}

func TestLoadFile_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"PROGRAM", "Cost", "Weight"},
		{"AGENCY", 1200, 1000},
		{"BP", 0.5, 30},
	}
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", axis, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "history.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	records, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %+v", records)
	}
	if records[0] != (Record{Program: program.Agency, Cost: 1200, Weight: 1000}) {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.txt")
	if err := os.WriteFile(path, []byte("PROGRAM,Cost,Weight\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := LoadFile(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestAggregateRecords_FiltersNoiseAndSplitsWeight(t *testing.T) {
	model := program.DefaultModel()
	records := []Record{
		{Program: program.MP, Cost: 100, Weight: 230},
		{Program: program.MP, Cost: 130, Weight: 230},
		{Program: program.MP, Cost: 1, Weight: 999},
		{Program: program.PP, Cost: 0.25, Weight: 50},
		{Program: "ZZ", Cost: 10, Weight: 10},
	}

	aggs := AggregateRecords(records, model, DefaultCostFloor)
	if len(aggs) != 2 {
		t.Fatalf("expected MP and ZZ aggregates, got %+v", aggs)
	}

	mp := aggs[0]
	if mp.Program != program.MP || mp.Records != 2 {
		t.Fatalf("unexpected MP aggregate: %+v", mp)
	}
	nearlyEqual(t, "mp cost", mp.TotalCost, 230)
	nearlyEqual(t, "mp weight", mp.TotalWeight, 460)
	nearlyEqual(t, "mp produce weight", mp.ProduceWeight, 320)
	nearlyEqual(t, "mp purchased weight", mp.PurchasedWeight, 100)
	nearlyEqual(t, "mp donated weight", mp.DonatedWeight, 40)
	nearlyEqual(t, "mp blended", mp.Blended(), 0.5)

	zz := aggs[1]
	if zz.Program != "ZZ" || zz.ProduceWeight != 0 || zz.PurchasedWeight != 0 || zz.DonatedWeight != 0 {
		t.Fatalf("expected unknown program to carry zero channel weights, got %+v", zz)
	}
}

func TestAggregate_ZeroWeightIsSafe(t *testing.T) {
	aggs := AggregateRecords([]Record{{Program: program.SP, Cost: 50, Weight: 0}}, program.DefaultModel(), DefaultCostFloor)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}
	if aggs[0].Blended() != 0 {
		t.Fatalf("expected zero blended cost, got %v", aggs[0].Blended())
	}
	if aggs[0].Shares() != (program.ChannelRatios{}) {
		t.Fatalf("expected zero shares, got %+v", aggs[0].Shares())
	}
}
